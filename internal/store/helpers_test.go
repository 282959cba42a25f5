package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/models"
)

const testDim = 4

// fixedEmbedder returns preset vectors for FAQ questions and falls back to the
// mock embedder for anything else (including the dimension check).
type fixedEmbedder struct {
	mu      sync.Mutex
	dim     int
	vectors map[string][]float32
	fail    error
	short   bool
	fallbk  *embedding.MockEmbedder
}

func newFixedEmbedder(dim int) *fixedEmbedder {
	return &fixedEmbedder{dim: dim, vectors: map[string][]float32{}, fallbk: embedding.NewMockEmbedder(dim)}
}

func (f *fixedEmbedder) set(question string, vec ...float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[question] = vec
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if f.short {
		return make([]float32, f.dim-1), nil
	}
	q := strings.TrimPrefix(text, "Question: ")
	q, _, _ = strings.Cut(q, ".")
	if v, ok := f.vectors[q]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}
	return f.fallbk.Embed(ctx, text)
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return f.dim }
func (f *fixedEmbedder) Close() error    { return nil }

var errUpstream = errors.New("upstream unavailable")

func faq(id, question string) *models.FAQ {
	return &models.FAQ{ID: id, Question: question, Answer: "answer to " + question}
}

func openStore(t *testing.T, dir string, emb *fixedEmbedder, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), dir, emb, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ids(records []models.EmbeddingRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// requireAligned checks the row-count invariant against the live index.
func requireAligned(t *testing.T, s *Store) {
	t.Helper()
	st := s.Stats()
	require.Equal(t, st.Rows, st.IndexRows, "index and mapping row counts differ")
}
