package store

import (
	"context"
	"time"

	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

// Search returns the k rows nearest to vec by squared L2 distance, ascending,
// ties broken by row. k is clamped to the row count; an empty store or k <= 0
// returns no hits.
func (s *Store) Search(ctx context.Context, vec []float32, k int) (hits []models.SearchHit, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordSearch(string(models.SearchSemantic), k, time.Since(start), err) }()

	if len(vec) != s.dimensions {
		return nil, kerr.New(kerr.CodeStoreVectorDimensionMismatch, "query vector has unexpected length",
			kerr.Field("expected", s.dimensions), kerr.Field("got", len(vec)))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}
	matches, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeStoreIOFailure, "vector search")
	}
	hits = make([]models.SearchHit, 0, len(matches))
	for _, m := range matches {
		if m.Row < 0 || m.Row >= len(s.records) {
			return nil, kerr.New(kerr.CodeStoreIndexMisaligned, "index returned a row outside the mapping",
				kerr.Field("row", m.Row), kerr.Field("rows", len(s.records)))
		}
		hits = append(hits, models.SearchHit{
			Record:   s.records[m.Row],
			Row:      m.Row,
			Distance: m.Distance,
			Rank:     len(hits) + 1,
		})
	}
	return hits, nil
}

// Query embeds text with the query embedder and searches for it.
func (s *Store) Query(ctx context.Context, text string, k int) ([]models.SearchHit, error) {
	vec, err := s.queryEmbedder.Embed(ctx, text)
	if err != nil {
		return nil, codeIfBare(err, kerr.CodeProviderEmbedUpstreamFailure, "embedding query failed")
	}
	return s.Search(ctx, vec, k)
}

// KeywordSearch runs a full-text query over record texts. It fails with
// store.keyword.unavailable when the store was opened without a keyword index.
func (s *Store) KeywordSearch(ctx context.Context, text string, k int, opts *keyword.SearchOptions) (hits []models.SearchHit, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordSearch(string(models.SearchKeyword), k, time.Since(start), err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}
	if s.keyword == nil {
		return nil, kerr.New(kerr.CodeStoreKeywordUnavailable, "keyword search is not enabled")
	}
	results, err := s.keyword.Search(ctx, text, k, opts)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeStoreIOFailure, "keyword search")
	}
	hits = make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		row, ok := s.rows[r.Identity]
		if !ok {
			continue
		}
		hits = append(hits, models.SearchHit{
			Record: s.records[row],
			Row:    row,
			Score:  r.Score,
			Rank:   len(hits) + 1,
		})
	}
	return hits, nil
}
