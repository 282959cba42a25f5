package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/vector"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

// RebuildResult reports what a full rebuild did.
type RebuildResult struct {
	Rows    int               `json:"rows"`
	Dropped []models.Identity `json:"dropped,omitempty"`
}

// collectVectors reads the vector of every record, in order. fresh supplies
// vectors not yet written to disk. Under PolicyStrict any missing file is an
// error; under PolicyPrune the record is left out of kept and reported in
// dropped. Identities in fresh are never dropped.
func (s *Store) collectVectors(
	ctx context.Context,
	records []models.EmbeddingRecord,
	fresh map[models.Identity][]float32,
) (kept []models.EmbeddingRecord, vectors [][]float32, dropped []models.Identity, err error) {
	kept = make([]models.EmbeddingRecord, 0, len(records))
	vectors = make([][]float32, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}
		ident := r.Identity()
		if vec, ok := fresh[ident]; ok {
			kept = append(kept, r)
			vectors = append(vectors, vec)
			continue
		}
		vec, err := s.files.Read(ident)
		if err != nil {
			if os.IsNotExist(err) {
				dropped = append(dropped, ident)
				continue
			}
			return nil, nil, nil, kerr.Wrap(err, kerr.CodeStoreIOFailure, "read vector file",
				kerr.FieldEntity(string(ident.Type), ident.ID)...)
		}
		if len(vec) != s.dimensions {
			return nil, nil, nil, kerr.New(kerr.CodeStoreVectorDimensionMismatch, "vector file has unexpected length",
				kerr.Field("identity", ident.String()), kerr.Field("expected", s.dimensions), kerr.Field("got", len(vec)))
		}
		kept = append(kept, r)
		vectors = append(vectors, vec)
	}
	if len(dropped) > 0 && s.policy == PolicyStrict {
		return nil, nil, nil, missingVectors(dropped)
	}
	return kept, vectors, dropped, nil
}

func missingVectors(idents []models.Identity) error {
	names := make([]string, len(idents))
	for i, ident := range idents {
		names[i] = ident.String()
	}
	return kerr.New(kerr.CodeStoreRebuildMissingVector,
		fmt.Sprintf("%d vector file(s) missing: %s", len(idents), strings.Join(names, ", ")),
		kerr.Field("missing", names))
}

// buildIndex returns a fresh index holding vectors. The committed index is not touched.
func (s *Store) buildIndex(ctx context.Context, vectors [][]float32) (vector.VectorIndex, error) {
	idx, err := s.newIndex()
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeStoreIOFailure, "create vector index")
	}
	if err := idx.RebuildFrom(ctx, vectors); err != nil {
		_ = idx.Close()
		return nil, kerr.Wrap(err, kerr.CodeStoreIOFailure, "rebuild vector index", kerr.Field("rows", len(vectors)))
	}
	if idx.Size() != len(vectors) {
		_ = idx.Close()
		return nil, kerr.New(kerr.CodeStoreIndexMisaligned, "rebuilt index has wrong row count",
			kerr.Field("expected", len(vectors)), kerr.Field("got", idx.Size()))
	}
	return idx, nil
}

// commit swaps in a new mapping and index. Callers hold the write lock.
func (s *Store) commit(records []models.EmbeddingRecord, idx vector.VectorIndex) {
	old := s.index
	s.index = idx
	s.records = records
	s.rows = mustRowMap(records)
	if old != nil && old != idx {
		if err := old.Close(); err != nil {
			s.logger.Warn("closing replaced index", zap.Error(err))
		}
	}
	s.metrics.SetRows(len(records))
}

func (s *Store) logDropped(dropped []models.Identity) {
	for _, ident := range dropped {
		s.logger.Warn("dropping row without vector file", zap.String("entity", ident.String()))
	}
}

// Rebuild reconstructs the index from the vector files in mapping order and
// persists both snapshots. Under PolicyPrune rows without a vector file are
// removed and reported.
func (s *Store) Rebuild(ctx context.Context) (res RebuildResult, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordRebuild(res.Rows, time.Since(start), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return RebuildResult{}, errClosed()
	}

	kept, vectors, dropped, err := s.collectVectors(ctx, s.records, nil)
	if err != nil {
		return RebuildResult{}, err
	}
	idx, err := s.buildIndex(ctx, vectors)
	if err != nil {
		return RebuildResult{}, err
	}
	if err := s.writeSnapshots(kept, idx); err != nil {
		_ = idx.Close()
		return RebuildResult{}, err
	}
	s.commit(kept, idx)
	s.dirty = false
	s.logDropped(dropped)
	s.forget(ctx, dropped)

	res = RebuildResult{Rows: len(kept), Dropped: dropped}
	s.logger.Info("index rebuilt", zap.Int("rows", res.Rows), zap.Int("dropped", len(dropped)),
		zap.Duration("took", time.Since(start)))
	return res, nil
}
