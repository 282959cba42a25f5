// Package store keeps one embedding per business entity: a vector index and a
// content mapping that stay row-aligned, backed by one vector file per entity.
//
// Every structural change rebuilds the index from the vector files in mapping
// order, so the vector files are the source of truth and the index and mapping
// snapshots can always be regenerated from them.
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vector"
	kerr "github.com/hyperjump/kura/pkg/errors"
	"github.com/hyperjump/kura/pkg/utils"
)

// Store is the entity embedding store. Mutations are serialized by a single
// writer lock; reads only ever observe committed state.
type Store struct {
	mu sync.RWMutex

	layout        storage.Layout
	files         *storage.VectorFiles
	embedder      embedding.Embedder
	queryEmbedder embedding.Embedder
	dimensions    int
	indexType     vector.IndexType
	newIndex      func() (vector.VectorIndex, error)
	policy        RebuildPolicy

	index   vector.VectorIndex
	records []models.EmbeddingRecord
	rows    map[models.Identity]int

	keyword keyword.KeywordIndex
	catalog storage.Catalog
	metrics metrics.Collector
	logger  *zap.Logger

	dirty  bool // in-memory state not yet persisted
	closed bool
}

// Stats summarizes the store for status reporting.
type Stats struct {
	Rows          int                       `json:"rows"`
	IndexRows     int                       `json:"index_rows"`
	Dimensions    int                       `json:"dimensions"`
	IndexType     string                    `json:"index_type"`
	RebuildPolicy RebuildPolicy             `json:"rebuild_policy"`
	ByType        map[models.EntityType]int `json:"by_type"`
	VectorFiles   int                       `json:"vector_files"`
	DiskBytes     int64                     `json:"disk_bytes"`
	Keyword       bool                      `json:"keyword_enabled"`
	Dirty         bool                      `json:"dirty"`
	DataDir       string                    `json:"data_dir"`
}

// Open loads the store in dir, creating an empty one when no snapshots exist.
// The embedder is called once to confirm its dimension. Open takes ownership of
// the catalog and keyword index passed as options and closes them if it fails;
// the embedder stays owned by the caller.
func Open(ctx context.Context, dir string, emb embedding.Embedder, opts ...Option) (*Store, error) {
	s := &Store{
		layout:    storage.Layout{Dir: dir},
		embedder:  emb,
		indexType: vector.IndexTypeMemory,
		policy:    PolicyStrict,
		metrics:   metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	if s.queryEmbedder == nil {
		s.queryEmbedder = emb
	}

	if err := s.load(ctx); err != nil {
		s.closeResources()
		return nil, err
	}

	s.logger.Info("embedding store opened",
		zap.String("dir", dir),
		zap.Int("rows", len(s.records)),
		zap.Int("dimensions", s.dimensions),
		zap.String("index_type", string(s.indexType)),
		zap.String("rebuild_policy", string(s.policy)))
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	if s.embedder == nil {
		return kerr.New(kerr.CodeProviderConfigInvalidInput, "embedder is required")
	}
	switch s.policy {
	case PolicyStrict, PolicyPrune:
	default:
		return kerr.New(kerr.CodeConfigValidateInvalidInput, "unknown rebuild policy",
			kerr.Field("policy", string(s.policy)))
	}

	s.dimensions = s.embedder.Dimensions()
	sample, err := s.embedder.Embed(ctx, "dimension check")
	if err != nil {
		return codeIfBare(err, kerr.CodeProviderEmbedUpstreamFailure, "embedding provider check failed")
	}
	if len(sample) != s.dimensions || s.dimensions <= 0 {
		return kerr.New(kerr.CodeStoreVectorDimensionMismatch, "embedding provider returned a vector of unexpected length",
			kerr.Field("expected", s.dimensions), kerr.Field("got", len(sample)))
	}
	s.newIndex = vector.Factory(string(s.indexType), s.dimensions)

	if err := os.MkdirAll(s.layout.Dir, 0755); err != nil {
		return kerr.Wrap(err, kerr.CodeStoreIOFailure, "create data directory", kerr.Field("dir", s.layout.Dir))
	}
	files, err := storage.NewVectorFiles(s.layout.VectorDir())
	if err != nil {
		return kerr.Wrap(err, kerr.CodeStoreIOFailure, "open vector directory")
	}
	s.files = files

	records, haveMapping, err := storage.LoadMapping(s.layout.MappingPath())
	if err != nil {
		return kerr.Wrap(err, kerr.CodeStoreSnapshotCorrupt, "mapping snapshot is unreadable",
			kerr.Field("path", s.layout.MappingPath()))
	}
	rows, err := rowMap(records)
	if err != nil {
		return err
	}

	idx, err := s.newIndex()
	if err != nil {
		return kerr.Wrap(err, kerr.CodeStoreIOFailure, "create vector index")
	}
	haveIndex := fileExists(s.layout.IndexPath())
	if haveIndex {
		if err := idx.Load(s.layout.IndexPath()); err != nil {
			_ = idx.Close()
			code := kerr.CodeStoreSnapshotCorrupt
			if errors.Is(err, vector.ErrDimensionMismatch) {
				code = kerr.CodeStoreVectorDimensionMismatch
			}
			return kerr.Wrap(err, code, "index snapshot is unreadable", kerr.Field("path", s.layout.IndexPath()))
		}
	}
	s.index = idx

	switch {
	case !haveMapping && haveIndex:
		s.logger.Warn("index snapshot without mapping snapshot, starting empty",
			zap.String("path", s.layout.IndexPath()), zap.Int("index_rows", idx.Size()))
		if err := idx.RebuildFrom(ctx, nil); err != nil {
			return kerr.Wrap(err, kerr.CodeStoreIOFailure, "reset vector index")
		}
		records, rows = []models.EmbeddingRecord{}, map[models.Identity]int{}
		s.dirty = true
	case haveMapping && idx.Size() != len(records):
		s.logger.Warn("index and mapping disagree, rebuilding from vector files",
			zap.Int("index_rows", idx.Size()), zap.Int("mapping_rows", len(records)))
		kept, vectors, dropped, err := s.collectVectors(ctx, records, nil)
		if err != nil {
			return err
		}
		if err := idx.RebuildFrom(ctx, vectors); err != nil {
			return kerr.Wrap(err, kerr.CodeStoreIOFailure, "rebuild vector index")
		}
		s.logDropped(dropped)
		records, rows = kept, mustRowMap(kept)
		s.dirty = true
	}
	if records == nil {
		records = []models.EmbeddingRecord{}
	}
	s.records, s.rows = records, rows

	if s.dirty {
		if err := s.persist(); err != nil {
			return err
		}
	}

	if s.keyword != nil {
		if err := s.keyword.Replace(ctx, s.records); err != nil {
			return kerr.Wrap(err, kerr.CodeStoreIOFailure, "populate keyword index")
		}
	}
	if s.catalog != nil {
		if err := s.catalog.Replace(ctx, s.catalogEntries(s.records)); err != nil {
			s.logger.Warn("catalog refresh failed", zap.Error(err))
		}
	}
	s.metrics.SetRows(len(s.records))
	return nil
}

// rowMap indexes records by identity; duplicates make the mapping unusable.
func rowMap(records []models.EmbeddingRecord) (map[models.Identity]int, error) {
	rows := make(map[models.Identity]int, len(records))
	for i, r := range records {
		ident := r.Identity()
		if prev, dup := rows[ident]; dup {
			return nil, kerr.New(kerr.CodeStoreSnapshotCorrupt, "duplicate identity in mapping snapshot",
				kerr.Field("identity", ident.String()), kerr.Field("rows", []int{prev, i}))
		}
		rows[ident] = i
	}
	return rows, nil
}

// mustRowMap is rowMap for records derived from an already validated mapping.
func mustRowMap(records []models.EmbeddingRecord) map[models.Identity]int {
	rows := make(map[models.Identity]int, len(records))
	for i, r := range records {
		rows[r.Identity()] = i
	}
	return rows
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// codeIfBare attaches code to errors that do not carry one yet.
func codeIfBare(err error, code kerr.Code, msg string, fields ...kerr.Attr) error {
	if kerr.CodeOf(err) != "" {
		return err
	}
	return kerr.Wrap(err, code, msg, fields...)
}

// Dimensions returns the fixed vector length.
func (s *Store) Dimensions() int {
	return s.dimensions
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.layout.Dir
}

// Len returns the number of committed rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a copy of the mapping in row order.
func (s *Store) Records() []models.EmbeddingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EmbeddingRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record for (t, id).
func (s *Store) Get(t models.EntityType, id string) (models.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[models.Identity{Type: t, ID: id}]
	if !ok {
		return models.EmbeddingRecord{}, notFound(t, id)
	}
	return s.records[row], nil
}

// Vector returns the indexed vector for (t, id).
func (s *Store) Vector(t models.EntityType, id string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[models.Identity{Type: t, ID: id}]
	if !ok {
		return nil, notFound(t, id)
	}
	vec, err := s.index.Vector(row)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeStoreIndexMisaligned, "read indexed vector",
			kerr.FieldEntity(string(t), id)...)
	}
	return vec, nil
}

// List returns records of type t ("" for all). With a catalog the listing comes
// from it, ordered by type and id; otherwise from the mapping in row order.
func (s *Store) List(ctx context.Context, t models.EntityType, offset, limit int) ([]models.EmbeddingRecord, error) {
	if offset < 0 {
		offset = 0
	}
	if s.catalog != nil {
		entries, err := s.catalog.List(ctx, t, offset, limit)
		if err == nil {
			out := make([]models.EmbeddingRecord, len(entries))
			for i, e := range entries {
				out[i] = models.EmbeddingRecord{Type: e.Type, ID: e.ID, Text: e.Text}
			}
			return out, nil
		}
		s.logger.Warn("catalog listing failed, falling back to mapping", zap.Error(err))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EmbeddingRecord, 0)
	skipped := 0
	for _, r := range s.records {
		if t != "" && r.Type != t {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

// Stats reports row counts and disk usage.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Rows:          len(s.records),
		Dimensions:    s.dimensions,
		IndexType:     string(s.indexType),
		RebuildPolicy: s.policy,
		ByType:        make(map[models.EntityType]int),
		Keyword:       s.keyword != nil,
		Dirty:         s.dirty,
		DataDir:       s.layout.Dir,
	}
	if s.index != nil {
		st.IndexRows = s.index.Size()
	}
	for _, r := range s.records {
		st.ByType[r.Type]++
	}
	if n, err := storage.CountVectorFiles(s.layout.VectorDir()); err == nil {
		st.VectorFiles = n
	}
	if n, err := storage.DiskUsageBytes(s.layout.Dir); err == nil {
		st.DiskBytes = n
	}
	return st
}

// Flush persists the mapping and index snapshots.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}
	return s.persist()
}

// Close persists pending state and releases the index, keyword index and
// catalog. Calling Close again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.dirty {
		errs = append(errs, s.persist())
	}
	errs = append(errs, s.closeResources())
	s.logger.Info("embedding store closed", zap.Int("rows", len(s.records)))
	return kerr.Join(errs...)
}

func (s *Store) closeResources() error {
	var errs []error
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	if s.keyword != nil {
		errs = append(errs, s.keyword.Close())
	}
	if s.catalog != nil {
		errs = append(errs, s.catalog.Close())
	}
	return kerr.Join(errs...)
}

// persist writes the committed mapping and index. On failure the store
// stays dirty so Flush or Close can retry.
func (s *Store) persist() error {
	start := time.Now()
	if err := s.writeSnapshots(s.records, s.index); err != nil {
		s.dirty = true
		return err
	}
	s.dirty = false
	s.logger.Debug("snapshots persisted", zap.Int("rows", len(s.records)), zap.Duration("took", time.Since(start)))
	return nil
}

// writeSnapshots writes records and idx as the mapping and index snapshots.
// If the index cannot be written the mapping is put back to the committed
// records, so the two files never describe different states.
func (s *Store) writeSnapshots(records []models.EmbeddingRecord, idx vector.VectorIndex) error {
	if err := storage.SaveMapping(s.layout.MappingPath(), records); err != nil {
		return kerr.Wrap(err, kerr.CodeStoreIOFailure, "persist mapping snapshot")
	}
	if err := idx.Save(s.layout.IndexPath()); err != nil {
		if rerr := storage.SaveMapping(s.layout.MappingPath(), s.records); rerr != nil {
			s.dirty = true
			s.logger.Error("restoring mapping snapshot failed", zap.Error(rerr))
		}
		return kerr.Wrap(err, kerr.CodeStoreIOFailure, "persist index snapshot")
	}
	return nil
}

func (s *Store) catalogEntry(r models.EmbeddingRecord) *storage.CatalogEntry {
	return &storage.CatalogEntry{
		Type:          r.Type,
		ID:            r.ID,
		EmbeddingFile: filepath.Join(storage.VectorDirName, fileid.VectorFileName(r.Identity())),
		Text:          r.Text,
		UpdatedAt:     time.Now().UTC(),
	}
}

func (s *Store) catalogEntries(records []models.EmbeddingRecord) []*storage.CatalogEntry {
	entries := make([]*storage.CatalogEntry, len(records))
	for i, r := range records {
		entries[i] = s.catalogEntry(r)
	}
	return entries
}

func notFound(t models.EntityType, id string) error {
	return kerr.New(kerr.CodeStoreEntityNotFound, "entity not found", kerr.FieldEntity(string(t), id)...)
}

func errClosed() error {
	return kerr.New(kerr.CodeStoreClosed, "store is closed")
}
