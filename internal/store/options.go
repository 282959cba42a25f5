package store

import (
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/metrics"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vector"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

// RebuildPolicy decides what a rebuild does with rows whose vector file is missing.
type RebuildPolicy string

const (
	// PolicyStrict fails the whole mutation and leaves committed state untouched.
	PolicyStrict RebuildPolicy = "strict"
	// PolicyPrune drops such rows from the mapping along with the index.
	PolicyPrune RebuildPolicy = "prune"
)

// ParseRebuildPolicy parses "strict" or "prune"; empty means strict.
func ParseRebuildPolicy(s string) (RebuildPolicy, error) {
	switch RebuildPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyStrict, "":
		return PolicyStrict, nil
	case PolicyPrune:
		return PolicyPrune, nil
	default:
		return "", kerr.New(kerr.CodeConfigValidateInvalidInput, "unknown rebuild policy",
			kerr.Field("policy", s))
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Without it the store logs nothing.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRebuildPolicy sets the missing-vector-file policy. Default PolicyStrict.
func WithRebuildPolicy(p RebuildPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithIndexType selects the vector index implementation ("memory" or "faiss").
func WithIndexType(t vector.IndexType) Option {
	return func(s *Store) { s.indexType = t }
}

// WithCatalog mirrors committed records into c. The store closes c on Close.
func WithCatalog(c storage.Catalog) Option {
	return func(s *Store) { s.catalog = c }
}

// WithKeywordIndex enables KeywordSearch. The index is repopulated from the
// mapping at Open and closed on Close.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(s *Store) { s.keyword = k }
}

// WithMetrics reports operations to c.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// WithQueryEmbedder sets the embedder used by Query, typically a CachedEmbedder
// over the store's embedder. It must produce vectors of the same dimension.
func WithQueryEmbedder(e embedding.Embedder) Option {
	return func(s *Store) { s.queryEmbedder = e }
}
