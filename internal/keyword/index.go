// Package keyword provides full-text search over the embedding record texts.
package keyword

import (
	"context"

	"github.com/hyperjump/kura/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// Type restricts hits to one entity type. Empty means all types.
	Type models.EntityType
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordIndex defines keyword search operations. Documents are keyed by
// Identity.String().
type KeywordIndex interface {
	Index(ctx context.Context, record models.EmbeddingRecord) error
	Delete(ctx context.Context, ident models.Identity) error
	// Replace drops every document and indexes records.
	Replace(ctx context.Context, records []models.EmbeddingRecord) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	// DocCount returns the total number of documents in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	Identity models.Identity
	Score    float64
}
