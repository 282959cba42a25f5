// Package storage persists the artifacts of an embedding store: the index snapshot,
// the content mapping snapshot, one vector file per entity, and the SQLite catalog.
package storage

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hyperjump/kura/internal/models"
)

const (
	IndexFileName   = "faiss_index.bin"
	MappingFileName = "content_mapping.json"
	VectorDirName   = "vectors"
)

// Layout resolves artifact paths inside a store's data directory.
type Layout struct {
	Dir string
}

func (l Layout) IndexPath() string   { return filepath.Join(l.Dir, IndexFileName) }
func (l Layout) MappingPath() string { return filepath.Join(l.Dir, MappingFileName) }
func (l Layout) VectorDir() string   { return filepath.Join(l.Dir, VectorDirName) }

// CatalogEntry is one row of the embedding catalog.
type CatalogEntry struct {
	Type          models.EntityType `json:"type"`
	ID            string            `json:"id"`
	EmbeddingFile string            `json:"embedding_file"`
	Text          string            `json:"text"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Catalog is a queryable mirror of the content mapping. The mapping snapshot and
// vector files remain authoritative; the catalog can always be rebuilt from them.
type Catalog interface {
	Put(ctx context.Context, entry *CatalogEntry) error
	Get(ctx context.Context, ident models.Identity) (*CatalogEntry, error)
	Delete(ctx context.Context, ident models.Identity) error
	// List returns entries of type t ("" for all) ordered by type and id.
	List(ctx context.Context, t models.EntityType, offset, limit int) ([]*CatalogEntry, error)
	CountByType(ctx context.Context) (map[models.EntityType]int64, error)
	// Replace discards all entries and inserts entries in one transaction.
	Replace(ctx context.Context, entries []*CatalogEntry) error
	Close() error
}
