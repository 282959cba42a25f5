package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kura/internal/models"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		content_type TEXT NOT NULL,
		content_id TEXT NOT NULL,
		embedding_file TEXT NOT NULL,
		text_content TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (content_type, content_id)
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_updated_at ON embeddings(updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

const upsertEntry = `
	INSERT INTO embeddings (content_type, content_id, embedding_file, text_content, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(content_type, content_id) DO UPDATE SET
		embedding_file = excluded.embedding_file,
		text_content = excluded.text_content,
		updated_at = excluded.updated_at`

// Put inserts or updates the entry for its identity.
func (c *SQLiteCatalog) Put(ctx context.Context, entry *CatalogEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, upsertEntry,
		string(entry.Type), entry.ID, entry.EmbeddingFile, entry.Text, entry.UpdatedAt)
	return err
}

// Get returns the entry for ident.
func (c *SQLiteCatalog) Get(ctx context.Context, ident models.Identity) (*CatalogEntry, error) {
	var entry CatalogEntry
	var typ string
	err := c.db.QueryRowContext(ctx,
		`SELECT content_type, content_id, embedding_file, text_content, updated_at
		 FROM embeddings WHERE content_type = ? AND content_id = ?`,
		string(ident.Type), ident.ID,
	).Scan(&typ, &entry.ID, &entry.EmbeddingFile, &entry.Text, &entry.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, kerr.New(kerr.CodeStoreEntityNotFound, "catalog entry not found",
			kerr.FieldEntity(string(ident.Type), ident.ID)...)
	}
	if err != nil {
		return nil, err
	}
	entry.Type = models.EntityType(typ)
	return &entry, nil
}

// Delete removes the entry for ident. Deleting an absent entry is not an error.
func (c *SQLiteCatalog) Delete(ctx context.Context, ident models.Identity) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE content_type = ? AND content_id = ?`,
		string(ident.Type), ident.ID)
	return err
}

// List returns entries with offset and limit, optionally filtered by type.
func (c *SQLiteCatalog) List(ctx context.Context, t models.EntityType, offset, limit int) ([]*CatalogEntry, error) {
	query := `SELECT content_type, content_id, embedding_file, text_content, updated_at FROM embeddings`
	args := []any{}
	if t != "" {
		query += ` WHERE content_type = ?`
		args = append(args, string(t))
	}
	query += ` ORDER BY content_type, content_id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*CatalogEntry
	for rows.Next() {
		var entry CatalogEntry
		var typ string
		if err := rows.Scan(&typ, &entry.ID, &entry.EmbeddingFile, &entry.Text, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		entry.Type = models.EntityType(typ)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// CountByType returns the number of entries per entity type.
func (c *SQLiteCatalog) CountByType(ctx context.Context) (map[models.EntityType]int64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT content_type, COUNT(*) FROM embeddings GROUP BY content_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.EntityType]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[models.EntityType(typ)] = n
	}
	return counts, rows.Err()
}

// Replace swaps the whole catalog for entries in a single transaction.
func (c *SQLiteCatalog) Replace(ctx context.Context, entries []*CatalogEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, upsertEntry)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.UpdatedAt.IsZero() {
			entry.UpdatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, string(entry.Type), entry.ID, entry.EmbeddingFile, entry.Text, entry.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}
