package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kura/internal/models"
)

func rec(t models.EntityType, id, text string) models.EmbeddingRecord {
	return models.EmbeddingRecord{Type: t, ID: id, Text: text}
}

func newMemIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsText(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	widget := rec(models.EntityProduct, "p1", "Product: Widget. Description: A blue Omnisyan widget. Price: $9.99.")
	faq := rec(models.EntityFAQ, "f1", "Question: How do I return an item? Answer: Use the returns portal.")
	for _, r := range []models.EmbeddingRecord{widget, faq} {
		if err := idx.Index(ctx, r); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}

	results, err := idx.Search(ctx, "omnisyan", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Identity != widget.Identity() {
		t.Errorf("first result = %v, want %v", results[0].Identity, widget.Identity())
	}
	if results[0].Score <= 0 {
		t.Errorf("score should be positive, got %f", results[0].Score)
	}
}

func TestBleveIndex_TypeFilter(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, rec(models.EntityProduct, "p1", "shipping box"))
	_ = idx.Index(ctx, rec(models.EntityFAQ, "f1", "how long does shipping take"))

	results, err := idx.Search(ctx, "shipping", 10, &SearchOptions{Type: models.EntityFAQ})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Identity.Type != models.EntityFAQ {
		t.Errorf("expected only the faq hit, got %+v", results)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, rec(models.EntityProduct, "p1", "Product: Gadget."))

	exact, err := idx.Search(ctx, "gadgte", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(exact) != 0 {
		t.Errorf("expected no exact match for typo, got %d", len(exact))
	}
	fuzzy, err := idx.Search(ctx, "gadgte", 10, &SearchOptions{FuzzyEnabled: true, Fuzziness: 2})
	if err != nil {
		t.Fatalf("Search fuzzy: %v", err)
	}
	if len(fuzzy) != 1 {
		t.Errorf("expected fuzzy match, got %d", len(fuzzy))
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()
	r := rec(models.EntityGeneric, "g1", "onlyinrecord1")
	if err := idx.Index(ctx, r); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Delete(ctx, r.Identity()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := idx.Search(ctx, "onlyinrecord1", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
}

func TestBleveIndex_Replace(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, rec(models.EntityProduct, "old", "stale text"))

	err := idx.Replace(ctx, []models.EmbeddingRecord{
		rec(models.EntityProduct, "a", "fresh alpha"),
		rec(models.EntityProduct, "b", "fresh beta"),
	})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if n != 2 {
		t.Errorf("DocCount = %d, want 2", n)
	}
	if res, _ := idx.Search(ctx, "stale", 10, nil); len(res) != 0 {
		t.Errorf("old record still searchable: %+v", res)
	}
	if res, _ := idx.Search(ctx, "fresh", 10, nil); len(res) != 2 {
		t.Errorf("expected 2 fresh hits, got %d", len(res))
	}
}

func TestBleveIndex_EmptyQueryOrLimit(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, rec(models.EntityProduct, "p1", "widget"))

	for _, tc := range []struct {
		q     string
		limit int
	}{{"", 5}, {"   ", 5}, {"widget", 0}} {
		res, err := idx.Search(ctx, tc.q, tc.limit, nil)
		if err != nil {
			t.Fatalf("Search(%q, %d): %v", tc.q, tc.limit, err)
		}
		if len(res) != 0 {
			t.Errorf("Search(%q, %d) = %d hits, want 0", tc.q, tc.limit, len(res))
		}
	}
}

func TestNewBleveIndex_OnDisk(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "bleve")

	idx, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	ctx := context.Background()
	if err := idx.Index(ctx, rec(models.EntityFAQ, "f1", "persistentword")); err != nil {
		t.Fatalf("Index: %v", err)
	}
	_ = idx.Close()

	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("index path should exist: %v", err)
	}

	reopened, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	res, err := reopened.Search(ctx, "persistentword", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 {
		t.Errorf("expected reopened index to keep the record, got %d hits", len(res))
	}
}
