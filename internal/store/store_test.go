package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kura/internal/keyword"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/storage"
	"github.com/hyperjump/kura/internal/vector"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

func TestOpen_EmptyDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s := openStore(t, dir, newFixedEmbedder(testDim))

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, testDim, s.Dimensions())
	assert.Empty(t, s.Records())
	st := s.Stats()
	assert.Equal(t, PolicyStrict, st.RebuildPolicy)
	assert.Equal(t, "memory", st.IndexType)
	assert.DirExists(t, filepath.Join(dir, storage.VectorDirName))
}

func TestUpsert_InvariantHoldsAfterEveryOperation(t *testing.T) {
	s := openStore(t, t.TempDir(), newFixedEmbedder(testDim))
	ctx := context.Background()

	ops := []struct {
		del bool
		id  string
		q   string
	}{
		{false, "1", "shipping"}, {false, "2", "returns"}, {false, "3", "warranty"},
		{false, "2", "refunds"}, {true, "1", ""}, {false, "4", "sizes"},
		{true, "3", ""}, {false, "1", "shipping again"}, {true, "4", ""},
	}
	for i, op := range ops {
		var err error
		if op.del {
			err = s.Delete(ctx, models.EntityFAQ, op.id)
		} else {
			err = s.Upsert(ctx, faq(op.id, op.q))
		}
		require.NoError(t, err, "op %d", i)
		requireAligned(t, s)

		persisted, ok, err := storage.LoadMapping(filepath.Join(s.Dir(), storage.MappingFileName))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, s.Records(), persisted, "op %d: persisted mapping differs", i)
	}
	assert.Equal(t, []string{"2", "1"}, ids(s.Records()))
}

func TestUpsert_SameIdentityUpdatesInPlace(t *testing.T) {
	emb := newFixedEmbedder(testDim)
	emb.set("old", 1, 0, 0, 0)
	emb.set("other", 0, 1, 0, 0)
	emb.set("new", 0, 0, 1, 0)
	s := openStore(t, t.TempDir(), emb)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, faq("a", "old")))
	require.NoError(t, s.Upsert(ctx, faq("b", "other")))
	require.NoError(t, s.Upsert(ctx, faq("a", "new")))

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, []string{"a", "b"}, ids(records))
	assert.Contains(t, records[0].Text, "Question: new.")

	vec, err := s.Vector(models.EntityFAQ, "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 0}, vec)

	onDisk, err := s.files.Read(models.Identity{Type: models.EntityFAQ, ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 0}, onDisk)
	requireAligned(t, s)
}

func TestStore_PersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	emb := newFixedEmbedder(testDim)
	ctx := context.Background()
	query := []float32{0.5, 0.5, 0, 0}

	s, err := Open(ctx, dir, emb)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert(ctx, faq(fmt.Sprint(i), fmt.Sprintf("question %d", i))))
	}
	require.NoError(t, s.Upsert(ctx, &models.Product{ID: "p1", Name: "Widget", Description: "d", Price: models.Float(9.99)}))
	before := s.Records()
	hitsBefore, err := s.Search(ctx, query, 3)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir, emb)
	assert.Equal(t, before, reopened.Records())
	hitsAfter, err := reopened.Search(ctx, query, 3)
	require.NoError(t, err)
	assert.Equal(t, hitsBefore, hitsAfter)
	requireAligned(t, reopened)
}

func TestDelete_ShrinksMappingAndRemovesFile(t *testing.T) {
	s := openStore(t, t.TempDir(), newFixedEmbedder(testDim))
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, faq("a", "alpha")))
	require.NoError(t, s.Upsert(ctx, faq("b", "beta")))

	path := s.files.Path(models.Identity{Type: models.EntityFAQ, ID: "a"})
	require.FileExists(t, path)

	require.NoError(t, s.Delete(ctx, models.EntityFAQ, "a"))
	assert.Equal(t, 1, s.Len())
	assert.NoFileExists(t, path)

	err := s.Delete(ctx, models.EntityFAQ, "a")
	require.Error(t, err)
	assert.True(t, kerr.IsNotFound(err))
	assert.Equal(t, 1, s.Len())

	_, err = s.Get(models.EntityFAQ, "a")
	assert.True(t, kerr.IsNotFound(err))
}

func TestRebuildFidelity(t *testing.T) {
	emb := newFixedEmbedder(testDim)
	emb.set("A", 1, 2, 3, 4)
	emb.set("B", 0.25, -1, 0.5, 8)
	s := openStore(t, t.TempDir(), emb)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, faq("a", "A")))
	require.NoError(t, s.Upsert(ctx, faq("b", "B")))
	require.NoError(t, s.Delete(ctx, models.EntityFAQ, "a"))

	records := s.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.Identity{Type: models.EntityFAQ, ID: "b"}, records[0].Identity())

	row0, err := s.index.Vector(0)
	require.NoError(t, err)
	onDisk, err := s.files.Read(records[0].Identity())
	require.NoError(t, err)
	assert.Equal(t, onDisk, row0)
	assert.Equal(t, []float32{0.25, -1, 0.5, 8}, row0)
}

func TestSearch_OrderingAndTies(t *testing.T) {
	emb := newFixedEmbedder(testDim)
	emb.set("near", 1, 0, 0, 0)
	emb.set("far", 0, 3, 0, 0)
	emb.set("twin", 1, 0, 0, 0)
	emb.set("mid", 0, 1, 0, 0)
	s := openStore(t, t.TempDir(), emb)
	ctx := context.Background()

	for _, q := range []string{"near", "far", "twin", "mid"} {
		require.NoError(t, s.Upsert(ctx, faq(q, q)))
	}
	query := []float32{1, 0, 0, 0}

	hits, err := s.Search(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].Record.ID, "tie goes to the earlier row")
	assert.Equal(t, "twin", hits[1].Record.ID)
	assert.Equal(t, float32(0), hits[0].Distance)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, 2, hits[1].Rank)

	hits, err = s.Search(ctx, query, 10)
	require.NoError(t, err)
	require.Len(t, hits, 4, "k is clamped to the row count")
	assert.Equal(t, []string{"near", "twin", "mid", "far"},
		[]string{hits[0].Record.ID, hits[1].Record.ID, hits[2].Record.ID, hits[3].Record.ID})
	assert.Equal(t, float32(2), hits[2].Distance)
	assert.Equal(t, float32(10), hits[3].Distance)

	hits, err = s.Search(ctx, query, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = s.Search(ctx, []float32{1, 0}, 2)
	assert.True(t, kerr.HasCode(err, kerr.CodeStoreVectorDimensionMismatch))
}

func TestSearch_EmptyStore(t *testing.T) {
	s := openStore(t, t.TempDir(), newFixedEmbedder(testDim))
	hits, err := s.Search(context.Background(), []float32{0, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestQuery_EmbedsText(t *testing.T) {
	emb := newFixedEmbedder(testDim)
	emb.set("returns", 0, 0, 0, 1)
	emb.set("shipping", 1, 0, 0, 0)
	s := openStore(t, t.TempDir(), emb)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, faq("r", "returns")))
	require.NoError(t, s.Upsert(ctx, faq("s", "shipping")))

	// The query text goes through the same embedder, so "Question: shipping."
	// lands exactly on the shipping FAQ.
	hits, err := s.Query(ctx, "Question: shipping.", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s", hits[0].Record.ID)
}

func TestUpsert_Failures(t *testing.T) {
	emb := newFixedEmbedder(testDim)
	s := openStore(t, t.TempDir(), emb)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, faq("a", "alpha")))

	err := s.Upsert(ctx, &models.FAQ{ID: "b", Question: "no answer"})
	assert.True(t, kerr.HasCode(err, kerr.CodeSerializerFieldMissing), "got %v", err)
	assert.Equal(t, "answer", kerr.FieldsOf(err)["field"])

	err = s.Upsert(ctx, &models.FAQ{ID: "../x", Question: "q", Answer: "a"})
	assert.True(t, kerr.HasCode(err, kerr.CodeModelsEntityInvalidInput), "got %v", err)

	emb.fail = errUpstream
	err = s.Upsert(ctx, faq("c", "gamma"))
	assert.True(t, kerr.HasCode(err, kerr.CodeProviderEmbedUpstreamFailure), "got %v", err)
	assert.ErrorIs(t, err, errUpstream)

	emb.fail = nil
	emb.short = true
	err = s.Upsert(ctx, faq("d", "delta"))
	assert.True(t, kerr.HasCode(err, kerr.CodeStoreVectorDimensionMismatch), "got %v", err)
	emb.short = false

	assert.Equal(t, []string{"a"}, ids(s.Records()))
	requireAligned(t, s)
}

func TestOpen_EmbedderCheckFailures(t *testing.T) {
	emb := newFixedEmbedder(testDim)
	emb.short = true
	_, err := Open(context.Background(), t.TempDir(), emb)
	assert.True(t, kerr.HasCode(err, kerr.CodeStoreVectorDimensionMismatch), "got %v", err)

	emb = newFixedEmbedder(testDim)
	emb.fail = errUpstream
	_, err = Open(context.Background(), t.TempDir(), emb)
	assert.True(t, kerr.HasCode(err, kerr.CodeProviderEmbedUpstreamFailure), "got %v", err)

	_, err = Open(context.Background(), t.TempDir(), nil)
	assert.Error(t, err)
}

func TestOpen_IndexDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(ctx, dir, newFixedEmbedder(testDim))
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, faq("a", "alpha")))
	require.NoError(t, s.Close())

	_, err = Open(ctx, dir, newFixedEmbedder(8))
	require.Error(t, err)
	assert.True(t, kerr.HasCode(err, kerr.CodeStoreVectorDimensionMismatch), "got %v", err)
}

func TestOpen_CorruptSnapshots(t *testing.T) {
	ctx := context.Background()
	seed := func(t *testing.T) string {
		dir := t.TempDir()
		s, err := Open(ctx, dir, newFixedEmbedder(testDim))
		require.NoError(t, err)
		require.NoError(t, s.Upsert(ctx, faq("a", "alpha")))
		require.NoError(t, s.Close())
		return dir
	}

	t.Run("index", func(t *testing.T) {
		dir := seed(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, storage.IndexFileName), []byte("garbage"), 0644))
		_, err := Open(ctx, dir, newFixedEmbedder(testDim))
		assert.True(t, kerr.HasCode(err, kerr.CodeStoreSnapshotCorrupt), "got %v", err)
	})
	t.Run("index row count", func(t *testing.T) {
		dir := seed(t)
		path := filepath.Join(dir, storage.IndexFileName)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		binary.LittleEndian.PutUint32(data[12:16], 0xFFFFFFFF)
		require.NoError(t, os.WriteFile(path, data, 0644))
		_, err = Open(ctx, dir, newFixedEmbedder(testDim))
		assert.True(t, kerr.HasCode(err, kerr.CodeStoreSnapshotCorrupt), "got %v", err)
	})
	t.Run("mapping", func(t *testing.T) {
		dir := seed(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, storage.MappingFileName), []byte("{not json"), 0644))
		_, err := Open(ctx, dir, newFixedEmbedder(testDim))
		assert.True(t, kerr.HasCode(err, kerr.CodeStoreSnapshotCorrupt), "got %v", err)
	})
	t.Run("duplicate identity", func(t *testing.T) {
		dir := seed(t)
		dup := []models.EmbeddingRecord{
			{Type: models.EntityFAQ, ID: "a", Text: "one"},
			{Type: models.EntityFAQ, ID: "a", Text: "two"},
		}
		require.NoError(t, storage.SaveMapping(filepath.Join(dir, storage.MappingFileName), dup))
		_, err := Open(ctx, dir, newFixedEmbedder(testDim))
		assert.True(t, kerr.HasCode(err, kerr.CodeStoreSnapshotCorrupt), "got %v", err)
	})
}

func TestOpen_RebuildsMisalignedIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	emb := newFixedEmbedder(testDim)
	emb.set("A", 1, 0, 0, 0)
	emb.set("B", 0, 1, 0, 0)

	s, err := Open(ctx, dir, emb)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, faq("a", "A")))
	require.NoError(t, s.Upsert(ctx, faq("b", "B")))
	require.NoError(t, s.Close())

	empty, err := vector.NewMemoryIndex(testDim)
	require.NoError(t, err)
	require.NoError(t, empty.Save(filepath.Join(dir, storage.IndexFileName)))

	reopened := openStore(t, dir, emb)
	requireAligned(t, reopened)
	assert.Equal(t, 2, reopened.Len())
	vec, err := reopened.Vector(models.EntityFAQ, "b")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, vec)
}

func TestOpen_MappingWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	emb := newFixedEmbedder(testDim)
	s, err := Open(ctx, dir, emb)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, faq("a", "alpha")))
	require.NoError(t, s.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, storage.IndexFileName)))

	reopened := openStore(t, dir, emb)
	assert.Equal(t, 1, reopened.Len())
	requireAligned(t, reopened)
	assert.FileExists(t, filepath.Join(dir, storage.IndexFileName))
}

func TestOpen_IndexWithoutMappingStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	emb := newFixedEmbedder(testDim)
	s, err := Open(ctx, dir, emb)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, faq("a", "alpha")))
	require.NoError(t, s.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, storage.MappingFileName)))

	reopened := openStore(t, dir, emb)
	assert.Equal(t, 0, reopened.Len())
	requireAligned(t, reopened)
}

func TestKeywordSearch(t *testing.T) {
	ctx := context.Background()
	t.Run("disabled", func(t *testing.T) {
		s := openStore(t, t.TempDir(), newFixedEmbedder(testDim))
		_, err := s.KeywordSearch(ctx, "anything", 5, nil)
		assert.True(t, kerr.HasCode(err, kerr.CodeStoreKeywordUnavailable), "got %v", err)
	})

	t.Run("enabled", func(t *testing.T) {
		dir := t.TempDir()
		emb := newFixedEmbedder(testDim)
		kw, err := keyword.NewBleveIndex("")
		require.NoError(t, err)
		s, err := Open(ctx, dir, emb, WithKeywordIndex(kw))
		require.NoError(t, err)
		require.NoError(t, s.Upsert(ctx, faq("ship", "How long does shipping take")))
		require.NoError(t, s.Upsert(ctx, faq("ret", "Can I return a gift")))

		hits, err := s.KeywordSearch(ctx, "shipping", 5, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "ship", hits[0].Record.ID)
		assert.Equal(t, 0, hits[0].Row)

		require.NoError(t, s.Delete(ctx, models.EntityFAQ, "ship"))
		hits, err = s.KeywordSearch(ctx, "shipping", 5, nil)
		require.NoError(t, err)
		assert.Empty(t, hits)
		require.NoError(t, s.Close())

		// A fresh in-memory index is repopulated from the mapping on open.
		kw2, err := keyword.NewBleveIndex("")
		require.NoError(t, err)
		reopened := openStore(t, dir, emb, WithKeywordIndex(kw2))
		hits, err = reopened.KeywordSearch(ctx, "gift", 5, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "ret", hits[0].Record.ID)
	})
}

func TestCatalogMirrorsMapping(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	catalog, err := storage.NewSQLiteCatalog(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)

	s := openStore(t, filepath.Join(dir, "data"), newFixedEmbedder(testDim), WithCatalog(catalog))
	require.NoError(t, s.Upsert(ctx, faq("a", "alpha")))
	require.NoError(t, s.Upsert(ctx, faq("b", "beta")))
	require.NoError(t, s.Upsert(ctx, &models.Product{ID: "p", Name: "Widget", Description: "d", Price: models.Float(1)}))
	require.NoError(t, s.Delete(ctx, models.EntityFAQ, "a"))

	entry, err := catalog.Get(ctx, models.Identity{Type: models.EntityFAQ, ID: "b"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage.VectorDirName, "faq_b.npy"), entry.EmbeddingFile)
	assert.Contains(t, entry.Text, "beta")

	_, err = catalog.Get(ctx, models.Identity{Type: models.EntityFAQ, ID: "a"})
	assert.True(t, kerr.IsNotFound(err))

	faqs, err := s.List(ctx, models.EntityFAQ, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(faqs))

	counts, err := catalog.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.EntityProduct])
}

func TestList_WithoutCatalogUsesMappingOrder(t *testing.T) {
	s := openStore(t, t.TempDir(), newFixedEmbedder(testDim))
	ctx := context.Background()
	for _, id := range []string{"z", "y", "x"} {
		require.NoError(t, s.Upsert(ctx, faq(id, "question "+id)))
	}
	require.NoError(t, s.Upsert(ctx, &models.Product{ID: "p", Name: "W", Description: "d", Price: models.Float(2)}))

	all, err := s.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "x", "p"}, ids(all))

	page, err := s.List(ctx, models.EntityFAQ, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, ids(page))
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	s := openStore(t, t.TempDir(), newFixedEmbedder(testDim))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				id := fmt.Sprintf("%d-%d", w, i%5)
				if err := s.Upsert(ctx, faq(id, "question "+id)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				hits, err := s.Search(ctx, []float32{1, 0, 0, 0}, 3)
				if err != nil {
					errs <- err
					continue
				}
				for _, h := range hits {
					if h.Record.ID == "" {
						errs <- fmt.Errorf("hit without record at row %d", h.Row)
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 20, s.Len())
	requireAligned(t, s)
}

func TestStore_Closed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, t.TempDir(), newFixedEmbedder(testDim))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, kerr.HasCode(s.Upsert(ctx, faq("a", "alpha")), kerr.CodeStoreClosed))
	assert.True(t, kerr.HasCode(s.Delete(ctx, models.EntityFAQ, "a"), kerr.CodeStoreClosed))
	_, err = s.Search(ctx, []float32{0, 0, 0, 0}, 1)
	assert.True(t, kerr.HasCode(err, kerr.CodeStoreClosed))
	assert.True(t, kerr.HasCode(s.Flush(), kerr.CodeStoreClosed))
}

func TestParseRebuildPolicy(t *testing.T) {
	for in, want := range map[string]RebuildPolicy{"": PolicyStrict, "strict": PolicyStrict, " PRUNE ": PolicyPrune} {
		got, err := ParseRebuildPolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseRebuildPolicy("lenient")
	assert.True(t, kerr.IsInvalidInput(err))
}
