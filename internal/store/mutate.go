package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/internal/serializer"
	"github.com/hyperjump/kura/internal/vector"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

// Upsert serializes and embeds e, then inserts or replaces its row.
//
// An existing row keeps its position: the index is rebuilt from every row's
// vector file with the fresh vector in place of the old one. A new row is
// appended. The vector file and both snapshots are written before the new
// state is swapped in; if any write fails the files are restored and the
// committed state is unchanged.
func (s *Store) Upsert(ctx context.Context, e models.Entity) error {
	return s.upsert(ctx, e, false)
}

// Create inserts e and fails with store.entity.conflict when its identity is
// already stored. The check and the insert happen under one lock.
func (s *Store) Create(ctx context.Context, e models.Entity) error {
	return s.upsert(ctx, e, true)
}

func (s *Store) upsert(ctx context.Context, e models.Entity, createOnly bool) (err error) {
	start := time.Now()
	created := false
	defer func() { s.metrics.RecordUpsert(created, time.Since(start), err) }()

	if e == nil {
		return kerr.New(kerr.CodeModelsEntityInvalidInput, "entity is nil")
	}
	ident := e.Identity()
	if err := ident.Validate(); err != nil {
		return err
	}
	fields := kerr.FieldEntity(string(ident.Type), ident.ID)

	if createOnly {
		s.mu.RLock()
		_, exists := s.rows[ident]
		s.mu.RUnlock()
		if exists {
			return conflict(ident)
		}
	}

	text, err := serializer.Serialize(e)
	if err != nil {
		var missing *serializer.MissingFieldError
		if errors.As(err, &missing) {
			return kerr.Wrap(err, kerr.CodeSerializerFieldMissing, "entity is missing a required field",
				append(fields, kerr.Field("field", missing.Field))...)
		}
		return kerr.Wrap(err, kerr.CodeModelsEntityInvalidInput, "entity cannot be serialized", fields...)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return codeIfBare(err, kerr.CodeProviderEmbedUpstreamFailure, "embedding failed", fields...)
	}
	if len(vec) != s.dimensions {
		return kerr.New(kerr.CodeStoreVectorDimensionMismatch, "embedding has unexpected length",
			append(fields, kerr.Field("expected", s.dimensions), kerr.Field("got", len(vec)))...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}

	rec := models.EmbeddingRecord{Type: ident.Type, ID: ident.ID, Text: text}
	var dropped []models.Identity
	row, found := s.rows[ident]
	switch {
	case found && createOnly:
		return conflict(ident)
	case found:
		dropped, err = s.replaceRow(ctx, row, rec, vec)
	default:
		created = true
		dropped, err = s.appendRow(ctx, rec, vec)
	}
	if err != nil {
		s.logger.Warn("upsert failed", zap.String("entity", ident.String()), zap.Error(err))
		return err
	}

	s.logDropped(dropped)
	s.forget(ctx, dropped)
	s.remember(ctx, rec)

	action := "updated"
	if created {
		action = "created"
	}
	s.logger.Debug("entity "+action, zap.String("entity", ident.String()),
		zap.Int("rows", len(s.records)), zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Store) replaceRow(ctx context.Context, row int, rec models.EmbeddingRecord, vec []float32) ([]models.Identity, error) {
	ident := rec.Identity()
	records := make([]models.EmbeddingRecord, len(s.records))
	copy(records, s.records)
	records[row] = rec

	kept, vectors, dropped, err := s.collectVectors(ctx, records, map[models.Identity][]float32{ident: vec})
	if err != nil {
		return nil, err
	}
	idx, err := s.buildIndex(ctx, vectors)
	if err != nil {
		return nil, err
	}
	err = s.apply(ident, kept, idx, func() error { return s.writeVector(ident, vec) }, func() { _ = idx.Close() })
	if err != nil {
		return nil, err
	}
	return dropped, nil
}

func (s *Store) appendRow(ctx context.Context, rec models.EmbeddingRecord, vec []float32) ([]models.Identity, error) {
	ident := rec.Identity()
	records := make([]models.EmbeddingRecord, len(s.records), len(s.records)+1)
	copy(records, s.records)
	records = append(records, rec)

	idents := make([]models.Identity, len(s.records))
	for i, r := range s.records {
		idents[i] = r.Identity()
	}
	if missing := s.files.Missing(idents); len(missing) > 0 {
		if s.policy == PolicyStrict {
			return nil, missingVectors(missing)
		}
		// Pruning changes row positions, so the whole index is rebuilt.
		kept, vectors, dropped, err := s.collectVectors(ctx, records, map[models.Identity][]float32{ident: vec})
		if err != nil {
			return nil, err
		}
		idx, err := s.buildIndex(ctx, vectors)
		if err != nil {
			return nil, err
		}
		err = s.apply(ident, kept, idx, func() error { return s.writeVector(ident, vec) }, func() { _ = idx.Close() })
		if err != nil {
			return nil, err
		}
		return dropped, nil
	}

	n := s.index.Size()
	change := func() error {
		if err := s.writeVector(ident, vec); err != nil {
			return err
		}
		if err := s.index.Append(ctx, vec); err != nil {
			return kerr.Wrap(err, kerr.CodeStoreIOFailure, "append to vector index",
				kerr.FieldEntity(string(ident.Type), ident.ID)...)
		}
		return nil
	}
	return nil, s.apply(ident, records, s.index, change, func() { s.truncateIndex(n) })
}

// Delete removes the row for (t, id), rebuilds the index from the remaining
// vector files and deletes the entity's vector file. An absent identity yields
// a store.entity.not_found error and changes nothing.
func (s *Store) Delete(ctx context.Context, t models.EntityType, id string) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordDelete(time.Since(start), err) }()

	ident := models.Identity{Type: t, ID: id}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}

	row, found := s.rows[ident]
	if !found {
		return notFound(t, id)
	}
	records := make([]models.EmbeddingRecord, 0, len(s.records)-1)
	records = append(records, s.records[:row]...)
	records = append(records, s.records[row+1:]...)

	kept, vectors, dropped, err := s.collectVectors(ctx, records, nil)
	if err != nil {
		s.logger.Warn("delete failed", zap.String("entity", ident.String()), zap.Error(err))
		return err
	}
	idx, err := s.buildIndex(ctx, vectors)
	if err != nil {
		return err
	}
	remove := func() error {
		if err := s.files.Remove(ident); err != nil {
			return kerr.Wrap(err, kerr.CodeStoreIOFailure, "remove vector file", kerr.FieldEntity(string(t), id)...)
		}
		return nil
	}
	if err := s.apply(ident, kept, idx, remove, func() { _ = idx.Close() }); err != nil {
		s.logger.Warn("delete failed", zap.String("entity", ident.String()), zap.Error(err))
		return err
	}
	s.logDropped(dropped)
	s.forget(ctx, append(dropped, ident))

	s.logger.Debug("entity deleted", zap.String("entity", ident.String()),
		zap.Int("rows", len(s.records)), zap.Duration("took", time.Since(start)))
	return nil
}

// apply makes one mutation durable before it becomes visible. change updates
// ident's vector file; records and idx are then written as the snapshots and
// swapped in. On failure the vector file is restored, discard releases the
// staged index and the committed state stays in place. Callers hold the write
// lock.
func (s *Store) apply(ident models.Identity, records []models.EmbeddingRecord, idx vector.VectorIndex, change func() error, discard func()) error {
	restore, err := s.files.Backup(ident)
	if err != nil {
		discard()
		return kerr.Wrap(err, kerr.CodeStoreIOFailure, "back up vector file",
			kerr.FieldEntity(string(ident.Type), ident.ID)...)
	}
	if err := change(); err != nil {
		discard()
		s.restoreVector(ident, restore)
		return err
	}
	if err := s.writeSnapshots(records, idx); err != nil {
		discard()
		s.restoreVector(ident, restore)
		return err
	}
	s.commit(records, idx)
	s.dirty = false
	return nil
}

func (s *Store) writeVector(ident models.Identity, vec []float32) error {
	if err := s.files.Write(ident, vec); err != nil {
		return kerr.Wrap(err, kerr.CodeStoreIOFailure, "write vector file",
			kerr.FieldEntity(string(ident.Type), ident.ID)...)
	}
	return nil
}

func (s *Store) restoreVector(ident models.Identity, restore func() error) {
	if err := restore(); err != nil {
		s.logger.Error("restoring vector file failed", zap.String("entity", ident.String()), zap.Error(err))
	}
}

// truncateIndex drops rows appended to the live index past n.
func (s *Store) truncateIndex(n int) {
	if s.index.Size() <= n {
		return
	}
	vectors := make([][]float32, n)
	for i := range vectors {
		v, err := s.index.Vector(i)
		if err != nil {
			s.logger.Error("reading index row for rollback", zap.Int("row", i), zap.Error(err))
			return
		}
		vectors[i] = v
	}
	if err := s.index.RebuildFrom(context.Background(), vectors); err != nil {
		s.logger.Error("rolling back appended index row", zap.Error(err))
	}
}

func conflict(ident models.Identity) error {
	return kerr.New(kerr.CodeStoreEntityConflict, "entity already exists",
		kerr.FieldEntity(string(ident.Type), ident.ID)...)
}

// remember mirrors a committed record into the keyword index and catalog.
// Both are derived views, so failures are logged rather than returned.
func (s *Store) remember(ctx context.Context, rec models.EmbeddingRecord) {
	if s.keyword != nil {
		if err := s.keyword.Index(ctx, rec); err != nil {
			s.logger.Warn("keyword index update failed", zap.String("entity", rec.Identity().String()), zap.Error(err))
		}
	}
	if s.catalog != nil {
		if err := s.catalog.Put(ctx, s.catalogEntry(rec)); err != nil {
			s.logger.Warn("catalog update failed", zap.String("entity", rec.Identity().String()), zap.Error(err))
		}
	}
}

// forget removes identities from the keyword index and catalog.
func (s *Store) forget(ctx context.Context, idents []models.Identity) {
	for _, ident := range idents {
		if s.keyword != nil {
			if err := s.keyword.Delete(ctx, ident); err != nil {
				s.logger.Warn("keyword index delete failed", zap.String("entity", ident.String()), zap.Error(err))
			}
		}
		if s.catalog != nil {
			if err := s.catalog.Delete(ctx, ident); err != nil {
				s.logger.Warn("catalog delete failed", zap.String("entity", ident.String()), zap.Error(err))
			}
		}
	}
}
