// Package lifecycle forwards entity create, update and delete signals from the
// systems that own the entities to the embedding store.
package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/models"
	kerr "github.com/hyperjump/kura/pkg/errors"
	"github.com/hyperjump/kura/pkg/utils"
)

// Mutator is the part of the store the listener drives.
type Mutator interface {
	Upsert(ctx context.Context, e models.Entity) error
	Create(ctx context.Context, e models.Entity) error
	Delete(ctx context.Context, t models.EntityType, id string) error
	Records() []models.EmbeddingRecord
}

// Listener receives entity signals and applies them to a Mutator. It is
// constructed once at process start and shared by every signal source.
type Listener struct {
	store  Mutator
	logger *zap.Logger
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithLogger sets the logger for per-entity outcomes.
func WithLogger(l *zap.Logger) ListenerOption {
	return func(li *Listener) { li.logger = l }
}

// NewListener returns a Listener that writes to store.
func NewListener(store Mutator, opts ...ListenerOption) *Listener {
	l := &Listener{store: store}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = utils.OrNop(l.logger)
	return l
}

// EntitySaved handles a create (created=true) or update of e.
func (l *Listener) EntitySaved(ctx context.Context, e models.Entity, created bool) error {
	verb, failVerb := "Updated", "update"
	if created {
		verb, failVerb = "Created", "create"
	}
	return l.report(e, verb, failVerb, l.store.Upsert(ctx, e))
}

// EntityCreated stores e only if its identity is new; an existing identity
// fails with store.entity.conflict.
func (l *Listener) EntityCreated(ctx context.Context, e models.Entity) error {
	return l.report(e, "Created", "create", l.store.Create(ctx, e))
}

func (l *Listener) report(e models.Entity, verb, failVerb string, err error) error {
	ident := identityOf(e)
	if err != nil {
		l.logger.Error(fmt.Sprintf("Failed to %s embeddings for %s %s", failVerb, ident.Type, ident.ID),
			zap.String("code", string(kerr.CodeOf(err))), zap.Error(err))
		return err
	}
	l.logger.Info(fmt.Sprintf("%s embeddings for %s %s", verb, ident.Type, ident.ID))
	return nil
}

// EntityDeleted handles the deletion of (t, id).
func (l *Listener) EntityDeleted(ctx context.Context, t models.EntityType, id string) error {
	if err := l.store.Delete(ctx, t, id); err != nil {
		l.logger.Error(fmt.Sprintf("Failed to delete embeddings for %s %s", t, id),
			zap.String("code", string(kerr.CodeOf(err))), zap.Error(err))
		return err
	}
	l.logger.Info(fmt.Sprintf("Deleted embeddings for %s %s", t, id))
	return nil
}

func identityOf(e models.Entity) models.Identity {
	if e == nil {
		return models.Identity{}
	}
	return e.Identity()
}
