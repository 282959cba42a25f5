package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/models"
	kerr "github.com/hyperjump/kura/pkg/errors"
)

// ReindexResult reports the outcome of a bulk re-embedding.
type ReindexResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Removed   int `json:"removed"`
}

// Reindex makes the store hold exactly entities: each one is upserted, then
// rows whose identity is not in the set are deleted. Failures do not stop the
// run; they are counted and returned joined. Removal is skipped when any
// upsert failed, so a partial import never deletes rows. An empty set is
// rejected instead of clearing the store.
func (l *Listener) Reindex(ctx context.Context, entities []models.Entity) (ReindexResult, error) {
	if len(entities) == 0 {
		return ReindexResult{}, kerr.New(kerr.CodeModelsEntityInvalidInput,
			"reindex needs at least one entity, an empty set would remove every row")
	}
	var (
		res  ReindexResult
		errs []error
		want = make(map[models.Identity]struct{}, len(entities))
	)
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ident := identityOf(e)
		want[ident] = struct{}{}
		if err := l.store.Upsert(ctx, e); err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", ident, err))
			l.logger.Warn("reindex: entity failed", zap.String("entity", ident.String()), zap.Error(err))
			continue
		}
		res.Processed++
	}

	if len(errs) == 0 {
		for _, r := range l.store.Records() {
			if _, ok := want[r.Identity()]; ok {
				continue
			}
			if err := l.store.Delete(ctx, r.Type, r.ID); err != nil && !kerr.IsNotFound(err) {
				errs = append(errs, fmt.Errorf("%s: %w", r.Identity(), err))
				continue
			}
			res.Removed++
		}
	}

	l.logger.Info(fmt.Sprintf("Embedded %d items", res.Processed),
		zap.Int("failed", res.Failed), zap.Int("removed", res.Removed))
	return res, kerr.Join(errs...)
}
