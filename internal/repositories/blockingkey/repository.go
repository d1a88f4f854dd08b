package blockingkey

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository handles the entity_blocking_keys index used for candidate retrieval
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new blocking key repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type entityRow struct {
	models.Entity
	Attributes database.JSONB[map[string]string] `db:"attributes"`
}

// FindEntities returns unmerged entities of kind sharing at least one key, ordered by id
func (r *Repository) FindEntities(ctx context.Context, kind models.EntityKind, keys []string, limit int) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "blockingkey.Repository.FindEntities")
	defer span.End()

	if len(keys) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT e.id, e.kind, e.display_name, e.attributes, e.merged_into, e.canonical, e.created_at, e.updated_at
		FROM entities e
		WHERE e.kind = $1
		AND e.merged_into IS NULL
		AND e.id IN (SELECT entity_id FROM entity_blocking_keys WHERE kind = $1 AND key = ANY($2))
		ORDER BY e.id
		LIMIT $3
	`
	var rows []entityRow
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, kind, pq.Array(keys), limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Failed to find entities by blocking keys")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find candidate entities")
	}

	out := make([]models.Entity, 0, len(rows))
	for _, row := range rows {
		e := row.Entity
		e.Attributes = row.Attributes.GetValue()
		out = append(out, e)
	}
	return out, nil
}

// Put indexes keys for an entity. Keys already present are ignored.
func (r *Repository) Put(ctx context.Context, entityID string, kind models.EntityKind, keys []string) error {
	ctx, span := tracing.StartSpan(ctx, "blockingkey.Repository.Put")
	defer span.End()

	if len(keys) == 0 {
		return nil
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("entity_blocking_keys")
	ib.Cols("entity_id", "kind", "key")
	for _, k := range keys {
		ib.Values(entityID, kind, k)
	}
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to put blocking keys")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to put blocking keys")
	}
	return nil
}

// Move reassigns every key held by fromID to toID
func (r *Repository) Move(ctx context.Context, fromID, toID string) error {
	ctx, span := tracing.StartSpan(ctx, "blockingkey.Repository.Move")
	defer span.End()

	exec := r.db.Executor(ctx)
	copyKeys := `
		INSERT INTO entity_blocking_keys (entity_id, kind, key)
		SELECT $2, kind, key FROM entity_blocking_keys WHERE entity_id = $1
		ON CONFLICT DO NOTHING
	`
	if _, err := exec.ExecContext(ctx, copyKeys, fromID, toID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"from": fromID, "to": toID}).Error("Failed to copy blocking keys")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to move blocking keys")
	}
	if _, err := exec.ExecContext(ctx, "DELETE FROM entity_blocking_keys WHERE entity_id = $1", fromID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("from", fromID).Error("Failed to delete moved blocking keys")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to move blocking keys")
	}
	return nil
}
