package entity

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{"id", "kind", "display_name", "attributes", "merged_into", "canonical", "created_at", "updated_at"}

type row struct {
	models.Entity
	Attributes database.JSONB[map[string]string] `db:"attributes"`
}

func (r row) toModel() *models.Entity {
	e := r.Entity
	e.Attributes = r.Attributes.GetValue()
	if e.Attributes == nil {
		e.Attributes = map[string]string{}
	}
	return &e
}

// Repository handles entity persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Get returns models.ErrEntityNotFound for unknown ids
func (r *Repository) Get(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("entities")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var out row
	if err := r.db.Executor(ctx).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrEntityNotFound
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", id).Error("Failed to get entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity")
	}
	return out.toModel(), nil
}

// Insert creates a new entity row
func (r *Repository) Insert(ctx context.Context, e *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Insert")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("entities")
	sb.Cols(columns...)
	sb.Values(e.ID, e.Kind, e.DisplayName, database.NewJSONB(e.Attributes), e.MergedInto, e.Canonical, e.CreatedAt, e.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrUniquenessConflict
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", e.ID).Error("Failed to insert entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert entity")
	}
	return nil
}

// Update writes display name, attributes and the canonical flag of an unmerged entity.
// merged_into is only ever set by MarkMerged.
func (r *Repository) Update(ctx context.Context, e *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Update")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("display_name", e.DisplayName),
		sb.Assign("attributes", database.NewJSONB(e.Attributes)),
		sb.Assign("canonical", e.Canonical),
		sb.Assign("updated_at", e.UpdatedAt),
	)
	sb.Where(sb.Equal("id", e.ID), sb.IsNull("merged_into"))

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", e.ID).Error("Failed to update entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update entity")
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := r.Get(ctx, e.ID); err != nil {
		return err
	}
	return models.ErrMergeTargetAlreadyMerged
}

// MarkMerged points id at into and clears its canonical flag
func (r *Repository) MarkMerged(ctx context.Context, id, into string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.MarkMerged")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("entities")
	sb.Set(
		sb.Assign("merged_into", into),
		sb.Assign("canonical", false),
		sb.Assign("updated_at", at),
	)
	sb.Where(sb.Equal("id", id), sb.IsNull("merged_into"))

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_id": id, "merged_into": into}).Error("Failed to mark entity merged")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark entity merged")
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return models.ErrMergeSourceAlreadyMerged
}

// Delete removes an entity. Identifiers and blocking keys cascade.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("entities")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", id).Error("Failed to delete entity")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete entity")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return models.ErrEntityNotFound
	}
	return nil
}

// Lock takes a transaction-scoped advisory lock per id, in sorted order. It must run
// inside a transaction.
func (r *Repository) Lock(ctx context.Context, ids ...string) error {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.Lock")
	defer span.End()

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if _, err := r.db.Executor(ctx).ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", id); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("entity_id", id).Error("Failed to lock entity")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to lock entity")
		}
	}
	return nil
}

// CountReferences counts identifiers other than source records, relationships and
// merged entities pointing at id
func (r *Repository) CountReferences(ctx context.Context, id string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entity.Repository.CountReferences")
	defer span.End()

	query := `
		SELECT
			(SELECT count(*) FROM identifiers WHERE entity_id = $1 AND id_type <> $2) +
			(SELECT count(*) FROM relationships WHERE subject_id = $1 OR object_id = $1) +
			(SELECT count(*) FROM entities WHERE merged_into = $1)
	`
	var n int
	if err := r.db.Executor(ctx).GetContext(ctx, &n, query, id, models.IdentifierSourceRecord); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", id).Error("Failed to count entity references")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count entity references")
	}
	return n, nil
}
