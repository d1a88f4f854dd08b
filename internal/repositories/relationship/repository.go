package relationship

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{"id", "subject_id", "object_id", "role", "confidence", "source_system", "created_at"}

// Repository handles relationship persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new relationship repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListByEntity returns relationships where entityID is either endpoint
func (r *Repository) ListByEntity(ctx context.Context, entityID string) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("relationships")
	sb.Where(sb.Or(
		sb.Equal("subject_id", entityID),
		sb.Equal("object_id", entityID),
	))
	sb.OrderBy("created_at", "id")

	query, args := sb.Build()
	var out []models.Relationship
	if err := r.db.Executor(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to list relationships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list relationships")
	}
	return out, nil
}

// Find returns the edge or nil when there is none
func (r *Repository) Find(ctx context.Context, subjectID, objectID, role string) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Find")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("relationships")
	sb.Where(
		sb.Equal("subject_id", subjectID),
		sb.Equal("object_id", objectID),
		sb.Equal("role", role),
	)

	query, args := sb.Build()
	var rel models.Relationship
	if err := r.db.Executor(ctx).GetContext(ctx, &rel, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find relationship")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find relationship")
	}
	return &rel, nil
}

func (r *Repository) Insert(ctx context.Context, rel *models.Relationship) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Insert")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("relationships")
	sb.Cols(columns...)
	sb.Values(rel.ID, rel.SubjectID, rel.ObjectID, rel.Role, rel.Confidence, rel.SourceSystem, rel.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrUniquenessConflict
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to insert relationship")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert relationship")
	}
	return nil
}

// Repoint rewrites both endpoints of an edge
func (r *Repository) Repoint(ctx context.Context, id, subjectID, objectID string) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Repoint")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("relationships")
	sb.Set(
		sb.Assign("subject_id", subjectID),
		sb.Assign("object_id", objectID),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrUniquenessConflict
		}
		r.logger.WithContext(ctx).WithError(err).WithField("relationship_id", id).Error("Failed to repoint relationship")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to repoint relationship")
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "relationship.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("relationships")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("relationship_id", id).Error("Failed to delete relationship")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete relationship")
	}
	return nil
}
