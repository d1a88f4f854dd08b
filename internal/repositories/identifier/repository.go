package identifier

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

var columns = []string{"id", "entity_id", "kind", "id_type", "normalized_value", "raw_value", "source_system", "confidence", "row_hash", "created_at"}

// Repository handles identifier persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new identifier repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// FindByKey returns the row holding (kind, type, value), or nil when there is none
func (r *Repository) FindByKey(ctx context.Context, kind models.EntityKind, idType models.IdentifierType, value string) (*models.Identifier, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.FindByKey")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identifiers")
	sb.Where(
		sb.Equal("kind", kind),
		sb.Equal("id_type", idType),
		sb.Equal("normalized_value", value),
	)

	query, args := sb.Build()
	var ident models.Identifier
	if err := r.db.Executor(ctx).GetContext(ctx, &ident, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"type": idType}).Error("Failed to find identifier")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find identifier")
	}
	return &ident, nil
}

// ListByEntity returns the identifiers attached to an entity
func (r *Repository) ListByEntity(ctx context.Context, entityID string) ([]models.Identifier, error) {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.ListByEntity")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("identifiers")
	sb.Where(sb.Equal("entity_id", entityID))
	sb.OrderBy("id_type", "normalized_value")

	query, args := sb.Build()
	var out []models.Identifier
	if err := r.db.Executor(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to list identifiers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list identifiers")
	}
	return out, nil
}

// Insert returns models.ErrUniquenessConflict when another row holds the key
func (r *Repository) Insert(ctx context.Context, ident *models.Identifier) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.Insert")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("identifiers")
	sb.Cols(columns...)
	sb.Values(ident.ID, ident.EntityID, ident.Kind, ident.Type, ident.NormalizedValue, ident.RawValue, ident.SourceSystem, ident.Confidence, ident.RowHash, ident.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrUniquenessConflict
		}
		r.logger.WithContext(ctx).WithError(err).WithField("entity_id", ident.EntityID).Error("Failed to insert identifier")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert identifier")
	}
	return nil
}

// Reassign moves an identifier to another entity
func (r *Repository) Reassign(ctx context.Context, id, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.Reassign")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("identifiers")
	sb.Set(sb.Assign("entity_id", entityID))
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrUniquenessConflict
		}
		r.logger.WithContext(ctx).WithError(err).WithField("identifier_id", id).Error("Failed to reassign identifier")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reassign identifier")
	}
	return nil
}

// SetRowHash records the source row fingerprint last applied through a source_record identifier
func (r *Repository) SetRowHash(ctx context.Context, id, hash string) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.SetRowHash")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("identifiers")
	sb.Set(sb.Assign("row_hash", hash))
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("identifier_id", id).Error("Failed to set identifier row hash")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update identifier")
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "identifier.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("identifiers")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("identifier_id", id).Error("Failed to delete identifier")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete identifier")
	}
	return nil
}
