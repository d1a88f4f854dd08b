package blacklist

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository handles curated blacklist entries
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new blacklist repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListAll returns every entry
func (r *Repository) ListAll(ctx context.Context) ([]models.BlacklistEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.ListAll")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id_type", "normalized_value", "required_name_similarity", "reason", "created_at")
	sb.From("blacklist_entries")
	sb.OrderBy("id_type", "normalized_value")

	query, args := sb.Build()
	var out []models.BlacklistEntry
	if err := r.db.Executor(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list blacklist entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list blacklist entries")
	}
	return out, nil
}

// Upsert inserts entries, overwriting the similarity and reason of existing ones
func (r *Repository) Upsert(ctx context.Context, entries []models.BlacklistEntry) error {
	ctx, span := tracing.StartSpan(ctx, "blacklist.Repository.Upsert")
	defer span.End()

	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto("blacklist_entries")
	ib.Cols("id_type", "normalized_value", "required_name_similarity", "reason", "created_at")
	for _, e := range entries {
		ib.Values(e.IdentifierType, e.NormalizedValue, e.RequiredNameSimilarity, e.Reason, now)
	}
	ub := ib.OnConflict("id_type", "normalized_value")
	ub.Set(
		ub.Assign("required_name_similarity", database.Excluded("required_name_similarity")),
		ub.Assign("reason", database.Excluded("reason")),
	)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(entries)).Error("Failed to upsert blacklist entries")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert blacklist entries")
	}

	r.logger.WithContext(ctx).WithField("count", len(entries)).Info("Upserted blacklist entries")
	return nil
}
