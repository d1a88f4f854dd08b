package sourcerecord

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository loads the inputs of batch candidate generation
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new source record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListUnlinked returns person records that are not linked to a canonical entity:
// placeholders left by the identity gate and records still waiting for review. An empty
// source lists every source system.
func (r *Repository) ListUnlinked(ctx context.Context, source string, limit int) ([]models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.ListUnlinked")
	defer span.End()

	if limit < 1 {
		limit = 1000
	}

	query := `
		SELECT source_system, source_record_id, display_name, email, phone, address FROM (
			SELECT
				split_part(sr.normalized_value, ':', 1) AS source_system,
				substr(sr.normalized_value, strpos(sr.normalized_value, ':') + 1) AS source_record_id,
				e.display_name,
				COALESCE((SELECT normalized_value FROM identifiers WHERE entity_id = e.id AND id_type = 'email' ORDER BY created_at LIMIT 1), '') AS email,
				COALESCE((SELECT normalized_value FROM identifiers WHERE entity_id = e.id AND id_type = 'phone' ORDER BY created_at LIMIT 1), '') AS phone,
				COALESCE((SELECT normalized_value FROM identifiers WHERE entity_id = e.id AND id_type = 'normalized_address' ORDER BY created_at LIMIT 1), '') AS address
			FROM entities e
			JOIN identifiers sr ON sr.entity_id = e.id AND sr.id_type = 'source_record'
			WHERE e.kind = 'person' AND e.canonical = FALSE AND e.merged_into IS NULL
			UNION ALL
			SELECT
				rc.source_system,
				rc.source_record_id,
				trim(COALESCE(NULLIF(rc.raw_fields->>'name', ''), concat_ws(' ', rc.raw_fields->>'first_name', rc.raw_fields->>'last_name'))),
				COALESCE(rc.raw_fields->>'email', ''),
				COALESCE(rc.raw_fields->>'phone', ''),
				COALESCE(rc.raw_fields->>'address', '')
			FROM raw_candidates rc
			JOIN match_decisions d ON d.id = rc.decision_id
			WHERE rc.kind = 'person' AND d.resolution IS NULL
		) unlinked
		WHERE ($1 = '' OR source_system = $1)
		ORDER BY source_system, source_record_id
		LIMIT $2
	`
	var out []models.SourceRecord
	if err := r.db.Executor(ctx).SelectContext(ctx, &out, query, source, limit); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("source", source).Error("Failed to list unlinked source records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list unlinked source records")
	}
	return out, nil
}

// ListCanonicalPeople returns every canonical person with its first email and phone
func (r *Repository) ListCanonicalPeople(ctx context.Context) ([]models.CanonicalPerson, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.ListCanonicalPeople")
	defer span.End()

	query := `
		SELECT
			e.id AS entity_id,
			e.display_name,
			COALESCE((SELECT normalized_value FROM identifiers WHERE entity_id = e.id AND id_type = 'email' ORDER BY created_at LIMIT 1), '') AS email,
			COALESCE((SELECT normalized_value FROM identifiers WHERE entity_id = e.id AND id_type = 'phone' ORDER BY created_at LIMIT 1), '') AS phone
		FROM entities e
		WHERE e.kind = 'person' AND e.canonical = TRUE AND e.merged_into IS NULL
		ORDER BY e.id
	`
	var out []models.CanonicalPerson
	if err := r.db.Executor(ctx).SelectContext(ctx, &out, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list canonical people")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical people")
	}
	return out, nil
}
