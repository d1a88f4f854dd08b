package matchcandidate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"id", "source_system", "source_record_id", "candidate_entity_id", "confidence", "evidence",
	"status", "created_at", "updated_at", "resolved_at", "resolved_by",
}

type row struct {
	models.MatchCandidate
	Evidence database.JSONB[models.CandidateEvidence] `db:"evidence"`
}

// Repository handles suggested links produced by batch candidate generation
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match candidate repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertBatch stores candidates. An existing (source, record, entity) pair keeps the
// higher confidence and takes the newer evidence.
func (r *Repository) UpsertBatch(ctx context.Context, candidates []models.MatchCandidate) error {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.UpsertBatch")
	defer span.End()

	if len(candidates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_candidates")
	sb.Cols(columns[:9]...)
	for _, c := range candidates {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.Status == "" {
			c.Status = models.MatchCandidateStatusOpen
		}
		sb.Values(c.ID, c.SourceSystem, c.SourceRecordID, c.CandidateEntityID, c.Confidence,
			database.NewJSONB(c.Evidence), c.Status, now, now)
	}

	query, args := sb.Build()
	query += " ON CONFLICT (source_system, source_record_id, candidate_entity_id) DO UPDATE SET confidence = GREATEST(match_candidates.confidence, EXCLUDED.confidence), evidence = EXCLUDED.evidence, updated_at = EXCLUDED.updated_at"

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert match candidates batch")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert match candidates")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(candidates)}).Debug("Upserted match candidates batch")
	return nil
}

// ListOpen returns open candidates, highest confidence first
func (r *Repository) ListOpen(ctx context.Context, limit int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.ListOpen")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_candidates")
	sb.Where(sb.Equal("status", models.MatchCandidateStatusOpen))
	sb.OrderBy("confidence DESC", "created_at DESC")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list open match candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match candidates")
	}

	out := make([]models.MatchCandidate, 0, len(rows))
	for _, row := range rows {
		c := row.MatchCandidate
		c.Evidence = row.Evidence.GetValue()
		out = append(out, c)
	}
	return out, nil
}

// UpdateStatus records a reviewer's verdict on a candidate
func (r *Repository) UpdateStatus(ctx context.Context, id, status, resolvedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.UpdateStatus")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("match_candidates")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("resolved_at", now),
		sb.Assign("resolved_by", resolvedBy),
		sb.Assign("updated_at", now),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("candidate_id", id).Error("Failed to update match candidate status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update match candidate status")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match candidate %s not found", id))
	}
	return nil
}

// Get retrieves a match candidate by id
func (r *Repository) Get(ctx context.Context, id string) (*models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_candidates")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var out row
	if err := r.db.Executor(ctx).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("match candidate %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get match candidate")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match candidate")
	}
	c := out.MatchCandidate
	c.Evidence = out.Evidence.GetValue()
	return &c, nil
}
