package matchdecision

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{
	"id", "candidate_ref", "kind", "source_system", "chosen_entity_id", "candidate_entity_id",
	"decision_kind", "reason", "composite_score", "probability", "field_scores", "warnings", "created_at",
	"resolution", "resolved_entity_id", "resolved_by", "resolved_at",
}

type row struct {
	models.MatchDecision
	FieldScores database.JSONB[[]models.FieldScore] `db:"field_scores"`
	Warnings    database.JSONB[[]string]            `db:"warnings"`
}

func (r row) toModel() models.MatchDecision {
	d := r.MatchDecision
	d.FieldScores = r.FieldScores.GetValue()
	d.Warnings = r.Warnings.GetValue()
	return d
}

// Repository handles the append-only match decision audit log
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match decision repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Insert(ctx context.Context, d *models.MatchDecision) error {
	ctx, span := tracing.StartSpan(ctx, "matchdecision.Repository.Insert")
	defer span.End()

	scores := d.FieldScores
	if scores == nil {
		scores = []models.FieldScore{}
	}
	warnings := d.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("match_decisions")
	sb.Cols(columns[:13]...)
	sb.Values(d.ID, d.CandidateRef, d.Kind, d.SourceSystem, d.ChosenEntityID, d.CandidateEntityID,
		d.DecisionKind, d.Reason, d.CompositeScore, d.Probability,
		database.NewJSONB(scores), database.NewJSONB(warnings), d.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrUniquenessConflict
		}
		r.logger.WithContext(ctx).WithError(err).WithField("decision_id", d.ID).Error("Failed to insert match decision")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert match decision")
	}
	return nil
}

// Get returns models.ErrDecisionNotFound for unknown ids
func (r *Repository) Get(ctx context.Context, id string) (*models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matchdecision.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_decisions")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var out row
	if err := r.db.Executor(ctx).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrDecisionNotFound
		}
		r.logger.WithContext(ctx).WithError(err).WithField("decision_id", id).Error("Failed to get match decision")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match decision")
	}
	d := out.toModel()
	return &d, nil
}

// ListPending returns unresolved review_pending decisions, oldest first. An empty kind
// lists every kind.
func (r *Repository) ListPending(ctx context.Context, kind models.EntityKind, limit, offset int) ([]models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matchdecision.Repository.ListPending")
	defer span.End()

	if limit < 1 || limit > 500 {
		limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("match_decisions")
	where := []string{
		sb.Equal("decision_kind", models.DecisionReviewPending),
		sb.IsNull("resolution"),
	}
	if kind != "" {
		where = append(where, sb.Equal("kind", kind))
	}
	sb.Where(where...)
	sb.OrderBy("created_at", "id")
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pending match decisions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list pending match decisions")
	}

	out := make([]models.MatchDecision, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// Resolve appends a reviewer resolution. A decision that already carries one is left
// untouched and models.ErrAlreadyResolved is returned.
func (r *Repository) Resolve(ctx context.Context, id string, resolution models.Resolution, entityID *string, resolvedBy string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "matchdecision.Repository.Resolve")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("match_decisions")
	sb.Set(
		sb.Assign("resolution", resolution),
		sb.Assign("resolved_entity_id", entityID),
		sb.Assign("resolved_by", resolvedBy),
		sb.Assign("resolved_at", at),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("resolution"),
	)

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("decision_id", id).Error("Failed to resolve match decision")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve match decision")
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	// distinguish a missing decision from one that was already resolved
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return models.ErrAlreadyResolved
}

// SupersedePending closes every unresolved review_pending decision for candidateRef and
// returns how many rows it closed
func (r *Repository) SupersedePending(ctx context.Context, candidateRef string, at time.Time) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "matchdecision.Repository.SupersedePending")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("match_decisions")
	sb.Set(
		sb.Assign("resolution", models.ResolutionSuperseded),
		sb.Assign("resolved_by", models.SystemResolver),
		sb.Assign("resolved_at", at),
	)
	sb.Where(
		sb.Equal("candidate_ref", candidateRef),
		sb.Equal("decision_kind", models.DecisionReviewPending),
		sb.IsNull("resolution"),
	)

	query, args := sb.Build()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("candidate_ref", candidateRef).Error("Failed to supersede pending match decisions")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to supersede pending match decisions")
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
