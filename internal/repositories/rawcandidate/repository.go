package rawcandidate

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var columns = []string{"id", "decision_id", "kind", "source_system", "source_record_id", "raw_fields", "row_hash", "created_at"}

type row struct {
	models.StoredCandidate
	RawFields database.JSONB[map[string]string] `db:"raw_fields"`
}

// Repository stores raw candidates held for review
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new raw candidate repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert stores the candidate held for one review decision. Each decision owns its own
// row, so earlier decisions for the same source record stay actionable.
func (r *Repository) Insert(ctx context.Context, c *models.StoredCandidate) error {
	ctx, span := tracing.StartSpan(ctx, "rawcandidate.Repository.Insert")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("raw_candidates")
	ib.Cols(columns...)
	ib.Values(c.ID, c.DecisionID, c.Kind, c.SourceSystem, c.SourceRecordID, database.NewJSONB(c.RawFields), c.RowHash, c.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrUniquenessConflict
		}
		r.logger.WithContext(ctx).WithError(err).WithField("decision_id", c.DecisionID).Error("Failed to insert raw candidate")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store raw candidate")
	}
	return nil
}

// GetByDecision returns models.ErrDecisionNotFound when no candidate is stored for the decision
func (r *Repository) GetByDecision(ctx context.Context, decisionID string) (*models.StoredCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "rawcandidate.Repository.GetByDecision")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("raw_candidates")
	sb.Where(sb.Equal("decision_id", decisionID))

	query, args := sb.Build()
	var out row
	if err := r.db.Executor(ctx).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrDecisionNotFound
		}
		r.logger.WithContext(ctx).WithError(err).WithField("decision_id", decisionID).Error("Failed to get raw candidate")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get raw candidate")
	}
	c := out.StoredCandidate
	c.RawFields = out.RawFields.GetValue()
	return &c, nil
}
