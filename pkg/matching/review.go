package matching

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/entitystore"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Reviewer applies human verdicts to review_pending decisions. Every action appends a
// resolution to the decision; the decision itself is never rewritten.
type Reviewer struct {
	log     ectologger.Logger
	store   entitystore.Store
	matcher *Matcher
	engine  *merging.Engine
	now     func() time.Time
}

// NewReviewer creates a Reviewer
func NewReviewer(log ectologger.Logger, store entitystore.Store, matcher *Matcher, engine *merging.Engine) *Reviewer {
	return &Reviewer{
		log:     log,
		store:   store,
		matcher: matcher,
		engine:  engine,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListPending returns unresolved review_pending decisions, oldest first
func (r *Reviewer) ListPending(ctx context.Context, kind models.EntityKind, limit, offset int) ([]models.MatchDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Reviewer.ListPending")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	var out []models.MatchDecision
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx entitystore.Tx) error {
		var err error
		out, err = tx.ListPendingDecisions(ctx, kind, limit, offset)
		return err
	})
	if err != nil {
		r.log.WithContext(ctx).WithError(err).Error("Failed to list pending decisions")
		return nil, err
	}
	return out, nil
}

// Merge folds the reviewed candidate into targetID, or into the decision's suggested
// entity when targetID is empty. The candidate's entity is created first when it does
// not exist yet.
func (r *Reviewer) Merge(ctx context.Context, decisionID, targetID, resolvedBy string) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Reviewer.Merge")
	defer span.End()

	log := r.log.WithContext(ctx).WithFields(map[string]any{
		"decision_id": decisionID,
		"resolved_by": resolvedBy,
	})

	var res *models.MergeResult
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx entitystore.Tx) error {
		d, stored, err := r.pending(ctx, tx, decisionID)
		if err != nil {
			return err
		}
		if targetID == "" {
			if d.CandidateEntityID == nil {
				return models.NewValidationError("target_entity_id", "", "decision has no suggested entity")
			}
			targetID = *d.CandidateEntityID
		}

		g := entitystore.NewGuard(tx)
		target, err := g.Resolve(ctx, targetID)
		if err != nil {
			return err
		}
		source, err := r.candidateEntity(ctx, g, d, stored)
		if err != nil {
			return err
		}

		if source.ID == target.ID {
			res = &models.MergeResult{DuplicateID: source.ID, CanonicalID: target.ID, Kind: target.Kind, NoOp: true, MergedAt: r.now()}
		} else if res, err = r.engine.MergeTx(ctx, tx, source.ID, target.ID); err != nil {
			return err
		}
		return tx.ResolveDecision(ctx, d.ID, models.ResolutionMerged, &target.ID, resolvedBy, r.now())
	})
	if err != nil {
		log.WithError(err).Warn("Failed to merge reviewed candidate")
		return nil, err
	}

	log.WithFields(map[string]any{"entity_id": res.CanonicalID}).Info("Resolved review as merged")
	r.engine.Notify(ctx, res)
	return res, nil
}

// ConfirmNew creates the reviewed candidate as its own canonical entity
func (r *Reviewer) ConfirmNew(ctx context.Context, decisionID, resolvedBy string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Reviewer.ConfirmNew")
	defer span.End()

	log := r.log.WithContext(ctx).WithFields(map[string]any{
		"decision_id": decisionID,
		"resolved_by": resolvedBy,
	})

	var entityID string
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx entitystore.Tx) error {
		d, stored, err := r.pending(ctx, tx, decisionID)
		if err != nil {
			return err
		}
		e, err := r.candidateEntity(ctx, entitystore.NewGuard(tx), d, stored)
		if err != nil {
			return err
		}
		entityID = e.ID
		return tx.ResolveDecision(ctx, d.ID, models.ResolutionConfirmedNew, &entityID, resolvedBy, r.now())
	})
	if err != nil {
		log.WithError(err).Warn("Failed to confirm reviewed candidate as new")
		return "", err
	}

	log.WithFields(map[string]any{"entity_id": entityID}).Info("Resolved review as new entity")
	return entityID, nil
}

// Reject closes the decision without creating or merging anything
func (r *Reviewer) Reject(ctx context.Context, decisionID, resolvedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "matching.Reviewer.Reject")
	defer span.End()

	err := r.store.WithinTx(ctx, func(ctx context.Context, tx entitystore.Tx) error {
		d, _, err := r.pending(ctx, tx, decisionID)
		if err != nil {
			return err
		}
		return tx.ResolveDecision(ctx, d.ID, models.ResolutionRejected, nil, resolvedBy, r.now())
	})
	if err != nil {
		r.log.WithContext(ctx).WithError(err).WithFields(map[string]any{"decision_id": decisionID}).Warn("Failed to reject decision")
		return err
	}
	return nil
}

// pending loads an unresolved review decision and its stored candidate
func (r *Reviewer) pending(ctx context.Context, tx entitystore.Tx, decisionID string) (*models.MatchDecision, *models.StoredCandidate, error) {
	d, err := tx.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, nil, err
	}
	if d.IsResolved() {
		return nil, nil, models.ErrAlreadyResolved
	}
	if d.DecisionKind != models.DecisionReviewPending {
		return nil, nil, models.NewValidationError("decision", decisionID, "decision is not pending review")
	}
	stored, err := tx.GetRawCandidateByDecision(ctx, d.ID)
	if err != nil {
		return nil, nil, err
	}
	return d, stored, nil
}

// candidateEntity returns the entity already linked to the stored candidate's source
// record, or creates it
func (r *Reviewer) candidateEntity(ctx context.Context, g *entitystore.Guard, d *models.MatchDecision, stored *models.StoredCandidate) (*models.Entity, error) {
	cand := stored.Candidate()
	existing, err := g.Tx().FindByIdentifier(ctx, cand.Kind, models.IdentifierSourceRecord, cand.Ref())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return g.Resolve(ctx, existing.EntityID)
	}

	scratch := &models.MatchDecision{ID: d.ID}
	return r.matcher.createEntity(ctx, g, scratch, cand, BuildRecord(cand), true)
}
