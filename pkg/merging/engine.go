// Package merging folds duplicate entities into canonical ones.
//
// A merge repoints every identifier and relationship of the duplicate to the canonical
// entity, drops rows the canonical entity already has, and leaves the duplicate behind
// as a tombstone whose merged-into link points at the survivor.
package merging

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/entitystore"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Notifier is told about merges after they commit
type Notifier interface {
	EntityMerged(ctx context.Context, res *models.MergeResult) error
}

// Engine handles entity merging
type Engine struct {
	logger      ectologger.Logger
	store       entitystore.Store
	locker      Locker
	notifiers   []Notifier
	fieldMerger *FieldMerger
	now         func() time.Time
}

// NewEngine creates a new merge engine. A nil locker serializes merges in-process only.
func NewEngine(logger ectologger.Logger, store entitystore.Store, locker Locker, notifiers ...Notifier) *Engine {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Engine{
		logger:      logger,
		store:       store,
		locker:      locker,
		notifiers:   notifiers,
		fieldMerger: NewFieldMerger(nil),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ResolveCanonical follows merged-into links inside an open transaction
func ResolveCanonical(ctx context.Context, tx entitystore.EntityTx, id string) (*models.Entity, error) {
	return entitystore.ResolveCanonical(ctx, tx, id)
}

// ResolveCanonical returns the terminal entity of id's merge chain
func (e *Engine) ResolveCanonical(ctx context.Context, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.ResolveCanonical")
	defer span.End()

	var out *models.Entity
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx entitystore.Tx) error {
		ent, err := ResolveCanonical(ctx, tx, id)
		if err != nil {
			return err
		}
		out = ent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Merge merges duplicateID into canonicalID in one transaction and notifies after
// commit. Re-merging a pair that is already merged is a no-op.
func (e *Engine) Merge(ctx context.Context, duplicateID, canonicalID string) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"duplicate_id": duplicateID,
		"canonical_id": canonicalID,
	})

	if duplicateID == canonicalID {
		return nil, models.NewValidationError("canonical_id", canonicalID, "cannot merge an entity into itself")
	}

	unlock, err := e.locker.Lock(ctx, duplicateID, canonicalID)
	if err != nil {
		log.WithError(err).Warn("Failed to acquire merge lock")
		return nil, &models.MergeError{DuplicateID: duplicateID, CanonicalID: canonicalID, Err: err}
	}
	defer unlock()

	var res *models.MergeResult
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx entitystore.Tx) error {
		var txErr error
		res, txErr = e.MergeTx(ctx, tx, duplicateID, canonicalID)
		return txErr
	})
	if err != nil {
		metrics.MergesTotal.WithLabelValues("unknown", "failed").Inc()
		log.WithError(err).Error("Failed to merge entities")
		return nil, &models.MergeError{DuplicateID: duplicateID, CanonicalID: canonicalID, Err: err}
	}

	if res.NoOp {
		metrics.MergesTotal.WithLabelValues(string(res.Kind), "noop").Inc()
		log.Debug("Entities already merged")
		return res, nil
	}

	metrics.MergesTotal.WithLabelValues(string(res.Kind), "merged").Inc()
	log.WithFields(map[string]any{
		"identifiers_moved":     res.IdentifiersMoved,
		"identifiers_dropped":   res.IdentifiersDropped,
		"relationships_moved":   len(res.RelationshipsMoved),
		"relationships_dropped": res.RelationshipsDropped,
		"conflicts":             len(res.Conflicts),
	}).Info("Merged entities")

	e.Notify(ctx, res)
	return res, nil
}

// Notify hands a committed merge to every notifier. Failures are logged only; the
// merge itself is already durable.
func (e *Engine) Notify(ctx context.Context, res *models.MergeResult) {
	if res == nil || res.NoOp {
		return
	}
	for _, n := range e.notifiers {
		if err := n.EntityMerged(ctx, res); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"duplicate_id": res.DuplicateID,
				"canonical_id": res.CanonicalID,
			}).Warn("Failed to publish merge")
		}
	}
}

// MergeTx performs the merge inside tx. Callers that use it directly own the commit and
// must call Notify afterwards.
func (e *Engine) MergeTx(ctx context.Context, tx entitystore.Tx, duplicateID, canonicalID string) (*models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.MergeTx")
	defer span.End()

	ids := []string{duplicateID, canonicalID}
	sort.Strings(ids)
	if err := tx.LockEntities(ctx, ids...); err != nil {
		return nil, err
	}

	dup, err := tx.GetEntity(ctx, duplicateID)
	if err != nil {
		return nil, err
	}
	canon, err := tx.GetEntity(ctx, canonicalID)
	if err != nil {
		return nil, err
	}

	if dup.Kind != canon.Kind {
		return nil, models.ErrKindMismatch
	}
	if canon.IsMerged() {
		return nil, models.ErrMergeTargetAlreadyMerged
	}

	res := &models.MergeResult{
		DuplicateID: dup.ID,
		CanonicalID: canon.ID,
		Kind:        canon.Kind,
		MergedAt:    e.now(),
	}

	if dup.IsMerged() {
		terminal, err := ResolveCanonical(ctx, tx, dup.ID)
		if err != nil {
			return nil, err
		}
		if terminal.ID == canon.ID {
			res.NoOp = true
			return res, nil
		}
		return nil, models.ErrMergeSourceAlreadyMerged
	}

	if err := e.moveIdentifiers(ctx, tx, dup.ID, canon.ID, res); err != nil {
		return nil, err
	}
	if err := e.moveRelationships(ctx, tx, dup.ID, canon.ID, res); err != nil {
		return nil, err
	}
	if err := tx.MoveBlockingKeys(ctx, dup.ID, canon.ID); err != nil {
		return nil, err
	}

	attrs, changed, conflicts := e.fieldMerger.Merge(canon.Attributes, dup.Attributes)
	res.Conflicts = conflicts
	if changed {
		canon.Attributes = attrs
	}
	if canon.DisplayName == "" && dup.DisplayName != "" {
		canon.DisplayName = dup.DisplayName
		changed = true
	}
	if dup.Canonical && !canon.Canonical {
		canon.Canonical = true
		changed = true
	}
	if changed {
		canon.UpdatedAt = res.MergedAt
		if err := tx.UpdateEntity(ctx, canon); err != nil {
			return nil, err
		}
	}

	if err := tx.MarkMerged(ctx, dup.ID, canon.ID, res.MergedAt); err != nil {
		return nil, err
	}

	return res, nil
}

// moveIdentifiers repoints the duplicate's identifiers, dropping those the canonical
// entity already holds
func (e *Engine) moveIdentifiers(ctx context.Context, tx entitystore.Tx, dupID, canonID string, res *models.MergeResult) error {
	held, err := tx.ListIdentifiers(ctx, canonID)
	if err != nil {
		return err
	}
	moving, err := tx.ListIdentifiers(ctx, dupID)
	if err != nil {
		return err
	}

	for _, ident := range moving {
		if containsIdentifier(held, ident) {
			if err := tx.DeleteIdentifier(ctx, ident.ID); err != nil {
				return err
			}
			res.IdentifiersDropped++
			continue
		}
		if err := tx.UpdateIdentifierEntity(ctx, ident.ID, canonID); err != nil {
			return err
		}
		held = append(held, ident)
		res.IdentifiersMoved++
	}
	return nil
}

func containsIdentifier(list []models.Identifier, ident models.Identifier) bool {
	for _, h := range list {
		if h.SameKey(ident) {
			return true
		}
	}
	return false
}

// moveRelationships repoints every edge touching the duplicate. Edges that would become
// self-loops or duplicate an existing canonical edge are deleted.
func (e *Engine) moveRelationships(ctx context.Context, tx entitystore.Tx, dupID, canonID string, res *models.MergeResult) error {
	rels, err := tx.ListRelationships(ctx, dupID)
	if err != nil {
		return err
	}

	for _, rel := range rels {
		subject, object := rel.SubjectID, rel.ObjectID
		if subject == dupID {
			subject = canonID
		}
		if object == dupID {
			object = canonID
		}

		drop := subject == object
		if !drop {
			existing, err := tx.FindRelationship(ctx, subject, object, rel.Role)
			if err != nil {
				return err
			}
			drop = existing != nil && existing.ID != rel.ID
		}

		if drop {
			if err := tx.DeleteRelationship(ctx, rel.ID); err != nil {
				return err
			}
			res.RelationshipsDropped++
			continue
		}

		if err := tx.UpdateRelationshipEndpoints(ctx, rel.ID, subject, object); err != nil {
			return err
		}
		rel.SubjectID, rel.ObjectID = subject, object
		res.RelationshipsMoved = append(res.RelationshipsMoved, rel)
	}
	return nil
}
