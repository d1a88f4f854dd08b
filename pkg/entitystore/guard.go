package entitystore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Guard is the resolve-then-write wrapper around a transaction. Entity references
// passed to it are resolved to their canonical entity before any row is written.
type Guard struct {
	tx  Tx
	now func() time.Time
}

// NewGuard wraps tx
func NewGuard(tx Tx) *Guard {
	return &Guard{tx: tx, now: func() time.Time { return time.Now().UTC() }}
}

// Tx exposes the underlying transaction for reads
func (g *Guard) Tx() Tx {
	return g.tx
}

// Resolve returns the canonical entity for id
func (g *Guard) Resolve(ctx context.Context, id string) (*models.Entity, error) {
	return ResolveCanonical(ctx, g.tx, id)
}

// Acquire locks the canonical entity of id for the rest of the transaction and
// returns it as read under the lock. A merge that commits between resolving and
// locking is followed to its new target.
func (g *Guard) Acquire(ctx context.Context, id string) (*models.Entity, error) {
	cur := id
	for hops := 0; hops <= MaxChainHops; hops++ {
		e, err := g.Resolve(ctx, cur)
		if err != nil {
			return nil, err
		}
		if err := g.tx.LockEntities(ctx, e.ID); err != nil {
			return nil, err
		}
		locked, err := g.tx.GetEntity(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if !locked.IsMerged() {
			return locked, nil
		}
		cur = *locked.MergedInto
	}
	return nil, &models.ChainCycleError{StartID: id, Chain: []string{id, cur}}
}

func (g *Guard) acquirePair(ctx context.Context, a, b string) (*models.Entity, *models.Entity, error) {
	for hops := 0; hops <= MaxChainHops; hops++ {
		ea, err := g.Resolve(ctx, a)
		if err != nil {
			return nil, nil, err
		}
		eb, err := g.Resolve(ctx, b)
		if err != nil {
			return nil, nil, err
		}
		ids := []string{ea.ID, eb.ID}
		sort.Strings(ids)
		if err := g.tx.LockEntities(ctx, ids...); err != nil {
			return nil, nil, err
		}
		if ea, err = g.tx.GetEntity(ctx, ea.ID); err != nil {
			return nil, nil, err
		}
		if eb, err = g.tx.GetEntity(ctx, eb.ID); err != nil {
			return nil, nil, err
		}
		if !ea.IsMerged() && !eb.IsMerged() {
			return ea, eb, nil
		}
		a, b = ea.ID, eb.ID
	}
	return nil, nil, &models.ChainCycleError{StartID: a, Chain: []string{a, b}}
}

// CreateEntity inserts a new entity. Placeholders are created with canonical=false.
func (g *Guard) CreateEntity(ctx context.Context, kind models.EntityKind, displayName string, attrs map[string]string, canonical bool) (*models.Entity, error) {
	if !kind.Valid() {
		return nil, models.NewValidationError("kind", string(kind), "unknown entity kind")
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	now := g.now()
	e := &models.Entity{
		ID:          uuid.New().String(),
		Kind:        kind,
		DisplayName: displayName,
		Attributes:  attrs,
		Canonical:   canonical,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.tx.InsertEntity(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateEntity persists display name, attributes and the canonical flag of a
// non-merged entity
func (g *Guard) UpdateEntity(ctx context.Context, e *models.Entity) error {
	if e.IsMerged() {
		return fmt.Errorf("update entity %s: %w", e.ID, models.ErrMergeTargetAlreadyMerged)
	}
	if err := g.tx.LockEntities(ctx, e.ID); err != nil {
		return err
	}
	current, err := g.tx.GetEntity(ctx, e.ID)
	if err != nil {
		return err
	}
	if current.IsMerged() {
		return fmt.Errorf("update entity %s: %w", e.ID, models.ErrMergeTargetAlreadyMerged)
	}
	e.UpdatedAt = g.now()
	return g.tx.UpdateEntity(ctx, e)
}

// AttachIdentifier attaches ident to the canonical entity of entityID. Attaching a key
// the entity already holds returns the existing row. A key held by another entity
// returns that row together with models.ErrIdentifierHeld.
func (g *Guard) AttachIdentifier(ctx context.Context, entityID string, ident models.Identifier) (*models.Identifier, error) {
	target, err := g.Acquire(ctx, entityID)
	if err != nil {
		return nil, err
	}

	existing, err := g.tx.FindByIdentifier(ctx, target.Kind, ident.Type, ident.NormalizedValue)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.EntityID == target.ID {
			if ident.RowHash != "" && ident.RowHash != existing.RowHash {
				if err := g.tx.SetIdentifierRowHash(ctx, existing.ID, ident.RowHash); err != nil {
					return nil, err
				}
				existing.RowHash = ident.RowHash
			}
			return existing, nil
		}
		return existing, models.ErrIdentifierHeld
	}

	ident.ID = uuid.New().String()
	ident.EntityID = target.ID
	ident.Kind = target.Kind
	ident.CreatedAt = g.now()
	if err := g.tx.InsertIdentifier(ctx, &ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

// Link creates a relationship between the canonical entities of rel's endpoints.
// An existing identical edge is returned as is.
func (g *Guard) Link(ctx context.Context, rel models.Relationship) (*models.Relationship, error) {
	subject, object, err := g.acquirePair(ctx, rel.SubjectID, rel.ObjectID)
	if err != nil {
		return nil, err
	}
	if subject.ID == object.ID {
		return nil, models.ErrSelfRelationship
	}

	existing, err := g.tx.FindRelationship(ctx, subject.ID, object.ID, rel.Role)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	rel.ID = uuid.New().String()
	rel.SubjectID = subject.ID
	rel.ObjectID = object.ID
	rel.CreatedAt = g.now()
	if err := g.tx.InsertRelationship(ctx, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}
