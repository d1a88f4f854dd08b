// Package entitystore persists entities, identifiers, relationships and match decisions.
//
// Every write that names an entity goes through a Guard, which resolves the id along
// the merged-into chain first, so no identifier or relationship is ever attached to a
// merged entity.
package entitystore

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// MaxChainHops bounds ResolveCanonical
const MaxChainHops = 32

// Store runs units of work in a single transaction
type Store interface {
	// WithinTx commits when fn returns nil and rolls back every write otherwise
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error
}

// Tx is the set of reads and writes available inside a transaction
type Tx interface {
	EntityTx
	IdentifierTx
	RelationshipTx
	DecisionTx
}

type EntityTx interface {
	// GetEntity returns models.ErrEntityNotFound for unknown ids
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	InsertEntity(ctx context.Context, e *models.Entity) error
	// UpdateEntity writes display name, attributes and the canonical flag. It never
	// changes merged_into and returns models.ErrMergeTargetAlreadyMerged for a merged row.
	UpdateEntity(ctx context.Context, e *models.Entity) error
	// MarkMerged points id at into. It returns models.ErrMergeSourceAlreadyMerged when id
	// is already merged.
	MarkMerged(ctx context.Context, id, into string, at time.Time) error
	DeleteEntity(ctx context.Context, id string) error
	// LockEntities serializes writers on the given ids until the transaction ends.
	// Callers pass ids in sorted order.
	LockEntities(ctx context.Context, ids ...string) error
	// FindByBlockingKeys returns entities of kind sharing at least one key
	FindByBlockingKeys(ctx context.Context, kind models.EntityKind, keys []string, limit int) ([]models.Entity, error)
	PutBlockingKeys(ctx context.Context, entityID string, kind models.EntityKind, keys []string) error
	// MoveBlockingKeys reassigns every key held by fromID to toID
	MoveBlockingKeys(ctx context.Context, fromID, toID string) error
	// CountReferences counts rows that keep an entity alive: identifiers other than
	// source records, relationships and entities merged into it.
	CountReferences(ctx context.Context, entityID string) (int, error)
}

type IdentifierTx interface {
	// FindByIdentifier returns nil without error when no row holds the value
	FindByIdentifier(ctx context.Context, kind models.EntityKind, idType models.IdentifierType, value string) (*models.Identifier, error)
	ListIdentifiers(ctx context.Context, entityID string) ([]models.Identifier, error)
	// InsertIdentifier returns models.ErrUniquenessConflict when another row holds the key
	InsertIdentifier(ctx context.Context, ident *models.Identifier) error
	UpdateIdentifierEntity(ctx context.Context, id, entityID string) error
	SetIdentifierRowHash(ctx context.Context, id, hash string) error
	DeleteIdentifier(ctx context.Context, id string) error
}

type RelationshipTx interface {
	// ListRelationships returns relationships where the entity is either endpoint
	ListRelationships(ctx context.Context, entityID string) ([]models.Relationship, error)
	// FindRelationship returns nil without error when there is no such edge
	FindRelationship(ctx context.Context, subjectID, objectID, role string) (*models.Relationship, error)
	// InsertRelationship returns models.ErrUniquenessConflict for a duplicate edge
	InsertRelationship(ctx context.Context, rel *models.Relationship) error
	UpdateRelationshipEndpoints(ctx context.Context, id, subjectID, objectID string) error
	DeleteRelationship(ctx context.Context, id string) error
}

type DecisionTx interface {
	InsertDecision(ctx context.Context, d *models.MatchDecision) error
	// GetDecision returns models.ErrDecisionNotFound for unknown ids
	GetDecision(ctx context.Context, id string) (*models.MatchDecision, error)
	ListPendingDecisions(ctx context.Context, kind models.EntityKind, limit, offset int) ([]models.MatchDecision, error)
	// ResolveDecision appends a reviewer resolution. It returns
	// models.ErrAlreadyResolved when one is already present.
	ResolveDecision(ctx context.Context, id string, resolution models.Resolution, entityID *string, resolvedBy string, at time.Time) error
	// SupersedePending closes every unresolved review_pending decision for candidateRef
	// with ResolutionSuperseded and returns how many it closed
	SupersedePending(ctx context.Context, candidateRef string, at time.Time) (int, error)
	// InsertRawCandidate stores the candidate held for one review decision
	InsertRawCandidate(ctx context.Context, c *models.StoredCandidate) error
	GetRawCandidateByDecision(ctx context.Context, decisionID string) (*models.StoredCandidate, error)
}

// ResolveCanonical follows merged-into links from id to the terminal entity. Revisiting
// an id or walking more than MaxChainHops links is a *models.ChainCycleError.
func ResolveCanonical(ctx context.Context, tx EntityTx, id string) (*models.Entity, error) {
	visited := make(map[string]bool)
	chain := make([]string, 0, 4)

	cur := id
	for hops := 0; ; hops++ {
		if visited[cur] || hops > MaxChainHops {
			return nil, &models.ChainCycleError{StartID: id, Chain: append(chain, cur)}
		}
		visited[cur] = true
		chain = append(chain, cur)

		e, err := tx.GetEntity(ctx, cur)
		if err != nil {
			return nil, err
		}
		if !e.IsMerged() {
			return e, nil
		}
		cur = *e.MergedInto
	}
}
