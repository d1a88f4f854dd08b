package entitystore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

type identKey struct {
	kind  models.EntityKind
	typ   models.IdentifierType
	value string
}

type relKey struct {
	subject, object, role string
}

// MemoryStore is an arena store keyed by stable ids. Transactions are serialized by a
// single mutex and roll back through an undo log.
type MemoryStore struct {
	mu sync.Mutex

	entities      map[string]*models.Entity
	identifiers   map[string]*models.Identifier
	identKeys     map[identKey]string
	relationships map[string]*models.Relationship
	relKeys       map[relKey]string
	keyIndex      map[models.EntityKind]map[string]map[string]bool
	entityKeys    map[string]map[string]bool
	decisions     map[string]*models.MatchDecision
	decisionOrder []string
	candidates    map[string]*models.StoredCandidate

	// BeforeInsertIdentifier runs inside InsertIdentifier before the uniqueness check.
	// Writes made through committed survive a rollback of the surrounding transaction,
	// which lets tests stand in for a concurrent writer that committed first.
	BeforeInsertIdentifier func(ctx context.Context, committed Tx, ident models.Identifier)
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:      map[string]*models.Entity{},
		identifiers:   map[string]*models.Identifier{},
		identKeys:     map[identKey]string{},
		relationships: map[string]*models.Relationship{},
		relKeys:       map[relKey]string{},
		keyIndex:      map[models.EntityKind]map[string]map[string]bool{},
		entityKeys:    map[string]map[string]bool{},
		decisions:     map[string]*models.MatchDecision{},
		candidates:    map[string]*models.StoredCandidate{},
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var undo []func()
	committed := false
	defer func() {
		if committed {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, &memoryTx{s: s, undo: &undo}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Counts reports the number of stored entities, identifiers and relationships
func (s *MemoryStore) Counts() (entities, identifiers, relationships int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities), len(s.identifiers), len(s.relationships)
}

// memoryTx writes to the arena and records an inverse for each write. A nil undo log
// means writes are committed immediately.
type memoryTx struct {
	s    *MemoryStore
	undo *[]func()
}

func (t *memoryTx) onRollback(fn func()) {
	if t.undo != nil {
		*t.undo = append(*t.undo, fn)
	}
}

func cloneEntity(e *models.Entity) *models.Entity {
	c := *e
	c.Attributes = make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		c.Attributes[k] = v
	}
	if e.MergedInto != nil {
		m := *e.MergedInto
		c.MergedInto = &m
	}
	return &c
}

// ============================================================================
// Entities
// ============================================================================

func (t *memoryTx) GetEntity(_ context.Context, id string) (*models.Entity, error) {
	e, ok := t.s.entities[id]
	if !ok {
		return nil, models.ErrEntityNotFound
	}
	return cloneEntity(e), nil
}

func (t *memoryTx) InsertEntity(_ context.Context, e *models.Entity) error {
	if _, ok := t.s.entities[e.ID]; ok {
		return models.ErrUniquenessConflict
	}
	t.s.entities[e.ID] = cloneEntity(e)
	t.onRollback(func() { delete(t.s.entities, e.ID) })
	return nil
}

func (t *memoryTx) UpdateEntity(_ context.Context, e *models.Entity) error {
	prev, ok := t.s.entities[e.ID]
	if !ok {
		return models.ErrEntityNotFound
	}
	if prev.IsMerged() {
		return models.ErrMergeTargetAlreadyMerged
	}
	next := cloneEntity(e)
	next.MergedInto = nil
	next.CreatedAt = prev.CreatedAt
	t.s.entities[e.ID] = next
	t.onRollback(func() { t.s.entities[e.ID] = prev })
	return nil
}

func (t *memoryTx) MarkMerged(_ context.Context, id, into string, at time.Time) error {
	prev, ok := t.s.entities[id]
	if !ok {
		return models.ErrEntityNotFound
	}
	if prev.IsMerged() {
		return models.ErrMergeSourceAlreadyMerged
	}
	next := cloneEntity(prev)
	target := into
	next.MergedInto = &target
	next.Canonical = false
	next.UpdatedAt = at
	t.s.entities[id] = next
	t.onRollback(func() { t.s.entities[id] = prev })
	return nil
}

func (t *memoryTx) DeleteEntity(ctx context.Context, id string) error {
	prev, ok := t.s.entities[id]
	if !ok {
		return models.ErrEntityNotFound
	}
	for _, ident := range t.s.identifiers {
		if ident.EntityID == id {
			if err := t.DeleteIdentifier(ctx, ident.ID); err != nil {
				return err
			}
		}
	}
	t.removeKeys(id)
	delete(t.s.entities, id)
	t.onRollback(func() { t.s.entities[id] = prev })
	return nil
}

func (t *memoryTx) LockEntities(context.Context, ...string) error {
	// the store mutex already serializes transactions
	return nil
}

func (t *memoryTx) FindByBlockingKeys(_ context.Context, kind models.EntityKind, keys []string, limit int) ([]models.Entity, error) {
	ids := map[string]bool{}
	for _, k := range keys {
		for id := range t.s.keyIndex[kind][k] {
			ids[id] = true
		}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]models.Entity, 0, len(sorted))
	for _, id := range sorted {
		if e, ok := t.s.entities[id]; ok {
			out = append(out, *cloneEntity(e))
		}
	}
	return out, nil
}

func (t *memoryTx) PutBlockingKeys(_ context.Context, entityID string, kind models.EntityKind, keys []string) error {
	for _, k := range keys {
		t.addKey(entityID, kind, k)
	}
	return nil
}

func (t *memoryTx) addKey(entityID string, kind models.EntityKind, key string) {
	if t.s.keyIndex[kind] == nil {
		t.s.keyIndex[kind] = map[string]map[string]bool{}
	}
	if t.s.keyIndex[kind][key] == nil {
		t.s.keyIndex[kind][key] = map[string]bool{}
	}
	if t.s.keyIndex[kind][key][entityID] {
		return
	}
	if t.s.entityKeys[entityID] == nil {
		t.s.entityKeys[entityID] = map[string]bool{}
	}
	t.s.keyIndex[kind][key][entityID] = true
	t.s.entityKeys[entityID][string(kind)+"|"+key] = true
	t.onRollback(func() {
		delete(t.s.keyIndex[kind][key], entityID)
		delete(t.s.entityKeys[entityID], string(kind)+"|"+key)
	})
}

func (t *memoryTx) removeKeys(entityID string) []string {
	var removed []string
	for composite := range t.s.entityKeys[entityID] {
		kind, key := splitComposite(composite)
		delete(t.s.keyIndex[kind][key], entityID)
		delete(t.s.entityKeys[entityID], composite)
		removed = append(removed, composite)
		t.onRollback(func() {
			t.s.keyIndex[kind][key][entityID] = true
			t.s.entityKeys[entityID][composite] = true
		})
	}
	return removed
}

func splitComposite(composite string) (models.EntityKind, string) {
	kind, key, _ := strings.Cut(composite, "|")
	return models.EntityKind(kind), key
}

func (t *memoryTx) MoveBlockingKeys(_ context.Context, fromID, toID string) error {
	for _, composite := range t.removeKeys(fromID) {
		kind, key := splitComposite(composite)
		t.addKey(toID, kind, key)
	}
	return nil
}

func (t *memoryTx) CountReferences(_ context.Context, entityID string) (int, error) {
	n := 0
	for _, ident := range t.s.identifiers {
		if ident.EntityID == entityID && ident.Type != models.IdentifierSourceRecord {
			n++
		}
	}
	for _, rel := range t.s.relationships {
		if rel.SubjectID == entityID || rel.ObjectID == entityID {
			n++
		}
	}
	for _, e := range t.s.entities {
		if e.MergedInto != nil && *e.MergedInto == entityID {
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Identifiers
// ============================================================================

func (t *memoryTx) FindByIdentifier(_ context.Context, kind models.EntityKind, idType models.IdentifierType, value string) (*models.Identifier, error) {
	id, ok := t.s.identKeys[identKey{kind, idType, value}]
	if !ok {
		return nil, nil
	}
	c := *t.s.identifiers[id]
	return &c, nil
}

func (t *memoryTx) ListIdentifiers(_ context.Context, entityID string) ([]models.Identifier, error) {
	var out []models.Identifier
	for _, ident := range t.s.identifiers {
		if ident.EntityID == entityID {
			out = append(out, *ident)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].NormalizedValue < out[j].NormalizedValue
	})
	return out, nil
}

func (t *memoryTx) InsertIdentifier(ctx context.Context, ident *models.Identifier) error {
	if hook := t.s.BeforeInsertIdentifier; hook != nil && t.undo != nil {
		hook(ctx, &memoryTx{s: t.s}, *ident)
	}

	key := identKey{ident.Kind, ident.Type, ident.NormalizedValue}
	if _, ok := t.s.identKeys[key]; ok {
		return models.ErrUniquenessConflict
	}
	c := *ident
	t.s.identifiers[ident.ID] = &c
	t.s.identKeys[key] = ident.ID
	t.onRollback(func() {
		delete(t.s.identifiers, ident.ID)
		delete(t.s.identKeys, key)
	})
	return nil
}

func (t *memoryTx) UpdateIdentifierEntity(_ context.Context, id, entityID string) error {
	ident, ok := t.s.identifiers[id]
	if !ok {
		return models.ErrEntityNotFound
	}
	prev := ident.EntityID
	ident.EntityID = entityID
	t.onRollback(func() { ident.EntityID = prev })
	return nil
}

func (t *memoryTx) SetIdentifierRowHash(_ context.Context, id, hash string) error {
	ident, ok := t.s.identifiers[id]
	if !ok {
		return models.ErrEntityNotFound
	}
	prev := ident.RowHash
	ident.RowHash = hash
	t.onRollback(func() { ident.RowHash = prev })
	return nil
}

func (t *memoryTx) DeleteIdentifier(_ context.Context, id string) error {
	ident, ok := t.s.identifiers[id]
	if !ok {
		return nil
	}
	key := identKey{ident.Kind, ident.Type, ident.NormalizedValue}
	delete(t.s.identifiers, id)
	delete(t.s.identKeys, key)
	t.onRollback(func() {
		t.s.identifiers[id] = ident
		t.s.identKeys[key] = id
	})
	return nil
}

// ============================================================================
// Relationships
// ============================================================================

func (t *memoryTx) ListRelationships(_ context.Context, entityID string) ([]models.Relationship, error) {
	var out []models.Relationship
	for _, rel := range t.s.relationships {
		if rel.SubjectID == entityID || rel.ObjectID == entityID {
			out = append(out, *rel)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) FindRelationship(_ context.Context, subjectID, objectID, role string) (*models.Relationship, error) {
	id, ok := t.s.relKeys[relKey{subjectID, objectID, role}]
	if !ok {
		return nil, nil
	}
	c := *t.s.relationships[id]
	return &c, nil
}

func (t *memoryTx) InsertRelationship(_ context.Context, rel *models.Relationship) error {
	key := relKey{rel.SubjectID, rel.ObjectID, rel.Role}
	if _, ok := t.s.relKeys[key]; ok {
		return models.ErrUniquenessConflict
	}
	c := *rel
	t.s.relationships[rel.ID] = &c
	t.s.relKeys[key] = rel.ID
	t.onRollback(func() {
		delete(t.s.relationships, rel.ID)
		delete(t.s.relKeys, key)
	})
	return nil
}

func (t *memoryTx) UpdateRelationshipEndpoints(_ context.Context, id, subjectID, objectID string) error {
	rel, ok := t.s.relationships[id]
	if !ok {
		return models.ErrEntityNotFound
	}
	oldKey := relKey{rel.SubjectID, rel.ObjectID, rel.Role}
	newKey := relKey{subjectID, objectID, rel.Role}
	if other, ok := t.s.relKeys[newKey]; ok && other != id {
		return models.ErrUniquenessConflict
	}
	prevSubject, prevObject := rel.SubjectID, rel.ObjectID

	delete(t.s.relKeys, oldKey)
	rel.SubjectID, rel.ObjectID = subjectID, objectID
	t.s.relKeys[newKey] = id
	t.onRollback(func() {
		delete(t.s.relKeys, newKey)
		rel.SubjectID, rel.ObjectID = prevSubject, prevObject
		t.s.relKeys[oldKey] = id
	})
	return nil
}

func (t *memoryTx) DeleteRelationship(_ context.Context, id string) error {
	rel, ok := t.s.relationships[id]
	if !ok {
		return nil
	}
	key := relKey{rel.SubjectID, rel.ObjectID, rel.Role}
	delete(t.s.relationships, id)
	delete(t.s.relKeys, key)
	t.onRollback(func() {
		t.s.relationships[id] = rel
		t.s.relKeys[key] = id
	})
	return nil
}

// ============================================================================
// Decisions
// ============================================================================

func cloneDecision(d *models.MatchDecision) *models.MatchDecision {
	c := *d
	c.FieldScores = append([]models.FieldScore(nil), d.FieldScores...)
	c.Warnings = append([]string(nil), d.Warnings...)
	return &c
}

func (t *memoryTx) InsertDecision(_ context.Context, d *models.MatchDecision) error {
	if _, ok := t.s.decisions[d.ID]; ok {
		return models.ErrUniquenessConflict
	}
	t.s.decisions[d.ID] = cloneDecision(d)
	t.s.decisionOrder = append(t.s.decisionOrder, d.ID)
	t.onRollback(func() {
		delete(t.s.decisions, d.ID)
		t.s.decisionOrder = t.s.decisionOrder[:len(t.s.decisionOrder)-1]
	})
	return nil
}

func (t *memoryTx) GetDecision(_ context.Context, id string) (*models.MatchDecision, error) {
	d, ok := t.s.decisions[id]
	if !ok {
		return nil, models.ErrDecisionNotFound
	}
	return cloneDecision(d), nil
}

func (t *memoryTx) ListPendingDecisions(_ context.Context, kind models.EntityKind, limit, offset int) ([]models.MatchDecision, error) {
	var out []models.MatchDecision
	skipped := 0
	for _, id := range t.s.decisionOrder {
		d := t.s.decisions[id]
		if d.DecisionKind != models.DecisionReviewPending || d.IsResolved() {
			continue
		}
		if kind != "" && d.Kind != kind {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *cloneDecision(d))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) ResolveDecision(_ context.Context, id string, resolution models.Resolution, entityID *string, resolvedBy string, at time.Time) error {
	d, ok := t.s.decisions[id]
	if !ok {
		return models.ErrDecisionNotFound
	}
	if d.IsResolved() {
		return models.ErrAlreadyResolved
	}
	prev := *d
	r := resolution
	by := resolvedBy
	d.Resolution = &r
	d.ResolvedEntityID = entityID
	d.ResolvedBy = &by
	d.ResolvedAt = &at
	t.onRollback(func() { *d = prev })
	return nil
}

func (t *memoryTx) SupersedePending(_ context.Context, candidateRef string, at time.Time) (int, error) {
	closed := 0
	for _, id := range t.s.decisionOrder {
		d := t.s.decisions[id]
		if d.CandidateRef != candidateRef || d.DecisionKind != models.DecisionReviewPending || d.IsResolved() {
			continue
		}
		prev := *d
		r := models.ResolutionSuperseded
		by := models.SystemResolver
		when := at
		d.Resolution = &r
		d.ResolvedBy = &by
		d.ResolvedAt = &when
		t.onRollback(func() { *d = prev })
		closed++
	}
	return closed, nil
}

func (t *memoryTx) InsertRawCandidate(_ context.Context, c *models.StoredCandidate) error {
	if _, ok := t.s.candidates[c.DecisionID]; ok {
		return models.ErrUniquenessConflict
	}
	stored := *c
	t.s.candidates[c.DecisionID] = &stored
	t.onRollback(func() { delete(t.s.candidates, c.DecisionID) })
	return nil
}

func (t *memoryTx) GetRawCandidateByDecision(_ context.Context, decisionID string) (*models.StoredCandidate, error) {
	c, ok := t.s.candidates[decisionID]
	if !ok {
		return nil, models.ErrDecisionNotFound
	}
	cp := *c
	return &cp, nil
}
