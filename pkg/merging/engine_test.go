package merging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/entitystore"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recordingNotifier struct {
	merges []*models.MergeResult
	err    error
}

func (n *recordingNotifier) EntityMerged(_ context.Context, res *models.MergeResult) error {
	n.merges = append(n.merges, res)
	return n.err
}

type fixture struct {
	store  *entitystore.MemoryStore
	engine *Engine
	notes  *recordingNotifier
}

func newFixture() *fixture {
	store := entitystore.NewMemoryStore()
	notes := &recordingNotifier{}
	return &fixture{
		store:  store,
		engine: NewEngine(testLogger(), store, nil, notes),
		notes:  notes,
	}
}

func (f *fixture) entity(t *testing.T, kind models.EntityKind, name string, attrs map[string]string, idents ...models.Identifier) string {
	t.Helper()
	var id string
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx entitystore.Tx) error {
		g := entitystore.NewGuard(tx)
		e, err := g.CreateEntity(ctx, kind, name, attrs, true)
		if err != nil {
			return err
		}
		for _, ident := range idents {
			if _, err := g.AttachIdentifier(ctx, e.ID, ident); err != nil {
				return err
			}
		}
		id = e.ID
		return nil
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) link(t *testing.T, subject, object, role string) {
	t.Helper()
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx entitystore.Tx) error {
		_, err := entitystore.NewGuard(tx).Link(ctx, models.Relationship{SubjectID: subject, ObjectID: object, Role: role, Confidence: 1})
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) view(t *testing.T, id string) (*models.Entity, []models.Identifier, []models.Relationship) {
	t.Helper()
	var (
		e      *models.Entity
		idents []models.Identifier
		rels   []models.Relationship
	)
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx entitystore.Tx) error {
		var err error
		if e, err = tx.GetEntity(ctx, id); err != nil {
			return err
		}
		if idents, err = tx.ListIdentifiers(ctx, id); err != nil {
			return err
		}
		rels, err = tx.ListRelationships(ctx, id)
		return err
	})
	require.NoError(t, err)
	return e, idents, rels
}

func email(v string) models.Identifier {
	return models.Identifier{Type: models.IdentifierEmail, NormalizedValue: v, RawValue: v}
}

func TestEngine_Merge(t *testing.T) {
	ctx := context.Background()

	t.Run("MovesIdentifiersAndRelationships", func(t *testing.T) {
		f := newFixture()
		canon := f.entity(t, models.EntityKindPerson, "Ann Lee", map[string]string{"first_name": "ann"}, email("ann@example.com"))
		dup := f.entity(t, models.EntityKindPerson, "Ann Lee", map[string]string{"first_name": "ann", "address": "1 main st"}, email("ann.lee@example.com"))
		cat := f.entity(t, models.EntityKindAnimal, "Tom", nil)
		f.link(t, dup, cat, "owner")

		res, err := f.engine.Merge(ctx, dup, canon)
		require.NoError(t, err)
		assert.False(t, res.NoOp)
		assert.Equal(t, 1, res.IdentifiersMoved)
		assert.Len(t, res.RelationshipsMoved, 1)

		e, idents, rels := f.view(t, canon)
		assert.True(t, e.Canonical)
		assert.Equal(t, "1 main st", e.Attributes["address"])
		assert.Len(t, idents, 2)
		require.Len(t, rels, 1)
		assert.Equal(t, canon, rels[0].SubjectID)
		assert.Equal(t, cat, rels[0].ObjectID)

		d, dupIdents, dupRels := f.view(t, dup)
		require.NotNil(t, d.MergedInto)
		assert.Equal(t, canon, *d.MergedInto)
		assert.False(t, d.Canonical)
		assert.Empty(t, dupIdents, "no identifier is left on a merged entity")
		assert.Empty(t, dupRels, "no relationship is left on a merged entity")

		require.Len(t, f.notes.merges, 1)
		assert.Equal(t, dup, f.notes.merges[0].DuplicateID)
	})

	t.Run("DropsSelfLoopsAndDuplicateEdges", func(t *testing.T) {
		f := newFixture()
		canon := f.entity(t, models.EntityKindPerson, "Ann Lee", nil)
		dup := f.entity(t, models.EntityKindPerson, "Ann Lee", nil)
		cat := f.entity(t, models.EntityKindAnimal, "Tom", nil)
		f.link(t, canon, cat, "owner")
		f.link(t, dup, cat, "owner")
		f.link(t, dup, canon, "household")

		res, err := f.engine.Merge(ctx, dup, canon)
		require.NoError(t, err)
		assert.Equal(t, 2, res.RelationshipsDropped)
		assert.Empty(t, res.RelationshipsMoved)

		_, _, rels := f.view(t, canon)
		require.Len(t, rels, 1)
		assert.Equal(t, "owner", rels[0].Role)
		_, _, relCount := f.store.Counts()
		assert.Equal(t, 1, relCount)
	})

	t.Run("ReMergeIsNoOp", func(t *testing.T) {
		f := newFixture()
		canon := f.entity(t, models.EntityKindPerson, "Ann", nil)
		dup := f.entity(t, models.EntityKindPerson, "Ann", nil)

		_, err := f.engine.Merge(ctx, dup, canon)
		require.NoError(t, err)

		res, err := f.engine.Merge(ctx, dup, canon)
		require.NoError(t, err)
		assert.True(t, res.NoOp)
		assert.Len(t, f.notes.merges, 1, "a no-op merge is not published")
	})

	t.Run("TargetAlreadyMerged", func(t *testing.T) {
		f := newFixture()
		a := f.entity(t, models.EntityKindPerson, "A", nil)
		b := f.entity(t, models.EntityKindPerson, "B", nil)
		c := f.entity(t, models.EntityKindPerson, "C", nil)

		_, err := f.engine.Merge(ctx, b, a)
		require.NoError(t, err)

		_, err = f.engine.Merge(ctx, c, b)
		assert.ErrorIs(t, err, models.ErrMergeTargetAlreadyMerged)

		var mergeErr *models.MergeError
		require.True(t, errors.As(err, &mergeErr))
		assert.Equal(t, c, mergeErr.DuplicateID)
	})

	t.Run("SourceMergedElsewhere", func(t *testing.T) {
		f := newFixture()
		a := f.entity(t, models.EntityKindPerson, "A", nil)
		b := f.entity(t, models.EntityKindPerson, "B", nil)
		c := f.entity(t, models.EntityKindPerson, "C", nil)

		_, err := f.engine.Merge(ctx, b, a)
		require.NoError(t, err)

		_, err = f.engine.Merge(ctx, b, c)
		assert.ErrorIs(t, err, models.ErrMergeSourceAlreadyMerged)
	})

	t.Run("KindMismatch", func(t *testing.T) {
		f := newFixture()
		person := f.entity(t, models.EntityKindPerson, "Ann", nil)
		animal := f.entity(t, models.EntityKindAnimal, "Tom", nil)

		_, err := f.engine.Merge(ctx, animal, person)
		assert.ErrorIs(t, err, models.ErrKindMismatch)

		e, _, _ := f.view(t, animal)
		assert.False(t, e.IsMerged())
	})

	t.Run("SelfMergeRejected", func(t *testing.T) {
		f := newFixture()
		a := f.entity(t, models.EntityKindPerson, "A", nil)

		_, err := f.engine.Merge(ctx, a, a)
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("NotifierFailureDoesNotFailMerge", func(t *testing.T) {
		f := newFixture()
		f.notes.err = errors.New("broker down")
		canon := f.entity(t, models.EntityKindPlace, "Shelter", nil)
		dup := f.entity(t, models.EntityKindPlace, "Shelter", nil)

		_, err := f.engine.Merge(ctx, dup, canon)
		assert.NoError(t, err)
	})
}

func TestEngine_ResolveCanonical(t *testing.T) {
	ctx := context.Background()

	t.Run("FollowsChain", func(t *testing.T) {
		f := newFixture()
		a := f.entity(t, models.EntityKindPerson, "A", nil)
		b := f.entity(t, models.EntityKindPerson, "B", nil)
		c := f.entity(t, models.EntityKindPerson, "C", nil)

		_, err := f.engine.Merge(ctx, a, b)
		require.NoError(t, err)
		_, err = f.engine.Merge(ctx, b, c)
		require.NoError(t, err)

		for _, id := range []string{a, b, c} {
			e, err := f.engine.ResolveCanonical(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, c, e.ID)
			assert.False(t, e.IsMerged())
		}
	})

	t.Run("CycleIsFatal", func(t *testing.T) {
		f := newFixture()
		a := f.entity(t, models.EntityKindPerson, "A", nil)
		b := f.entity(t, models.EntityKindPerson, "B", nil)

		// corrupt the chain directly; merges can never produce this
		err := f.store.WithinTx(ctx, func(ctx context.Context, tx entitystore.Tx) error {
			if err := tx.MarkMerged(ctx, a, b, time.Now().UTC()); err != nil {
				return err
			}
			return tx.MarkMerged(ctx, b, a, time.Now().UTC())
		})
		require.NoError(t, err)

		_, err = f.engine.ResolveCanonical(ctx, a)
		assert.ErrorIs(t, err, models.ErrMergeChainCycle)

		var cycle *models.ChainCycleError
		require.True(t, errors.As(err, &cycle))
		assert.Equal(t, a, cycle.StartID)
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		f := newFixture()
		_, err := f.engine.ResolveCanonical(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrEntityNotFound)
	})
}

func TestEngine_MergeClosure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = f.entity(t, models.EntityKindAnimal, "Tom", nil,
			models.Identifier{Type: models.IdentifierSourceRecord, NormalizedValue: "src:" + string(rune('a'+i))})
	}
	// merge 0<-1, 2<-3, 0<-2, 4<-5, 0<-4
	pairs := [][2]int{{1, 0}, {3, 2}, {2, 0}, {5, 4}, {4, 0}}
	for _, p := range pairs {
		_, err := f.engine.Merge(ctx, ids[p[0]], ids[p[1]])
		require.NoError(t, err)
	}

	for _, id := range ids {
		e, err := f.engine.ResolveCanonical(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ids[0], e.ID)
	}

	_, idents, _ := f.view(t, ids[0])
	assert.Len(t, idents, len(ids), "every identifier ends up on the survivor")
}
