package entitystore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestMemoryStore_RollbackUndoesEveryWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var keep string
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		e, err := NewGuard(tx).CreateEntity(ctx, models.EntityKindPerson, "Ann Lee", nil, true)
		if err != nil {
			return err
		}
		keep = e.ID
		return tx.PutBlockingKeys(ctx, e.ID, e.Kind, []string{"sx:L000:a"})
	}))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		g := NewGuard(tx)
		other, err := g.CreateEntity(ctx, models.EntityKindPerson, "Bob Jones", nil, true)
		if err != nil {
			return err
		}
		if _, err := g.AttachIdentifier(ctx, keep, models.Identifier{Type: models.IdentifierEmail, NormalizedValue: "ann@example.com"}); err != nil {
			return err
		}
		if err := tx.MoveBlockingKeys(ctx, keep, other.ID); err != nil {
			return err
		}
		e, err := tx.GetEntity(ctx, keep)
		if err != nil {
			return err
		}
		e.DisplayName = "changed"
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entities, idents, rels := store.Counts()
	assert.Equal(t, 1, entities)
	assert.Zero(t, idents)
	assert.Zero(t, rels)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		e, err := tx.GetEntity(ctx, keep)
		require.NoError(t, err)
		assert.Equal(t, "Ann Lee", e.DisplayName)

		found, err := tx.FindByBlockingKeys(ctx, models.EntityKindPerson, []string{"sx:L000:a"}, 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, keep, found[0].ID)
		return nil
	}))
}

func TestMemoryStore_IdentifierUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		g := NewGuard(tx)
		a, err := g.CreateEntity(ctx, models.EntityKindPerson, "A", nil, true)
		require.NoError(t, err)
		b, err := g.CreateEntity(ctx, models.EntityKindPerson, "B", nil, true)
		require.NoError(t, err)
		animal, err := g.CreateEntity(ctx, models.EntityKindAnimal, "C", nil, true)
		require.NoError(t, err)

		now := time.Now()
		first := &models.Identifier{ID: "i1", EntityID: a.ID, Kind: a.Kind, Type: models.IdentifierPhone, NormalizedValue: "7075550100", CreatedAt: now}
		require.NoError(t, tx.InsertIdentifier(ctx, first))

		dup := &models.Identifier{ID: "i2", EntityID: b.ID, Kind: b.Kind, Type: models.IdentifierPhone, NormalizedValue: "7075550100", CreatedAt: now}
		assert.ErrorIs(t, tx.InsertIdentifier(ctx, dup), models.ErrUniquenessConflict)

		// uniqueness is scoped by kind
		otherKind := &models.Identifier{ID: "i3", EntityID: animal.ID, Kind: animal.Kind, Type: models.IdentifierPhone, NormalizedValue: "7075550100", CreatedAt: now}
		assert.NoError(t, tx.InsertIdentifier(ctx, otherKind))
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_Decisions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := time.Now().UTC()
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		for i, kind := range []models.EntityKind{models.EntityKindPerson, models.EntityKindPerson, models.EntityKindAnimal} {
			d := &models.MatchDecision{
				ID:           []string{"d1", "d2", "d3"}[i],
				Kind:         kind,
				DecisionKind: models.DecisionReviewPending,
				CreatedAt:    now.Add(time.Duration(i) * time.Second),
			}
			if err := tx.InsertDecision(ctx, d); err != nil {
				return err
			}
		}
		return nil
	}))

	t.Run("ListPendingFiltersByKind", func(t *testing.T) {
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			list, err := tx.ListPendingDecisions(ctx, models.EntityKindPerson, 10, 0)
			require.NoError(t, err)
			assert.Len(t, list, 2)

			all, err := tx.ListPendingDecisions(ctx, "", 10, 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			page, err := tx.ListPendingDecisions(ctx, "", 1, 2)
			require.NoError(t, err)
			assert.Len(t, page, 1)
			return nil
		}))
	})

	t.Run("ResolveIsAppendOnly", func(t *testing.T) {
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.ResolveDecision(ctx, "d1", models.ResolutionRejected, nil, "reviewer", now)
		}))
		err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.ResolveDecision(ctx, "d1", models.ResolutionConfirmedNew, nil, "reviewer", now)
		})
		assert.ErrorIs(t, err, models.ErrAlreadyResolved)

		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetDecision(ctx, "missing")
			return err
		})
		assert.ErrorIs(t, err, models.ErrDecisionNotFound)
	})
}
