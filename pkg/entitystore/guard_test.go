package entitystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

// mergeOnLockTx commits a merge of src into dst the first time a writer asks for
// a lock, the way a concurrent merge lands between resolve and write.
type mergeOnLockTx struct {
	Tx
	src, dst string
	fired    bool
}

func (t *mergeOnLockTx) LockEntities(ctx context.Context, ids ...string) error {
	if !t.fired {
		t.fired = true
		idents, err := t.Tx.ListIdentifiers(ctx, t.src)
		if err != nil {
			return err
		}
		for _, ident := range idents {
			if err := t.Tx.UpdateIdentifierEntity(ctx, ident.ID, t.dst); err != nil {
				return err
			}
		}
		if err := t.Tx.MarkMerged(ctx, t.src, t.dst, time.Now().UTC()); err != nil {
			return err
		}
	}
	return t.Tx.LockEntities(ctx, ids...)
}

func TestGuard_WritesFollowMergeLandingBeforeLock(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*MemoryStore, string, string, string) {
		store := NewMemoryStore()
		svc := NewService(store, testLogger())
		src, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Ann Lee")
		require.NoError(t, err)
		dst, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Ann M Lee")
		require.NoError(t, err)
		pet, err := svc.CreateEntity(ctx, models.EntityKindAnimal, "Tom")
		require.NoError(t, err)
		return store, src, dst, pet
	}

	t.Run("AttachLandsOnSurvivor", func(t *testing.T) {
		store, src, dst, _ := setup(t)
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			g := NewGuard(&mergeOnLockTx{Tx: tx, src: src, dst: dst})
			ident, err := g.AttachIdentifier(ctx, src, models.Identifier{Type: models.IdentifierEmail, NormalizedValue: "ann@example.com"})
			require.NoError(t, err)
			assert.Equal(t, dst, ident.EntityID)

			left, err := tx.ListIdentifiers(ctx, src)
			require.NoError(t, err)
			assert.Empty(t, left)
			return nil
		}))
	})

	t.Run("LinkLandsOnSurvivor", func(t *testing.T) {
		store, src, dst, pet := setup(t)
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			g := NewGuard(&mergeOnLockTx{Tx: tx, src: src, dst: dst})
			rel, err := g.Link(ctx, models.Relationship{SubjectID: src, ObjectID: pet, Role: "owner", SourceSystem: "clinichq"})
			require.NoError(t, err)
			assert.Equal(t, dst, rel.SubjectID)
			assert.Equal(t, pet, rel.ObjectID)
			return nil
		}))
	})

	t.Run("StaleUpdateIsRefused", func(t *testing.T) {
		store, src, dst, _ := setup(t)
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			stale, err := tx.GetEntity(ctx, src)
			require.NoError(t, err)

			g := NewGuard(&mergeOnLockTx{Tx: tx, src: src, dst: dst})
			stale.DisplayName = "Annie Lee"
			assert.ErrorIs(t, g.UpdateEntity(ctx, stale), models.ErrMergeTargetAlreadyMerged)

			e, err := tx.GetEntity(ctx, src)
			require.NoError(t, err)
			require.NotNil(t, e.MergedInto)
			assert.Equal(t, dst, *e.MergedInto)
			assert.Equal(t, "Ann Lee", e.DisplayName)
			return nil
		}))
	})

	t.Run("AcquireReturnsLockedSurvivor", func(t *testing.T) {
		store, src, dst, _ := setup(t)
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			e, err := NewGuard(&mergeOnLockTx{Tx: tx, src: src, dst: dst}).Acquire(ctx, src)
			require.NoError(t, err)
			assert.Equal(t, dst, e.ID)
			assert.False(t, e.IsMerged())
			return nil
		}))
	})
}

func TestMemoryStore_UpdateKeepsMergedInto(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, testLogger())
	src, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Ann Lee")
	require.NoError(t, err)
	dst, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Ann M Lee")
	require.NoError(t, err)

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		live, err := tx.GetEntity(ctx, dst)
		require.NoError(t, err)
		live.MergedInto = &src
		require.NoError(t, tx.UpdateEntity(ctx, live))

		stored, err := tx.GetEntity(ctx, dst)
		require.NoError(t, err)
		assert.False(t, stored.IsMerged())

		require.NoError(t, tx.MarkMerged(ctx, src, dst, time.Now().UTC()))
		assert.ErrorIs(t, tx.MarkMerged(ctx, src, dst, time.Now().UTC()), models.ErrMergeSourceAlreadyMerged)
		return nil
	}))
}
