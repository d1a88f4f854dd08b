package entitystore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

func startPostgres(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "fern",
				"POSTGRES_PASSWORD": "fern",
				"POSTGRES_DB":       "fern",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://fern:fern@%s:%s/fern?sslmode=disable", host, port.Port())
	db, err := database.Connect(ctx, database.Config{DSN: dsn, MaxOpenConns: 8}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrations := database.NewMigrationService(testLogger(), database.MigrationConfig{Folder: "../../db/pg"})
	require.NoError(t, migrations.MigratePostgres(db))
	return db
}

func TestPostgresStore(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	store := NewPostgresStore(db, testLogger())
	svc := NewService(store, testLogger())

	require.NoError(t, store.Ping(ctx))

	ann, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Ann Lee")
	require.NoError(t, err)
	tom, err := svc.CreateEntity(ctx, models.EntityKindAnimal, "Tom")
	require.NoError(t, err)

	t.Run("AttachAndView", func(t *testing.T) {
		_, err := svc.AttachIdentifier(ctx, ann, models.IdentifierEmail, "Ann@Example.com", "clinichq")
		require.NoError(t, err)
		_, err = svc.Link(ctx, ann, tom, "owner", 0.9, "clinichq")
		require.NoError(t, err)

		view, err := svc.GetEntity(ctx, ann)
		require.NoError(t, err)
		assert.Equal(t, "Ann Lee", view.Entity.DisplayName)
		require.Len(t, view.Identifiers, 1)
		assert.Equal(t, "ann@example.com", view.Identifiers[0].NormalizedValue)
		assert.Len(t, view.Relationships, 1)
	})

	t.Run("UniqueIndexRejectsSecondHolder", func(t *testing.T) {
		bob, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Bob Jones")
		require.NoError(t, err)

		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertIdentifier(ctx, &models.Identifier{
				ID:              "dup-email",
				EntityID:        bob,
				Kind:            models.EntityKindPerson,
				Type:            models.IdentifierEmail,
				NormalizedValue: "ann@example.com",
				CreatedAt:       time.Now().UTC(),
			})
		})
		assert.ErrorIs(t, err, models.ErrUniquenessConflict)
	})

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		boom := errors.New("boom")
		var created string
		err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			e, err := NewGuard(tx).CreateEntity(ctx, models.EntityKindPlace, "Shelter", map[string]string{"city": "Santa Rosa"}, true)
			if err != nil {
				return err
			}
			created = e.ID
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.GetEntity(ctx, created)
			return err
		})
		assert.ErrorIs(t, err, models.ErrEntityNotFound)
	})

	t.Run("BlockingKeysFollowMoves", func(t *testing.T) {
		dup, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Ann Lee")
		require.NoError(t, err)

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.PutBlockingKeys(ctx, dup, models.EntityKindPerson, []string{"sx:L000:a"}); err != nil {
				return err
			}
			if err := tx.PutBlockingKeys(ctx, ann, models.EntityKindPerson, []string{"sx:L000:a"}); err != nil {
				return err
			}
			return tx.MoveBlockingKeys(ctx, dup, ann)
		}))

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			found, err := tx.FindByBlockingKeys(ctx, models.EntityKindPerson, []string{"sx:L000:a"}, 10)
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, ann, found[0].ID)
			return nil
		}))
	})

	t.Run("DecisionsAreAppendOnly", func(t *testing.T) {
		candidate := ann
		d := &models.MatchDecision{
			ID:                "decision-1",
			CandidateRef:      "jotform:j1",
			Kind:              models.EntityKindPerson,
			SourceSystem:      "jotform",
			CandidateEntityID: &candidate,
			DecisionKind:      models.DecisionReviewPending,
			CompositeScore:    8.6,
			FieldScores:       []models.FieldScore{{Field: "email", Outcome: models.FieldDisagree, Weight: -4.3}},
			CreatedAt:         time.Now().UTC(),
		}
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.InsertDecision(ctx, d); err != nil {
				return err
			}
			return tx.InsertRawCandidate(ctx, &models.StoredCandidate{
				DecisionID:     d.ID,
				Kind:           models.EntityKindPerson,
				SourceSystem:   "jotform",
				SourceRecordID: "j1",
				RawFields:      map[string]string{"first_name": "Ann"},
				CreatedAt:      time.Now().UTC(),
			})
		}))

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			pending, err := tx.ListPendingDecisions(ctx, models.EntityKindPerson, 10, 0)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, d.FieldScores, pending[0].FieldScores)

			stored, err := tx.GetRawCandidateByDecision(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, "Ann", stored.RawFields["first_name"])

			return tx.ResolveDecision(ctx, d.ID, models.ResolutionRejected, nil, "reviewer", time.Now().UTC())
		}))

		err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.ResolveDecision(ctx, d.ID, models.ResolutionMerged, nil, "reviewer", time.Now().UTC())
		})
		assert.ErrorIs(t, err, models.ErrAlreadyResolved)
	})

	t.Run("PurgePlaceholder", func(t *testing.T) {
		var id string
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			g := NewGuard(tx)
			e, err := g.CreateEntity(ctx, models.EntityKindPerson, "", nil, false)
			if err != nil {
				return err
			}
			id = e.ID
			_, err = g.AttachIdentifier(ctx, id, models.Identifier{Type: models.IdentifierSourceRecord, NormalizedValue: "clinichq:99"})
			return err
		}))

		require.NoError(t, svc.Purge(ctx, id))
		assert.ErrorIs(t, svc.Purge(ctx, id), models.ErrEntityNotFound)
		assert.ErrorIs(t, svc.Purge(ctx, ann), models.ErrEntityInUse)
	})

	t.Run("ReviewItemsAreSupersededPerSourceRecord", func(t *testing.T) {
		first := &models.MatchDecision{
			ID:           "decision-j2-a",
			CandidateRef: "jotform:j2",
			Kind:         models.EntityKindPerson,
			SourceSystem: "jotform",
			DecisionKind: models.DecisionReviewPending,
			CreatedAt:    time.Now().UTC(),
		}
		second := *first
		second.ID = "decision-j2-b"

		for _, d := range []*models.MatchDecision{first, &second} {
			d := d
			require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				if _, err := tx.SupersedePending(ctx, d.CandidateRef, d.CreatedAt); err != nil {
					return err
				}
				if err := tx.InsertDecision(ctx, d); err != nil {
					return err
				}
				return tx.InsertRawCandidate(ctx, &models.StoredCandidate{
					DecisionID:     d.ID,
					Kind:           models.EntityKindPerson,
					SourceSystem:   "jotform",
					SourceRecordID: "j2",
					RawFields:      map[string]string{"first_name": "Jo"},
					CreatedAt:      d.CreatedAt,
				})
			}))
		}

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			old, err := tx.GetDecision(ctx, first.ID)
			require.NoError(t, err)
			require.NotNil(t, old.Resolution)
			assert.Equal(t, models.ResolutionSuperseded, *old.Resolution)
			assert.Equal(t, models.SystemResolver, *old.ResolvedBy)

			current, err := tx.GetDecision(ctx, second.ID)
			require.NoError(t, err)
			assert.False(t, current.IsResolved())

			for _, id := range []string{first.ID, second.ID} {
				stored, err := tx.GetRawCandidateByDecision(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, id, stored.DecisionID)
			}
			return nil
		}))
	})

	t.Run("UpdateNeverClearsMergedInto", func(t *testing.T) {
		src, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Sam Hill")
		require.NoError(t, err)
		dst, err := svc.CreateEntity(ctx, models.EntityKindPerson, "Samuel Hill")
		require.NoError(t, err)

		var stale *models.Entity
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			stale, err = tx.GetEntity(ctx, src)
			if err != nil {
				return err
			}
			return tx.MarkMerged(ctx, src, dst, time.Now().UTC())
		}))

		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			stale.DisplayName = "Sammy Hill"
			return tx.UpdateEntity(ctx, stale)
		})
		assert.ErrorIs(t, err, models.ErrMergeTargetAlreadyMerged)

		err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.MarkMerged(ctx, src, ann, time.Now().UTC())
		})
		assert.ErrorIs(t, err, models.ErrMergeSourceAlreadyMerged)

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			e, err := tx.GetEntity(ctx, src)
			require.NoError(t, err)
			require.NotNil(t, e.MergedInto)
			assert.Equal(t, dst, *e.MergedInto)
			assert.Equal(t, "Sam Hill", e.DisplayName)
			return nil
		}))
	})

	t.Run("ConcurrentAttachAndMerge", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			src, err := svc.CreateEntity(ctx, models.EntityKindPerson, fmt.Sprintf("Race Source %d", i))
			require.NoError(t, err)
			dst, err := svc.CreateEntity(ctx, models.EntityKindPerson, fmt.Sprintf("Race Target %d", i))
			require.NoError(t, err)
			email := fmt.Sprintf("race%d@example.com", i)

			var eg errgroup.Group
			eg.Go(func() error {
				return store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
					_, err := NewGuard(tx).AttachIdentifier(ctx, src, models.Identifier{
						Type:            models.IdentifierEmail,
						NormalizedValue: email,
						SourceSystem:    "clinichq",
					})
					return err
				})
			})
			eg.Go(func() error {
				return store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
					ids := []string{src, dst}
					sort.Strings(ids)
					if err := tx.LockEntities(ctx, ids...); err != nil {
						return err
					}
					idents, err := tx.ListIdentifiers(ctx, src)
					if err != nil {
						return err
					}
					for _, ident := range idents {
						if err := tx.UpdateIdentifierEntity(ctx, ident.ID, dst); err != nil {
							return err
						}
					}
					return tx.MarkMerged(ctx, src, dst, time.Now().UTC())
				})
			})
			require.NoError(t, eg.Wait())

			require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				left, err := tx.ListIdentifiers(ctx, src)
				require.NoError(t, err)
				assert.Empty(t, left, "identifier left on merged entity in round %d", i)

				moved, err := tx.FindByIdentifier(ctx, models.EntityKindPerson, models.IdentifierEmail, email)
				require.NoError(t, err)
				require.NotNil(t, moved)
				assert.Equal(t, dst, moved.EntityID)

				e, err := tx.GetEntity(ctx, src)
				require.NoError(t, err)
				require.NotNil(t, e.MergedInto)
				assert.Equal(t, dst, *e.MergedInto)
				return nil
			}))
		}
	})
}
