package entitystore

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/blockingkey"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/internal/repositories/identifier"
	"github.com/Ramsey-B/fern/internal/repositories/matchdecision"
	"github.com/Ramsey-B/fern/internal/repositories/rawcandidate"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

// PostgresStore runs units of work in a Postgres transaction carried by the context.
// Repositories called inside fn join that transaction through database.DB.Executor.
type PostgresStore struct {
	db            database.DB
	entities      *entity.Repository
	identifiers   *identifier.Repository
	relationships *relationship.Repository
	keys          *blockingkey.Repository
	decisions     *matchdecision.Repository
	candidates    *rawcandidate.Repository
}

// NewPostgresStore creates a store over db
func NewPostgresStore(db database.DB, logger ectologger.Logger) *PostgresStore {
	return &PostgresStore{
		db:            db,
		entities:      entity.NewRepository(db, logger),
		identifiers:   identifier.NewRepository(db, logger),
		relationships: relationship.NewRepository(db, logger),
		keys:          blockingkey.NewRepository(db, logger),
		decisions:     matchdecision.NewRepository(db, logger),
		candidates:    rawcandidate.NewRepository(db, logger),
	}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context) error {
		return fn(ctx, &postgresTx{s: s})
	})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// postgresTx delegates to the repositories. The transaction itself travels in ctx.
type postgresTx struct {
	s *PostgresStore
}

func (t *postgresTx) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	return t.s.entities.Get(ctx, id)
}

func (t *postgresTx) InsertEntity(ctx context.Context, e *models.Entity) error {
	return t.s.entities.Insert(ctx, e)
}

func (t *postgresTx) UpdateEntity(ctx context.Context, e *models.Entity) error {
	return t.s.entities.Update(ctx, e)
}

func (t *postgresTx) MarkMerged(ctx context.Context, id, into string, at time.Time) error {
	return t.s.entities.MarkMerged(ctx, id, into, at)
}

func (t *postgresTx) DeleteEntity(ctx context.Context, id string) error {
	return t.s.entities.Delete(ctx, id)
}

func (t *postgresTx) LockEntities(ctx context.Context, ids ...string) error {
	return t.s.entities.Lock(ctx, ids...)
}

func (t *postgresTx) FindByBlockingKeys(ctx context.Context, kind models.EntityKind, keys []string, limit int) ([]models.Entity, error) {
	return t.s.keys.FindEntities(ctx, kind, keys, limit)
}

func (t *postgresTx) PutBlockingKeys(ctx context.Context, entityID string, kind models.EntityKind, keys []string) error {
	return t.s.keys.Put(ctx, entityID, kind, keys)
}

func (t *postgresTx) MoveBlockingKeys(ctx context.Context, fromID, toID string) error {
	return t.s.keys.Move(ctx, fromID, toID)
}

func (t *postgresTx) CountReferences(ctx context.Context, entityID string) (int, error) {
	return t.s.entities.CountReferences(ctx, entityID)
}

func (t *postgresTx) FindByIdentifier(ctx context.Context, kind models.EntityKind, idType models.IdentifierType, value string) (*models.Identifier, error) {
	return t.s.identifiers.FindByKey(ctx, kind, idType, value)
}

func (t *postgresTx) ListIdentifiers(ctx context.Context, entityID string) ([]models.Identifier, error) {
	return t.s.identifiers.ListByEntity(ctx, entityID)
}

func (t *postgresTx) InsertIdentifier(ctx context.Context, ident *models.Identifier) error {
	return t.s.identifiers.Insert(ctx, ident)
}

func (t *postgresTx) UpdateIdentifierEntity(ctx context.Context, id, entityID string) error {
	return t.s.identifiers.Reassign(ctx, id, entityID)
}

func (t *postgresTx) SetIdentifierRowHash(ctx context.Context, id, hash string) error {
	return t.s.identifiers.SetRowHash(ctx, id, hash)
}

func (t *postgresTx) DeleteIdentifier(ctx context.Context, id string) error {
	return t.s.identifiers.Delete(ctx, id)
}

func (t *postgresTx) ListRelationships(ctx context.Context, entityID string) ([]models.Relationship, error) {
	return t.s.relationships.ListByEntity(ctx, entityID)
}

func (t *postgresTx) FindRelationship(ctx context.Context, subjectID, objectID, role string) (*models.Relationship, error) {
	return t.s.relationships.Find(ctx, subjectID, objectID, role)
}

func (t *postgresTx) InsertRelationship(ctx context.Context, rel *models.Relationship) error {
	return t.s.relationships.Insert(ctx, rel)
}

func (t *postgresTx) UpdateRelationshipEndpoints(ctx context.Context, id, subjectID, objectID string) error {
	return t.s.relationships.Repoint(ctx, id, subjectID, objectID)
}

func (t *postgresTx) DeleteRelationship(ctx context.Context, id string) error {
	return t.s.relationships.Delete(ctx, id)
}

func (t *postgresTx) InsertDecision(ctx context.Context, d *models.MatchDecision) error {
	return t.s.decisions.Insert(ctx, d)
}

func (t *postgresTx) GetDecision(ctx context.Context, id string) (*models.MatchDecision, error) {
	return t.s.decisions.Get(ctx, id)
}

func (t *postgresTx) ListPendingDecisions(ctx context.Context, kind models.EntityKind, limit, offset int) ([]models.MatchDecision, error) {
	return t.s.decisions.ListPending(ctx, kind, limit, offset)
}

func (t *postgresTx) ResolveDecision(ctx context.Context, id string, resolution models.Resolution, entityID *string, resolvedBy string, at time.Time) error {
	return t.s.decisions.Resolve(ctx, id, resolution, entityID, resolvedBy, at)
}

func (t *postgresTx) SupersedePending(ctx context.Context, candidateRef string, at time.Time) (int, error) {
	return t.s.decisions.SupersedePending(ctx, candidateRef, at)
}

func (t *postgresTx) InsertRawCandidate(ctx context.Context, c *models.StoredCandidate) error {
	return t.s.candidates.Insert(ctx, c)
}

func (t *postgresTx) GetRawCandidateByDecision(ctx context.Context, decisionID string) (*models.StoredCandidate, error) {
	return t.s.candidates.GetByDecision(ctx, decisionID)
}
