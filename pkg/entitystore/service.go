package entitystore

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/classifier"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Service is the transactional entry point for entity writes made outside the Matcher
type Service struct {
	store  Store
	logger ectologger.Logger
}

// NewService creates a new Service
func NewService(store Store, logger ectologger.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Store returns the backing store
func (s *Service) Store() Store {
	return s.store
}

// CreateEntity creates a canonical entity and returns its id
func (s *Service) CreateEntity(ctx context.Context, kind models.EntityKind, displayName string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.CreateEntity")
	defer span.End()

	var id string
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		e, err := NewGuard(tx).CreateEntity(ctx, kind, displayName, nil, true)
		if err != nil {
			return err
		}
		id = e.ID
		return nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to create entity")
		return "", err
	}
	return id, nil
}

// AttachIdentifier normalizes value for its type and attaches it to the canonical entity
// of entityID. Invalid values are returned as *models.ValidationError.
func (s *Service) AttachIdentifier(ctx context.Context, entityID string, idType models.IdentifierType, value, source string) (*models.Identifier, error) {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.AttachIdentifier")
	defer span.End()

	normalized, err := classifier.NormalizeIdentifier(idType, value)
	if err != nil {
		return nil, err
	}

	var out *models.Identifier
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ident, err := NewGuard(tx).AttachIdentifier(ctx, entityID, models.Identifier{
			Type:            idType,
			NormalizedValue: normalized,
			RawValue:        value,
			SourceSystem:    source,
			Confidence:      1.0,
		})
		if err != nil {
			return err
		}
		out = ident
		return nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_id": entityID,
			"type":      idType,
		}).Warn("Failed to attach identifier")
		return nil, err
	}
	return out, nil
}

// Link creates a relationship between the canonical entities of both endpoints
func (s *Service) Link(ctx context.Context, subjectID, objectID, role string, confidence float64, source string) (*models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.Link")
	defer span.End()

	var out *models.Relationship
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		rel, err := NewGuard(tx).Link(ctx, models.Relationship{
			SubjectID:    subjectID,
			ObjectID:     objectID,
			Role:         role,
			Confidence:   confidence,
			SourceSystem: source,
		})
		if err != nil {
			return err
		}
		out = rel
		return nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subject_id": subjectID,
			"object_id":  objectID,
			"role":       role,
		}).Warn("Failed to link entities")
		return nil, err
	}
	return out, nil
}

// GetEntity returns the canonical entity for id with its identifiers and relationships
func (s *Service) GetEntity(ctx context.Context, id string) (*models.EntityView, error) {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.GetEntity")
	defer span.End()

	var view *models.EntityView
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		e, err := ResolveCanonical(ctx, tx, id)
		if err != nil {
			return err
		}
		idents, err := tx.ListIdentifiers(ctx, e.ID)
		if err != nil {
			return err
		}
		rels, err := tx.ListRelationships(ctx, e.ID)
		if err != nil {
			return err
		}
		view = &models.EntityView{Entity: *e, Identifiers: idents, Relationships: rels}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Purge deletes a placeholder entity nothing refers to. Canonical and merged entities,
// and entities still referenced, are never deleted.
func (s *Service) Purge(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "entitystore.Service.Purge")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{"entity_id": id})

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockEntities(ctx, id); err != nil {
			return err
		}
		e, err := tx.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		if e.Canonical || e.IsMerged() {
			return models.ErrEntityInUse
		}
		refs, err := tx.CountReferences(ctx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return models.ErrEntityInUse
		}
		return tx.DeleteEntity(ctx, id)
	})
	if err != nil {
		if !errors.Is(err, models.ErrEntityInUse) && !errors.Is(err, models.ErrEntityNotFound) {
			log.WithError(err).Error("Failed to purge entity")
		}
		return err
	}
	log.Info("Purged placeholder entity")
	return nil
}
