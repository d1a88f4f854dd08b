package graph

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// StatementRunner executes statements in one write transaction. *Client satisfies it.
type StatementRunner interface {
	RunWrite(ctx context.Context, stmts ...Statement) error
}

// EntityReader loads the canonical view of an entity. *entitystore.Service satisfies it.
type EntityReader interface {
	GetEntity(ctx context.Context, id string) (*models.EntityView, error)
}

// Projector keeps the graph in step with the relational store. It is fed committed
// decisions and merges; the relational store stays the source of truth.
type Projector struct {
	runner   StatementRunner
	entities EntityReader
	logger   ectologger.Logger
}

// NewProjector creates a projector
func NewProjector(runner StatementRunner, entities EntityReader, logger ectologger.Logger) *Projector {
	return &Projector{
		runner:   runner,
		entities: entities,
		logger:   logger,
	}
}

// ProjectEntity writes the canonical entity id resolves to, with its relationships
func (p *Projector) ProjectEntity(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectEntity")
	defer span.End()

	view, err := p.entities.GetEntity(ctx, id)
	if err != nil {
		return err
	}

	stmts := []Statement{UpsertEntity(view)}
	for _, rel := range view.Relationships {
		stmts = append(stmts, UpsertRelationship(rel))
	}
	if err := p.runner.RunWrite(ctx, stmts...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("entity_id", view.Entity.ID).Error("Failed to project entity")
		return err
	}
	return nil
}

// EmitMatchDecision projects the entity a decision landed on. Review-pending decisions
// change nothing.
func (p *Projector) EmitMatchDecision(ctx context.Context, d *models.MatchDecision) error {
	id := d.EntityID()
	if id == "" {
		return nil
	}
	return p.ProjectEntity(ctx, id)
}

// EntityMerged records the merge and refreshes the canonical node
func (p *Projector) EntityMerged(ctx context.Context, res *models.MergeResult) error {
	if res.NoOp {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "graph.Projector.EntityMerged")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"duplicate_id": res.DuplicateID,
		"canonical_id": res.CanonicalID,
	})

	if err := p.runner.RunWrite(ctx, MergeStatements(res)...); err != nil {
		log.WithError(err).Error("Failed to project merge")
		return err
	}
	if err := p.ProjectEntity(ctx, res.CanonicalID); err != nil {
		return err
	}
	log.Debug("Projected merge")
	return nil
}
