// Package events publishes match decisions and merges for downstream consumers
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Publisher writes one JSON event. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, v any) error
}

// Emitter handles event emission for fern
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EmitMatchDecision publishes a committed decision keyed by its candidate ref, so
// replays of one source record stay ordered
func (e *Emitter) EmitMatchDecision(ctx context.Context, d *models.MatchDecision) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMatchDecision")
	defer span.End()

	event := NewMatchDecisionEvent(d)
	if err := e.publisher.Publish(ctx, TopicMatchDecision, d.CandidateRef, string(event.EventType), event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"decision_id":   d.ID,
			"decision_kind": d.DecisionKind,
		}).Error("Failed to emit match.decision event")
		return err
	}
	return nil
}

// EntityMerged publishes a committed merge keyed by the canonical id. No-op merges are
// not published.
func (e *Emitter) EntityMerged(ctx context.Context, result *models.MergeResult) error {
	if result.NoOp {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityMerged")
	defer span.End()

	event := NewEntityMergedEvent(result)
	if err := e.publisher.Publish(ctx, TopicEntityMerged, result.CanonicalID, string(event.EventType), event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"duplicate_id": result.DuplicateID,
			"canonical_id": result.CanonicalID,
		}).Error("Failed to emit entity.merged event")
		return err
	}
	return nil
}
