package events

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// EventType defines the type of event
type EventType string

const (
	EventTypeMatchDecision EventType = "match.decision"
	EventTypeEntityMerged  EventType = "entity.merged"
)

// Topics events are published to
const (
	TopicMatchDecision = "match.decision"
	TopicEntityMerged  = "entity.merged"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
}

// MatchDecisionEvent carries one committed decision for the audit stream
type MatchDecisionEvent struct {
	BaseEvent
	DecisionID        string              `json:"decision_id"`
	CandidateRef      string              `json:"candidate_ref"`
	Kind              models.EntityKind   `json:"kind"`
	SourceSystem      string              `json:"source_system"`
	DecisionKind      models.DecisionKind `json:"decision_kind"`
	ChosenEntityID    string              `json:"chosen_entity_id,omitempty"`
	CandidateEntityID string              `json:"candidate_entity_id,omitempty"`
	Reason            string              `json:"reason"`
	CompositeScore    float64             `json:"composite_score"`
	Probability       float64             `json:"probability"`
	FieldScores       []models.FieldScore `json:"field_scores"`
	Warnings          []string            `json:"warnings,omitempty"`
}

// EntityMergedEvent is emitted once a merge has committed
type EntityMergedEvent struct {
	BaseEvent
	DuplicateID          string                     `json:"duplicate_id"`
	CanonicalID          string                     `json:"canonical_id"`
	Kind                 models.EntityKind          `json:"kind"`
	IdentifiersMoved     int                        `json:"identifiers_moved"`
	IdentifiersDropped   int                        `json:"identifiers_dropped"`
	RelationshipsMoved   int                        `json:"relationships_moved"`
	RelationshipsDropped int                        `json:"relationships_dropped"`
	Conflicts            []models.AttributeConflict `json:"conflicts,omitempty"`
}

func newBase(t EventType, at time.Time) BaseEvent {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return BaseEvent{
		EventType:     t,
		SchemaVersion: SchemaVersion,
		Timestamp:     at,
	}
}

// NewMatchDecisionEvent builds the event for d
func NewMatchDecisionEvent(d *models.MatchDecision) *MatchDecisionEvent {
	ev := &MatchDecisionEvent{
		BaseEvent:      newBase(EventTypeMatchDecision, d.CreatedAt),
		DecisionID:     d.ID,
		CandidateRef:   d.CandidateRef,
		Kind:           d.Kind,
		SourceSystem:   d.SourceSystem,
		DecisionKind:   d.DecisionKind,
		ChosenEntityID: d.EntityID(),
		Reason:         d.Reason,
		CompositeScore: d.CompositeScore,
		Probability:    d.Probability,
		FieldScores:    d.FieldScores,
		Warnings:       d.Warnings,
	}
	if d.CandidateEntityID != nil {
		ev.CandidateEntityID = *d.CandidateEntityID
	}
	return ev
}

// NewEntityMergedEvent builds the event for a committed merge
func NewEntityMergedEvent(r *models.MergeResult) *EntityMergedEvent {
	return &EntityMergedEvent{
		BaseEvent:            newBase(EventTypeEntityMerged, r.MergedAt),
		DuplicateID:          r.DuplicateID,
		CanonicalID:          r.CanonicalID,
		Kind:                 r.Kind,
		IdentifiersMoved:     r.IdentifiersMoved,
		IdentifiersDropped:   r.IdentifiersDropped,
		RelationshipsMoved:   len(r.RelationshipsMoved),
		RelationshipsDropped: r.RelationshipsDropped,
		Conflicts:            r.Conflicts,
	}
}
