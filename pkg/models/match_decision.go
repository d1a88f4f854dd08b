package models

import "time"

// DecisionKind is the outcome of a single resolve call
type DecisionKind string

const (
	DecisionAutoMatch     DecisionKind = "auto_match"
	DecisionReviewPending DecisionKind = "review_pending"
	DecisionNewEntity     DecisionKind = "new_entity"
)

// Resolution is a reviewer's verdict appended to a review_pending decision
type Resolution string

const (
	ResolutionMerged       Resolution = "merged"
	ResolutionConfirmedNew Resolution = "confirmed_new"
	ResolutionRejected     Resolution = "rejected"
	// ResolutionSuperseded closes a pending decision when a newer decision for the same
	// source record is written
	ResolutionSuperseded Resolution = "superseded"
)

// SystemResolver is recorded as resolved_by on decisions the service closes itself
const SystemResolver = "fern"

// Valid reports whether r is a known resolution
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionMerged, ResolutionConfirmedNew, ResolutionRejected, ResolutionSuperseded:
		return true
	}
	return false
}

// FieldOutcome is the result of comparing one field between two records
type FieldOutcome string

const (
	FieldAgree    FieldOutcome = "agree"
	FieldDisagree FieldOutcome = "disagree"
	FieldAbsent   FieldOutcome = "absent"
)

// FieldScore is the Fellegi-Sunter contribution of one comparison field
type FieldScore struct {
	Field      string       `json:"field"`
	Outcome    FieldOutcome `json:"outcome"`
	Similarity float64      `json:"similarity"`
	Weight     float64      `json:"weight"`
}

// MatchDecision is the immutable audit record written once per resolve call.
// ChosenEntityID is nil for review_pending decisions; CandidateEntityID then holds the
// best-scoring entity the reviewer should look at.
type MatchDecision struct {
	ID                string       `json:"id" db:"id"`
	CandidateRef      string       `json:"candidate_ref" db:"candidate_ref"`
	Kind              EntityKind   `json:"kind" db:"kind"`
	SourceSystem      string       `json:"source_system" db:"source_system"`
	ChosenEntityID    *string      `json:"chosen_entity_id,omitempty" db:"chosen_entity_id"`
	CandidateEntityID *string      `json:"candidate_entity_id,omitempty" db:"candidate_entity_id"`
	DecisionKind      DecisionKind `json:"decision_kind" db:"decision_kind"`
	Reason            string       `json:"reason" db:"reason"`
	CompositeScore    float64      `json:"composite_score" db:"composite_score"`
	Probability       float64      `json:"probability" db:"probability"`
	FieldScores       []FieldScore `json:"field_scores" db:"-"`
	Warnings          []string     `json:"warnings,omitempty" db:"-"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`

	Resolution       *Resolution `json:"resolution,omitempty" db:"resolution"`
	ResolvedEntityID *string     `json:"resolved_entity_id,omitempty" db:"resolved_entity_id"`
	ResolvedBy       *string     `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt       *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsResolved reports whether a reviewer has already acted on the decision
func (d *MatchDecision) IsResolved() bool {
	return d.Resolution != nil
}

// EntityID returns the chosen entity id or "" when none was chosen
func (d *MatchDecision) EntityID() string {
	if d.ChosenEntityID == nil {
		return ""
	}
	return *d.ChosenEntityID
}

// ResolveDecisionRequest is a reviewer's action on a pending decision
type ResolveDecisionRequest struct {
	TargetEntityID string `json:"target_entity_id"`
	ResolvedBy     string `json:"resolved_by" validate:"required"`
}
