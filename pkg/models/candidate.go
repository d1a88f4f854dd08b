package models

import (
	"fmt"
	"time"
)

// RawCandidate is an inbound record as produced by a source-specific collaborator,
// before normalization.
type RawCandidate struct {
	Kind           EntityKind        `json:"kind" validate:"required,oneof=person animal place"`
	RawFields      map[string]string `json:"raw_fields" validate:"required"`
	SourceSystem   string            `json:"source_system" validate:"required"`
	SourceRecordID string            `json:"source_record_id" validate:"required"`
}

// Ref is the stable reference used in decisions: "<source>:<record id>"
func (c RawCandidate) Ref() string {
	return fmt.Sprintf("%s:%s", c.SourceSystem, c.SourceRecordID)
}

// Canonical field names inside RawCandidate.RawFields
const (
	FieldFirstName   = "first_name"
	FieldLastName    = "last_name"
	FieldFullName    = "name"
	FieldEmail       = "email"
	FieldPhone       = "phone"
	FieldAddress     = "address"
	FieldMicrochip   = "microchip"
	FieldSex         = "sex"
	FieldColor       = "color"
	FieldBreed       = "breed"
	FieldDisplayName = "display_name"
)

// StoredCandidate is a raw candidate persisted alongside a review_pending decision
type StoredCandidate struct {
	ID             string            `json:"id" db:"id"`
	DecisionID     string            `json:"decision_id" db:"decision_id"`
	Kind           EntityKind        `json:"kind" db:"kind"`
	SourceSystem   string            `json:"source_system" db:"source_system"`
	SourceRecordID string            `json:"source_record_id" db:"source_record_id"`
	RawFields      map[string]string `json:"raw_fields" db:"-"`
	RowHash        string            `json:"row_hash" db:"row_hash"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Candidate rebuilds the inbound record
func (s StoredCandidate) Candidate() RawCandidate {
	return RawCandidate{
		Kind:           s.Kind,
		RawFields:      s.RawFields,
		SourceSystem:   s.SourceSystem,
		SourceRecordID: s.SourceRecordID,
	}
}

// ResolveResult is what an ingestion caller receives for one candidate
type ResolveResult struct {
	EntityID     string       `json:"entity_id,omitempty"`
	DecisionKind DecisionKind `json:"decision_kind"`
	DecisionID   string       `json:"decision_id"`
	Queued       bool         `json:"queued_for_review"`
	Placeholder  bool         `json:"placeholder,omitempty"`
}
