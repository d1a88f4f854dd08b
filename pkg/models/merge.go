package models

import "time"

// AttributeConflict records a field where both sides held different non-empty values
type AttributeConflict struct {
	Field    string `json:"field"`
	Kept     string `json:"kept"`
	Dropped  string `json:"dropped"`
	Strategy string `json:"strategy"`
}

// MergeResult describes a committed merge of a duplicate entity into a canonical one.
// NoOp is set when the pair had already been merged.
type MergeResult struct {
	DuplicateID          string              `json:"duplicate_id"`
	CanonicalID          string              `json:"canonical_id"`
	Kind                 EntityKind          `json:"kind"`
	NoOp                 bool                `json:"no_op,omitempty"`
	IdentifiersMoved     int                 `json:"identifiers_moved"`
	IdentifiersDropped   int                 `json:"identifiers_dropped"`
	RelationshipsMoved   []Relationship      `json:"relationships_moved,omitempty"`
	RelationshipsDropped int                 `json:"relationships_dropped"`
	Conflicts            []AttributeConflict `json:"conflicts,omitempty"`
	MergedAt             time.Time           `json:"merged_at"`
}

// MergeRequest asks for duplicateId to be merged into canonicalId
type MergeRequest struct {
	DuplicateID string `json:"duplicate_id" validate:"required"`
	CanonicalID string `json:"canonical_id" validate:"required,nefield=DuplicateID"`
}
