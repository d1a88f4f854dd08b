package models

import "time"

// MatchCandidate is a suggested link between an unlinked source record and a canonical
// person, produced by the batch candidate generator for human review. It never links
// anything by itself.
type MatchCandidate struct {
	ID                string            `json:"id" db:"id"`
	SourceSystem      string            `json:"source_system" db:"source_system"`
	SourceRecordID    string            `json:"source_record_id" db:"source_record_id"`
	CandidateEntityID string            `json:"candidate_entity_id" db:"candidate_entity_id"`
	Confidence        float64           `json:"confidence" db:"confidence"`
	Evidence          CandidateEvidence `json:"evidence" db:"-"`
	Status            string            `json:"status" db:"status"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy        *string           `json:"resolved_by,omitempty" db:"resolved_by"`
}

// MatchCandidateStatus constants
const (
	MatchCandidateStatusOpen     = "open"
	MatchCandidateStatusApproved = "approved"
	MatchCandidateStatusRejected = "rejected"
	MatchCandidateStatusDeferred = "deferred"
)

// CandidateEvidence explains why a candidate was suggested
type CandidateEvidence struct {
	MatchedOn      []string `json:"matched_on"`
	PhoneMatch     bool     `json:"phone_match"`
	EmailMatch     bool     `json:"email_match"`
	NameSimilarity float64  `json:"name_similarity"`
	Tier           int      `json:"tier"`
	SourceName     string   `json:"source_name"`
	SourceEmail    string   `json:"source_email,omitempty"`
	SourcePhone    string   `json:"source_phone,omitempty"`
}

// SourceRecord is an unlinked record loaded for batch candidate generation
type SourceRecord struct {
	SourceSystem   string `db:"source_system"`
	SourceRecordID string `db:"source_record_id"`
	DisplayName    string `db:"display_name"`
	Email          string `db:"email"`
	Phone          string `db:"phone"`
	Address        string `db:"address"`
}

// CanonicalPerson is the comparison view of a canonical person entity
type CanonicalPerson struct {
	EntityID    string `db:"entity_id"`
	DisplayName string `db:"display_name"`
	Email       string `db:"email"`
	Phone       string `db:"phone"`
}
