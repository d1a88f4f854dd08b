package models

import "time"

// EffectivelyBlockedSimilarity is the required name similarity at or above which a
// blacklisted identifier can never be matched on
const EffectivelyBlockedSimilarity = 0.9

// BlacklistEntry marks an identifier as shared or organizational
type BlacklistEntry struct {
	IdentifierType         IdentifierType `json:"identifier_type" yaml:"type" db:"id_type" validate:"required"`
	NormalizedValue        string         `json:"normalized_value" yaml:"value" db:"normalized_value" validate:"required"`
	RequiredNameSimilarity float64        `json:"required_name_similarity" yaml:"required_similarity" db:"required_name_similarity" validate:"gte=0,lte=1"`
	Reason                 string         `json:"reason" yaml:"reason" db:"reason"`
	CreatedAt              time.Time      `json:"created_at" yaml:"-" db:"created_at"`
}

// EffectivelyBlocked reports whether the entry blocks matching regardless of name
func (e BlacklistEntry) EffectivelyBlocked() bool {
	return e.RequiredNameSimilarity >= EffectivelyBlockedSimilarity
}
