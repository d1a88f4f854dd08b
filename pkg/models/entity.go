package models

import (
	"time"
)

// EntityKind is the kind of real-world thing an entity represents
type EntityKind string

const (
	EntityKindPerson EntityKind = "person"
	EntityKindAnimal EntityKind = "animal"
	EntityKindPlace  EntityKind = "place"
)

// Valid reports whether k is a known entity kind
func (k EntityKind) Valid() bool {
	switch k {
	case EntityKindPerson, EntityKindAnimal, EntityKindPlace:
		return true
	}
	return false
}

// Entity is a canonical (or formerly canonical) person, animal or place.
// MergedInto is set once the entity has been merged into another entity of the same kind.
// Canonical is false for merged entities and for placeholders that failed the identity gate.
type Entity struct {
	ID          string            `json:"id" db:"id"`
	Kind        EntityKind        `json:"kind" db:"kind"`
	DisplayName string            `json:"display_name" db:"display_name"`
	Attributes  map[string]string `json:"attributes,omitempty" db:"-"`
	MergedInto  *string           `json:"merged_into,omitempty" db:"merged_into"`
	Canonical   bool              `json:"canonical" db:"canonical"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// IsMerged reports whether the entity has been merged away
func (e *Entity) IsMerged() bool {
	return e.MergedInto != nil && *e.MergedInto != ""
}

// IsPlaceholder reports whether the entity is a non-canonical, non-merged placeholder
func (e *Entity) IsPlaceholder() bool {
	return !e.Canonical && !e.IsMerged()
}

// IdentifierType is the type of a typed key attached to an entity
type IdentifierType string

const (
	IdentifierEmail             IdentifierType = "email"
	IdentifierPhone             IdentifierType = "phone"
	IdentifierMicrochip         IdentifierType = "microchip"
	IdentifierNormalizedAddress IdentifierType = "normalized_address"
	IdentifierSourceRecord      IdentifierType = "source_record"
)

// Identifier is a typed, normalized key attached to an entity.
// (Kind, Type, NormalizedValue) is unique across entities.
type Identifier struct {
	ID              string         `json:"id" db:"id"`
	EntityID        string         `json:"entity_id" db:"entity_id"`
	Kind            EntityKind     `json:"kind" db:"kind"`
	Type            IdentifierType `json:"type" db:"id_type"`
	NormalizedValue string         `json:"normalized_value" db:"normalized_value"`
	RawValue        string         `json:"raw_value" db:"raw_value"`
	SourceSystem    string         `json:"source_system" db:"source_system"`
	Confidence      float64        `json:"confidence" db:"confidence"`
	// RowHash fingerprints the raw source row; only source_record identifiers carry one
	RowHash         string         `json:"row_hash,omitempty" db:"row_hash"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// SameKey reports whether two identifiers carry the same typed value
func (i Identifier) SameKey(other Identifier) bool {
	return i.Type == other.Type && i.NormalizedValue == other.NormalizedValue
}

// Relationship links two entities with a role, e.g. person -owner-> animal.
// (SubjectID, ObjectID, Role) is unique.
type Relationship struct {
	ID           string    `json:"id" db:"id"`
	SubjectID    string    `json:"subject_id" db:"subject_id"`
	ObjectID     string    `json:"object_id" db:"object_id"`
	Role         string    `json:"role" db:"role"`
	Confidence   float64   `json:"confidence" db:"confidence"`
	SourceSystem string    `json:"source_system" db:"source_system"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// SameEdge reports whether two relationships connect the same endpoints with the same role
func (r Relationship) SameEdge(other Relationship) bool {
	return r.SubjectID == other.SubjectID && r.ObjectID == other.ObjectID && r.Role == other.Role
}

// CreateRelationshipRequest is the request for linking two entities
type CreateRelationshipRequest struct {
	SubjectID    string  `json:"subject_id" validate:"required"`
	ObjectID     string  `json:"object_id" validate:"required"`
	Role         string  `json:"role" validate:"required"`
	Confidence   float64 `json:"confidence" validate:"gte=0,lte=1"`
	SourceSystem string  `json:"source_system" validate:"required"`
}

// EntityView is an entity together with its identifiers and relationships
type EntityView struct {
	Entity        Entity         `json:"entity"`
	Identifiers   []Identifier   `json:"identifiers"`
	Relationships []Relationship `json:"relationships"`
}

// CreateEntityRequest is the request for creating a canonical entity by hand
type CreateEntityRequest struct {
	Kind        EntityKind `json:"kind" validate:"required,oneof=person animal place"`
	DisplayName string     `json:"display_name" validate:"required"`
}

// AttachIdentifierRequest is the request for attaching an identifier to an entity
type AttachIdentifierRequest struct {
	Type         IdentifierType `json:"type" validate:"required"`
	Value        string         `json:"value" validate:"required"`
	SourceSystem string         `json:"source_system"`
}
