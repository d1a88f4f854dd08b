package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEntityNotFound is returned when an entity id does not exist
	ErrEntityNotFound = errors.New("entity not found")
	// ErrDecisionNotFound is returned when a match decision id does not exist
	ErrDecisionNotFound = errors.New("match decision not found")
	// ErrUniquenessConflict is returned when an identifier or relationship key is already
	// held by another row. Resolve recovers from it by retrying as a match.
	ErrUniquenessConflict = errors.New("uniqueness conflict")
	// ErrMergeChainCycle is a fatal invariant violation in the merged-into graph
	ErrMergeChainCycle = errors.New("merge chain cycle")
	// ErrMergeTargetAlreadyMerged is returned when the merge target is itself merged away
	ErrMergeTargetAlreadyMerged = errors.New("merge target already merged")
	// ErrMergeSourceAlreadyMerged is returned when the duplicate already merged into a different chain
	ErrMergeSourceAlreadyMerged = errors.New("merge source already merged elsewhere")
	// ErrKindMismatch is returned when merging or linking entities of incompatible kinds
	ErrKindMismatch = errors.New("entity kind mismatch")
	// ErrEntityInUse is returned when purging an entity that still has references
	ErrEntityInUse = errors.New("entity still referenced")
	// ErrIdentifierHeld is returned when an identifier already belongs to a different entity
	ErrIdentifierHeld = errors.New("identifier held by another entity")
	// ErrSelfRelationship is returned when both endpoints of a relationship resolve to one entity
	ErrSelfRelationship = errors.New("relationship endpoints resolve to the same entity")
	// ErrAlreadyResolved is returned when a reviewer acts on a decision that was already resolved
	ErrAlreadyResolved = errors.New("match decision already resolved")
	// ErrConfiguration marks a fatal configuration problem
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError describes a malformed input field. It is never fatal: the field is
// treated as absent.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigurationError describes an invalid matching configuration entry
type ConfigurationError struct {
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error at %s: %s", e.Path, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(path, reason string) *ConfigurationError {
	return &ConfigurationError{Path: path, Reason: reason}
}

// MergeError carries the entity ids involved in a failed merge
type MergeError struct {
	DuplicateID string
	CanonicalID string
	Err         error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s into %s: %v", e.DuplicateID, e.CanonicalID, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// ChainCycleError reports the chain that was walked when a cycle was detected
type ChainCycleError struct {
	StartID string
	Chain   []string
}

func (e *ChainCycleError) Error() string {
	return fmt.Sprintf("merge chain starting at %s does not terminate: %v", e.StartID, e.Chain)
}

func (e *ChainCycleError) Unwrap() error {
	return ErrMergeChainCycle
}
