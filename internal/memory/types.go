package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors for memory store operations.
var (
	ErrStoreUnavailable = errors.New("memory store unavailable")
	ErrInvalidMemory    = errors.New("invalid memory")
	ErrEmptyUserID      = errors.New("user ID cannot be empty")
	ErrInvalidType      = errors.New("invalid memory type")
	ErrInvalidContent   = errors.New("content must be valid JSON")
)

// Type classifies a memory record. The set is closed and validated at the
// store boundary so downstream adaptation logic can pattern-match safely.
type Type string

const (
	// TypePreference holds user preferences (tone, verbosity, format).
	TypePreference Type = "preference"

	// TypePattern holds observed behavioral patterns.
	TypePattern Type = "pattern"

	// TypeKnowledge holds facts the user has established in past sessions.
	TypeKnowledge Type = "knowledge"

	// TypeInteraction holds summaries of past interactions.
	TypeInteraction Type = "interaction"
)

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	switch t {
	case TypePreference, TypePattern, TypeKnowledge, TypeInteraction:
		return true
	}
	return false
}

// AllTypes returns every valid memory type.
func AllTypes() []Type {
	return []Type{TypePreference, TypePattern, TypeKnowledge, TypeInteraction}
}

// Memory is a persistent, user-scoped structured record.
type Memory struct {
	// ID is the store-assigned record identifier (UUID).
	ID string `json:"id"`

	// UserID scopes the record to its owner. Required.
	UserID string `json:"user_id"`

	// Type classifies the record and defines the content shape.
	Type Type `json:"memory_type"`

	// Title is an optional label used for lookup.
	Title string `json:"title,omitempty"`

	// Content is the structured payload, shape defined by Type.
	Content json.RawMessage `json:"content"`

	// ImportanceScore ranks the record for retrieval. Always in [0,1].
	ImportanceScore float64 `json:"importance_score"`

	// RelevanceTags are labels used for overlap-based query filtering.
	RelevanceTags []string `json:"relevance_tags"`

	// AccessCount counts reads of this record. Advisory, never decreases.
	AccessCount int64 `json:"access_count"`

	// LastAccessedAt is the time of the most recent read.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// ExpiresAt is advisory expiry metadata for a caller-driven sweep.
	// The store never auto-expires records.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Metadata is an opaque payload.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks fields that must hold before a record can be persisted.
func (m *Memory) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	if len(m.Content) == 0 || !json.Valid(m.Content) {
		return ErrInvalidContent
	}
	// Preference payloads are pattern-matched downstream; they must be
	// JSON objects.
	if m.Type == TypePreference {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(m.Content, &obj); err != nil {
			return fmt.Errorf("%w: preference content must be a JSON object", ErrInvalidContent)
		}
	}
	if len(m.Metadata) > 0 && !json.Valid(m.Metadata) {
		return fmt.Errorf("%w: metadata", ErrInvalidContent)
	}
	return nil
}

// clampScore normalizes an importance score into [0,1].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// QueryOptions filters and paginates a memory query.
type QueryOptions struct {
	// UserID is required; queries never cross user boundaries.
	UserID string

	// Type filters by memory type when non-empty.
	Type Type

	// Title filters by exact title when non-empty.
	Title string

	// MinImportanceScore is an inclusive lower bound.
	MinImportanceScore float64

	// RelevanceTags filters to records whose tags overlap ANY given tag.
	RelevanceTags []string

	// Limit defaults to 100, Offset to 0.
	Limit  int
	Offset int
}

// Patch is a partial update. Nil fields are left unchanged. The patchable
// field set is restricted: user, type, and access stats cannot be patched.
type Patch struct {
	Title           *string
	Content         json.RawMessage
	Metadata        json.RawMessage
	ImportanceScore *float64
	RelevanceTags   *[]string
	ExpiresAt       *time.Time
}
