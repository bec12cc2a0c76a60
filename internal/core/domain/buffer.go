package domain

import "time"

// Buffer is a named, persisted set of entity references, usually the
// result of a search. Scores are not persisted.
type Buffer struct {
	// Name is the unique key of the buffer.
	Name string `json:"name"`

	// Owner is an optional session or user identifier.
	Owner string `json:"owner,omitempty"`

	// Description is free text shown in listings.
	Description string `json:"description,omitempty"`

	// CreatedAt is when the buffer was last written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the buffer lapses; nil means never.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Refs are the buffered entities in result order.
	Refs []EntityRef `json:"refs"`

	// Criteria is the criteria that produced the buffer, if any.
	Criteria *SearchCriteria `json:"criteria,omitempty"`
}

// Expired reports whether the buffer has lapsed at now.
// A buffer is expired from the instant of ExpiresAt onwards.
func (b *Buffer) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// Summary returns the listing view of the buffer.
func (b *Buffer) Summary() BufferSummary {
	return BufferSummary{
		Name:        b.Name,
		Owner:       b.Owner,
		Description: b.Description,
		Count:       len(b.Refs),
		CreatedAt:   b.CreatedAt,
		ExpiresAt:   b.ExpiresAt,
	}
}

// BufferSummary is the listing view of a buffer.
type BufferSummary struct {
	Name        string     `json:"name"`
	Owner       string     `json:"owner,omitempty"`
	Description string     `json:"description,omitempty"`
	Count       int        `json:"count"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the summarised buffer has lapsed at now.
func (s BufferSummary) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// BufferHandle is returned after a buffer is saved.
type BufferHandle struct {
	Name      string     `json:"name"`
	Count     int        `json:"count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// BufferSaveOptions configures how a buffer is saved.
type BufferSaveOptions struct {
	// TTL sets ExpiresAt relative to the save time; zero uses the configured default.
	TTL time.Duration

	// Owner tags the buffer with a session or user identifier.
	Owner string

	// Description is stored alongside the buffer.
	Description string
}

// BufferOp is a set operation used to combine buffers.
type BufferOp string

// Available buffer set operations.
const (
	BufferUnion      BufferOp = "union"
	BufferIntersect  BufferOp = "intersect"
	BufferDifference BufferOp = "difference"
)

// IsValid returns true if the operation is recognised.
func (o BufferOp) IsValid() bool {
	switch o {
	case BufferUnion, BufferIntersect, BufferDifference:
		return true
	default:
		return false
	}
}
