package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown storage driver, backend or provider.
	ErrUnsupportedType = errors.New("unsupported type")

	// Search Errors.

	// ErrValidation indicates the search criteria were rejected before any storage access.
	ErrValidation = errors.New("invalid search criteria")

	// ErrEmbeddingUnavailable indicates a vector-only search could not obtain a query vector.
	// Callers can retry or fall back to a text query.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrProviderUnavailable indicates the embedding provider could not be reached or failed.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrProviderTimeout indicates the embedding provider did not answer in time.
	ErrProviderTimeout = errors.New("embedding provider timeout")

	// ErrDimensionMismatch indicates a stored vector has a different length than the query vector.
	// It is a per-candidate data integrity problem and never fails a search.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrStorage indicates an entity store failed while fetching candidates.
	ErrStorage = errors.New("storage error")

	// Buffer Errors.

	// ErrBufferNotFound indicates no buffer exists under the requested name.
	ErrBufferNotFound = errors.New("buffer not found")

	// ErrBufferExpired indicates the buffer's TTL elapsed. The buffer has been removed.
	ErrBufferExpired = errors.New("buffer expired")
)

// ValidationError describes which criteria field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid search criteria: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StorageError wraps an entity store failure with the entity type involved.
type StorageError struct {
	EntityType EntityType
	Op         string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.EntityType, e.Err)
}

// Unwrap lets errors.Is match both ErrStorage and the underlying cause.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// DimensionMismatchError reports a stored vector whose length differs from the query.
type DimensionMismatchError struct {
	EntityType EntityType
	EntityID   string
	Want       int
	Got        int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %s %s has %d dimensions, query has %d",
		e.EntityType, e.EntityID, e.Got, e.Want)
}

// Unwrap lets errors.Is match ErrDimensionMismatch.
func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}
