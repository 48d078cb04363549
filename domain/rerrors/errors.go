// Package rerrors defines the error taxonomy shared across rephole's
// components. Errors are distinguished by kind, not by concrete type, so
// callers classify with errors.Is/errors.As against the sentinels below
// rather than switching on package-private structs.
package rerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds. Wrap one of these with fmt.Errorf("...: %w", ErrX) to
// preserve classification while adding context.
var (
	// ErrValidation marks a request that failed input validation: a bad
	// URL, non-primitive meta, or an unparsable repoId. Producer-side,
	// surfaced synchronously as a 400-class response.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a lookup that found nothing, e.g. an unknown jobId.
	ErrNotFound = errors.New("not found")

	// ErrTransientExternal marks a failure in an external collaborator
	// (vector store, embedding backend, git remote) that is safe to retry
	// with backoff at the queue level.
	ErrTransientExternal = errors.New("transient external failure")

	// ErrParserFailure marks a grammar load or parse error. Per-file
	// occurrences are logged and skipped; if every grammar fails to load
	// at startup, callers should treat this as fatal.
	ErrParserFailure = errors.New("parser failure")

	// ErrBadChunkBatch marks a batch of chunks with duplicate IDs,
	// detected before upsert. The offending file is hard-failed without
	// touching the vector collection.
	ErrBadChunkBatch = errors.New("duplicate chunk ids in batch")

	// ErrIrrecoverableState marks a working clone that is missing even
	// though repo state says it exists. The worker heals by re-cloning on
	// the next job; if that also fails, the job is parked for inspection.
	ErrIrrecoverableState = errors.New("irrecoverable repository state")
)

// ValidationError carries the field-level detail behind ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for the named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidationErrors aggregates multiple field failures from one request.
type ValidationErrors struct {
	Errors []*ValidationError
}

// Error implements the error interface, joining every field message.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation error"
	}
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) succeed.
func (e *ValidationErrors) Unwrap() error { return ErrValidation }

// Add appends a field failure.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, NewValidationError(field, message))
}

// HasErrors reports whether any field failure was recorded.
func (e *ValidationErrors) HasErrors() bool { return len(e.Errors) > 0 }

// NotFoundError names the kind and identifier of a missing resource.
type NotFoundError struct {
	Kind string
	ID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Unwrap lets errors.Is(err, ErrNotFound) succeed.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// BadChunkBatchError lists the chunk IDs that collided within one batch.
type BadChunkBatchError struct {
	FilePath    string
	DuplicateID []string
}

// Error implements the error interface.
func (e *BadChunkBatchError) Error() string {
	return fmt.Sprintf("duplicate chunk ids in %s: %s", e.FilePath, strings.Join(e.DuplicateID, ", "))
}

// Unwrap lets errors.Is(err, ErrBadChunkBatch) succeed.
func (e *BadChunkBatchError) Unwrap() error { return ErrBadChunkBatch }

// NewBadChunkBatchError builds a BadChunkBatchError.
func NewBadChunkBatchError(filePath string, duplicates []string) *BadChunkBatchError {
	return &BadChunkBatchError{FilePath: filePath, DuplicateID: duplicates}
}
