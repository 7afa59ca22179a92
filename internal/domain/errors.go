package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects bad input before any work begins.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExtractionError marks a single unreadable file or page. Batch ingestion
// skips the item and continues.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError wraps a failed embedding provider call.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError wraps a failed LLM call. Callers must be able to tell this
// apart from the no-context fallback, which is a normal answer.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IndexConsistencyError reports the corpus store and the vector index
// disagreeing after a clear or delete.
type IndexConsistencyError struct {
	MetaChunks  int
	IndexChunks int
}

func (e *IndexConsistencyError) Error() string {
	return fmt.Sprintf("index consistency: store reports %d chunks, index reports %d", e.MetaChunks, e.IndexChunks)
}
