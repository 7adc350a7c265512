package rag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation signals malformed input or bad parameters (caller's fault).
	ErrValidation = errors.New("validation failed")
	// ErrEmbeddingService signals a non-retryable embedding provider failure.
	ErrEmbeddingService = errors.New("embedding service error")
	// ErrEmbeddingTimeout signals a retryable embedding provider timeout.
	ErrEmbeddingTimeout = errors.New("embedding service timeout")
	// ErrStoreWrite signals a vector backend write failure.
	ErrStoreWrite = errors.New("store write failed")
	// ErrStoreRead signals a vector backend read failure.
	ErrStoreRead = errors.New("store read failed")
	// ErrGenerationAborted signals a turn that could not produce any answer.
	ErrGenerationAborted = errors.New("generation aborted")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
)

// StoreWriteError wraps ErrStoreWrite with the chunk ids that failed to
// persist. Upserts are all-or-nothing per call, so FailedIDs covers the
// whole rejected batch.
type StoreWriteError struct {
	FailedIDs []string
	Cause     error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("%s (%d chunks: %s): %v",
		ErrStoreWrite.Error(), len(e.FailedIDs), strings.Join(e.FailedIDs, ", "), e.Cause)
}

func (e *StoreWriteError) Unwrap() error { return ErrStoreWrite }

// NewStoreWriteError creates a write error for a rejected batch.
func NewStoreWriteError(ids []string, cause error) error {
	return &StoreWriteError{FailedIDs: ids, Cause: cause}
}
