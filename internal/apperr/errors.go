package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingConfig is returned when a required setting is absent at startup
	ErrMissingConfig = errors.New("missing required setting")

	// ErrEmbeddingFailed signals that the embedding adapter fell back to a zero-vector
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrDimensionMismatch is returned when a vector does not match the collection dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrStoreUnavailable wraps vector/relational store failures
	ErrStoreUnavailable = errors.New("knowledge store unavailable")

	// ErrUnauthorized marks a privileged write attempted by a non-admin identity
	ErrUnauthorized = errors.New("unauthorized")

	// ErrQueueFull is returned when the worker pool cannot accept more tasks
	ErrQueueFull = errors.New("queue is full")

	// ErrEmptyCompletion is returned when the chat API answers without content
	ErrEmptyCompletion = errors.New("empty completion")
)

// Error records the failed operation alongside the underlying cause.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the operation name. A nil err yields nil.
func New(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
