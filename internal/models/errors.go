package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyIndex is returned when a vector index is searched before any vectors are built.
	ErrEmptyIndex = errors.New("empty index")
	// ErrUnknownLayer is returned for layer names outside the closed set.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrInvalidArgument is returned for malformed caller input (k <= 0, blank query, bad UTF-8).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIndexLoad is returned when persisted layer files are missing or structurally invalid.
	ErrIndexLoad = errors.New("index load failed")
	// ErrGenerationUnavailable is returned when the answer generator fails.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrTimeout is returned when an embedding or generation call exceeds its deadline.
	ErrTimeout = errors.New("timeout")
)

// OpError records the operation and layer that failed.
type OpError struct {
	Op    string
	Layer Layer
	Err   error
}

func (e *OpError) Error() string {
	if e.Layer.Valid() {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Layer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with op and layer context. A nil err stays nil.
func WrapError(op string, layer Layer, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Layer: layer, Err: err}
}
