package sybilscope

import (
	"errors"
	"fmt"
)

// ErrBackendClosed is returned when a backend is used after Close.
var ErrBackendClosed = errors.New("sybilscope: backend closed")

// SerializationError is returned when an event's payload cannot be encoded
// to JSON. The backend rejects the event before writing anything.
type SerializationError struct {
	EventID int64
	Err     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("sybilscope: serialize event %d: %v", e.EventID, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// BackendWriteError is returned when a backend fails to persist events.
// Op names the failing operation: "append", "flush", or "close".
type BackendWriteError struct {
	Op  string
	Err error
}

func (e *BackendWriteError) Error() string {
	return fmt.Sprintf("sybilscope: backend %s: %v", e.Op, e.Err)
}

func (e *BackendWriteError) Unwrap() error { return e.Err }
