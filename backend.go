package sybilscope

// Backend persists trace events. Implementations are safe for concurrent
// use and preserve the order of appends made by a single caller.
type Backend interface {
	// Append persists one event, all or nothing: the event is serialized
	// first, and nothing is written if serialization fails. It returns
	// *SerializationError for unencodable payloads, *BackendWriteError for
	// I/O failures, and ErrBackendClosed after Close.
	Append(e *TraceEvent) error

	// Flush forces buffered events to durable storage. Calling it with
	// nothing pending is a no-op.
	Flush() error

	// Close flushes pending events and releases the backend. It is
	// idempotent; Append and Flush on a closed backend return
	// ErrBackendClosed.
	Close() error
}

// EventReader is implemented by backends that can hand back the events they
// hold. Events returns a snapshot in append order; the caller owns the
// returned slice.
type EventReader interface {
	Events() ([]*TraceEvent, error)
}
