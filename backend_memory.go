package sybilscope

import "sync"

// MemoryBackend holds events in memory. It is meant for tests and for
// programs that inspect traces without persisting them. Payloads are stored
// as given, not serialized, so serialization errors never arise here.
type MemoryBackend struct {
	mu     sync.Mutex
	events []*TraceEvent
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Append stores the event.
func (b *MemoryBackend) Append(e *TraceEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	b.events = append(b.events, e)
	return nil
}

// Flush is a no-op; events are already held in memory.
func (b *MemoryBackend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	return nil
}

// Close marks the backend closed. Stored events remain readable through
// Events.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Events returns a copy of the stored events in append order.
func (b *MemoryBackend) Events() ([]*TraceEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*TraceEvent, len(b.events))
	copy(out, b.events)
	return out, nil
}

// Len reports how many events are stored.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
