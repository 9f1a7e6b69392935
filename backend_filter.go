package sybilscope

// FilterBackend forwards events that satisfy a predicate to an underlying
// backend and silently drops the rest. Flush and Close pass through.
type FilterBackend struct {
	next Backend
	keep func(*TraceEvent) bool
}

// NewFilterBackend wraps next so only events for which keep returns true are
// appended. A nil keep keeps everything.
func NewFilterBackend(next Backend, keep func(*TraceEvent) bool) *FilterBackend {
	return &FilterBackend{next: next, keep: keep}
}

// KeepTypes returns a predicate that keeps events of the given trace types.
func KeepTypes(types ...TraceType) func(*TraceEvent) bool {
	set := make(map[TraceType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e *TraceEvent) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// Append forwards the event if the predicate keeps it.
func (b *FilterBackend) Append(e *TraceEvent) error {
	if b.keep != nil && !b.keep(e) {
		return nil
	}
	return b.next.Append(e)
}

// Flush flushes the underlying backend.
func (b *FilterBackend) Flush() error { return b.next.Flush() }

// Close closes the underlying backend.
func (b *FilterBackend) Close() error { return b.next.Close() }
