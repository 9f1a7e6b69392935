package sybilscope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type spanCtxKey struct{}

// Span is the handle for an open span: the region between an opening event
// and the END or ERROR event that closes it. A span is closed exactly once;
// whichever of End or Fail runs first wins, and later calls are no-ops
// returning nil.
type Span struct {
	tracer *Tracer
	id     int64
	typ    TraceType
	start  time.Time

	mu   sync.Mutex
	done bool
}

// ID returns the id of the span's opening event. Children recorded under
// the span carry it as their parent id.
func (s *Span) ID() int64 { return s.id }

// End closes the span with an END event carrying the elapsed duration.
func (s *Span) End() error {
	return s.close(ActionEnd, nil)
}

// Fail closes the span with an ERROR event recording err and its type
// alongside the elapsed duration.
func (s *Span) Fail(err error) error {
	if err == nil {
		err = errors.New("unknown error")
	}
	return s.close(ActionError, Payload{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
}

// close emits the closing event once. Append failures surface to whichever
// caller performed the close.
func (s *Span) close(action ActionType, payload Payload) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	s.mu.Unlock()
	return s.tracer.closeSpan(s, action, payload)
}

// SpanFromContext returns the innermost open span carried by ctx, or nil
// when nothing is open.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanCtxKey{}).(*Span)
	return s
}

func contextWithSpan(ctx context.Context, s *Span) context.Context {
	return context.WithValue(ctx, spanCtxKey{}, s)
}

func parentFromContext(ctx context.Context) int64 {
	if s := SpanFromContext(ctx); s != nil {
		return s.id
	}
	return 0
}
