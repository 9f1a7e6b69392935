package sybilscope

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Option configures a Tracer at creation time.
type Option func(*tracerConfig)

type tracerConfig struct {
	backend Backend
	nodeID  int64
	cfg     *Config
}

// WithBackend sets the backend events are appended to. The default is a
// file backend writing under the "traces" directory.
func WithBackend(b Backend) Option {
	return func(c *tracerConfig) { c.backend = b }
}

// WithNodeID pins the id-generator node (0..1023). The default is derived
// from the hostname, so concurrent processes on different hosts do not
// collide.
func WithNodeID(id int64) Option {
	return func(c *tracerConfig) { c.nodeID = id }
}

// WithConfig builds the default file backend from cfg. Ignored when
// WithBackend is also given.
func WithConfig(cfg Config) Option {
	return func(c *tracerConfig) { c.cfg = &cfg }
}

// Tracer records trace events through a Backend. All methods are safe for
// concurrent use; events recorded by a single goroutine reach the backend
// in the order they were made.
type Tracer struct {
	backend Backend
	node    *snowflake.Node

	mu   sync.Mutex
	last time.Time
}

// New creates a Tracer. Without options it writes JSONL files under the
// default trace directory.
func New(opts ...Option) (*Tracer, error) {
	c := tracerConfig{nodeID: -1}
	for _, opt := range opts {
		opt(&c)
	}
	nodeID := c.nodeID
	if nodeID < 0 {
		nodeID = defaultNodeID()
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("sybilscope: create id node: %w", err)
	}
	backend := c.backend
	if backend == nil {
		if c.cfg != nil {
			backend = NewFileBackend(FileWithConfig(*c.cfg))
		} else {
			backend = NewFileBackend()
		}
	}
	return &Tracer{backend: backend, node: node}, nil
}

// defaultNodeID hashes the hostname into the snowflake node space so ids
// from different hosts stay distinct without coordination.
func defaultNodeID() int64 {
	host, err := os.Hostname()
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(host))
	return int64(h.Sum64() % 1024)
}

// now returns the event timestamp: UTC, microsecond precision, clamped so
// timestamps never regress even if the wall clock does.
func (t *Tracer) now() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(t.last) {
		now = t.last
	}
	t.last = now
	return now
}

// Backend returns the backend events are appended to.
func (t *Tracer) Backend() Backend { return t.backend }

// Log records a point event. The parent is the innermost span carried by
// ctx, or zero when none is open. It returns the new event's id.
func (t *Tracer) Log(ctx context.Context, typ TraceType, action ActionType, payload Payload) (int64, error) {
	return t.LogChild(ctx, parentFromContext(ctx), typ, action, payload)
}

// LogChild records a point event under an explicit parent id, bypassing the
// span carried by ctx. A zero parentID makes the event a root.
func (t *Tracer) LogChild(ctx context.Context, parentID int64, typ TraceType, action ActionType, payload Payload) (int64, error) {
	e := &TraceEvent{
		ID:        t.node.Generate().Int64(),
		ParentID:  parentID,
		Type:      typ,
		Action:    action,
		Timestamp: t.now(),
		Payload:   payload,
	}
	if err := t.backend.Append(e); err != nil {
		return 0, err
	}
	return e.ID, nil
}

// Start opens a span: it records the opening event and returns a context
// that makes the new span the parent of everything recorded through it.
// The span must be closed with End or Fail; Trace does this automatically.
func (t *Tracer) Start(ctx context.Context, typ TraceType, action ActionType, payload Payload) (context.Context, *Span, error) {
	return t.StartChild(ctx, parentFromContext(ctx), typ, action, payload)
}

// StartChild opens a span under an explicit parent id.
func (t *Tracer) StartChild(ctx context.Context, parentID int64, typ TraceType, action ActionType, payload Payload) (context.Context, *Span, error) {
	start := t.now()
	e := &TraceEvent{
		ID:        t.node.Generate().Int64(),
		ParentID:  parentID,
		Type:      typ,
		Action:    action,
		Timestamp: start,
		Payload:   payload,
	}
	if err := t.backend.Append(e); err != nil {
		return ctx, nil, err
	}
	s := &Span{tracer: t, id: e.ID, typ: typ, start: start}
	return contextWithSpan(ctx, s), s, nil
}

// closeSpan records the closing event for s: same trace type as the
// opener, parented to it, with the elapsed time in milliseconds.
func (t *Tracer) closeSpan(s *Span, action ActionType, payload Payload) error {
	end := t.now()
	ms := float64(end.Sub(s.start)) / float64(time.Millisecond)
	e := &TraceEvent{
		ID:        t.node.Generate().Int64(),
		ParentID:  s.id,
		Type:      s.typ,
		Action:    action,
		Timestamp: end,
		Payload:   payload,
		Duration:  &ms,
	}
	return t.backend.Append(e)
}

// Trace runs fn inside a new span and closes it exactly once on every exit
// path: END on a normal return, ERROR when fn returns an error or panics.
// Panics are re-raised after the span is closed. When both fn and the close
// fail, the errors are joined so neither is lost.
func (t *Tracer) Trace(ctx context.Context, typ TraceType, action ActionType, payload Payload, fn func(context.Context) error) error {
	ctx, span, err := t.Start(ctx, typ, action, payload)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			span.close(ActionError, Payload{
				"error":      fmt.Sprint(v),
				"error_type": "panic",
			})
			panic(v)
		}
	}()
	err = fn(ctx)
	var cerr error
	if err != nil {
		cerr = span.Fail(err)
	} else {
		cerr = span.End()
	}
	if cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// Flush forces buffered events to durable storage.
func (t *Tracer) Flush() error { return t.backend.Flush() }

// Close flushes and closes the tracer's backend.
func (t *Tracer) Close() error { return t.backend.Close() }
