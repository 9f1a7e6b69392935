package sybilscope

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestTracer(t *testing.T) (*Tracer, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	tracer, err := New(WithBackend(backend), WithNodeID(1))
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}
	return tracer, backend
}

func TestLogRecordsPointEvent(t *testing.T) {
	tracer, backend := newTestTracer(t)

	id, err := tracer.Log(context.Background(), TraceUser, ActionInput, Payload{"text": "find flights"})
	if err != nil {
		t.Fatalf("failed to log: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero event id")
	}

	events, _ := backend.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.ID != id {
		t.Errorf("id: got %d, want %d", e.ID, id)
	}
	if e.ParentID != 0 {
		t.Errorf("parent id: got %d, want 0", e.ParentID)
	}
	if e.Type != TraceUser || e.Action != ActionInput {
		t.Errorf("type/action: got %s/%s", e.Type, e.Action)
	}
	if e.Duration != nil {
		t.Errorf("point event duration: got %v, want nil", e.Duration)
	}
	if e.Timestamp.IsZero() || e.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not UTC: %v", e.Timestamp)
	}
}

func TestLogInfersParentFromContext(t *testing.T) {
	tracer, backend := newTestTracer(t)

	ctx, span, err := tracer.Start(context.Background(), TraceAgent, ActionStart, nil)
	if err != nil {
		t.Fatalf("failed to start span: %v", err)
	}

	if _, err := tracer.Log(ctx, TraceTool, ActionCall, Payload{"name": "search"}); err != nil {
		t.Fatalf("failed to log: %v", err)
	}

	events, _ := backend.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].ParentID != span.ID() {
		t.Errorf("child parent: got %d, want %d", events[1].ParentID, span.ID())
	}
}

func TestLogChildPinsExplicitParent(t *testing.T) {
	tracer, backend := newTestTracer(t)

	ctx, _, err := tracer.Start(context.Background(), TraceAgent, ActionStart, nil)
	if err != nil {
		t.Fatalf("failed to start span: %v", err)
	}

	if _, err := tracer.LogChild(ctx, 42, TraceSystem, ActionProcess, nil); err != nil {
		t.Fatalf("failed to log child: %v", err)
	}

	events, _ := backend.Events()
	if events[1].ParentID != 42 {
		t.Errorf("pinned parent: got %d, want 42", events[1].ParentID)
	}
}

func TestStartPutsSpanOnContext(t *testing.T) {
	tracer, _ := newTestTracer(t)

	if SpanFromContext(context.Background()) != nil {
		t.Fatal("background context should carry no span")
	}

	ctx, span, err := tracer.Start(context.Background(), TraceAgent, ActionStart, nil)
	if err != nil {
		t.Fatalf("failed to start span: %v", err)
	}
	if got := SpanFromContext(ctx); got != span {
		t.Fatalf("context span: got %v, want %v", got, span)
	}
}

func TestSpanEndRecordsDurationedClose(t *testing.T) {
	tracer, backend := newTestTracer(t)

	_, span, err := tracer.Start(context.Background(), TraceLLM, ActionRequest, Payload{"model": "gpt-4o"})
	if err != nil {
		t.Fatalf("failed to start span: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := span.End(); err != nil {
		t.Fatalf("failed to end span: %v", err)
	}

	events, _ := backend.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	closing := events[1]
	if closing.Action != ActionEnd {
		t.Errorf("closing action: got %s, want end", closing.Action)
	}
	if closing.Type != TraceLLM {
		t.Errorf("closing type: got %s, want llm", closing.Type)
	}
	if closing.ParentID != span.ID() {
		t.Errorf("closing parent: got %d, want %d", closing.ParentID, span.ID())
	}
	if closing.Duration == nil {
		t.Fatal("closing event should carry a duration")
	}
	if *closing.Duration <= 0 {
		t.Errorf("duration: got %v, want > 0", *closing.Duration)
	}
}

func TestSpanCloseIsIdempotent(t *testing.T) {
	tracer, backend := newTestTracer(t)

	_, span, err := tracer.Start(context.Background(), TraceAgent, ActionStart, nil)
	if err != nil {
		t.Fatalf("failed to start span: %v", err)
	}
	if err := span.End(); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if err := span.End(); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if err := span.Fail(errors.New("late")); err != nil {
		t.Fatalf("fail after end: %v", err)
	}

	events, _ := backend.Events()
	if len(events) != 2 {
		t.Fatalf("expected exactly one closing event, got %d events", len(events))
	}
}

func TestSpanFailRecordsError(t *testing.T) {
	tracer, backend := newTestTracer(t)

	_, span, err := tracer.Start(context.Background(), TraceTool, ActionCall, Payload{"name": "http_get"})
	if err != nil {
		t.Fatalf("failed to start span: %v", err)
	}
	if err := span.Fail(errors.New("connection refused")); err != nil {
		t.Fatalf("failed to fail span: %v", err)
	}

	events, _ := backend.Events()
	closing := events[1]
	if closing.Action != ActionError {
		t.Errorf("closing action: got %s, want error", closing.Action)
	}
	if closing.Payload["error"] != "connection refused" {
		t.Errorf("error payload: got %v", closing.Payload["error"])
	}
	if closing.Payload["error_type"] == "" {
		t.Error("error_type payload should be set")
	}
	if closing.Duration == nil {
		t.Error("error close should carry a duration")
	}
}

func TestTraceEmitsEndOnSuccess(t *testing.T) {
	tracer, backend := newTestTracer(t)

	err := tracer.Trace(context.Background(), TraceAgent, ActionStart, Payload{"name": "planner"},
		func(ctx context.Context) error {
			_, err := tracer.Log(ctx, TraceLLM, ActionRequest, nil)
			return err
		})
	if err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	events, _ := backend.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	opening, inner, closing := events[0], events[1], events[2]
	if inner.ParentID != opening.ID {
		t.Errorf("inner parent: got %d, want %d", inner.ParentID, opening.ID)
	}
	if closing.Action != ActionEnd || closing.ParentID != opening.ID {
		t.Errorf("closing: action %s, parent %d, want end under %d",
			closing.Action, closing.ParentID, opening.ID)
	}
}

func TestTurnRecordsFourLinkedEvents(t *testing.T) {
	tracer, backend := newTestTracer(t)
	ctx := context.Background()

	if _, err := tracer.Log(ctx, TraceUser, ActionInput, Payload{"message": "Hello"}); err != nil {
		t.Fatalf("failed to log input: %v", err)
	}
	err := tracer.Trace(ctx, TraceAgent, ActionStart, nil, func(ctx context.Context) error {
		_, err := tracer.Log(ctx, TraceTool, ActionInput, Payload{"tool": "search"})
		return err
	})
	if err != nil {
		t.Fatalf("trace failed: %v", err)
	}

	events, _ := backend.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	input, agentOpen, toolLog, agentClose := events[0], events[1], events[2], events[3]
	if input.ParentID != 0 {
		t.Errorf("input should be a root, got parent %d", input.ParentID)
	}
	if toolLog.ParentID != agentOpen.ID {
		t.Errorf("tool event parent: got %d, want %d", toolLog.ParentID, agentOpen.ID)
	}
	if agentClose.Action != ActionEnd {
		t.Errorf("closing action: got %s, want end", agentClose.Action)
	}
	if agentClose.Duration == nil || *agentClose.Duration < 0 {
		t.Errorf("closing duration: got %v, want non-negative", agentClose.Duration)
	}
}

func TestTraceEmitsErrorAndPropagates(t *testing.T) {
	tracer, backend := newTestTracer(t)

	boom := errors.New("boom")
	err := tracer.Trace(context.Background(), TraceAgent, ActionStart, nil,
		func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom to propagate, got %v", err)
	}

	events, _ := backend.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	closing := events[1]
	if closing.Action != ActionError {
		t.Errorf("closing action: got %s, want error", closing.Action)
	}
	if closing.Payload["error"] != "boom" {
		t.Errorf("error payload: got %v", closing.Payload["error"])
	}
}

func TestTraceClosesSpanOnPanic(t *testing.T) {
	tracer, backend := newTestTracer(t)

	func() {
		defer func() {
			v := recover()
			if v == nil {
				t.Fatal("expected the panic to propagate")
			}
			if v != "kaboom" {
				t.Fatalf("unexpected panic value: %v", v)
			}
		}()
		tracer.Trace(context.Background(), TraceAgent, ActionStart, nil,
			func(context.Context) error { panic("kaboom") })
	}()

	events, _ := backend.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	closing := events[1]
	if closing.Action != ActionError {
		t.Errorf("closing action: got %s, want error", closing.Action)
	}
	if closing.Payload["error"] != "kaboom" {
		t.Errorf("error payload: got %v", closing.Payload["error"])
	}
	if closing.Payload["error_type"] != "panic" {
		t.Errorf("error_type payload: got %v", closing.Payload["error_type"])
	}
	if closing.Duration == nil {
		t.Error("panic close should carry a duration")
	}
}

// failingBackend accepts the first n appends and fails the rest.
type failingBackend struct {
	n     int
	count int
}

func (b *failingBackend) Append(*TraceEvent) error {
	b.count++
	if b.count > b.n {
		return &BackendWriteError{Op: "append", Err: errors.New("disk full")}
	}
	return nil
}

func (b *failingBackend) Flush() error { return nil }
func (b *failingBackend) Close() error { return nil }

func TestTraceJoinsUserAndCloseErrors(t *testing.T) {
	tracer, err := New(WithBackend(&failingBackend{n: 1}), WithNodeID(1))
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}

	boom := errors.New("boom")
	err = tracer.Trace(context.Background(), TraceAgent, ActionStart, nil,
		func(context.Context) error { return boom })

	if !errors.Is(err, boom) {
		t.Fatalf("user error lost: %v", err)
	}
	var werr *BackendWriteError
	if !errors.As(err, &werr) {
		t.Fatalf("close error lost: %v", err)
	}
}

func TestStartSurfacesBackendErrors(t *testing.T) {
	tracer, err := New(WithBackend(&failingBackend{n: 0}), WithNodeID(1))
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}

	_, span, err := tracer.Start(context.Background(), TraceAgent, ActionStart, nil)
	var werr *BackendWriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected BackendWriteError, got %v", err)
	}
	if span != nil {
		t.Fatal("no span should be returned when the opening event fails")
	}
}

func TestIDsAreStrictlyIncreasing(t *testing.T) {
	tracer, _ := newTestTracer(t)

	var prev int64
	for i := 0; i < 50; i++ {
		id, err := tracer.Log(context.Background(), TraceSystem, ActionProcess, nil)
		if err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestTimestampsNeverRegress(t *testing.T) {
	tracer, backend := newTestTracer(t)

	for i := 0; i < 50; i++ {
		if _, err := tracer.Log(context.Background(), TraceSystem, ActionProcess, nil); err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
	}

	events, _ := backend.Events()
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("timestamp regressed at event %d: %v < %v",
				i, events[i].Timestamp, events[i-1].Timestamp)
		}
	}
}

func TestConcurrentSpansKeepIndependentParents(t *testing.T) {
	tracer, backend := newTestTracer(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			ctx, span, err := tracer.Start(context.Background(), TraceAgent, ActionStart, Payload{"worker": worker})
			if err != nil {
				t.Errorf("worker %d: start: %v", worker, err)
				return
			}
			if _, err := tracer.Log(ctx, TraceTool, ActionCall, Payload{"worker": worker}); err != nil {
				t.Errorf("worker %d: log: %v", worker, err)
			}
			if err := span.End(); err != nil {
				t.Errorf("worker %d: end: %v", worker, err)
			}
		}(i)
	}
	wg.Wait()

	events, _ := backend.Events()
	if len(events) != 12 {
		t.Fatalf("expected 12 events, got %d", len(events))
	}

	opening := make(map[int]int64)
	for _, e := range events {
		if e.Action == ActionStart {
			opening[e.Payload["worker"].(int)] = e.ID
		}
	}
	for _, e := range events {
		if e.Action == ActionCall {
			worker := e.Payload["worker"].(int)
			if e.ParentID != opening[worker] {
				t.Errorf("worker %d call parented to %d, want %d", worker, e.ParentID, opening[worker])
			}
		}
	}
}

func TestDefaultNodeIDIsStableAndInRange(t *testing.T) {
	a, b := defaultNodeID(), defaultNodeID()
	if a != b {
		t.Fatalf("node id not stable: %d vs %d", a, b)
	}
	if a < 0 || a > 1023 {
		t.Fatalf("node id out of range: %d", a)
	}
}

func TestNewRejectsOutOfRangeNode(t *testing.T) {
	if _, err := New(WithNodeID(1024)); err == nil {
		t.Fatal("expected error for out-of-range node id")
	}
}

func TestWithConfigControlsFileLocation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	tracer, err := New(WithConfig(Config{Dir: dir, Prefix: "run"}))
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}

	if _, err := tracer.Log(context.Background(), TraceUser, ActionInput, nil); err != nil {
		t.Fatalf("failed to log: %v", err)
	}
	if err := tracer.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	fb, ok := tracer.Backend().(*FileBackend)
	if !ok {
		t.Fatalf("expected file backend, got %T", tracer.Backend())
	}
	if filepath.Dir(fb.Path()) != dir {
		t.Errorf("trace file in %q, want %q", filepath.Dir(fb.Path()), dir)
	}
	if !strings.HasPrefix(filepath.Base(fb.Path()), "run_") {
		t.Errorf("trace file %q missing prefix", filepath.Base(fb.Path()))
	}

	events, err := ReadFile(fb.Path())
	if err != nil {
		t.Fatalf("failed to read trace file: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}

func TestFlushMakesBufferedEventsReadable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	tracer, err := New(WithConfig(Config{Dir: dir}))
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}
	defer tracer.Close()

	if _, err := tracer.Log(context.Background(), TraceUser, ActionInput, nil); err != nil {
		t.Fatalf("failed to log: %v", err)
	}
	if err := tracer.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	path := tracer.Backend().(*FileBackend).Path()
	events, err := ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read trace file: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after flush, got %d", len(events))
	}
}
