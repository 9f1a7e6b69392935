package sybilscope

import (
	"encoding/json"
	"fmt"
	"time"
)

// TraceType identifies the kind of actor an event belongs to.
type TraceType string

const (
	TraceUser   TraceType = "user"
	TraceAgent  TraceType = "agent"
	TraceLLM    TraceType = "llm"
	TraceTool   TraceType = "tool"
	TraceSystem TraceType = "system"
)

// Valid reports whether t is a known trace type.
func (t TraceType) Valid() bool {
	switch t {
	case TraceUser, TraceAgent, TraceLLM, TraceTool, TraceSystem:
		return true
	}
	return false
}

// ActionType identifies what an event records within its trace type.
type ActionType string

const (
	ActionInput   ActionType = "input"
	ActionStart   ActionType = "start"
	ActionEnd     ActionType = "end"
	ActionError   ActionType = "error"
	ActionProcess ActionType = "process"
	ActionRequest ActionType = "request"
	ActionRespond ActionType = "respond"
	ActionCall    ActionType = "call"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionInput, ActionStart, ActionEnd, ActionError,
		ActionProcess, ActionRequest, ActionRespond, ActionCall:
		return true
	}
	return false
}

// Closing reports whether a closes a span. Closing events carry a duration
// and reference the span's opening event via parent id.
func (a ActionType) Closing() bool {
	return a == ActionEnd || a == ActionError
}

// Payload carries the free-form attributes of an event. Values must be
// JSON-serializable; a value that is not surfaces as *SerializationError
// when the event is appended, never earlier.
type Payload map[string]any

// TimestampFormat is the wire layout for event timestamps: UTC with
// microsecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// TraceEvent is one recorded event. ParentID zero marks a root; any other
// value references an earlier event. Duration is set, in milliseconds, only
// on events that close a span. Events are identified by ID alone.
type TraceEvent struct {
	ID        int64
	ParentID  int64
	Type      TraceType
	Action    ActionType
	Timestamp time.Time
	Payload   Payload
	Duration  *float64
}

type eventJSON struct {
	ID        int64      `json:"id"`
	ParentID  *int64     `json:"parent_id,omitempty"`
	Type      TraceType  `json:"trace_type"`
	Action    ActionType `json:"action_type"`
	Timestamp string     `json:"timestamp"`
	Payload   Payload    `json:"payload"`
	Duration  *float64   `json:"duration,omitempty"`
}

// MarshalJSON encodes the event in its on-disk shape: parent_id is omitted
// for roots, duration for non-closing events, and the payload is always an
// object.
func (e *TraceEvent) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID:        e.ID,
		Type:      e.Type,
		Action:    e.Action,
		Timestamp: e.Timestamp.UTC().Format(TimestampFormat),
		Payload:   e.Payload,
		Duration:  e.Duration,
	}
	if e.ParentID != 0 {
		out.ParentID = &e.ParentID
	}
	if out.Payload == nil {
		out.Payload = Payload{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an event from its on-disk shape. Timestamps in the
// native layout or any RFC 3339 form are accepted.
func (e *TraceEvent) UnmarshalJSON(data []byte) error {
	var in eventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	ts, err := time.Parse(TimestampFormat, in.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, in.Timestamp)
		if err != nil {
			return fmt.Errorf("sybilscope: parse timestamp %q: %w", in.Timestamp, err)
		}
	}
	e.ID = in.ID
	e.ParentID = 0
	if in.ParentID != nil {
		e.ParentID = *in.ParentID
	}
	e.Type = in.Type
	e.Action = in.Action
	e.Timestamp = ts.UTC()
	e.Payload = in.Payload
	e.Duration = in.Duration
	return nil
}
