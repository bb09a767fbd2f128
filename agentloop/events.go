package agentloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of session event.
type EventKind string

const (
	EventSessionStart         EventKind = "session_start"
	EventSessionEnd           EventKind = "session_end"
	EventUserInput            EventKind = "user_input"
	EventCommand              EventKind = "command"
	EventCompletionStart      EventKind = "completion_start"
	EventCompletionEnd        EventKind = "completion_end"
	EventToolCallStart        EventKind = "tool_call_start"
	EventToolCallEnd          EventKind = "tool_call_end"
	EventCapabilityLoaded     EventKind = "capability_loaded"
	EventCapabilityLoadFailed EventKind = "capability_load_failed"
	EventDependencyMissing    EventKind = "dependency_missing"
	EventBudgetWarning        EventKind = "budget_warning"
	EventBudgetExhausted      EventKind = "budget_exhausted"
	EventModelChanged         EventKind = "model_changed"
	EventTurnLimit            EventKind = "turn_limit"
	EventLoopDetection        EventKind = "loop_detection"
	EventWarning              EventKind = "warning"
	EventError                EventKind = "error"
)

// SessionEvent is a typed event emitted by the session and its components.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers events to the host application via a channel.
// A nil *EventEmitter drops everything.
type EventEmitter struct {
	sessionID string
	ch        chan SessionEvent
	dropped   int

	mu     sync.Mutex
	closed bool
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(sessionID string, bufferSize int) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventEmitter{
		sessionID: sessionID,
		ch:        make(chan SessionEvent, bufferSize),
	}
}

// Emit sends an event without blocking. Events are dropped when the buffer
// is full or the emitter is closed.
func (e *EventEmitter) Emit(kind EventKind, data map[string]any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		e.dropped++
	}
}

// Dropped counts the events lost to a full buffer.
func (e *EventEmitter) Dropped() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan SessionEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
