// Package testing provides test utilities and helpers for miso users.
// These utilities help users test their own miso-based applications.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/miso"
)

// StatementEvent represents a captured statement lifecycle event.
type StatementEvent struct {
	Stage     string // "compiled", "started", "completed", "failed" or "skipped"
	Statement string
	Table     string
	Operation string
	SQL       string
	Error     string
	Timestamp time.Time
}

// StatementCapture captures statement events for testing and verification.
// Thread-safe for concurrent capture.
type StatementCapture struct {
	events []StatementEvent
	mu     sync.Mutex
}

// NewStatementCapture creates a new StatementCapture instance.
func NewStatementCapture() *StatementCapture {
	return &StatementCapture{
		events: make([]StatementEvent, 0),
	}
}

// Handler returns an EventCallback that records statement events.
// Hook it to any of the miso.Statement* signals.
func (sc *StatementCapture) Handler() capitan.EventCallback {
	return func(_ context.Context, e *capitan.Event) {
		var stage string
		switch e.Signal() {
		case miso.StatementCompiled:
			stage = "compiled"
		case miso.StatementStarted:
			stage = "started"
		case miso.StatementCompleted:
			stage = "completed"
		case miso.StatementFailed:
			stage = "failed"
		case miso.StatementSkipped:
			stage = "skipped"
		default:
			return
		}

		ev := StatementEvent{Stage: stage, Timestamp: time.Now()}
		ev.Statement, _ = miso.KeyStatement.From(e)
		ev.Table, _ = miso.KeyTable.From(e)
		ev.Operation, _ = miso.KeyOperation.From(e)
		ev.SQL, _ = miso.KeySQL.From(e)
		ev.Error, _ = miso.KeyError.From(e)

		sc.mu.Lock()
		defer sc.mu.Unlock()
		sc.events = append(sc.events, ev)
	}
}

// Events returns a copy of all captured events.
func (sc *StatementCapture) Events() []StatementEvent {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	result := make([]StatementEvent, len(sc.events))
	copy(result, sc.events)
	return result
}

// Count returns the number of captured events.
func (sc *StatementCapture) Count() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.events)
}

// Reset clears all captured events.
func (sc *StatementCapture) Reset() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.events = sc.events[:0]
}

// Last returns the most recently captured event, or nil if none.
func (sc *StatementCapture) Last() *StatementEvent {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.events) == 0 {
		return nil
	}
	ev := sc.events[len(sc.events)-1]
	return &ev
}

// ByStage returns all captured events of a lifecycle stage.
func (sc *StatementCapture) ByStage(stage string) []StatementEvent {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	result := make([]StatementEvent, 0)
	for _, ev := range sc.events {
		if ev.Stage == stage {
			result = append(result, ev)
		}
	}
	return result
}

// ByTable returns all captured events for a table.
func (sc *StatementCapture) ByTable(table string) []StatementEvent {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	result := make([]StatementEvent, 0)
	for _, ev := range sc.events {
		if ev.Table == table {
			result = append(result, ev)
		}
	}
	return result
}

// WaitForCount blocks until the capture has at least n events or timeout occurs.
func (sc *StatementCapture) WaitForCount(n int, timeout time.Duration) bool {
	return waitFor(sc.Count, n, timeout)
}

// CapabilityEvent represents a captured capability registry event.
type CapabilityEvent struct {
	Action    string // "added", "removed" or "not_found"
	Table     string
	Name      string
	Timestamp time.Time
}

// CapabilityCapture captures capability registry events.
// Thread-safe for concurrent capture.
type CapabilityCapture struct {
	events []CapabilityEvent
	mu     sync.Mutex
}

// NewCapabilityCapture creates a new CapabilityCapture instance.
func NewCapabilityCapture() *CapabilityCapture {
	return &CapabilityCapture{
		events: make([]CapabilityEvent, 0),
	}
}

// Handler returns an EventCallback that captures capability events.
func (cc *CapabilityCapture) Handler() capitan.EventCallback {
	return func(_ context.Context, e *capitan.Event) {
		var action string
		switch e.Signal() {
		case miso.CapabilityAdded:
			action = "added"
		case miso.CapabilityRemoved:
			action = "removed"
		case miso.CapabilityNotFound:
			action = "not_found"
		default:
			return
		}

		table, _ := miso.KeyTable.From(e)
		name, _ := miso.KeyCapability.From(e)

		cc.mu.Lock()
		defer cc.mu.Unlock()
		cc.events = append(cc.events, CapabilityEvent{
			Action:    action,
			Table:     table,
			Name:      name,
			Timestamp: time.Now(),
		})
	}
}

// Events returns a copy of all captured capability events.
func (cc *CapabilityCapture) Events() []CapabilityEvent {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	result := make([]CapabilityEvent, len(cc.events))
	copy(result, cc.events)
	return result
}

// Count returns the number of captured capability events.
func (cc *CapabilityCapture) Count() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.events)
}

// ByAction returns all captured events with the given action.
func (cc *CapabilityCapture) ByAction(action string) []CapabilityEvent {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	result := make([]CapabilityEvent, 0)
	for _, ev := range cc.events {
		if ev.Action == action {
			result = append(result, ev)
		}
	}
	return result
}

// ByTable returns all captured events for a table.
func (cc *CapabilityCapture) ByTable(table string) []CapabilityEvent {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	result := make([]CapabilityEvent, 0)
	for _, ev := range cc.events {
		if ev.Table == table {
			result = append(result, ev)
		}
	}
	return result
}

// Reset clears all captured capability events.
func (cc *CapabilityCapture) Reset() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.events = cc.events[:0]
}

// WaitForCount blocks until the capture has at least n events or timeout occurs.
func (cc *CapabilityCapture) WaitForCount(n int, timeout time.Duration) bool {
	return waitFor(cc.Count, n, timeout)
}

func waitFor(count func() int, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if count() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// RowBuilder helps construct test rows.
type RowBuilder struct {
	row miso.Row
}

// NewRowBuilder creates a new RowBuilder instance.
func NewRowBuilder() *RowBuilder {
	return &RowBuilder{
		row: make(miso.Row),
	}
}

// Set adds a field to the row.
func (rb *RowBuilder) Set(field string, value any) *RowBuilder {
	rb.row[field] = value
	return rb
}

// Build returns a copy of the constructed row.
func (rb *RowBuilder) Build() miso.Row {
	result := make(miso.Row, len(rb.row))
	for k, v := range rb.row {
		result[k] = v
	}
	return result
}

// Reset clears the builder.
func (rb *RowBuilder) Reset() *RowBuilder {
	rb.row = make(miso.Row)
	return rb
}
