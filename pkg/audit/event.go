// Package audit records one event per device per deployment.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is the audit record of one device's transaction.
type Event struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	User       string        `json:"user"`
	Deployment string        `json:"deployment"`
	Device     string        `json:"device"`
	Dialect    string        `json:"dialect,omitempty"`
	Kind       string        `json:"kind"`
	Summary    string        `json:"summary,omitempty"`
	Status     string        `json:"status"`
	ErrorClass string        `json:"error_class,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	Backup     string        `json:"backup,omitempty"`
	Rollback   string        `json:"rollback,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Success reports whether the transaction committed.
func (e *Event) Success() bool {
	return e.Status == "success"
}

// Filter defines criteria for querying audit events
type Filter struct {
	Device      string
	User        string
	Deployment  string
	Kind        string
	Status      string
	StartTime   time.Time
	EndTime     time.Time
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(user, deployment, device string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		User:       user,
		Deployment: deployment,
		Device:     device,
	}
}

// WithIntent sets the intent kind and its one-line summary
func (e *Event) WithIntent(kind, summary string) *Event {
	e.Kind = kind
	e.Summary = summary
	return e
}

// WithOutcome copies the result fields
func (e *Event) WithOutcome(status, errorClass, errMsg string, attempts int) *Event {
	e.Status = status
	e.ErrorClass = errorClass
	e.Error = errMsg
	e.Attempts = attempts
	return e
}

// WithBackup records where the pre-change configuration was saved.
func (e *Event) WithBackup(location string) *Event {
	e.Backup = location
	return e
}

// WithRollback records the rollback outcome label.
func (e *Event) WithRollback(label string) *Event {
	e.Rollback = label
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}
