// Package notify delivers stack lifecycle reports to external systems. The
// orchestration core calls out through the Notifier interface and holds no
// delivery state of its own.
package notify

import (
	"context"
	"time"
)

// ServiceOutcome is one service's terminal result in a completed command.
type ServiceOutcome struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Attempted bool   `json:"attempted"`
}

// StackEvent describes one finished stack command.
type StackEvent struct {
	Stack       string           `json:"stack"`
	Command     string           `json:"command"`
	OK          bool             `json:"ok"`
	CompletedAt time.Time        `json:"completed_at"`
	Services    []ServiceOutcome `json:"services"`
}

// Notifier delivers stack events to an external system.
type Notifier interface {
	Notify(ctx context.Context, event StackEvent) error
}

// Multi fans an event out to several notifiers, returning the first error
// after every notifier has been given the event.
type Multi struct {
	notifiers []Notifier
}

// NewMulti builds a fan-out notifier, dropping nil entries.
func NewMulti(notifiers ...Notifier) *Multi {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			filtered = append(filtered, n)
		}
	}
	return &Multi{notifiers: filtered}
}

// Notify implements Notifier.
func (m *Multi) Notify(ctx context.Context, event StackEvent) error {
	var firstErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
