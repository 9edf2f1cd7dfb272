// Package state persists service instance records between CLI invocations.
// The orchestration core never touches the store; the command layer loads a
// snapshot into the instance table before a command and saves it after.
package state

import (
	"context"
	"time"

	"github.com/tsegert/convoy/internal/lifecycle"
)

// ServiceRecord is the persisted view of one service instance.
type ServiceRecord struct {
	ContainerID string `json:"container_id,omitempty"`
	State       string `json:"state"`
}

// StackSnapshot captures one stack's instances at the end of a command. The
// fingerprint ties the snapshot to the config it was produced from, so a
// changed compose file invalidates stale records.
type StackSnapshot struct {
	Fingerprint string                   `json:"fingerprint"`
	Services    map[string]ServiceRecord `json:"services"`
	SavedAt     time.Time                `json:"saved_at"`
}

// State stores snapshots for all stacks, keyed by stack name.
type State struct {
	Stacks map[string]StackSnapshot `json:"stacks"`
}

// Store defines the interface for persisting state.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// Capture builds a snapshot from the instance table. An instance caught in a
// transient state is recorded as failed, so the next invocation does not
// trust a half-finished operation.
func Capture(fingerprint string, machine *lifecycle.Machine) StackSnapshot {
	snapshot := StackSnapshot{
		Fingerprint: fingerprint,
		Services:    make(map[string]ServiceRecord),
		SavedAt:     time.Now(),
	}
	for name, snap := range machine.StatusAll() {
		record := ServiceRecord{State: string(snap.State)}
		switch snap.State {
		case lifecycle.StateRunning:
			record.ContainerID = snap.RuntimeID
		case lifecycle.StateStarting, lifecycle.StateStopping:
			record.State = string(lifecycle.StateFailed)
		}
		snapshot.Services[name] = record
	}
	return snapshot
}

// Apply seeds the instance table from a snapshot. A snapshot whose
// fingerprint does not match the current config is ignored: after the
// compose file changes, the old records no longer describe these services.
func Apply(snapshot StackSnapshot, fingerprint string, machine *lifecycle.Machine) bool {
	if snapshot.Fingerprint != fingerprint {
		return false
	}
	for name, record := range snapshot.Services {
		state := lifecycle.State(record.State)
		switch state {
		case lifecycle.StateRunning, lifecycle.StateStopped, lifecycle.StateFailed:
			machine.Seed(name, state, record.ContainerID)
		}
	}
	return true
}
