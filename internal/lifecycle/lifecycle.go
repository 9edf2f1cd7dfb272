// Package lifecycle tracks each service instance through its runtime states.
// All mutation goes through Transition, which serializes requests per service
// name while leaving distinct services fully concurrent.
package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of one service instance.
type State string

const (
	StateDeclared State = "declared"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Event requests a state transition.
type Event string

const (
	EventStart     Event = "start"
	EventStarted   Event = "started"
	EventStop      Event = "stop"
	EventStopped   Event = "stopped"
	EventFail      Event = "fail"
	EventRedeclare Event = "redeclare"
)

// legal maps current state to the transitions allowed out of it. Declared
// permits fail so dependents of a failed service can be marked without the
// runtime ever being invoked for them. Both terminal states permit redeclare
// so a later command can try the service again.
var legal = map[State]map[Event]State{
	StateDeclared: {
		EventStart: StateStarting,
		EventFail:  StateFailed,
	},
	StateStarting: {
		EventStarted: StateRunning,
		EventFail:    StateFailed,
	},
	StateRunning: {
		EventStop: StateStopping,
	},
	StateStopping: {
		EventStopped: StateStopped,
		EventFail:    StateFailed,
	},
	StateStopped: {
		EventRedeclare: StateDeclared,
	},
	StateFailed: {
		EventRedeclare: StateDeclared,
	},
}

// IllegalTransitionError reports a transition request the current state does
// not permit. Seeing one outside tests means a scheduler bug: the transition
// check is the double-start and deadlock guard of last resort.
type IllegalTransitionError struct {
	Name  string
	From  State
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("service %q: illegal transition %s from state %s", e.Name, e.Event, e.From)
}

// Snapshot is a point-in-time copy of one instance. Callers never see a live
// record, so concurrent transitions cannot produce a torn read.
type Snapshot struct {
	Name      string
	State     State
	RuntimeID string
	Err       error
	EnteredAt time.Time
}

type instance struct {
	mu        sync.Mutex
	name      string
	state     State
	runtimeID string
	err       error
	enteredAt time.Time
}

// Machine owns the service instance table for one stack invocation.
type Machine struct {
	mu        sync.RWMutex
	instances map[string]*instance
	now       func() time.Time
}

// NewMachine returns an empty instance table.
func NewMachine() *Machine {
	return &Machine{
		instances: make(map[string]*instance),
		now:       time.Now,
	}
}

// TransitionOption attaches data to a transition request.
type TransitionOption func(*transitionRequest)

type transitionRequest struct {
	runtimeID    string
	setRuntimeID bool
	err          error
}

// WithRuntimeID records the runtime-assigned identifier alongside the
// transition, typically on EventStarted.
func WithRuntimeID(id string) TransitionOption {
	return func(r *transitionRequest) {
		r.runtimeID = id
		r.setRuntimeID = true
	}
}

// WithError records the cause alongside the transition, typically on EventFail.
func WithError(err error) TransitionOption {
	return func(r *transitionRequest) {
		r.err = err
	}
}

// Transition applies event to the named instance, creating it in Declared on
// first reference. It returns the resulting state, or the unchanged state and
// an IllegalTransitionError when the current state does not permit the event.
func (m *Machine) Transition(name string, event Event, opts ...TransitionOption) (State, error) {
	var req transitionRequest
	for _, opt := range opts {
		opt(&req)
	}

	inst := m.getOrCreate(name)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	next, ok := legal[inst.state][event]
	if !ok {
		return inst.state, &IllegalTransitionError{Name: name, From: inst.state, Event: event}
	}

	inst.state = next
	inst.enteredAt = m.now()
	if req.setRuntimeID {
		inst.runtimeID = req.runtimeID
	}
	if event == EventFail {
		inst.err = req.err
	} else {
		inst.err = nil
	}
	if event == EventRedeclare {
		inst.runtimeID = ""
	}
	return next, nil
}

// Status returns a snapshot of the named instance, or false if the name was
// never referenced.
func (m *Machine) Status(name string) (Snapshot, bool) {
	m.mu.RLock()
	inst, ok := m.instances[name]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.snapshot(), true
}

// StatusAll returns snapshots for every known instance.
func (m *Machine) StatusAll() map[string]Snapshot {
	m.mu.RLock()
	instances := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		instances = append(instances, inst)
	}
	m.mu.RUnlock()

	result := make(map[string]Snapshot, len(instances))
	for _, inst := range instances {
		inst.mu.Lock()
		result[inst.name] = inst.snapshot()
		inst.mu.Unlock()
	}
	return result
}

// Seed installs an instance in a known state with a runtime identifier. It is
// the boundary for rehydrating instances persisted by a previous invocation
// and must not be called while operations are in flight.
func (m *Machine) Seed(name string, state State, runtimeID string) {
	inst := m.getOrCreate(name)
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.state = state
	inst.runtimeID = runtimeID
	inst.err = nil
	inst.enteredAt = m.now()
}

// Forget drops the named instance from the table.
func (m *Machine) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, name)
}

func (m *Machine) getOrCreate(name string) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok {
		inst = &instance{name: name, state: StateDeclared, enteredAt: m.now()}
		m.instances[name] = inst
	}
	return inst
}

func (i *instance) snapshot() Snapshot {
	return Snapshot{
		Name:      i.name,
		State:     i.state,
		RuntimeID: i.runtimeID,
		Err:       i.err,
		EnteredAt: i.enteredAt,
	}
}
