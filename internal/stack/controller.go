// Package stack is the single entry point for operating one compose stack.
// It owns the compiled dependency graph and the instance table, and drives
// every command through the scheduler and runtime.
package stack

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tsegert/convoy/internal/compose"
	"github.com/tsegert/convoy/internal/graph"
	"github.com/tsegert/convoy/internal/lifecycle"
	"github.com/tsegert/convoy/internal/notify"
	"github.com/tsegert/convoy/internal/runtime"
	"github.com/tsegert/convoy/internal/scheduler"
)

// ServiceNotRunningError reports a command that needs a live container for a
// service that has none.
type ServiceNotRunningError struct {
	Service string
}

func (e *ServiceNotRunningError) Error() string {
	return fmt.Sprintf("service %q is not running", e.Service)
}

// UnknownServiceError reports a service name the stack does not declare.
type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("service %q is not declared in the stack", e.Service)
}

// Observer receives operational measurements. The controller reports through
// it and never blocks on it.
type Observer interface {
	OperationCompleted(command string, ok bool, elapsed time.Duration)
	ServiceStates(states map[lifecycle.State]int)
	PullCompleted(image string, ok bool)
}

type noopObserver struct{}

func (noopObserver) OperationCompleted(string, bool, time.Duration) {}
func (noopObserver) ServiceStates(map[lifecycle.State]int)          {}
func (noopObserver) PullCompleted(string, bool)                     {}

// Controller operates one stack. Construction compiles and validates the
// dependency graph, so a Controller in hand means the stack is well formed.
type Controller struct {
	logger    zerolog.Logger
	stack     compose.Stack
	graph     *graph.Graph
	machine   *lifecycle.Machine
	runtime   runtime.Runtime
	scheduler *scheduler.Scheduler
	notifier  notify.Notifier
	observer  Observer
	now       func() time.Time
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithNotifier routes completed-command events to the given notifier.
func WithNotifier(n notify.Notifier) ControllerOption {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithObserver routes measurements to the given observer.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewController validates the stack's dependency graph and builds a
// controller around the given runtime and instance table. Graph errors are
// returned before any runtime call is possible.
func NewController(logger zerolog.Logger, stack compose.Stack, rt runtime.Runtime, machine *lifecycle.Machine, sched *scheduler.Scheduler, opts ...ControllerOption) (*Controller, error) {
	g, err := graph.Build(stack.Services)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		logger:    logger,
		stack:     stack,
		graph:     g,
		machine:   machine,
		runtime:   rt,
		scheduler: sched,
		notifier:  notify.NewLog(logger),
		observer:  noopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stack returns the validated stack description.
func (c *Controller) Stack() compose.Stack {
	return c.stack
}

// Up starts every declared service in dependency order and reports each
// service's terminal outcome. Up is idempotent: running instances are
// reported as running and skipped, stopped and failed ones start fresh.
func (c *Controller) Up(ctx context.Context) *scheduler.Report {
	started := c.now()
	c.logger.Info().
		Str("stack", c.stack.Name).
		Int("services", len(c.stack.Services)).
		Msg("bringing stack up")

	// Instances that ended a previous command stopped or failed are eligible
	// to start again; running ones are left alone.
	for name, snap := range c.machine.StatusAll() {
		if snap.State == lifecycle.StateStopped || snap.State == lifecycle.StateFailed {
			if _, err := c.machine.Transition(name, lifecycle.EventRedeclare); err != nil {
				c.logger.Error().Err(err).Str("service", name).Msg("redeclare rejected")
			}
		}
	}

	report := c.scheduler.ExecuteUp(ctx, c.graph, c.stack)
	c.finish(ctx, "up", started, report)
	return report
}

// Down stops every service in reverse dependency order. Teardown is best
// effort and idempotent: services with no live container are reported
// stopped without a runtime call.
func (c *Controller) Down(ctx context.Context) *scheduler.Report {
	started := c.now()
	c.logger.Info().Str("stack", c.stack.Name).Msg("taking stack down")

	report := c.scheduler.ExecuteDown(ctx, c.graph, c.stack)
	c.finish(ctx, "down", started, report)
	return report
}

// Restart takes the stack down and brings it back up. The down phase is best
// effort; the up phase runs regardless of down failures.
func (c *Controller) Restart(ctx context.Context) *scheduler.Report {
	down := c.Down(ctx)
	if !down.OK() {
		c.logger.Warn().
			Strs("failed", down.Failed()).
			Msg("restart continuing past teardown failures")
	}
	return c.Up(ctx)
}

// ServiceStatus is one row of a stack status listing. Observed fields come
// from the runtime and are zero when no live container exists.
type ServiceStatus struct {
	Name      string
	State     lifecycle.State
	RuntimeID string
	Image     string
	Err       error
	Observed  *runtime.Status
}

// Ps reports the state of every declared service. Instances the table holds
// as running are cross-checked against the runtime, so a container that died
// outside convoy shows up as failed rather than stale.
func (c *Controller) Ps(ctx context.Context) []ServiceStatus {
	snapshots := c.machine.StatusAll()

	statuses := make([]ServiceStatus, 0, len(c.stack.Services))
	for _, name := range c.stack.ServiceNames() {
		status := ServiceStatus{
			Name:  name,
			State: lifecycle.StateDeclared,
			Image: c.stack.Services[name].Image,
		}
		snap, known := snapshots[name]
		if known {
			status.State = snap.State
			status.RuntimeID = snap.RuntimeID
			status.Err = snap.Err
		}

		if known && snap.State == lifecycle.StateRunning && snap.RuntimeID != "" {
			observed, err := c.runtime.InspectService(ctx, snap.RuntimeID)
			switch {
			case err != nil:
				status.Err = err
			case !observed.Running:
				status.State = lifecycle.StateFailed
				status.Err = fmt.Errorf("container exited with code %d", observed.ExitCode)
				status.Observed = &observed
			default:
				status.Observed = &observed
			}
		}

		statuses = append(statuses, status)
	}
	return statuses
}

// Exec runs a command inside a running service's container and returns its
// captured output and exit code.
func (c *Controller) Exec(ctx context.Context, service string, cmd []string) (runtime.ExecResult, error) {
	snap, err := c.requireRunning(service)
	if err != nil {
		return runtime.ExecResult{}, err
	}
	return c.runtime.ExecIn(ctx, snap.RuntimeID, cmd)
}

// Pull fetches images for the named services, or every declared service when
// none are named. Pulls are independent, so they run fully concurrently; the
// first failure is returned after all pulls finish.
func (c *Controller) Pull(ctx context.Context, services ...string) error {
	images := make(map[string]struct{}, len(c.stack.Services))
	if len(services) > 0 {
		for _, name := range services {
			spec, declared := c.stack.Services[name]
			if !declared {
				return &UnknownServiceError{Service: name}
			}
			images[spec.Image] = struct{}{}
		}
	} else {
		for _, spec := range c.stack.Services {
			images[spec.Image] = struct{}{}
		}
	}
	refs := make([]string, 0, len(images))
	for ref := range images {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		ref := ref
		eg.Go(func() error {
			err := c.runtime.PullImage(egCtx, ref)
			c.observer.PullCompleted(ref, err == nil)
			if err != nil {
				c.logger.Error().Err(err).Str("image", ref).Msg("image pull failed")
				return err
			}
			c.logger.Info().Str("image", ref).Msg("image pulled")
			return nil
		})
	}
	return eg.Wait()
}

func (c *Controller) requireRunning(service string) (lifecycle.Snapshot, error) {
	if _, declared := c.stack.Services[service]; !declared {
		return lifecycle.Snapshot{}, &UnknownServiceError{Service: service}
	}
	snap, known := c.machine.Status(service)
	if !known || snap.State != lifecycle.StateRunning || snap.RuntimeID == "" {
		return lifecycle.Snapshot{}, &ServiceNotRunningError{Service: service}
	}
	return snap, nil
}

// finish emits the completed-command event and measurements. Delivery uses
// its own deadline so a slow notifier cannot hold the command open, and the
// event goes out even when the command's context is already canceled.
func (c *Controller) finish(ctx context.Context, command string, started time.Time, report *scheduler.Report) {
	elapsed := c.now().Sub(started)

	states := make(map[lifecycle.State]int)
	for _, snap := range c.machine.StatusAll() {
		states[snap.State]++
	}
	c.observer.ServiceStates(states)
	c.observer.OperationCompleted(command, report.OK(), elapsed)

	event := notify.StackEvent{
		Stack:       c.stack.Name,
		Command:     command,
		OK:          report.OK(),
		CompletedAt: c.now(),
	}
	for _, result := range report.Services() {
		outcome := notify.ServiceOutcome{
			Name:      result.Name,
			State:     string(result.State),
			Attempted: result.Attempted,
		}
		if result.Err != nil {
			outcome.Error = result.Err.Error()
		}
		event.Services = append(event.Services, outcome)
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.notifier.Notify(notifyCtx, event); err != nil {
		c.logger.Warn().Err(err).Str("command", command).Msg("notification delivery failed")
	}

	c.logger.Info().
		Str("stack", c.stack.Name).
		Str("command", command).
		Bool("ok", report.OK()).
		Dur("elapsed", elapsed).
		Msg("stack command completed")
}
