package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tsegert/convoy/internal/compose"
	"github.com/tsegert/convoy/internal/graph"
	"github.com/tsegert/convoy/internal/lifecycle"
	"github.com/tsegert/convoy/internal/runtime"
)

const (
	defaultConcurrency = 4
	defaultCallTimeout = 2 * time.Minute
)

// Scheduler executes batches against the runtime. It owns no state of its
// own: the instance table is the injected lifecycle machine, and all
// transitions flow through it.
type Scheduler struct {
	logger      zerolog.Logger
	runtime     runtime.Runtime
	machine     *lifecycle.Machine
	concurrency int
	callTimeout time.Duration
}

// Option customizes scheduler behavior.
type Option func(*Scheduler)

// WithConcurrency bounds how many per-service operations run at once within
// a level.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithCallTimeout bounds each individual runtime call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// New constructs a Scheduler around the given runtime and instance table.
func New(logger zerolog.Logger, rt runtime.Runtime, machine *lifecycle.Machine, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:      logger,
		runtime:     rt,
		machine:     machine,
		concurrency: defaultConcurrency,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecuteUp starts every service in batch order. Levels run strictly in
// sequence; a failure fails the service and everything that transitively
// depends on it, while independent branches continue. Cancellation stops new
// starts but lets in-flight calls reach a terminal state.
func (s *Scheduler) ExecuteUp(ctx context.Context, g *graph.Graph, stack compose.Stack) *Report {
	report := newReport()

	// rootFailure maps a service that cannot run to the root failed service
	// responsible, so dependents are marked with the original cause.
	rootFailure := make(map[string]string)

	for levelIndex, level := range Plan(g, Up) {
		var eg errgroup.Group
		eg.SetLimit(s.concurrency)

		for _, name := range level {
			// An instance already running, typically restored from a previous
			// invocation, is this command's goal state: report it without
			// touching the runtime or the state machine.
			if snap, known := s.machine.Status(name); known && snap.State == lifecycle.StateRunning {
				report.record(ServiceResult{Name: name, State: lifecycle.StateRunning})
				s.logger.Debug().Str("service", name).Msg("service already running")
				continue
			}

			// All dependencies resolved in earlier levels; the barrier below
			// guarantees rootFailure is complete for them.
			if root, blocked := s.blockedByDependency(g, name, rootFailure); blocked {
				cause := &DependencyFailedError{Service: name, Dependency: root}
				if _, err := s.machine.Transition(name, lifecycle.EventFail, lifecycle.WithError(cause)); err != nil {
					s.logger.Error().Err(err).Str("service", name).Msg("state machine rejected failure marking")
				}
				rootFailure[name] = root
				report.record(ServiceResult{Name: name, State: lifecycle.StateFailed, Err: cause})
				s.logger.Warn().
					Str("service", name).
					Str("failed_dependency", root).
					Msg("service skipped, dependency failed")
				continue
			}

			if err := ctx.Err(); err != nil {
				report.record(ServiceResult{Name: name, State: lifecycle.StateDeclared, Err: err})
				continue
			}

			name := name
			eg.Go(func() error {
				s.startOne(ctx, name, stack.Services[name], report)
				return nil
			})
		}

		// Barrier: a level fully resolves, success or failure, before the
		// next one begins.
		_ = eg.Wait()

		// Harvest failures single-threaded now that the level is quiet, so
		// later levels see a complete failure map.
		for _, name := range level {
			result, ok := report.Service(name)
			if !ok || result.State != lifecycle.StateFailed {
				continue
			}
			if _, seen := rootFailure[name]; seen {
				continue
			}
			rootFailure[name] = name
		}

		s.logger.Debug().Int("level", levelIndex).Msg("level resolved")
	}

	return report
}

func (s *Scheduler) startOne(ctx context.Context, name string, spec compose.ServiceSpec, report *Report) {
	if err := ctx.Err(); err != nil {
		report.record(ServiceResult{Name: name, State: lifecycle.StateDeclared, Err: err})
		return
	}

	if _, err := s.machine.Transition(name, lifecycle.EventStart); err != nil {
		report.record(ServiceResult{Name: name, State: lifecycle.StateFailed, Err: err})
		return
	}

	callCtx, cancel := s.callContext(ctx)
	id, err := s.runtime.StartService(callCtx, spec)
	cancel()
	if err != nil {
		if _, terr := s.machine.Transition(name, lifecycle.EventFail, lifecycle.WithError(err)); terr != nil {
			s.logger.Error().Err(terr).Str("service", name).Msg("state machine rejected failure transition")
		}
		report.record(ServiceResult{Name: name, State: lifecycle.StateFailed, Err: err, Attempted: true})
		s.logger.Error().Err(err).Str("service", name).Bool("timeout", runtime.IsTimeout(err)).Msg("service start failed")
		return
	}

	if _, err := s.machine.Transition(name, lifecycle.EventStarted, lifecycle.WithRuntimeID(id)); err != nil {
		report.record(ServiceResult{Name: name, State: lifecycle.StateFailed, Err: err, Attempted: true})
		return
	}
	report.record(ServiceResult{Name: name, State: lifecycle.StateRunning, Attempted: true})
	s.logger.Info().Str("service", name).Str("instance", id).Msg("service running")
}

// ExecuteDown stops services in reverse dependency order. Teardown is best
// effort: a stop failure is recorded and later levels still run. Services
// that never started are trivially stopped with no runtime call.
func (s *Scheduler) ExecuteDown(ctx context.Context, g *graph.Graph, stack compose.Stack) *Report {
	report := newReport()

	for _, level := range Plan(g, Down) {
		var eg errgroup.Group
		eg.SetLimit(s.concurrency)

		for _, name := range level {
			snap, known := s.machine.Status(name)
			if !known || snap.State != lifecycle.StateRunning {
				report.record(ServiceResult{Name: name, State: lifecycle.StateStopped})
				continue
			}

			if err := ctx.Err(); err != nil {
				report.record(ServiceResult{Name: name, State: snap.State, Err: err})
				continue
			}

			name := name
			id := snap.RuntimeID
			eg.Go(func() error {
				s.stopOne(ctx, name, id, report)
				return nil
			})
		}

		_ = eg.Wait()
	}

	return report
}

func (s *Scheduler) stopOne(ctx context.Context, name, id string, report *Report) {
	if err := ctx.Err(); err != nil {
		report.record(ServiceResult{Name: name, State: lifecycle.StateRunning, Err: err})
		return
	}

	if _, err := s.machine.Transition(name, lifecycle.EventStop); err != nil {
		report.record(ServiceResult{Name: name, State: lifecycle.StateFailed, Err: err})
		return
	}

	callCtx, cancel := s.callContext(ctx)
	err := s.runtime.StopService(callCtx, id)
	cancel()
	if err != nil {
		if _, terr := s.machine.Transition(name, lifecycle.EventFail, lifecycle.WithError(err)); terr != nil {
			s.logger.Error().Err(terr).Str("service", name).Msg("state machine rejected failure transition")
		}
		report.record(ServiceResult{Name: name, State: lifecycle.StateFailed, Err: err, Attempted: true})
		s.logger.Error().Err(err).Str("service", name).Msg("service stop failed")
		return
	}

	if _, err := s.machine.Transition(name, lifecycle.EventStopped); err != nil {
		report.record(ServiceResult{Name: name, State: lifecycle.StateFailed, Err: err, Attempted: true})
		return
	}
	report.record(ServiceResult{Name: name, State: lifecycle.StateStopped, Attempted: true})
	s.logger.Info().Str("service", name).Msg("service stopped")
}

// callContext detaches a runtime call from caller cancellation while bounding
// it with the per-call timeout: an in-flight call always reaches a terminal
// state instead of leaking a half-started instance.
func (s *Scheduler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
}

func (s *Scheduler) blockedByDependency(g *graph.Graph, name string, rootFailure map[string]string) (string, bool) {
	for _, dep := range g.Dependencies(name) {
		if root, ok := rootFailure[dep]; ok {
			return root, true
		}
	}
	return "", false
}
