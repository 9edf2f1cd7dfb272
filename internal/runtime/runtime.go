// Package runtime abstracts the external container engine behind a narrow
// capability interface so the orchestration core never talks to Docker
// directly.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tsegert/convoy/internal/compose"
)

// Runtime is the external capability that creates, destroys, and inspects
// containers. Every call is expected to honor context cancellation and
// deadlines.
type Runtime interface {
	// StartService creates and starts a container for the spec, returning
	// the runtime-assigned instance identifier.
	StartService(ctx context.Context, spec compose.ServiceSpec) (string, error)

	// StopService stops the identified container, escalating to a kill when
	// the graceful stop window elapses, and removes it.
	StopService(ctx context.Context, id string) error

	// InspectService reports the observed status of a container.
	InspectService(ctx context.Context, id string) (Status, error)

	// StreamLogs returns a stream of log lines. The stream runs until the
	// service stops or the caller cancels, and is restartable per call.
	StreamLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error)

	// ExecIn runs a command inside a running container and captures its
	// output and exit code.
	ExecIn(ctx context.Context, id string, cmd []string) (ExecResult, error)

	// PullImage fetches an image reference from its registry.
	PullImage(ctx context.Context, ref string) error
}

// Status is the runtime's view of one container.
type Status struct {
	ID       string
	Name     string
	Image    string
	Running  bool
	ExitCode int
}

// LogOptions controls a log stream.
type LogOptions struct {
	Follow     bool
	Tail       string
	Timestamps bool
}

// ExecResult is the outcome of an in-container command.
type ExecResult struct {
	ExitCode int
	Output   []byte
}

// Error wraps any failure surfaced by the container engine.
type Error struct {
	Op      string
	Service string
	Err     error
}

func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Service, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op, service string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Service: service, Err: err}
}

// IsTimeout reports whether the error is a runtime call that exceeded its
// deadline. Timeouts are handled identically to any other runtime failure,
// but callers may want the distinction for diagnostics.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
