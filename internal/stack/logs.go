package stack

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tsegert/convoy/internal/lifecycle"
	"github.com/tsegert/convoy/internal/runtime"
)

// LogsOptions controls a combined log stream.
type LogsOptions struct {
	// Services restricts the stream to the named services. Empty means every
	// running service.
	Services   []string
	Follow     bool
	Tail       string
	Timestamps bool
}

// Logs streams container logs for the selected services to w, each line
// prefixed with its service name. With Follow the stream runs until the
// context is canceled; otherwise it ends when every source drains.
func (c *Controller) Logs(ctx context.Context, w io.Writer, opts LogsOptions) error {
	targets, err := c.logTargets(opts.Services)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return errors.New("no running services to stream logs from")
	}

	width := 0
	for name := range targets {
		if len(name) > width {
			width = len(name)
		}
	}

	sink := &lineSink{w: w}
	eg, egCtx := errgroup.WithContext(ctx)
	for name, id := range targets {
		name, id := name, id
		eg.Go(func() error {
			stream, err := c.runtime.StreamLogs(egCtx, id, runtime.LogOptions{
				Follow:     opts.Follow,
				Tail:       opts.Tail,
				Timestamps: opts.Timestamps,
			})
			if err != nil {
				return err
			}
			defer stream.Close()
			return copyLines(stream, sink, fmt.Sprintf("%-*s | ", width, name))
		})
	}
	return eg.Wait()
}

// logTargets resolves the requested service names to container identifiers.
// An explicit request for a service without a live container is an error;
// with no explicit selection, non-running services are silently skipped.
func (c *Controller) logTargets(requested []string) (map[string]string, error) {
	targets := make(map[string]string)

	if len(requested) > 0 {
		for _, name := range requested {
			snap, err := c.requireRunning(name)
			if err != nil {
				return nil, err
			}
			targets[name] = snap.RuntimeID
		}
		return targets, nil
	}

	for name, snap := range c.machine.StatusAll() {
		if _, declared := c.stack.Services[name]; !declared {
			continue
		}
		if snap.State == lifecycle.StateRunning && snap.RuntimeID != "" {
			targets[name] = snap.RuntimeID
		}
	}
	return targets, nil
}

// lineSink serializes whole lines from concurrent streams onto one writer.
type lineSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *lineSink) writeLine(prefix, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s%s\n", prefix, line)
	return err
}

func copyLines(r io.Reader, sink *lineSink, prefix string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := sink.writeLine(prefix, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
