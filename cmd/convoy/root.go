package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tsegert/convoy/internal/compose"
	"github.com/tsegert/convoy/internal/config"
	"github.com/tsegert/convoy/internal/lifecycle"
	"github.com/tsegert/convoy/internal/logging"
	"github.com/tsegert/convoy/internal/metrics"
	"github.com/tsegert/convoy/internal/notify"
	"github.com/tsegert/convoy/internal/runtime"
	"github.com/tsegert/convoy/internal/scheduler"
	"github.com/tsegert/convoy/internal/server"
	"github.com/tsegert/convoy/internal/stack"
	"github.com/tsegert/convoy/internal/state"
)

// usageError marks a configuration or stack definition problem, as opposed
// to an operation that failed at runtime.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// app carries the flag values and lazily built wiring shared by every
// subcommand.
type app struct {
	composeFile string
	projectName string
	projectFile string
	logLevel    string

	cfg     config.Config
	logger  zerolog.Logger
	store   *state.FileStore
	machine *lifecycle.Machine
	stack   compose.Stack
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "convoy",
		Short:         "Declarative multi-service container orchestrator",
		Long:          "convoy brings a compose-defined stack of containers up and down in dependency order.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&a.composeFile, "file", "f", "docker-compose.yml", "Path to the compose file")
	cmd.PersistentFlags().StringVarP(&a.projectName, "project", "p", "", "Project name (defaults to the compose file's directory name)")
	cmd.PersistentFlags().StringVar(&a.projectFile, "project-file", "", "Path to the project settings file (defaults to "+config.ProjectFileName+")")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newUpCommand(a),
		newDownCommand(a),
		newRestartCommand(a),
		newPsCommand(a),
		newLogsCommand(a),
		newExecCommand(a),
		newPullCommand(a),
	)

	return cmd
}

// setup loads configuration and the compose file. Every subcommand calls it
// before doing work.
func (a *app) setup(cmd *cobra.Command) error {
	ctx := cmd.Context()
	projectFile := a.projectFile
	explicit := projectFile != ""
	if !explicit {
		projectFile = config.ProjectFileName
	}
	settings, err := config.LoadProjectSettings(projectFile, explicit)
	if err != nil {
		return &usageError{err: err}
	}

	cfg, err := config.LoadWithProject(settings)
	if err != nil {
		return &usageError{err: err}
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.logger = logging.NewConsole(os.Stderr, level)

	composeFile := a.composeFile
	if settings.File != "" && !cmd.Flags().Changed("file") {
		composeFile = settings.File
	}
	projectName := a.projectName
	if projectName == "" {
		projectName = settings.Project
	}

	loaded, err := compose.Load(ctx, composeFile, projectName)
	if err != nil {
		return &usageError{err: err}
	}
	a.stack = loaded

	statePath, err := cfg.StatePath()
	if err != nil {
		return err
	}
	a.store = state.NewFileStore(statePath, a.logger)

	a.machine = lifecycle.NewMachine()
	persisted, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	if snapshot, ok := persisted.Stacks[loaded.Name]; ok {
		if state.Apply(snapshot, loaded.Fingerprint, a.machine) {
			a.logger.Debug().Str("stack", loaded.Name).Msg("restored persisted instances")
		} else {
			a.logger.Warn().Str("stack", loaded.Name).Msg("compose file changed, discarding persisted instances")
		}
	}

	return nil
}

// controller wires the runtime, scheduler, notifiers, and metrics into a
// stack controller. The metrics collector is returned so callers hosting the
// metrics endpoint can serve it.
func (a *app) controller(ctx context.Context) (*stack.Controller, *metrics.Metrics, error) {
	rt, err := runtime.NewDocker(a.logger, a.cfg.DockerHost, a.stack.Name,
		runtime.WithStopGrace(a.cfg.StopTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to docker: %w", err)
	}

	sched := scheduler.New(a.logger, rt, a.machine,
		scheduler.WithConcurrency(a.cfg.Concurrency),
		scheduler.WithCallTimeout(a.cfg.CallTimeout))

	notifiers := []notify.Notifier{notify.NewLog(a.logger)}
	if a.cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(a.logger, a.cfg.WebhookURL))
	}
	if a.cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(a.logger, a.cfg.SlackWebhookURL))
	}

	collector := metrics.New(a.stack.Name)
	server.Start(ctx, a.logger, a.cfg.MetricsAddr, collector)

	c, err := stack.NewController(a.logger, a.stack, rt, a.machine, sched,
		stack.WithNotifier(notify.NewMulti(notifiers...)),
		stack.WithObserver(collector))
	if err != nil {
		return nil, nil, &usageError{err: err}
	}
	return c, collector, nil
}

// saveState persists the instance table for the next invocation. Failures
// are logged, not fatal: the command's own outcome already happened.
func (a *app) saveState(ctx context.Context) {
	snapshot := state.Capture(a.stack.Fingerprint, a.machine)
	if err := a.store.UpdateStack(ctx, a.stack.Name, snapshot); err != nil {
		a.logger.Error().Err(err).Msg("persisting state failed")
	}
}
