package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tsegert/convoy/internal/compose"
)

const (
	labelProject = "convoy.project"
	labelService = "convoy.service"

	defaultStopGrace      = 10 * time.Second
	defaultPullInterval   = 500 * time.Millisecond
	defaultPullBurst      = 2
	defaultPullMaxElapsed = 2 * time.Minute
)

// Docker implements Runtime against the Docker Engine API for one project.
type Docker struct {
	api         dockerAPI
	logger      zerolog.Logger
	project     string
	stopGrace   time.Duration
	pullLimiter *rate.Limiter
	pullMaxWait time.Duration
}

// DockerOption customizes the Docker runtime.
type DockerOption func(*Docker)

// WithStopGrace sets how long a container gets to stop before it is killed.
func WithStopGrace(d time.Duration) DockerOption {
	return func(r *Docker) {
		if d > 0 {
			r.stopGrace = d
		}
	}
}

// WithPullRate overrides the registry pull rate limit.
func WithPullRate(interval time.Duration, burst int) DockerOption {
	return func(r *Docker) {
		r.pullLimiter = rate.NewLimiter(rate.Every(interval), burst)
	}
}

// NewDocker connects to the Docker daemon. An empty host uses the environment
// defaults (DOCKER_HOST et al.).
func NewDocker(logger zerolog.Logger, host, project string, opts ...DockerOption) (*Docker, error) {
	clientOpts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		clientOpts = append(clientOpts, client.WithHost(host))
	}

	api, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, wrap("connect", "", err)
	}

	return newDocker(api, logger, project, opts...), nil
}

func newDocker(api dockerAPI, logger zerolog.Logger, project string, opts ...DockerOption) *Docker {
	r := &Docker{
		api:         api,
		logger:      logger,
		project:     project,
		stopGrace:   defaultStopGrace,
		pullLimiter: rate.NewLimiter(rate.Every(defaultPullInterval), defaultPullBurst),
		pullMaxWait: defaultPullMaxElapsed,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping validates connectivity to the daemon.
func (r *Docker) Ping(ctx context.Context) error {
	_, err := r.api.Ping(ctx)
	return wrap("ping", "", err)
}

// Close releases the underlying client.
func (r *Docker) Close() error {
	return r.api.Close()
}

// StartService implements Runtime.
func (r *Docker) StartService(ctx context.Context, spec compose.ServiceSpec) (string, error) {
	config := &container.Config{
		Image:      spec.Image,
		Env:        spec.Environment,
		WorkingDir: spec.WorkingDir,
		Cmd:        spec.Command,
		Labels: map[string]string{
			labelProject: r.project,
			labelService: spec.Name,
		},
	}

	hostConfig := &container.HostConfig{}

	if len(spec.Ports) > 0 {
		exposed := nat.PortSet{}
		bindings := nat.PortMap{}
		for _, p := range spec.Ports {
			port := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, p.Protocol))
			exposed[port] = struct{}{}
			bindings[port] = []nat.PortBinding{{HostIP: p.HostIP, HostPort: p.HostPort}}
		}
		config.ExposedPorts = exposed
		hostConfig.PortBindings = bindings
	}

	for _, v := range spec.Volumes {
		mountType := mount.TypeBind
		if v.Named {
			mountType = mount.TypeVolume
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	name := r.containerName(spec.Name)
	created, err := r.api.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", wrap("create", spec.Name, err)
	}

	if err := r.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// A created-but-unstartable container would collide on the next
		// attempt, so remove it before reporting the failure.
		_ = r.api.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return "", wrap("start", spec.Name, err)
	}

	r.logger.Debug().
		Str("service", spec.Name).
		Str("container_id", created.ID).
		Msg("container started")

	return created.ID, nil
}

// StopService implements Runtime. Stop failures escalate to a kill; a missing
// container counts as already stopped.
func (r *Docker) StopService(ctx context.Context, id string) error {
	grace := int(r.stopGrace.Seconds())
	err := r.api.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		if !isNotRunning(err) {
			r.logger.Warn().Str("container_id", id).Err(err).Msg("graceful stop failed, killing")
			if killErr := r.api.ContainerKill(ctx, id, "SIGKILL"); killErr != nil && !client.IsErrNotFound(killErr) {
				return wrap("stop", "", err)
			}
		}
	}

	if err := r.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return wrap("remove", "", err)
	}
	return nil
}

// InspectService implements Runtime.
func (r *Docker) InspectService(ctx context.Context, id string) (Status, error) {
	info, err := r.api.ContainerInspect(ctx, id)
	if err != nil {
		return Status{}, wrap("inspect", "", err)
	}

	status := Status{
		ID:   info.ID,
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.Config != nil {
		status.Image = info.Config.Image
	}
	if info.State != nil {
		status.Running = info.State.Running
		status.ExitCode = info.State.ExitCode
	}
	return status, nil
}

// StreamLogs implements Runtime. Docker multiplexes stdout and stderr on one
// connection; the returned reader carries the demultiplexed text.
func (r *Docker) StreamLogs(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error) {
	raw, err := r.api.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       opts.Tail,
		Timestamps: opts.Timestamps,
	})
	if err != nil {
		return nil, wrap("logs", "", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, raw)
		_ = raw.Close()
		_ = pw.CloseWithError(copyErr)
	}()
	return pr, nil
}

// ExecIn implements Runtime.
func (r *Docker) ExecIn(ctx context.Context, id string, cmd []string) (ExecResult, error) {
	created, err := r.api.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, wrap("exec", "", err)
	}

	attached, err := r.api.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, wrap("exec", "", err)
	}
	defer attached.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attached.Reader); err != nil {
		return ExecResult{}, wrap("exec", "", err)
	}

	inspect, err := r.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, wrap("exec", "", err)
	}

	return ExecResult{ExitCode: inspect.ExitCode, Output: output.Bytes()}, nil
}

// PullImage implements Runtime. Pulls are rate limited across the process and
// retried with exponential backoff; a missing image is permanent, not
// retried.
func (r *Docker) PullImage(ctx context.Context, ref string) error {
	if err := r.pullLimiter.Wait(ctx); err != nil {
		return wrap("pull", "", err)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxElapsedTime = r.pullMaxWait

	operation := func() error {
		reader, err := r.api.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			if client.IsErrNotFound(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer reader.Close()

		// The daemon streams pull progress; draining it is what drives the
		// pull to completion.
		if _, err := io.Copy(io.Discard, reader); err != nil {
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoffCfg, ctx)); err != nil {
		return wrap("pull", "", fmt.Errorf("image %s: %w", ref, err))
	}

	r.logger.Debug().Str("image", ref).Msg("image pulled")
	return nil
}

func (r *Docker) containerName(service string) string {
	if r.project == "" {
		return service
	}
	return r.project + "-" + service
}

func isNotRunning(err error) bool {
	return err != nil && strings.Contains(err.Error(), "is not running")
}
