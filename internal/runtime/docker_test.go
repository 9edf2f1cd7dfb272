package runtime

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/tsegert/convoy/internal/compose"
)

type notFoundErr struct{ msg string }

func (e notFoundErr) Error() string { return e.msg }
func (e notFoundErr) NotFound()     {}

// fakeDockerAPI records calls and serves canned responses.
type fakeDockerAPI struct {
	mu sync.Mutex

	createdNames []string
	createdCfg   []*container.Config
	createErr    error

	startErr  error
	started   []string
	stopped   []string
	stopErr   error
	killed    []string
	removed   []string
	removeErr error

	pullCalls int
	pullErrs  []error

	execOutput []byte
	execExit   int
}

func (f *fakeDockerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.createdNames = append(f.createdNames, containerName)
	f.createdCfg = append(f.createdCfg, config)
	return container.CreateResponse{ID: "cid-" + containerName}, nil
}

func (f *fakeDockerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, containerID)
	return nil
}

func (f *fakeDockerAPI) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, containerID)
	return nil
}

func (f *fakeDockerAPI) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, containerID)
	return nil
}

func (f *fakeDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeDockerAPI) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    containerID,
			Name:  "/demo-db",
			State: &types.ContainerState{Running: true},
		},
		Config: &container.Config{Image: "postgres:16"},
	}, nil
}

func (f *fakeDockerAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	_, _ = w.Write([]byte("hello from " + containerID + "\n"))
	return io.NopCloser(&buf), nil
}

func (f *fakeDockerAPI) ContainerExecCreate(ctx context.Context, containerID string, config types.ExecConfig) (types.IDResponse, error) {
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeDockerAPI) ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error) {
	var buf bytes.Buffer
	w := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	_, _ = w.Write(f.execOutput)
	return types.HijackedResponse{
		Conn:   fakeConn{},
		Reader: bufio.NewReader(&buf),
	}, nil
}

func (f *fakeDockerAPI) ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error) {
	return types.ContainerExecInspect{ExitCode: f.execExit}, nil
}

func (f *fakeDockerAPI) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.pullCalls
	f.pullCalls++
	if call < len(f.pullErrs) && f.pullErrs[call] != nil {
		return nil, f.pullErrs[call]
	}
	return io.NopCloser(strings.NewReader("{}")), nil
}

func (f *fakeDockerAPI) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, nil
}

func (f *fakeDockerAPI) Close() error { return nil }

type fakeConn struct{}

func (fakeConn) Read(b []byte) (int, error)         { return 0, io.EOF }
func (fakeConn) Write(b []byte) (int, error)        { return len(b), nil }
func (fakeConn) Close() error                       { return nil }
func (fakeConn) LocalAddr() net.Addr                { return nil }
func (fakeConn) RemoteAddr() net.Addr               { return nil }
func (fakeConn) SetDeadline(t time.Time) error      { return nil }
func (fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func testDocker(api dockerAPI) *Docker {
	return newDocker(api, zerolog.Nop(), "demo", WithPullRate(time.Millisecond, 10))
}

func TestStartService_NamesAndLabels(t *testing.T) {
	fake := &fakeDockerAPI{}
	rt := testDocker(fake)

	id, err := rt.StartService(context.Background(), compose.ServiceSpec{
		Name:        "db",
		Image:       "postgres:16",
		Environment: []string{"PGDATA=/data"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "cid-demo-db" {
		t.Fatalf("unexpected id: %q", id)
	}
	if len(fake.createdNames) != 1 || fake.createdNames[0] != "demo-db" {
		t.Fatalf("unexpected container name: %v", fake.createdNames)
	}

	cfg := fake.createdCfg[0]
	if cfg.Labels[labelProject] != "demo" || cfg.Labels[labelService] != "db" {
		t.Fatalf("unexpected labels: %v", cfg.Labels)
	}
	if len(fake.started) != 1 {
		t.Fatalf("expected one start call, got %d", len(fake.started))
	}
}

func TestStartService_StartFailureRemovesContainer(t *testing.T) {
	fake := &fakeDockerAPI{startErr: errors.New("port already allocated")}
	rt := testDocker(fake)

	_, err := rt.StartService(context.Background(), compose.ServiceSpec{Name: "web", Image: "nginx"})

	var rtErr *Error
	if !errors.As(err, &rtErr) {
		t.Fatalf("expected runtime.Error, got %v", err)
	}
	if rtErr.Op != "start" || rtErr.Service != "web" {
		t.Fatalf("unexpected error fields: %+v", rtErr)
	}
	if len(fake.removed) != 1 {
		t.Fatalf("expected failed container to be removed, got %v", fake.removed)
	}
}

func TestStopService_MissingContainerIsStopped(t *testing.T) {
	fake := &fakeDockerAPI{stopErr: notFoundErr{msg: "no such container"}}
	rt := testDocker(fake)

	if err := rt.StopService(context.Background(), "gone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.killed) != 0 {
		t.Fatalf("should not kill a missing container: %v", fake.killed)
	}
}

func TestStopService_EscalatesToKill(t *testing.T) {
	fake := &fakeDockerAPI{stopErr: errors.New("context deadline exceeded")}
	rt := testDocker(fake)

	if err := rt.StopService(context.Background(), "stuck"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.killed) != 1 || fake.killed[0] != "stuck" {
		t.Fatalf("expected kill escalation, got %v", fake.killed)
	}
	if len(fake.removed) != 1 {
		t.Fatalf("expected container removal, got %v", fake.removed)
	}
}

func TestPullImage_RetriesTransientErrors(t *testing.T) {
	fake := &fakeDockerAPI{pullErrs: []error{errors.New("registry timeout"), nil}}
	rt := testDocker(fake)

	if err := rt.PullImage(context.Background(), "nginx:1.25"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.pullCalls != 2 {
		t.Fatalf("expected 2 pull attempts, got %d", fake.pullCalls)
	}
}

func TestPullImage_NotFoundIsPermanent(t *testing.T) {
	fake := &fakeDockerAPI{pullErrs: []error{notFoundErr{msg: "manifest unknown"}}}
	rt := testDocker(fake)

	err := rt.PullImage(context.Background(), "ghost:latest")
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.pullCalls != 1 {
		t.Fatalf("not-found must not retry, got %d attempts", fake.pullCalls)
	}
}

func TestExecIn_CapturesOutputAndExitCode(t *testing.T) {
	fake := &fakeDockerAPI{execOutput: []byte("ok\n"), execExit: 3}
	rt := testDocker(fake)

	result, err := rt.ExecIn(context.Background(), "cid", []string{"sh", "-c", "exit 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
	if string(result.Output) != "ok\n" {
		t.Fatalf("output = %q", result.Output)
	}
}

func TestStreamLogs_Demultiplexes(t *testing.T) {
	fake := &fakeDockerAPI{}
	rt := testDocker(fake)

	stream, err := rt.StreamLogs(context.Background(), "cid-1", LogOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "hello from cid-1") {
		t.Fatalf("unexpected stream content: %q", data)
	}
}

func TestInspectService(t *testing.T) {
	rt := testDocker(&fakeDockerAPI{})

	status, err := rt.InspectService(context.Background(), "cid-x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Name != "demo-db" || !status.Running || status.Image != "postgres:16" {
		t.Fatalf("unexpected status: %+v", status)
	}
}
