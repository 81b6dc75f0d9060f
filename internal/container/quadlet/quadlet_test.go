package quadlet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeblabdev/codeb-controlplane/internal/core/container"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/sshx"
)

type fakeExecutor struct {
	mu       sync.Mutex
	files    map[string][]byte
	commands []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{files: make(map[string][]byte)}
}

func (f *fakeExecutor) Exec(ctx context.Context, host, command string, timeout time.Duration) (sshx.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return sshx.Result{ExitCode: 0}, nil
}

func (f *fakeExecutor) WriteFile(ctx context.Context, host, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
	return nil
}

func (f *fakeExecutor) ReadFile(ctx context.Context, host, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return data, nil
}

func (f *fakeExecutor) FileExists(ctx context.Context, host, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeExecutor) Mkdirp(ctx context.Context, host, path string) error { return nil }
func (f *fakeExecutor) Close() error                                       { return nil }

var _ sshx.Executor = (*fakeExecutor)(nil)

func TestApply_WritesUnitFileWithContract(t *testing.T) {
	exec := newFakeExecutor()
	d := New(exec, "app-1", logger.New("error"))

	err := d.Apply(context.Background(), container.UnitSpec{
		ContainerName: "acme-production-blue",
		Image:         "localhost/acme:v1",
		Port:          4000,
		EnvFile:       "/opt/codeb/projects/acme/.env.production",
		Labels: map[string]string{
			"codeb.project":     "acme",
			"codeb.environment": "production",
			"codeb.slot":        "blue",
			"codeb.version":     "v1",
		},
	})
	require.NoError(t, err)

	content := string(exec.files[unitDir+"/acme-production-blue.container"])
	assert.Contains(t, content, "[Unit]")
	assert.Contains(t, content, "[Container]")
	assert.Contains(t, content, "[Service]")
	assert.Contains(t, content, "[Install]")
	assert.Contains(t, content, "Image=localhost/acme:v1")
	assert.Contains(t, content, "ContainerName=acme-production-blue")
	assert.Contains(t, content, "PublishPort=4000:3000")
	assert.Contains(t, content, "EnvironmentFile=/opt/codeb/projects/acme/.env.production")
	assert.Contains(t, content, "Label=codeb.project=acme")
	assert.Contains(t, content, "HealthCmd=curl -f http://localhost:3000/health")
	assert.Contains(t, content, "HealthInterval=10s")
	assert.Contains(t, content, "HealthTimeout=5s")
	assert.Contains(t, content, "HealthRetries=3")
}

func TestReload_FailsOnNonZeroExit(t *testing.T) {
	exec := &failingExecutor{fakeExecutor: newFakeExecutor()}
	d := New(exec, "app-1", logger.New("error"))

	err := d.Reload(context.Background())
	assert.Error(t, err)
}

func TestWaitHealthy_SucceedsOn2xx(t *testing.T) {
	// WaitHealthy polls a real HTTP server; spin up a local listener
	// returning 200 so the driver's resty client gets a success.
	srv := newHealthServer(t, 200)
	defer srv.Close()

	exec := newFakeExecutor()
	d := New(exec, "app-1", logger.New("error"))

	err := d.WaitHealthy(context.Background(), srv.port, 2*time.Second)
	assert.NoError(t, err)
}

func TestWaitHealthy_FailsOnTimeout(t *testing.T) {
	srv := newHealthServer(t, 503)
	defer srv.Close()

	exec := newFakeExecutor()
	d := New(exec, "app-1", logger.New("error"))

	err := d.WaitHealthy(context.Background(), srv.port, 1*time.Second)
	assert.Error(t, err)
}

type failingExecutor struct {
	*fakeExecutor
}

func (f *failingExecutor) Exec(ctx context.Context, host, command string, timeout time.Duration) (sshx.Result, error) {
	return sshx.Result{ExitCode: 1, Stderr: "boom"}, nil
}

func TestStop_Remove_AlwaysAdHocCLI(t *testing.T) {
	exec := newFakeExecutor()
	d := New(exec, "app-1", logger.New("error"))

	require.NoError(t, d.Stop(context.Background(), "acme-production-blue"))
	require.NoError(t, d.Remove(context.Background(), "acme-production-blue"))

	joined := strings.Join(exec.commands, "\n")
	assert.Contains(t, joined, "podman stop -t 10 acme-production-blue")
	assert.Contains(t, joined, "podman rm -f acme-production-blue")
}

type healthServer struct {
	*httptest.Server
	port int
}

func newHealthServer(t *testing.T, status int) *healthServer {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return &healthServer{Server: srv, port: port}
}
