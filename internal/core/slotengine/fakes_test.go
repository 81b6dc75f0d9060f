package slotengine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"

	"github.com/codeblabdev/codeb-controlplane/internal/core/container"
	"github.com/codeblabdev/codeb-controlplane/internal/core/envbundle"
	"github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/portalloc"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
	"github.com/codeblabdev/codeb-controlplane/internal/core/sshx"
)

// fakeSlotStore is an in-memory slot.Store.
type fakeSlotStore struct {
	mu   sync.Mutex
	regs map[string]*slot.Registry
}

func newFakeSlotStore() *fakeSlotStore {
	return &fakeSlotStore{regs: make(map[string]*slot.Registry)}
}

func (s *fakeSlotStore) key(project, environment string) string { return project + "/" + environment }

func (s *fakeSlotStore) Get(ctx context.Context, project, environment string) (*slot.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[s.key(project, environment)]
	if !ok {
		return nil, coreerrors.NewRegistryNotFoundError(project, environment)
	}
	cp := *reg
	return &cp, nil
}

func (s *fakeSlotStore) Update(ctx context.Context, project, environment string, mutator slot.Mutator) (*slot.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(project, environment)
	reg, ok := s.regs[k]
	var working slot.Registry
	if ok {
		working = *reg
	} else {
		working = slot.Registry{ProjectName: project, Environment: environment, ActiveSlot: slot.None}
	}

	if err := mutator(&working); err != nil {
		return nil, err
	}
	if err := working.Validate(); err != nil {
		return nil, coreerrors.NewRegistryConflictError(err.Error())
	}
	working.LastUpdated = time.Now().UTC()
	cp := working
	s.regs[k] = &cp
	out := cp
	return &out, nil
}

func (s *fakeSlotStore) List(ctx context.Context) ([]*slot.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*slot.Registry, 0, len(s.regs))
	for _, r := range s.regs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeSlotStore) seed(reg *slot.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *reg
	s.regs[s.key(reg.ProjectName, reg.Environment)] = &cp
}

var _ slot.Store = (*fakeSlotStore)(nil)

// fakeEnvStore is a minimal envbundle.Store that always succeeds.
type fakeEnvStore struct {
	mu      sync.Mutex
	getErr  error
	entries map[string]*envbundle.OrderedEnv
}

func newFakeEnvStore() *fakeEnvStore {
	return &fakeEnvStore{entries: make(map[string]*envbundle.OrderedEnv)}
}

func (e *fakeEnvStore) Get(ctx context.Context, project, environment, key string) (*envbundle.OrderedEnv, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.getErr != nil {
		return nil, e.getErr
	}
	return envbundle.NewOrderedEnv(), nil
}

func (e *fakeEnvStore) Set(ctx context.Context, project, environment, key, value string) error { return nil }

func (e *fakeEnvStore) Restore(ctx context.Context, project, environment, version string) error { return nil }

func (e *fakeEnvStore) History(ctx context.Context, project, environment string, limit int) ([]envbundle.HistoryEntry, error) {
	return nil, nil
}

func (e *fakeEnvStore) AutoGenerate(ctx context.Context, project, environment string, opts envbundle.AutoGenerateOptions) (*envbundle.OrderedEnv, error) {
	return envbundle.NewOrderedEnv(), nil
}

var _ envbundle.Store = (*fakeEnvStore)(nil)

// fakeDriver is an in-memory container.Driver with failure injection hooks.
type fakeDriver struct {
	mu sync.Mutex

	applyErr       error
	reloadErr      error
	startErr       error
	waitHealthyErr error
	stopErr        error
	removeErr      error

	applied []container.UnitSpec
	started []string
	stopped []string
	removed []string
	probed  []int
}

func newFakeDriver() *fakeDriver { return &fakeDriver{} }

func (d *fakeDriver) Apply(ctx context.Context, spec container.UnitSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = append(d.applied, spec)
	return d.applyErr
}

func (d *fakeDriver) Reload(ctx context.Context) error { return d.reloadErr }

func (d *fakeDriver) Start(ctx context.Context, containerName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, containerName)
	return d.startErr
}

func (d *fakeDriver) WaitHealthy(ctx context.Context, port int, deadline time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probed = append(d.probed, port)
	return d.waitHealthyErr
}

func (d *fakeDriver) Stop(ctx context.Context, containerName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = append(d.stopped, containerName)
	return d.stopErr
}

func (d *fakeDriver) Remove(ctx context.Context, containerName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, containerName)
	return d.removeErr
}

func (d *fakeDriver) probedPorts() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.probed))
	copy(out, d.probed)
	return out
}

var _ container.Driver = (*fakeDriver)(nil)

// fakeProxy is an in-memory proxy.Controller.
type fakeProxy struct {
	mu            sync.Mutex
	configureErr  error
	calls         []proxyCall
}

type proxyCall struct {
	Project, Environment string
	Port                 int
	IsRollback           bool
}

func newFakeProxy() *fakeProxy { return &fakeProxy{} }

func (p *fakeProxy) Configure(ctx context.Context, project, environment string, port int, isRollback bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, proxyCall{project, environment, port, isRollback})
	return p.configureErr
}

// fakePublisher records every published event.
type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func newFakePublisher() *fakePublisher { return &fakePublisher{} }

func (p *fakePublisher) Publish(ctx context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

var _ events.Publisher = (*fakePublisher)(nil)

// fakeExecutor is an in-memory sshx.Executor used for the rollback audit log.
type fakeExecutor struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{files: make(map[string][]byte)}
}

func (f *fakeExecutor) Exec(ctx context.Context, host, command string, timeout time.Duration) (sshx.Result, error) {
	return sshx.Result{ExitCode: 0}, nil
}

func (f *fakeExecutor) WriteFile(ctx context.Context, host, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.files[path] = cp
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

type testEngine struct {
	engine   *Engine
	registry *fakeSlotStore
	envs     *fakeEnvStore
	driver   *fakeDriver
	proxy    *fakeProxy
	pub      *fakePublisher
	exec     *fakeExecutor
}

func newTestEngine(cfg Config) *testEngine {
	te := &testEngine{
		registry: newFakeSlotStore(),
		envs:     newFakeEnvStore(),
		driver:   newFakeDriver(),
		proxy:    newFakeProxy(),
		pub:      newFakePublisher(),
		exec:     newFakeExecutor(),
	}
	allocator := portalloc.New()
	te.engine = New(te.registry, te.envs, te.driver, te.proxy, te.pub, allocator, te.exec, "app-1", cfg, logger.New("error"), nil)
	return te
}

// mustPast returns a timestamp hoursAgo hours before now, for seeding
// DeployedAt fields in ordering tests.
func mustPast(t *testing.T, hoursAgo int) time.Time {
	t.Helper()
	return time.Now().UTC().Add(-time.Duration(hoursAgo) * time.Hour)
}
