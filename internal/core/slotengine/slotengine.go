// Package slotengine is the heart of the control plane: it implements
// deploy, promote, rollback, and cleanup, composing the SSH Executor,
// Slot Registry Store, Env Store, Container Driver, Router Controller,
// Port Allocator, and Event Bus Adapter while enforcing the slot state
// machine's invariants.
package slotengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeblabdev/codeb-controlplane/internal/core/container"
	"github.com/codeblabdev/codeb-controlplane/internal/core/envbundle"
	"github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/keylock"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/portalloc"
	"github.com/codeblabdev/codeb-controlplane/internal/core/proxy"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
	"github.com/codeblabdev/codeb-controlplane/internal/core/sshx"
	"github.com/codeblabdev/codeb-controlplane/internal/core/storage"
)

// Step is one named sub-operation of an engine call, with status and
// duration, part of the DeployResult/PromoteResult/RollbackResult contract.
type Step struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type stepRecorder struct {
	operationID string
	steps       []Step
}

// newStepRecorder starts a new step timeline under a fresh operation ID,
// used to correlate a call's steps, published events, and (for rollback)
// its audit record in the local ledger.
func newStepRecorder() *stepRecorder {
	return &stepRecorder{operationID: uuid.NewString()}
}

func (r *stepRecorder) run(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	step := Step{Name: name, Duration: time.Since(start), Status: "ok"}
	if err != nil {
		step.Status = "failed"
		step.Error = err.Error()
	}
	r.steps = append(r.steps, step)
	return err
}

// DeployResult is the contract returned by Deploy.
type DeployResult struct {
	Slot       slot.Name     `json:"slot"`
	Port       int           `json:"port"`
	PreviewURL string        `json:"previewUrl,omitempty"`
	Duration   time.Duration `json:"duration"`
	Steps      []Step        `json:"steps"`
}

// PromoteResult is the contract returned by Promote.
type PromoteResult struct {
	ActiveSlot slot.Name     `json:"activeSlot"`
	Duration   time.Duration `json:"duration"`
	Steps      []Step        `json:"steps"`
}

// RollbackResult is the contract returned by Rollback.
type RollbackResult struct {
	ActiveSlot slot.Name     `json:"activeSlot"`
	FromSlot   slot.Name     `json:"fromSlot"`
	Duration   time.Duration `json:"duration"`
	Steps      []Step        `json:"steps"`
}

// CleanupResult is the contract returned by Cleanup.
type CleanupResult struct {
	Cleaned  bool          `json:"cleaned"`
	Slot     slot.Name     `json:"slot,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Config holds the engine's timing parameters.
type Config struct {
	GracePeriod           time.Duration
	DefaultHealthTimeout  time.Duration
	DefaultCommandTimeout time.Duration
	HealthReconcileEvery  time.Duration
}

// Engine owns the deploy/promote/rollback/cleanup state machine.
type Engine struct {
	registry  slot.Store
	envs      envbundle.Store
	driver    container.Driver
	proxy     proxy.Controller
	publisher events.Publisher
	allocator *portalloc.Allocator
	exec      sshx.Executor
	appHost   string
	cfg       Config
	locks     *keylock.Table
	log       logger.Logger
	ledger    storage.Store

	stopReconcile chan struct{}
}

// New assembles an Engine from its component dependencies. ledger may be
// nil; when absent, step and rollback history is simply not mirrored
// into the local database.
func New(
	registry slot.Store,
	envs envbundle.Store,
	driver container.Driver,
	proxyCtl proxy.Controller,
	publisher events.Publisher,
	allocator *portalloc.Allocator,
	exec sshx.Executor,
	appHost string,
	cfg Config,
	log logger.Logger,
	ledger storage.Store,
) *Engine {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 48 * time.Hour
	}
	if cfg.DefaultHealthTimeout == 0 {
		cfg.DefaultHealthTimeout = 60 * time.Second
	}
	if cfg.DefaultCommandTimeout == 0 {
		cfg.DefaultCommandTimeout = 60 * time.Second
	}
	if cfg.HealthReconcileEvery == 0 {
		cfg.HealthReconcileEvery = 30 * time.Second
	}

	return &Engine{
		registry:  registry,
		envs:      envs,
		driver:    driver,
		proxy:     proxyCtl,
		publisher: publisher,
		allocator: allocator,
		exec:      exec,
		appHost:   appHost,
		cfg:       cfg,
		locks:     keylock.New(),
		log:       log,
		ledger:    ledger,
	}
}

// recordSteps mirrors an operation's step timeline into the local
// ledger, if one is configured. Failures are logged, never surfaced:
// the ledger is a queryable supplement, not the source of truth.
func (e *Engine) recordSteps(ctx context.Context, project, environment, operation string, rec *stepRecorder) {
	if e.ledger == nil {
		return
	}
	repo := e.ledger.DeploySteps()
	for _, s := range rec.steps {
		row := &storage.DeployStepRecord{
			OperationID: rec.operationID,
			Project:     project,
			Environment: environment,
			Operation:   operation,
			StepName:    s.Name,
			Status:      s.Status,
			DurationMS:  s.Duration.Milliseconds(),
			Error:       s.Error,
		}
		if err := repo.Create(ctx, row); err != nil {
			e.log.Warn("failed to mirror deploy step into ledger", logger.Err(err))
		}
	}
}

func engineKey(project, environment string) string { return project + "/" + environment }

func envFilePath(project, environment string) string {
	return fmt.Sprintf("/opt/codeb/projects/%s/.env.%s", project, environment)
}

func (e *Engine) publish(ctx context.Context, kind events.Kind, project, environment string, s slot.Name, state, version, message string) {
	e.publisher.Publish(ctx, events.Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		Project:     project,
		Environment: environment,
		Slot:        string(s),
		State:       state,
		Version:     version,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	})
}
