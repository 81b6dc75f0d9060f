package slotengine

import (
	"context"
	"fmt"
	"time"

	"github.com/codeblabdev/codeb-controlplane/internal/core/container"
	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
)

// DeployOptions are the caller-supplied parameters for a deploy.
type DeployOptions struct {
	Project         string
	Environment     string
	Version         string
	Image           string
	SkipHealthcheck bool
}

// Deploy builds and starts the new version on the inactive slot, waits
// for it to report healthy, and leaves it in state deployed, ready for
// a subsequent Promote. It never touches the active slot or the proxy.
func (e *Engine) Deploy(ctx context.Context, opts DeployOptions) (*DeployResult, error) {
	start := time.Now()
	if opts.Project == "" || opts.Environment == "" || opts.Version == "" {
		return nil, coreerrors.NewInvalidInputError("project, environment, and version are required", nil)
	}

	release := e.locks.Lock(engineKey(opts.Project, opts.Environment))
	defer release()

	rec := newStepRecorder()

	reg, err := e.registry.Get(ctx, opts.Project, opts.Environment)
	if coreerrors.IsNotFound(err) {
		reg, err = e.initRegistry(ctx, opts.Project, opts.Environment)
	}
	if err != nil {
		return nil, err
	}

	target := reg.DeployTarget()
	current := reg.Get(target)
	if current.State == slot.StateDeploying || current.State == slot.StateActive {
		return nil, coreerrors.NewSlotBusyError(opts.Project, opts.Environment)
	}

	port := current.Port
	containerName := slot.ContainerName(opts.Project, opts.Environment, target)
	envFile := envFilePath(opts.Project, opts.Environment)

	e.publish(ctx, events.KindDeployStart, opts.Project, opts.Environment, target, string(slot.StateDeploying), opts.Version, "deploy starting")

	_, err = e.registry.Update(ctx, opts.Project, opts.Environment, func(r *slot.Registry) error {
		r.Set(target, slot.Slot{
			Name:         target,
			State:        slot.StateDeploying,
			Port:         port,
			Version:      opts.Version,
			Image:        opts.Image,
			HealthStatus: slot.HealthUnknown,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	deployErr := rec.run("read_env", func() error {
		_, envErr := e.envs.Get(ctx, opts.Project, opts.Environment, "")
		return envErr
	})

	if deployErr == nil {
		deployErr = rec.run("apply_unit", func() error {
			return e.driver.Apply(ctx, container.UnitSpec{
				ContainerName: containerName,
				Image:         opts.Image,
				Port:          port,
				EnvFile:       envFile,
				Labels: map[string]string{
					"codeb.project":     opts.Project,
					"codeb.environment": opts.Environment,
					"codeb.slot":        string(target),
					"codeb.version":     opts.Version,
					"codeb.deployed_at": start.UTC().Format(time.RFC3339),
				},
			})
		})
	}

	if deployErr == nil {
		deployErr = rec.run("reload", func() error { return e.driver.Reload(ctx) })
	}
	if deployErr == nil {
		deployErr = rec.run("start", func() error { return e.driver.Start(ctx, containerName) })
	}
	if deployErr == nil && !opts.SkipHealthcheck {
		deployErr = rec.run("wait_healthy", func() error {
			return e.driver.WaitHealthy(ctx, port, e.cfg.DefaultHealthTimeout)
		})
	}

	if deployErr != nil {
		e.failDeploy(ctx, opts.Project, opts.Environment, target, containerName, port, deployErr)
		e.recordSteps(ctx, opts.Project, opts.Environment, "deploy", rec)
		return &DeployResult{Slot: target, Port: port, Duration: time.Since(start), Steps: rec.steps}, deployErr
	}

	health := slot.HealthHealthy
	if opts.SkipHealthcheck {
		health = slot.HealthUnknown
	}

	now := time.Now().UTC()
	_, err = e.registry.Update(ctx, opts.Project, opts.Environment, func(r *slot.Registry) error {
		s := r.Get(target)
		s.State = slot.StateDeployed
		s.HealthStatus = health
		s.DeployedAt = &now
		s.Error = ""
		r.Set(target, s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	previewURL := fmt.Sprintf("https://%s-%s.preview.codeb.dev", opts.Project, target)
	e.publish(ctx, events.KindDeployComplete, opts.Project, opts.Environment, target, string(slot.StateDeployed), opts.Version, "deploy complete")
	e.recordSteps(ctx, opts.Project, opts.Environment, "deploy", rec)

	return &DeployResult{
		Slot:       target,
		Port:       port,
		PreviewURL: previewURL,
		Duration:   time.Since(start),
		Steps:      rec.steps,
	}, nil
}

// failDeploy tears down the partially-started container and resets the
// target slot back to empty, per the deploy-failure recovery path.
func (e *Engine) failDeploy(ctx context.Context, project, environment string, target slot.Name, containerName string, port int, cause error) {
	e.log.Warn("deploy failed, rolling back target slot",
		logger.Project(project), logger.Environment(environment), logger.SlotName(string(target)), logger.Err(cause))

	if err := e.driver.Stop(ctx, containerName); err != nil {
		e.log.Warn("failed to stop container during deploy recovery", logger.Err(err))
	}
	if err := e.driver.Remove(ctx, containerName); err != nil {
		e.log.Warn("failed to remove container during deploy recovery", logger.Err(err))
	}

	_, updateErr := e.registry.Update(ctx, project, environment, func(r *slot.Registry) error {
		r.Set(target, slot.Slot{Name: target, State: slot.StateEmpty, Port: port, HealthStatus: slot.HealthUnknown})
		return nil
	})
	if updateErr != nil {
		e.log.Error("failed to reset slot after deploy failure", logger.Err(updateErr))
	}

	e.publish(ctx, events.KindDeployError, project, environment, target, string(slot.StateEmpty), "", cause.Error())
}

// initRegistry bootstraps a fresh registry for a never-before-seen
// (project, environment), allocating its port pair.
func (e *Engine) initRegistry(ctx context.Context, project, environment string) (*slot.Registry, error) {
	base, err := e.allocator.Allocate(environment)
	if err != nil {
		return nil, err
	}
	reg := slot.NewRegistry(project, environment, base, time.Now().UTC())
	return e.registry.Update(ctx, project, environment, func(r *slot.Registry) error {
		*r = *reg
		return nil
	})
}
