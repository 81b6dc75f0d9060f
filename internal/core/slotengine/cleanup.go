package slotengine

import (
	"context"
	"fmt"
	"time"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
)

// Cleanup tears down a grace slot whose window has elapsed (or any grace
// slot at all, with force), stopping and removing its container and
// resetting it to empty. A registry with no grace slot is a no-op success.
func (e *Engine) Cleanup(ctx context.Context, project, environment string, force bool) (*CleanupResult, error) {
	start := time.Now()
	if project == "" || environment == "" {
		return nil, coreerrors.NewInvalidInputError("project and environment are required", nil)
	}

	release := e.locks.Lock(engineKey(project, environment))
	defer release()

	reg, err := e.registry.Get(ctx, project, environment)
	if err != nil {
		return nil, err
	}

	target, ok := reg.GraceSlot()
	if !ok {
		return &CleanupResult{Cleaned: false, Duration: time.Since(start)}, nil
	}

	targetSlot := reg.Get(target)
	if !force {
		if targetSlot.GraceExpiresAt == nil || time.Now().UTC().Before(*targetSlot.GraceExpiresAt) {
			remaining := "unknown"
			if targetSlot.GraceExpiresAt != nil {
				remaining = targetSlot.GraceExpiresAt.Sub(time.Now().UTC()).String()
			}
			return nil, coreerrors.NewGraceNotExpiredError(project, environment, remaining)
		}
	}

	containerName := slot.ContainerName(project, environment, target)
	if err := e.driver.Stop(ctx, containerName); err != nil {
		return nil, fmt.Errorf("stopping %s: %w", containerName, err)
	}
	if err := e.driver.Remove(ctx, containerName); err != nil {
		return nil, fmt.Errorf("removing %s: %w", containerName, err)
	}

	_, err = e.registry.Update(ctx, project, environment, func(r *slot.Registry) error {
		s := r.Get(target)
		s.State = slot.StateEmpty
		s.Version = ""
		s.Image = ""
		s.DeployedAt = nil
		s.GraceExpiresAt = nil
		s.HealthStatus = slot.HealthUnknown
		s.Error = ""
		r.Set(target, s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, events.KindSlotCleanup, project, environment, target, string(slot.StateEmpty), "", "slot cleaned up")

	return &CleanupResult{Cleaned: true, Slot: target, Duration: time.Since(start)}, nil
}
