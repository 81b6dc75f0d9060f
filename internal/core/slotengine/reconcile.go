package slotengine

import (
	"context"
	"time"

	"github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
)

// StartHealthReconciler launches a background loop that re-probes the
// active and grace slots of every registry on a fixed interval and
// publishes health_change whenever a slot's observed status flips. It
// returns immediately; call Stop (via the returned context cancel, or
// StopHealthReconciler) to end the loop during graceful shutdown.
func (e *Engine) StartHealthReconciler(ctx context.Context) {
	e.stopReconcile = make(chan struct{})
	ticker := time.NewTicker(e.cfg.HealthReconcileEvery)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopReconcile:
				return
			case <-ticker.C:
				e.reconcileOnce(ctx)
			}
		}
	}()
}

// StopHealthReconciler ends the background loop started by
// StartHealthReconciler, if any.
func (e *Engine) StopHealthReconciler() {
	if e.stopReconcile != nil {
		close(e.stopReconcile)
		e.stopReconcile = nil
	}
}

func (e *Engine) reconcileOnce(ctx context.Context) {
	registries, err := e.registry.List(ctx)
	if err != nil {
		e.log.Warn("health reconciler: failed to list registries", logger.Err(err))
		return
	}

	for _, reg := range registries {
		for _, name := range []slot.Name{slot.Blue, slot.Green} {
			s := reg.Get(name)
			if s.State != slot.StateActive && s.State != slot.StateGrace {
				continue
			}
			e.reconcileSlot(ctx, reg.ProjectName, reg.Environment, name, s)
		}
	}
}

func (e *Engine) reconcileSlot(ctx context.Context, project, environment string, name slot.Name, current slot.Slot) {
	probeErr := e.driver.WaitHealthy(ctx, current.Port, 5*time.Second)
	newStatus := slot.HealthHealthy
	if probeErr != nil {
		newStatus = slot.HealthUnhealthy
	}
	if newStatus == current.HealthStatus {
		return
	}

	_, err := e.registry.Update(ctx, project, environment, func(r *slot.Registry) error {
		s := r.Get(name)
		s.HealthStatus = newStatus
		if probeErr != nil {
			s.Error = probeErr.Error()
		} else {
			s.Error = ""
		}
		r.Set(name, s)
		return nil
	})
	if err != nil {
		e.log.Warn("health reconciler: failed to persist health transition",
			logger.Project(project), logger.Environment(environment), logger.Err(err))
		return
	}

	e.publish(ctx, events.KindHealthChange, project, environment, name, string(newStatus), "", "health transition observed")
}
