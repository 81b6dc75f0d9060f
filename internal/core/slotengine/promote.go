package slotengine

import (
	"context"
	"time"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
)

// Promote switches public traffic to the deployed candidate slot: the
// previously active slot (if any) moves to grace rather than being torn
// down immediately, so Rollback can still revert to it.
func (e *Engine) Promote(ctx context.Context, project, environment string) (*PromoteResult, error) {
	start := time.Now()
	if project == "" || environment == "" {
		return nil, coreerrors.NewInvalidInputError("project and environment are required", nil)
	}

	release := e.locks.Lock(engineKey(project, environment))
	defer release()

	rec := newStepRecorder()

	reg, err := e.registry.Get(ctx, project, environment)
	if err != nil {
		return nil, err
	}

	candidate, ok := reg.DeployedCandidate()
	if !ok {
		// A retried promote finds no deployed candidate because the prior
		// call already moved it to active. If that's exactly what
		// happened, treat this call as a no-op success rather than error.
		if reg.ActiveSlot != slot.None && reg.Get(reg.ActiveSlot).State == slot.StateActive {
			return &PromoteResult{ActiveSlot: reg.ActiveSlot, Duration: time.Since(start)}, nil
		}
		return nil, coreerrors.NewNoDeployedCandidateError(project, environment)
	}
	previous := reg.ActiveSlot

	candidateSlot := reg.Get(candidate)

	err = rec.run("probe_candidate", func() error {
		return e.driver.WaitHealthy(ctx, candidateSlot.Port, 10*time.Second)
	})
	if err != nil {
		return &PromoteResult{Duration: time.Since(start), Steps: rec.steps}, err
	}

	err = rec.run("configure_proxy", func() error {
		return e.proxy.Configure(ctx, project, environment, candidateSlot.Port, false)
	})
	if err != nil {
		return &PromoteResult{Duration: time.Since(start), Steps: rec.steps}, err
	}

	graceExpires := time.Now().UTC().Add(e.cfg.GracePeriod)
	_, err = e.registry.Update(ctx, project, environment, func(r *slot.Registry) error {
		c := r.Get(candidate)
		c.State = slot.StateActive
		r.Set(candidate, c)

		if previous != slot.None && previous != candidate {
			p := r.Get(previous)
			if p.State == slot.StateActive {
				p.State = slot.StateGrace
				p.GraceExpiresAt = &graceExpires
				r.Set(previous, p)
			}
		}
		r.ActiveSlot = candidate
		return nil
	})
	if err != nil {
		return &PromoteResult{Duration: time.Since(start), Steps: rec.steps}, err
	}

	e.publish(ctx, events.KindPromote, project, environment, candidate, string(slot.StateActive), candidateSlot.Version, "promoted to active")
	e.recordSteps(ctx, project, environment, "promote", rec)

	return &PromoteResult{ActiveSlot: candidate, Duration: time.Since(start), Steps: rec.steps}, nil
}
