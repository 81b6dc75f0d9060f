package slotengine

import (
	"context"
	"fmt"
	"time"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
	"github.com/codeblabdev/codeb-controlplane/internal/core/storage"
)

const rollbackLogDir = "/opt/codeb/logs/rollbacks"

// Rollback reverts traffic to the slot currently in grace, demoting the
// slot it unseats back to deployed (no longer grace-protected).
func (e *Engine) Rollback(ctx context.Context, project, environment, reason string) (*RollbackResult, error) {
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

	target, ok := reg.GraceSlot()
	if !ok {
		return nil, coreerrors.NewNoRollbackTargetError(project, environment)
	}
	targetSlot := reg.Get(target)
	fromSlot := reg.ActiveSlot
	fromSlotInfo := reg.Get(fromSlot)

	err = rec.run("probe_target", func() error {
		return e.driver.WaitHealthy(ctx, targetSlot.Port, 10*time.Second)
	})
	if err != nil {
		return &RollbackResult{Duration: time.Since(start), Steps: rec.steps}, err
	}

	err = rec.run("configure_proxy", func() error {
		return e.proxy.Configure(ctx, project, environment, targetSlot.Port, true)
	})
	if err != nil {
		return &RollbackResult{Duration: time.Since(start), Steps: rec.steps}, err
	}

	_, err = e.registry.Update(ctx, project, environment, func(r *slot.Registry) error {
		t := r.Get(target)
		t.State = slot.StateActive
		t.GraceExpiresAt = nil
		r.Set(target, t)

		if fromSlot != slot.None && fromSlot != target {
			f := r.Get(fromSlot)
			f.State = slot.StateDeployed
			f.GraceExpiresAt = nil
			r.Set(fromSlot, f)
		}
		r.ActiveSlot = target
		return nil
	})
	if err != nil {
		return &RollbackResult{Duration: time.Since(start), Steps: rec.steps}, err
	}

	if err := e.appendRollbackAudit(ctx, project, environment, fromSlot, target, fromSlotInfo.Version, targetSlot.Version, reason); err != nil {
		e.log.Warn("failed to append rollback audit record", "error", err.Error())
	}
	e.mirrorRollbackAudit(ctx, rec.operationID, project, environment, fromSlot, target, fromSlotInfo.Version, targetSlot.Version, reason)

	e.publish(ctx, events.KindRollback, project, environment, target, string(slot.StateActive), targetSlot.Version, reason)
	e.recordSteps(ctx, project, environment, "rollback", rec)

	return &RollbackResult{ActiveSlot: target, FromSlot: fromSlot, Duration: time.Since(start), Steps: rec.steps}, nil
}

// mirrorRollbackAudit writes the same rollback record the file-based log
// received into the local ledger, if one is configured, so it can be
// queried without shelling into the app host.
func (e *Engine) mirrorRollbackAudit(ctx context.Context, operationID, project, environment string, from, to slot.Name, fromVersion, toVersion, reason string) {
	if e.ledger == nil {
		return
	}
	rec := &storage.RollbackAuditRecord{
		OperationID: operationID,
		Project:     project,
		Environment: environment,
		FromSlot:    string(from),
		ToSlot:      string(to),
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Reason:      reason,
	}
	if err := e.ledger.RollbackAudit().Create(ctx, rec); err != nil {
		e.log.Warn("failed to mirror rollback audit into ledger", "error", err.Error())
	}
}

func (e *Engine) appendRollbackAudit(ctx context.Context, project, environment string, from, to slot.Name, fromVersion, toVersion, reason string) error {
	if err := e.exec.Mkdirp(ctx, e.appHost, rollbackLogDir); err != nil {
		return err
	}

	record := fmt.Sprintf("%s fromSlot=%s toSlot=%s fromVersion=%s toVersion=%s reason=%q\n",
		time.Now().UTC().Format(time.RFC3339), from, to, fromVersion, toVersion, reason)

	path := fmt.Sprintf("%s/%s-%s.log", rollbackLogDir, project, environment)
	existing, err := e.exec.ReadFile(ctx, e.appHost, path)
	if err != nil {
		existing = nil
	}
	return e.exec.WriteFile(ctx, e.appHost, path, append(existing, []byte(record)...))
}
