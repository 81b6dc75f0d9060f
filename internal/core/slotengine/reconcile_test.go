package slotengine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeblabdev/codeb-controlplane/internal/core/events"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
)

func TestReconcileOnce_IgnoresEmptyAndDeployedSlots(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	reg := &slot.Registry{
		ProjectName: "acme", Environment: "production", ActiveSlot: slot.None,
		Blue:  slot.Slot{Name: slot.Blue, State: slot.StateEmpty, Port: 4000},
		Green: slot.Slot{Name: slot.Green, State: slot.StateDeployed, Port: 4001},
	}
	te.registry.seed(reg)

	te.engine.reconcileOnce(ctx)

	assert.Empty(t, te.driver.probed, "reconcile must only probe active/grace slots")
}

func TestReconcileOnce_TransitionHealthyToUnhealthyPublishesEvent(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	reg := &slot.Registry{
		ProjectName: "acme", Environment: "production", ActiveSlot: slot.Blue,
		Blue:  slot.Slot{Name: slot.Blue, State: slot.StateActive, Port: 4000, HealthStatus: slot.HealthHealthy},
		Green: slot.Slot{Name: slot.Green, State: slot.StateEmpty, Port: 4001},
	}
	te.registry.seed(reg)
	te.driver.waitHealthyErr = fmt.Errorf("connection refused")

	te.engine.reconcileOnce(ctx)

	updated, err := te.registry.Get(ctx, "acme", "production")
	require.NoError(t, err)
	assert.Equal(t, slot.HealthUnhealthy, updated.Blue.HealthStatus)
	assert.Contains(t, updated.Blue.Error, "connection refused")

	assert.Contains(t, te.pub.kinds(), events.KindHealthChange)
}

func TestReconcileOnce_NoStatusChangeDoesNotPublish(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	reg := &slot.Registry{
		ProjectName: "acme", Environment: "production", ActiveSlot: slot.Blue,
		Blue:  slot.Slot{Name: slot.Blue, State: slot.StateActive, Port: 4000, HealthStatus: slot.HealthHealthy},
		Green: slot.Slot{Name: slot.Green, State: slot.StateEmpty, Port: 4001},
	}
	te.registry.seed(reg)

	te.engine.reconcileOnce(ctx)

	assert.Empty(t, te.pub.kinds(), "a probe confirming the existing status must not publish health_change")
}

func TestReconcileOnce_GraceSlotIsAlsoProbed(t *testing.T) {
	te := newTestEngine(Config{})
	ctx := context.Background()

	expires := time.Now().UTC().Add(1 * time.Hour)
	reg := &slot.Registry{
		ProjectName: "acme", Environment: "production", ActiveSlot: slot.Blue,
		Blue:  slot.Slot{Name: slot.Blue, State: slot.StateActive, Port: 4000, HealthStatus: slot.HealthHealthy},
		Green: slot.Slot{Name: slot.Green, State: slot.StateGrace, Port: 4001, HealthStatus: slot.HealthHealthy, GraceExpiresAt: &expires},
	}
	te.registry.seed(reg)

	te.engine.reconcileOnce(ctx)

	assert.ElementsMatch(t, []int{4000, 4001}, te.driver.probed)
}

func TestStartStopHealthReconciler_RunsAndStopsCleanly(t *testing.T) {
	te := newTestEngine(Config{HealthReconcileEvery: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := &slot.Registry{
		ProjectName: "acme", Environment: "production", ActiveSlot: slot.Blue,
		Blue: slot.Slot{Name: slot.Blue, State: slot.StateActive, Port: 4000, HealthStatus: slot.HealthHealthy},
	}
	te.registry.seed(reg)

	te.engine.StartHealthReconciler(ctx)
	require.Eventually(t, func() bool {
		return len(te.driver.probedPorts()) > 0
	}, time.Second, 5*time.Millisecond)

	te.engine.StopHealthReconciler()
}
