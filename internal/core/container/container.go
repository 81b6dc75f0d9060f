// Package container defines the contract that turns slot intent into a
// running containerized service addressable on the slot's local port.
package container

import (
	"context"
	"time"
)

// UnitSpec describes the container-unit file to apply for one slot.
type UnitSpec struct {
	ContainerName string
	Image         string
	Port          int
	EnvFile       string
	Labels        map[string]string
}

// Driver is the Container Driver contract: apply a unit, reload the
// daemon, start/stop/remove, and poll health.
type Driver interface {
	// Apply writes the container-unit file for spec at its well-known
	// per-user path.
	Apply(ctx context.Context, spec UnitSpec) error

	// Reload triggers the host's service manager to rescan unit files.
	Reload(ctx context.Context) error

	// Start stops any prior instance with a 10s grace, then starts fresh
	// with a 120s timeout.
	Start(ctx context.Context, containerName string) error

	// WaitHealthy polls http://localhost:<port>/health at 5s intervals
	// until deadline; success is any 2xx. Fails with HealthcheckFailed.
	WaitHealthy(ctx context.Context, port int, deadline time.Duration) error

	// Stop stops containerName. Only called from the deploy-failure and
	// cleanup/force-recovery paths.
	Stop(ctx context.Context, containerName string) error

	// Remove removes containerName. Only called from the deploy-failure
	// and cleanup/force-recovery paths.
	Remove(ctx context.Context, containerName string) error
}
