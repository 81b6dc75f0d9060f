// Package portalloc assigns (base, base+1) port pairs per environment
// from fixed ranges, scanning all registries at startup and never
// deallocating.
package portalloc

import (
	"context"
	"sync"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
)

// baseFor names the fixed base port and stride for each environment.
var baseFor = map[string]int{
	"staging":    3000,
	"production": 4000,
	"preview":    5000,
}

const stride = 2

// Allocator assigns port-pair bases and tracks which are already in use.
type Allocator struct {
	mu   sync.Mutex
	used map[string]map[int]bool // environment -> base -> in use
}

// New returns an Allocator with no bases marked used.
func New() *Allocator {
	used := make(map[string]map[int]bool, len(baseFor))
	for env := range baseFor {
		used[env] = make(map[int]bool)
	}
	return &Allocator{used: used}
}

// LoadFromRegistries scans every persisted registry and marks its base
// port as used. Call once at startup before serving any deploy.
func (a *Allocator) LoadFromRegistries(ctx context.Context, registries []*slot.Registry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range registries {
		envUsed, ok := a.used[r.Environment]
		if !ok {
			envUsed = make(map[int]bool)
			a.used[r.Environment] = envUsed
		}
		if r.Blue.Port != 0 {
			envUsed[r.Blue.Port] = true
		}
	}
}

// Allocate picks the smallest free base within environment's range and
// marks it used. It never deallocates.
func (a *Allocator) Allocate(environment string) (int, error) {
	base, ok := baseFor[environment]
	if !ok {
		return 0, coreerrors.NewInvalidInputError("unknown environment", map[string]interface{}{"environment": environment})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	envUsed, ok := a.used[environment]
	if !ok {
		envUsed = make(map[int]bool)
		a.used[environment] = envUsed
	}

	for candidate := base; candidate < base+1000*stride; candidate += stride {
		if !envUsed[candidate] {
			envUsed[candidate] = true
			return candidate, nil
		}
	}
	return 0, coreerrors.NewInternalError("no free port base in environment range", nil)
}

// MarkUsed records base as allocated without searching, used when a
// registry read reveals a base the allocator hadn't seen yet.
func (a *Allocator) MarkUsed(environment string, base int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	envUsed, ok := a.used[environment]
	if !ok {
		envUsed = make(map[int]bool)
		a.used[environment] = envUsed
	}
	envUsed[base] = true
}
