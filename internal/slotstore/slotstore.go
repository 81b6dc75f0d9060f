// Package slotstore is the SSH-backed implementation of slot.Store: one
// durable JSON document per (project, environment) on the app host.
package slotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/keylock"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/slot"
	"github.com/codeblabdev/codeb-controlplane/internal/core/sshx"
)

const registryDir = "/opt/codeb/registry/slots"

// Store is a slot.Store backed by JSON files on the app host, written
// atomically via temp-file-then-rename and serialized per key.
type Store struct {
	exec    sshx.Executor
	appHost string
	locks   *keylock.Table
	log     logger.Logger
}

// New returns a Store that reads and writes through exec on appHost.
func New(exec sshx.Executor, appHost string, log logger.Logger) *Store {
	return &Store{
		exec:    exec,
		appHost: appHost,
		locks:   keylock.New(),
		log:     log,
	}
}

func key(project, environment string) string {
	return project + "-" + environment
}

func path(project, environment string) string {
	return fmt.Sprintf("%s/%s.json", registryDir, key(project, environment))
}

// Get loads the registry for (project, environment).
func (s *Store) Get(ctx context.Context, project, environment string) (*slot.Registry, error) {
	return s.read(ctx, project, environment)
}

func (s *Store) read(ctx context.Context, project, environment string) (*slot.Registry, error) {
	p := path(project, environment)

	exists, err := s.exec.FileExists(ctx, s.appHost, p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, coreerrors.NewRegistryNotFoundError(project, environment)
	}

	data, err := s.exec.ReadFile(ctx, s.appHost, p)
	if err != nil {
		return nil, err
	}

	var reg slot.Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, coreerrors.NewInternalError(fmt.Sprintf("decode registry %s", p), err)
	}
	return &reg, nil
}

// Update atomically reads the registry (creating nothing — the mutator
// must handle the NotFound case itself if it wants to bootstrap one),
// applies mutator, validates invariants, and writes back. The same
// (project, environment) key is serialized; distinct keys run in parallel.
func (s *Store) Update(ctx context.Context, project, environment string, mutator slot.Mutator) (*slot.Registry, error) {
	unlock := s.locks.Lock(key(project, environment))
	defer unlock()

	reg, err := s.read(ctx, project, environment)
	if err != nil && coreerrors.Type(err) != coreerrors.ErrTypeRegistryNotFound {
		return nil, err
	}
	if reg == nil {
		reg = &slot.Registry{ProjectName: project, Environment: environment, ActiveSlot: slot.None}
	}

	if err := mutator(reg); err != nil {
		return nil, err
	}

	reg.LastUpdated = laterOf(reg.LastUpdated, time.Now().UTC())

	if err := reg.Validate(); err != nil {
		return nil, coreerrors.New(coreerrors.ErrTypeRegistryConflict, err.Error())
	}

	if err := s.write(ctx, reg); err != nil {
		return nil, err
	}

	s.log.Info("registry updated",
		logger.Project(project), logger.Environment(environment),
		"activeSlot", string(reg.ActiveSlot))

	return reg, nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	if a.IsZero() {
		return b
	}
	return a
}

func (s *Store) write(ctx context.Context, reg *slot.Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return coreerrors.NewInternalError("encode registry", err)
	}
	data = append(data, '\n')

	if err := s.exec.Mkdirp(ctx, s.appHost, registryDir); err != nil {
		return err
	}

	final := path(reg.ProjectName, reg.Environment)
	tmp := fmt.Sprintf("%s.tmp-%d", final, time.Now().UnixNano())

	if err := s.exec.WriteFile(ctx, s.appHost, tmp, data); err != nil {
		return err
	}

	result, err := s.exec.Exec(ctx, s.appHost, fmt.Sprintf("mv %s %s", shellQuote(tmp), shellQuote(final)), 15*time.Second)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return coreerrors.NewInternalError(fmt.Sprintf("rename %s to %s: %s", tmp, final, result.Stderr), nil)
	}
	return nil
}

// List reads every persisted registry on the app host. Files are fetched
// concurrently (bounded by errgroup's default of one goroutine per item,
// which is fine here: registry counts are small and each fetch is a
// single SSH round trip) since reads are independent of one another.
func (s *Store) List(ctx context.Context) ([]*slot.Registry, error) {
	result, err := s.exec.Exec(ctx, s.appHost, fmt.Sprintf("ls %s/*.json 2>/dev/null || true", registryDir), 15*time.Second)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
		if line != "" {
			paths = append(paths, line)
		}
	}

	registries := make([]*slot.Registry, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			data, err := s.exec.ReadFile(gctx, s.appHost, p)
			if err != nil {
				s.log.Warn("skipping unreadable registry file", "path", p, logger.Err(err))
				return nil
			}
			var reg slot.Registry
			if err := json.Unmarshal(data, &reg); err != nil {
				s.log.Warn("skipping malformed registry file", "path", p, logger.Err(err))
				return nil
			}
			registries[i] = &reg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	compacted := registries[:0]
	for _, r := range registries {
		if r != nil {
			compacted = append(compacted, r)
		}
	}
	return compacted, nil
}

func shellQuote(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

var _ slot.Store = (*Store)(nil)
