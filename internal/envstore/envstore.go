// Package envstore is the SSH-backed implementation of envbundle.Store:
// master/current/timestamped history on the backup host mirrored to a
// live file on the app host.
package envstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeblabdev/codeb-controlplane/internal/core/envbundle"
	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/keylock"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/sshx"
)

const backupRoot = "/opt/codeb/env-backup"

// Store is an envbundle.Store backed by files on the backup and app hosts.
type Store struct {
	exec       sshx.Executor
	appHost    string
	backupHost string
	locks      *keylock.Table
	log        logger.Logger
	now        func() time.Time
}

// New returns a Store mirroring between appHost (live file) and
// backupHost (master/current/history).
func New(exec sshx.Executor, appHost, backupHost string, log logger.Logger) *Store {
	return &Store{
		exec:       exec,
		appHost:    appHost,
		backupHost: backupHost,
		locks:      keylock.New(),
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func backupDir(project, environment string) string {
	return fmt.Sprintf("%s/%s/%s", backupRoot, project, environment)
}

func livePath(project, environment string) string {
	return fmt.Sprintf("/opt/codeb/projects/%s/.env.%s", project, environment)
}

func timestampName(t time.Time) string {
	return t.Format("20060102T150405Z") + ".env"
}

// Get returns all variables, or just key if non-empty.
func (s *Store) Get(ctx context.Context, project, environment, key string) (*envbundle.OrderedEnv, error) {
	data, err := s.exec.ReadFile(ctx, s.appHost, livePath(project, environment))
	if err != nil {
		return nil, err
	}
	env := envbundle.Parse(data)
	if key == "" {
		return env, nil
	}
	value, ok := env.Get(key)
	if !ok {
		return envbundle.NewOrderedEnv(), nil
	}
	result := envbundle.NewOrderedEnv()
	result.Set(key, value)
	return result, nil
}

// Set applies one key/value change per the write order in the env store
// contract, tolerating a live-host write failure by leaving the backup
// host ahead (converged by the next successful Set).
func (s *Store) Set(ctx context.Context, project, environment, key, value string) error {
	unlock := s.locks.Lock(lockKey(project, environment))
	defer unlock()

	live, err := s.readLiveOrEmpty(ctx, project, environment)
	if err != nil {
		return err
	}
	live.Set(key, value)

	now := s.now()
	content := envbundle.Serialize(live, now)

	dir := backupDir(project, environment)
	if err := s.exec.Mkdirp(ctx, s.backupHost, dir); err != nil {
		return err
	}

	tsPath := dir + "/" + timestampName(now)
	if err := s.exec.WriteFile(ctx, s.backupHost, tsPath, content); err != nil {
		return err
	}

	currentPath := dir + "/current.env"
	if err := s.exec.WriteFile(ctx, s.backupHost, currentPath, content); err != nil {
		return err
	}

	masterPath := dir + "/master.env"
	masterExists, err := s.exec.FileExists(ctx, s.backupHost, masterPath)
	if err != nil {
		return err
	}
	if !masterExists {
		if err := s.exec.WriteFile(ctx, s.backupHost, masterPath, content); err != nil {
			return err
		}
	}

	if err := s.exec.Mkdirp(ctx, s.appHost, fmt.Sprintf("/opt/codeb/projects/%s", project)); err != nil {
		return err
	}
	if err := s.exec.WriteFile(ctx, s.appHost, livePath(project, environment), content); err != nil {
		s.log.Warn("live env write failed, backup store is ahead",
			logger.Project(project), logger.Environment(environment), logger.Err(err))
		return err
	}

	return nil
}

func lockKey(project, environment string) string { return project + "/" + environment }

func (s *Store) readLiveOrEmpty(ctx context.Context, project, environment string) (*envbundle.OrderedEnv, error) {
	exists, err := s.exec.FileExists(ctx, s.appHost, livePath(project, environment))
	if err != nil {
		return nil, err
	}
	if !exists {
		return envbundle.NewOrderedEnv(), nil
	}
	data, err := s.exec.ReadFile(ctx, s.appHost, livePath(project, environment))
	if err != nil {
		return nil, err
	}
	return envbundle.Parse(data), nil
}

// Restore replaces the live file with the named backup version.
func (s *Store) Restore(ctx context.Context, project, environment, version string) error {
	unlock := s.locks.Lock(lockKey(project, environment))
	defer unlock()

	dir := backupDir(project, environment)
	srcPath := dir + "/" + resolveVersionFilename(version)

	exists, err := s.exec.FileExists(ctx, s.backupHost, srcPath)
	if err != nil {
		return err
	}
	if !exists {
		return coreerrors.NewBackupNotFoundError(project, environment, version)
	}
	content, err := s.exec.ReadFile(ctx, s.backupHost, srcPath)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return coreerrors.NewBackupNotFoundError(project, environment, version)
	}

	liveExists, err := s.exec.FileExists(ctx, s.appHost, livePath(project, environment))
	if err != nil {
		return err
	}
	if liveExists {
		liveContent, err := s.exec.ReadFile(ctx, s.appHost, livePath(project, environment))
		if err != nil {
			return err
		}
		if len(strings.TrimSpace(string(liveContent))) > 0 {
			preRestorePath := dir + fmt.Sprintf("/pre-restore-%s", timestampName(s.now()))
			if err := s.exec.WriteFile(ctx, s.backupHost, preRestorePath, liveContent); err != nil {
				return err
			}
		}
	}

	if err := s.exec.WriteFile(ctx, s.appHost, livePath(project, environment), content); err != nil {
		return err
	}
	return s.exec.WriteFile(ctx, s.backupHost, dir+"/current.env", content)
}

func resolveVersionFilename(version string) string {
	switch version {
	case "master":
		return "master.env"
	case "current":
		return "current.env"
	default:
		if strings.HasSuffix(version, ".env") {
			return version
		}
		return version + ".env"
	}
}

// History lists backup filenames in reverse-chronological order, newest first.
func (s *Store) History(ctx context.Context, project, environment string, limit int) ([]envbundle.HistoryEntry, error) {
	dir := backupDir(project, environment)
	result, err := s.exec.Exec(ctx, s.backupHost, fmt.Sprintf("ls %s 2>/dev/null || true", shellQuote(dir)), 15*time.Second)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0)
	for _, line := range strings.Split(strings.TrimSpace(result.Stdout), "\n") {
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	entries := make([]envbundle.HistoryEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, envbundle.HistoryEntry{Name: n})
	}
	return entries, nil
}

// AutoGenerate creates a first-time live file composing connection
// strings for the requested subsystems.
func (s *Store) AutoGenerate(ctx context.Context, project, environment string, opts envbundle.AutoGenerateOptions) (*envbundle.OrderedEnv, error) {
	unlock := s.locks.Lock(lockKey(project, environment))
	defer unlock()

	exists, err := s.exec.FileExists(ctx, s.appHost, livePath(project, environment))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, coreerrors.NewEnvAlreadyExistsError(project, environment)
	}

	env := envbundle.NewOrderedEnv()

	if opts.Database {
		pass, err := generateSecret(32)
		if err != nil {
			return nil, coreerrors.NewInternalError("generate database password", err)
		}
		env.Set("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:5432/%s", project, pass, s.backupHost, project))
	}
	if opts.Cache {
		pass, err := generateSecret(32)
		if err != nil {
			return nil, coreerrors.NewInternalError("generate cache password", err)
		}
		env.Set("CACHE_URL", fmt.Sprintf("redis://:%s@%s:6379/0", pass, s.backupHost))
	}
	if opts.PubSub {
		pass, err := generateSecret(32)
		if err != nil {
			return nil, coreerrors.NewInternalError("generate pubsub password", err)
		}
		env.Set("PUBSUB_API_KEY", pass)
	}

	now := s.now()
	content := envbundle.Serialize(env, now)

	dir := backupDir(project, environment)
	if err := s.exec.Mkdirp(ctx, s.backupHost, dir); err != nil {
		return nil, err
	}
	if err := s.exec.WriteFile(ctx, s.backupHost, dir+"/master.env", content); err != nil {
		return nil, err
	}
	if err := s.exec.WriteFile(ctx, s.backupHost, dir+"/current.env", content); err != nil {
		return nil, err
	}
	if err := s.exec.WriteFile(ctx, s.backupHost, dir+"/"+timestampName(now), content); err != nil {
		return nil, err
	}

	if err := s.exec.Mkdirp(ctx, s.appHost, fmt.Sprintf("/opt/codeb/projects/%s", project)); err != nil {
		return nil, err
	}
	if err := s.exec.WriteFile(ctx, s.appHost, livePath(project, environment), content); err != nil {
		return nil, err
	}

	return env, nil
}

func shellQuote(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}

var _ envbundle.Store = (*Store)(nil)
