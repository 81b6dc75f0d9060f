package envbundle

import "context"

// AutoGenerateOptions selects which subsystems to compose connection
// strings for when bootstrapping a first-time env file.
type AutoGenerateOptions struct {
	Database bool
	Cache    bool
	PubSub   bool
}

// HistoryEntry names one backup file, newest first.
type HistoryEntry struct {
	Name string
}

// Store is the durable, versioned environment configuration contract:
// master/current/timestamped history on the backup host, mirrored to the
// live file on the app host.
type Store interface {
	// Get returns all variables, or one if key is non-empty.
	Get(ctx context.Context, project, environment, key string) (*OrderedEnv, error)

	// Set applies one key/value change, writing a new timestamped backup,
	// overwriting current.env, bootstrapping master.env on first write,
	// and mirroring to the live file on the app host.
	Set(ctx context.Context, project, environment, key, value string) error

	// Restore replaces the live file with the named version
	// (master/current/<timestamp>), snapshotting the prior live content
	// as pre-restore-<timestamp>.env first if non-empty.
	Restore(ctx context.Context, project, environment, version string) error

	// History lists backup filenames in reverse-chronological order.
	History(ctx context.Context, project, environment string, limit int) ([]HistoryEntry, error)

	// AutoGenerate creates a first-time live file composing connection
	// strings for the requested subsystems; fails with EnvAlreadyExists
	// if the live file is already present.
	AutoGenerate(ctx context.Context, project, environment string, opts AutoGenerateOptions) (*OrderedEnv, error)
}
