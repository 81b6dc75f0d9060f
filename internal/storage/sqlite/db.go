// Package sqlite is the SQLite implementation of the local operational
// ledger, using the pure-Go modernc.org/sqlite driver so the control
// plane binary stays cgo-free.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/codeblabdev/codeb-controlplane/internal/core/storage"
)

// Store is the SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB

	deploySteps      *DeployStepRepository
	rollbackAudit    *RollbackAuditRepository
	eventDeadLetters *EventDeadLetterRepository
}

// NewStore opens (creating if needed) the ledger database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	store.deploySteps = NewDeployStepRepository(db)
	store.rollbackAudit = NewRollbackAuditRepository(db)
	store.eventDeadLetters = NewEventDeadLetterRepository(db)

	return store, nil
}

// DeploySteps returns the deploy-step repository.
func (s *Store) DeploySteps() storage.DeployStepRepository { return s.deploySteps }

// RollbackAudit returns the rollback-audit repository.
func (s *Store) RollbackAudit() storage.RollbackAuditRepository { return s.rollbackAudit }

// EventDeadLetters returns the event dead-letter repository.
func (s *Store) EventDeadLetters() storage.EventDeadLetterRepository { return s.eventDeadLetters }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)

// Migrate runs database migrations.
func (s *Store) Migrate() error {
	migrations := []string{migrationV1}
	for i, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}
	return nil
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS deploy_steps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL DEFAULT '',
    project TEXT NOT NULL,
    environment TEXT NOT NULL,
    operation TEXT NOT NULL,
    step_name TEXT NOT NULL,
    status TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    error_message TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rollback_audit (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL DEFAULT '',
    project TEXT NOT NULL,
    environment TEXT NOT NULL,
    from_slot TEXT NOT NULL,
    to_slot TEXT NOT NULL,
    from_version TEXT,
    to_version TEXT,
    reason TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS event_dead_letters (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    project TEXT NOT NULL,
    environment TEXT NOT NULL,
    payload TEXT NOT NULL,
    reason TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_deploy_steps_project ON deploy_steps(project, environment);
CREATE INDEX IF NOT EXISTS idx_rollback_audit_project ON rollback_audit(project, environment);
`
