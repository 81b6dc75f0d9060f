package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/codeblabdev/codeb-controlplane/internal/core/storage"
)

// RollbackAuditRepository is the SQLite implementation of storage.RollbackAuditRepository.
type RollbackAuditRepository struct {
	db *sql.DB
}

// NewRollbackAuditRepository creates a new rollback audit repository.
func NewRollbackAuditRepository(db *sql.DB) *RollbackAuditRepository {
	return &RollbackAuditRepository{db: db}
}

// Create inserts one rollback audit record.
func (r *RollbackAuditRepository) Create(ctx context.Context, rec *storage.RollbackAuditRecord) error {
	query := `
		INSERT INTO rollback_audit (operation_id, project, environment, from_slot, to_slot, from_version, to_version, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.OperationID, rec.Project, rec.Environment, rec.FromSlot, rec.ToSlot, rec.FromVersion, rec.ToVersion, rec.Reason, rec.CreatedAt,
	)
	return err
}

// ListByProject returns the most recent rollback records for (project, environment).
func (r *RollbackAuditRepository) ListByProject(ctx context.Context, project, environment string, limit int) ([]*storage.RollbackAuditRecord, error) {
	query := `
		SELECT id, operation_id, project, environment, from_slot, to_slot, COALESCE(from_version, ''), COALESCE(to_version, ''), COALESCE(reason, ''), created_at
		FROM rollback_audit
		WHERE project = ? AND environment = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, project, environment, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*storage.RollbackAuditRecord
	for rows.Next() {
		rec := &storage.RollbackAuditRecord{}
		if err := rows.Scan(&rec.ID, &rec.OperationID, &rec.Project, &rec.Environment, &rec.FromSlot, &rec.ToSlot, &rec.FromVersion, &rec.ToVersion, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
