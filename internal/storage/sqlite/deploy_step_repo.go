package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/codeblabdev/codeb-controlplane/internal/core/storage"
)

// DeployStepRepository is the SQLite implementation of storage.DeployStepRepository.
type DeployStepRepository struct {
	db *sql.DB
}

// NewDeployStepRepository creates a new deploy step repository.
func NewDeployStepRepository(db *sql.DB) *DeployStepRepository {
	return &DeployStepRepository{db: db}
}

// Create inserts one step record.
func (r *DeployStepRepository) Create(ctx context.Context, rec *storage.DeployStepRecord) error {
	query := `
		INSERT INTO deploy_steps (operation_id, project, environment, operation, step_name, status, duration_ms, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.OperationID, rec.Project, rec.Environment, rec.Operation, rec.StepName, rec.Status, rec.DurationMS, rec.Error, rec.CreatedAt,
	)
	return err
}

// ListByProject returns the most recent step records for (project, environment).
func (r *DeployStepRepository) ListByProject(ctx context.Context, project, environment string, limit int) ([]*storage.DeployStepRecord, error) {
	query := `
		SELECT id, operation_id, project, environment, operation, step_name, status, duration_ms, COALESCE(error_message, ''), created_at
		FROM deploy_steps
		WHERE project = ? AND environment = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, project, environment, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*storage.DeployStepRecord
	for rows.Next() {
		rec := &storage.DeployStepRecord{}
		if err := rows.Scan(&rec.ID, &rec.OperationID, &rec.Project, &rec.Environment, &rec.Operation, &rec.StepName, &rec.Status, &rec.DurationMS, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
