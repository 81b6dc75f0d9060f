package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/codeblabdev/codeb-controlplane/internal/core/storage"
)

// EventDeadLetterRepository is the SQLite implementation of storage.EventDeadLetterRepository.
type EventDeadLetterRepository struct {
	db *sql.DB
}

// NewEventDeadLetterRepository creates a new event dead-letter repository.
func NewEventDeadLetterRepository(db *sql.DB) *EventDeadLetterRepository {
	return &EventDeadLetterRepository{db: db}
}

// Create inserts one dead-lettered event.
func (r *EventDeadLetterRepository) Create(ctx context.Context, rec *storage.EventDeadLetterRecord) error {
	query := `
		INSERT INTO event_dead_letters (kind, project, environment, payload, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query, rec.Kind, rec.Project, rec.Environment, rec.Payload, rec.Reason, rec.CreatedAt)
	return err
}

// List returns the most recent dead-lettered events.
func (r *EventDeadLetterRepository) List(ctx context.Context, limit int) ([]*storage.EventDeadLetterRecord, error) {
	query := `
		SELECT id, kind, project, environment, payload, COALESCE(reason, ''), created_at
		FROM event_dead_letters
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*storage.EventDeadLetterRecord
	for rows.Next() {
		rec := &storage.EventDeadLetterRecord{}
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Project, &rec.Environment, &rec.Payload, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
