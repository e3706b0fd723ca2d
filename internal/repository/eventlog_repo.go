// Package repository provides data access for the durable operational log.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/poll-broadcaster/backend/internal/model"
)

// EventLogRepository persists operator-visible log events. Poll results are
// deliberately not persisted; this table is an operational audit trail only.
type EventLogRepository struct {
	db *sql.DB
}

// NewEventLogRepository creates a new EventLogRepository.
func NewEventLogRepository(db *sql.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

// Insert appends one log event.
func (r *EventLogRepository) Insert(ctx context.Context, ev model.LogEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	query := `
		INSERT INTO event_log (id, kind, message, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(),
		string(ev.Kind),
		ev.Message,
		ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log event: %w", err)
	}

	return nil
}

// Recent returns the most recent events, newest first.
func (r *EventLogRepository) Recent(ctx context.Context, limit int) ([]model.LogEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT kind, message, created_at
		FROM event_log
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query log events: %w", err)
	}
	defer rows.Close()

	var events []model.LogEvent
	for rows.Next() {
		var ev model.LogEvent
		var kind string
		if err := rows.Scan(&kind, &ev.Message, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log event: %w", err)
		}
		ev.Kind = model.LogKind(kind)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log events: %w", err)
	}

	return events, nil
}

// Count returns the total number of stored events.
func (r *EventLogRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count log events: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes events created before the cutoff and returns the
// number removed. Used by the startup retention sweep.
func (r *EventLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM event_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old log events: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return removed, nil
}
