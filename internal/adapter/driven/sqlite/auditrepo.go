package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditLog = (*AuditRepo)(nil)

// AuditRepo is the SQLite implementation of the AuditLog port.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Record appends an audit event. A zero At is stamped with the current time.
func (r *AuditRepo) Record(ctx context.Context, event model.AuditEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	const query = `INSERT INTO audit_events (user_id, provider, session_id, action, outcome, detail, at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		event.UserID,
		string(event.Provider),
		event.SessionID,
		string(event.Action),
		event.Outcome,
		event.Detail,
		formatTime(event.At),
	)
	if err != nil {
		return fmt.Errorf("record audit event %s for %s: %w", event.Action, event.UserID, err)
	}
	return nil
}

// ListByUser returns the most recent events for a user, newest first.
func (r *AuditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `SELECT id, user_id, provider, session_id, action, outcome, detail, at
		FROM audit_events WHERE user_id = ? ORDER BY at DESC, id DESC LIMIT ?`
	rows, err := r.db.Reader.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events for %s: %w", userID, err)
	}
	defer rows.Close()

	events := []model.AuditEvent{}
	for rows.Next() {
		var (
			e                model.AuditEvent
			provider, action string
			at               string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &provider, &e.SessionID, &action, &e.Outcome, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Provider = model.ProviderType(provider)
		e.Action = model.AuditAction(action)
		if e.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse audit event time: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
