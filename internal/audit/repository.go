// Package audit records the history of client sessions and device channels.
//
// Events are written asynchronously by a Recorder that observes the
// communicator, and read back through the Repository for the sessions API.
// The table is history only: presence is never rebuilt from it.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindConnection = "connection"
	KindDevice     = "device"
)

// Event actions.
const (
	ActionOpened = "opened"
	ActionClosed = "closed"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// SessionEvent is one open or close of a connection or device channel.
type SessionEvent struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Action        string    `json:"action"`
	SubjectID     int64     `json:"subject_id"`
	ConnectionID  string    `json:"connection_id,omitempty"`
	RemoteAddress string    `json:"remote_address,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Filter controls which events List returns.
type Filter struct {
	Kind      string    // optional: connection or device
	Action    string    // optional: opened or closed
	SubjectID int64     // optional: user or device id (0 = any)
	Since     time.Time // optional: only events at or after this instant
	Limit     int       // default 50, max 200
	Offset    int
}

// ListResult is a page of events.
type ListResult struct {
	Events []SessionEvent `json:"events"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Repository stores session events.
type Repository interface {
	Create(ctx context.Context, event *SessionEvent) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores session events in the session_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a session event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an event. ID and OccurredAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, event *SessionEvent) error {
	if event.ID == "" {
		event.ID = "ses-" + uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	event.OccurredAt = event.OccurredAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_events (id, kind, action, subject_id, connection_id, remote_address, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Kind, event.Action, event.SubjectID,
		nullableString(event.ConnectionID), nullableString(event.RemoteAddress),
		event.OccurredAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.SubjectID != 0 {
		conditions = append(conditions, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeFormat))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM session_events " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting session events: %w", err)
	}

	query := "SELECT id, kind, action, subject_id, connection_id, remote_address, occurred_at FROM session_events " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY occurred_at DESC, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer rows.Close()

	events := []SessionEvent{}
	for rows.Next() {
		var (
			e                     SessionEvent
			connectionID, address sql.NullString
			occurredAt            string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Action, &e.SubjectID, &connectionID, &address, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		e.ConnectionID = connectionID.String
		e.RemoteAddress = address.String

		t, err := time.Parse(timeFormat, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing session event timestamp %q: %w", occurredAt, err)
		}
		e.OccurredAt = t
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Prune deletes events older than before and returns how many were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM session_events WHERE occurred_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning session events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned session events: %w", err)
	}
	return n, nil
}
