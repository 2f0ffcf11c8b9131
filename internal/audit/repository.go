// Package audit stores the device event trail in SQLite and answers
// operator queries over it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout sorts lexically in chronological order for UTC times.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one recorded device event.
type Entry struct {
	ID           string         `json:"id"`
	SerialNumber string         `json:"serial_number"`
	Type         string         `json:"type"`
	Message      string         `json:"message,omitempty"`
	CommandID    string         `json:"command_id,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	SerialNumber string    // optional
	Type         string    // optional
	CommandID    string    // optional
	Since        time.Time // optional: entries at or after this time
	Limit        int       // default 50, max 500
	Offset       int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the audit trail operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository persists entries in the device_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry. ID and OccurredAt are generated when empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}

	var fieldsJSON *string
	if len(entry.Fields) > 0 {
		b, err := json.Marshal(entry.Fields)
		if err != nil {
			return fmt.Errorf("marshalling event fields: %w", err)
		}
		s := string(b)
		fieldsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_events (id, serial_number, type, message, command_id, fields, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SerialNumber, entry.Type, entry.Message,
		nullableString(entry.CommandID), fieldsJSON,
		entry.OccurredAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
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
	if filter.SerialNumber != "" {
		conditions = append(conditions, "serial_number = ?")
		args = append(args, filter.SerialNumber)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.CommandID != "" {
		conditions = append(conditions, "command_id = ?")
		args = append(args, filter.CommandID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM device_events " + where //nolint:gosec // conditions are placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting device events: %w", err)
	}

	query := "SELECT id, serial_number, type, message, command_id, fields, occurred_at FROM device_events " + //nolint:gosec // conditions are placeholders only
		where + " ORDER BY occurred_at DESC, id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var commandID, fieldsJSON sql.NullString
		var occurredAt string
		if err := rows.Scan(&e.ID, &e.SerialNumber, &e.Type, &e.Message, &commandID, &fieldsJSON, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		e.CommandID = commandID.String
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			var fields map[string]any
			if json.Unmarshal([]byte(fieldsJSON.String), &fields) == nil {
				e.Fields = fields
			}
		}
		e.OccurredAt, err = time.Parse(timeLayout, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing device event timestamp %q: %w", occurredAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
