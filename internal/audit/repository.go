// Package audit records the gateway commands issued by the bridge.
//
// Every command handler writes one entry for the command it sends,
// best-effort: a failed insert is logged and never fails the command
// itself. The best-effort poll that follows a light or thermostat
// command, and the polls of a status refresh, write no entry. The
// trail answers "what was sent to the bus, when, and did it work" — it
// is not a log of readings.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one issued gateway command.
type Entry struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Address    int       `json:"address"`
	EntityType string    `json:"entityType,omitempty"`
	EntityID   string    `json:"entityId,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	FrameHex   string    `json:"frameHex,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Filter controls which entries List returns.
type Filter struct {
	Limit  int // default 50, max 200
	Offset int
}

// Pagination bounds.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Recorder is the write-side interface used by the command handlers.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Repository is the full audit trail interface.
type Repository interface {
	Recorder
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// SQLiteRepository stores the trail in the command_audit table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an audit repository on an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts one entry. The ID and CreatedAt are generated when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, command, address, entity_type, entity_id, ok, error, frame_hex, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Command, e.Address,
		nullableString(e.EntityType), nullableString(e.EntityID),
		e.OK, nullableString(e.Error), nullableString(e.FrameHex),
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns entries newest-first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, command, address, entity_type, entity_id, ok, error, frame_hex, created_at
		 FROM command_audit
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var entityType, entityID, errMsg, frameHex sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Command, &e.Address, &entityType, &entityID, &e.OK, &errMsg, &frameHex, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		e.EntityType = entityType.String
		e.EntityID = entityID.String
		e.Error = errMsg.String
		e.FrameHex = frameHex.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}

// nullableString maps empty strings onto NULL TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
