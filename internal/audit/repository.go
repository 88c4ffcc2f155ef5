// Package audit records control-plane actions (tag registrations, deletions,
// uploads, volume changes) in the audit_logs table and lists them back.
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

// Actions recorded by the control plane.
const (
	ActionRegister   = "register"
	ActionUnregister = "unregister"
	ActionDelete     = "delete"
	ActionUpload     = "upload"
	ActionVolume     = "volume"
	ActionStop       = "stop"
)

// Entity types.
const (
	EntityMapping  = "mapping"
	EntityTrack    = "track"
	EntityPlayback = "playback"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Entry represents a single audit trail entry.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	Action     string // optional
	EntityType string // optional
	EntityID   string // optional
	Limit      int    // default 50, max 200
	Offset     int
}

// ListResult contains a page of audit entries.
type ListResult struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for audit log operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores entry, filling in ID and CreatedAt when unset.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details, entityID sql.NullString
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	if entry.EntityID != "" {
		entityID = sql.NullString{String: entry.EntityID, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, source, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.EntityType, entityID,
		entry.Source, details, entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storing audit entry %s: %w", entry.Action, err)
	}
	return nil
}

// clamp applies the paging defaults.
func (f Filter) clamp() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	f.Offset = max(f.Offset, 0)
	return f
}

// where renders the equality filters as a WHERE clause and its arguments.
func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	for _, c := range []struct{ col, val string }{
		{"action", f.Action},
		{"entity_type", f.EntityType},
		{"entity_id", f.EntityID},
	} {
		if c.val != "" {
			clauses = append(clauses, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// List returns one page of matching entries, newest first, with the total
// match count.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.clamp()
	where, args := filter.where()

	res := &ListResult{Logs: []Entry{}, Limit: filter.Limit, Offset: filter.Offset}
	//nolint:gosec // where holds only fixed column names
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // where holds only fixed column names
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, action, entity_type, entity_id, source, details, created_at FROM audit_logs"+
			where+" ORDER BY created_at DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res.Logs = append(res.Logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return res, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                 Entry
		entityID, details sql.NullString
		created           string
	)
	if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &e.Source, &details, &created); err != nil {
		return e, fmt.Errorf("reading audit entry: %w", err)
	}
	e.EntityID = entityID.String
	if details.String != "" {
		// Unreadable details are dropped rather than failing the page.
		json.Unmarshal([]byte(details.String), &e.Details) //nolint:errcheck // See above
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return e, fmt.Errorf("audit entry %s: bad timestamp %q: %w", e.ID, created, err)
	}
	e.CreatedAt = t
	return e, nil
}
