package trace

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/insightpulseai/hawk/api/schemas"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id     TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	event_count  INTEGER NOT NULL,
	failures     INTEGER NOT NULL,
	path         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(session_id);
`

// IndexEntry is one row of the trace index.
type IndexEntry struct {
	TraceID     string
	SessionID   string
	StartedAt   time.Time
	CompletedAt *time.Time
	EventCount  int
	Failures    int
	Path        string
}

// Index is a local sqlite catalog of saved traces, queried by the traces CLI
// without parsing every JSON document on disk.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the index database under the trace root.
func OpenIndex(root string) (*Index, error) {
	db, err := sql.Open("sqlite", filepath.Join(root, "traces.db"))
	if err != nil {
		return nil, fmt.Errorf("open trace index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize trace index: %w", err)
	}
	return &Index{db: db}, nil
}

// Insert catalogs a saved trace. Re-inserting the same trace id replaces the row.
func (ix *Index) Insert(trace *schemas.ActionTrace, path string) error {
	failures := 0
	for _, ev := range trace.Events {
		if ev.Status == schemas.StatusFailure {
			failures++
		}
	}

	var completed sql.NullString
	if trace.CompletedAt != nil {
		completed = sql.NullString{String: trace.CompletedAt.Format(time.RFC3339Nano), Valid: true}
	}

	_, err := ix.db.Exec(
		`INSERT OR REPLACE INTO traces
		 (trace_id, session_id, started_at, completed_at, event_count, failures, path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		trace.TraceID, trace.SessionID,
		trace.StartedAt.Format(time.RFC3339Nano), completed,
		len(trace.Events), failures, path,
	)
	if err != nil {
		return fmt.Errorf("insert trace row: %w", err)
	}
	return nil
}

// List returns index entries, newest first. An empty sessionID lists all sessions.
func (ix *Index) List(sessionID string) ([]IndexEntry, error) {
	query := `SELECT trace_id, session_id, started_at, completed_at, event_count, failures, path
	          FROM traces`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trace index: %w", err)
	}
	defer rows.Close()

	var entries []IndexEntry
	for rows.Next() {
		var (
			e         IndexEntry
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(&e.TraceID, &e.SessionID, &started, &completed, &e.EventCount, &e.Failures, &e.Path); err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if completed.Valid {
			t, err := time.Parse(time.RFC3339Nano, completed.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
			e.CompletedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (ix *Index) Close() error {
	return ix.db.Close()
}
