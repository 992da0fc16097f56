// Package journal keeps an optional SQLite log of bridge activity: applied
// field updates, save notifications, editor clicks. It is debug tooling for
// authors ("what did the preview actually do"), not a data store the bridge
// depends on — recording failures are logged and never propagate.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Event kinds recorded by the bridge.
const (
	KindFieldUpdate = "field_update"
	KindFieldFocus  = "field_focus"
	KindFieldClick  = "field_click"
	KindSaved       = "saved"
	KindConnect     = "connect"
	KindDisconnect  = "disconnect"
)

// Event is one recorded bridge activity.
type Event struct {
	ID      string
	Kind    string
	EntryID string
	FieldID string
	Detail  string
	OK      bool
	At      time.Time
}

// Journal writes events to SQLite.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS bridge_events (
	event_id   TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	entry_id   TEXT NOT NULL DEFAULT '',
	field_id   TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	ok         INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bridge_events_created ON bridge_events(created_at DESC);
`

// Open creates or opens the journal database and initialises the schema.
// Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Record writes one event. Errors are logged, never returned: a failing
// journal must not block the bridge.
func (j *Journal) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = "evt_" + ulid.Make().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO bridge_events (event_id, kind, entry_id, field_id, detail, ok, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		ev.ID, ev.Kind, ev.EntryID, ev.FieldID, ev.Detail, boolInt(ev.OK), ev.At.UnixMilli())
	if err != nil {
		j.logger.Warn("journal: record failed", "kind", ev.Kind, "error", err)
	}
}

// Recent returns the newest events, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, kind, entry_id, field_id, detail, ok, created_at
		FROM bridge_events ORDER BY created_at DESC, event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var ok int
		var at int64
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.EntryID, &ev.FieldID, &ev.Detail, &ok, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.OK = ok != 0
		ev.At = time.UnixMilli(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
