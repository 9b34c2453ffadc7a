// Package history keeps an audit trail of keybase status snapshots in
// SQLite. Only observed status is stored; credentials never reach it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/kbsession/internal/keybase"
	"github.com/zjrosen/kbsession/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS status_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	guid        TEXT NOT NULL UNIQUE,
	operation   TEXT NOT NULL,
	username    TEXT NOT NULL DEFAULT '',
	logged_in   INTEGER NOT NULL,
	device_type TEXT NOT NULL DEFAULT '',
	device_name TEXT NOT NULL DEFAULT '',
	device_id   TEXT NOT NULL DEFAULT '',
	provisioned INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_history_recorded_at ON status_history(recorded_at);
`

// Entry is one recorded status snapshot.
type Entry struct {
	ID         int64
	GUID       string
	Operation  string
	Status     keybase.StatusResponse
	RecordedAt time.Time
}

// Store persists Entries.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	log.Debug(log.CatHistory, "Opening history database", "path", path)
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		log.ErrorErr(log.CatHistory, "Failed to open history database", err, "path", path)
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps writes ordered.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		log.ErrorErr(log.CatHistory, "Failed to apply history schema", err, "path", path)
		return nil, fmt.Errorf("applying history schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores status as observed after op.
func (s *Store) Record(ctx context.Context, op string, status keybase.StatusResponse, at time.Time) (Entry, error) {
	e := Entry{
		GUID:       uuid.NewString(),
		Operation:  op,
		Status:     status,
		RecordedAt: at.UTC(),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO status_history (
			guid, operation, username, logged_in, device_type, device_name, device_id, provisioned, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.GUID, e.Operation, status.Username, status.LoggedIn,
		status.Device.Type, status.Device.Name, status.Device.DeviceID, status.Device.Provisioned,
		e.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting history entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("reading history entry id: %w", err)
	}

	log.Debug(log.CatHistory, "Recorded status", "op", op, "loggedIn", status.LoggedIn)
	return e, nil
}

// List returns up to limit entries, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, guid, operation, username, logged_in, device_type, device_name, device_id, provisioned, recorded_at
		FROM status_history ORDER BY recorded_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			recordedAt int64
		)
		if err := rows.Scan(
			&e.ID, &e.GUID, &e.Operation, &e.Status.Username, &e.Status.LoggedIn,
			&e.Status.Device.Type, &e.Status.Device.Name, &e.Status.Device.DeviceID,
			&e.Status.Device.Provisioned, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}
