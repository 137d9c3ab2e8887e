package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/craftvisor/internal/history"
)

// Sink writes history events to SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// single connection keeps ":memory:" databases coherent and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profile_history(
			id TEXT PRIMARY KEY,
			occurred_at TIMESTAMP NOT NULL,
			event TEXT NOT NULL,
			profile TEXT NOT NULL,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			state TEXT NOT NULL,
			started_at TIMESTAMP NULL,
			stopped_at TIMESTAMP NULL,
			exit_err TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_profile_history_profile ON profile_history(profile);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_history(id, occurred_at, event, profile, name, pid, state, started_at, stopped_at, exit_err)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.OccurredAt.UTC(), string(e.Type), rec.Profile, rec.Name, rec.PID, rec.State,
		nullTime(rec.StartedAt), nullTime(rec.StoppedAt), nullString(rec.ExitErr))
	return err
}

// Recent returns up to limit events for profile, newest first.
func (s *Sink) Recent(ctx context.Context, profile string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, event, profile, name, pid, state, started_at, stopped_at, exit_err
		FROM profile_history
		WHERE profile=?
		ORDER BY occurred_at DESC
		LIMIT ?;`, profile, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]history.Event, 0)
	for rows.Next() {
		var (
			e       history.Event
			typ     string
			started sql.NullTime
			stopped sql.NullTime
			exitErr sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &typ, &e.Record.Profile, &e.Record.Name, &e.Record.PID,
			&e.Record.State, &started, &stopped, &exitErr); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Record.StartedAt = started.Time
		e.Record.StoppedAt = stopped.Time
		e.Record.ExitErr = exitErr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
