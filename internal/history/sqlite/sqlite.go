package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/devrun/internal/history"
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
	// a single connection keeps :memory: databases shared across calls
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000")

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS project_history(
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NULL,
			exit_err TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_project_history_name ON project_history(name);`,
		`CREATE INDEX IF NOT EXISTS idx_project_history_run ON project_history(run_id);`,
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
		INSERT INTO project_history(occurred_at, event, run_id, name, pid, started_at, stopped_at, exit_err)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), rec.RunID, rec.Name, rec.PID, rec.StartedAt.UTC(),
		nullTime(rec), nullString(rec.ExitErr))
	return err
}

// Runs returns the events recorded for name, oldest first.
func (s *Sink) Runs(ctx context.Context, name string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, event, run_id, name, pid, started_at, stopped_at, exit_err
		FROM project_history WHERE name = ? ORDER BY rowid`, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var (
			e       history.Event
			typ     string
			stopped sql.NullTime
			exitErr sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.RunID, &e.Record.Name, &e.Record.PID,
			&e.Record.StartedAt, &stopped, &exitErr); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		if stopped.Valid {
			e.Record.StoppedAt = stopped.Time
		}
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

func nullTime(r history.Record) any {
	if r.StoppedAt.IsZero() {
		return nil
	}
	return r.StoppedAt.UTC()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
