package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/devrun/internal/project"
)

// DB implements project.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if p == ":memory:" {
		// every new connection would see a fresh database
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projects(
			name TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			"desc" TEXT NOT NULL,
			script TEXT NOT NULL
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) List(ctx context.Context) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, path, "desc", script FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []project.Project{}
	for rows.Next() {
		var p project.Project
		if err := rows.Scan(&p.Name, &p.Path, &p.Desc, &p.Script); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DB) Get(ctx context.Context, name string) (project.Project, error) {
	var p project.Project
	err := s.db.QueryRowContext(ctx, `SELECT name, path, "desc", script FROM projects WHERE name = ?`, name).
		Scan(&p.Name, &p.Path, &p.Desc, &p.Script)
	if errors.Is(err, sql.ErrNoRows) {
		return project.Project{}, project.ErrNotFound
	}
	return p, err
}

func (s *DB) Add(ctx context.Context, p project.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projects(name, path, "desc", script) VALUES(?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING;`,
		p.Name, p.Path, p.Desc, p.Script)
	if err != nil {
		return fmt.Errorf("failed to add project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.ErrDuplicate
	}
	return nil
}

func (s *DB) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return project.ErrNotFound
	}
	return nil
}
