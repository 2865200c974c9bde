package factory

import (
	"errors"
	"strings"

	"github.com/loykin/devrun/internal/project"
	"github.com/loykin/devrun/internal/project/jsonfile"
	pg "github.com/loykin/devrun/internal/project/postgres"
	sq "github.com/loykin/devrun/internal/project/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:  "sqlite://<path>" or a bare filepath
//   - json:    "json://<path>" or a bare filepath ending in .json
func NewFromDSN(dsn string) (project.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	switch {
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		s, err := pg.New(d)
		if err != nil {
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(ld, "json://"):
		return newJSON(d[len("json://"):])
	case strings.HasPrefix(ld, "sqlite://"):
		return newSQLite(d[len("sqlite://"):])
	case strings.Contains(ld, "://"):
		return nil, errors.New("unsupported DSN format: " + d)
	case strings.HasSuffix(ld, ".json"):
		return newJSON(d)
	}
	return newSQLite(d)
}

func newSQLite(path string) (project.Store, error) {
	s, err := sq.New(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newJSON(path string) (project.Store, error) {
	s, err := jsonfile.New(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
