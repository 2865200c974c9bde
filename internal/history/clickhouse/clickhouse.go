package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/devrun/internal/history"
)

// Options configures the ClickHouse connection. Zero values select the
// server defaults.
type Options struct {
	Database string
	Username string
	Password string
}

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port, native protocol) and pings it.
func New(addr, table string, opts ...Options) (*Sink, error) {
	o := Options{Database: "default", Username: "default"}
	if len(opts) > 0 {
		if opts[0].Database != "" {
			o.Database = opts[0].Database
		}
		if opts[0].Username != "" {
			o.Username = opts[0].Username
		}
		o.Password = opts[0].Password
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

// EnsureSchema creates the history table when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			type String,
			occurred_at DateTime64(6),
			run_id String,
			name String,
			pid Int64,
			started_at DateTime64(6),
			stopped_at Nullable(DateTime64(6)),
			exit_err Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, run_id)`, s.table))
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, run_id, name, pid, started_at, stopped_at, exit_err) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	var stopped *time.Time
	if !e.Record.StoppedAt.IsZero() {
		t := e.Record.StoppedAt.UTC()
		stopped = &t
	}
	var exitErr *string
	if e.Record.ExitErr != "" {
		exitErr = &e.Record.ExitErr
	}
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt.UTC(),
		e.Record.RunID,
		e.Record.Name,
		int64(e.Record.PID),
		e.Record.StartedAt.UTC(),
		stopped,
		exitErr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Count returns how many rows were written for name.
func (s *Sink) Count(ctx context.Context, name string) (uint64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT count() FROM %s WHERE name = ?", s.table), name)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
