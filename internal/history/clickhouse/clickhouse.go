package clickhouse

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/scriptdeck/internal/history"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options configures the ClickHouse connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

func New(opts Options) (*Sink, error) {
	if !tableName.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", opts.Table)
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			type String,
			occurred_at DateTime64(6),
			script String,
			pid UInt32,
			exit_err Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY (script, occurred_at)`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, script, pid, exit_err) VALUES (?, ?, ?, ?, ?)`, s.table)

	var exitErr *string
	if e.ExitErr != "" {
		exitErr = &e.ExitErr
	}
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.Script,
		uint32(e.PID),
		exitErr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// Count returns the number of rows stored for script.
func (s *Sink) Count(ctx context.Context, script string) (uint64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count() FROM %s WHERE script = ?`, s.table), script)
	err := row.Scan(&n)
	return n, err
}
