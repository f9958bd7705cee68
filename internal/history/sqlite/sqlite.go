package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/scriptdeck/internal/history"
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

	// Handle sqlite:// prefix
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS script_history(
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			script TEXT NOT NULL,
			pid INTEGER NOT NULL,
			exit_err TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_script_history_script ON script_history(script);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO script_history(occurred_at, event, script, pid, exit_err)
		VALUES(?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.Script, e.PID, history.NullString(e.ExitErr))
	return err
}

// Events returns the recorded events for script, oldest first.
func (s *Sink) Events(ctx context.Context, script string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, event, script, pid, COALESCE(exit_err, '')
		FROM script_history WHERE script = ? ORDER BY rowid;`, script)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []history.Event
	for rows.Next() {
		var e history.Event
		var typ string
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Script, &e.PID, &e.ExitErr); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
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
