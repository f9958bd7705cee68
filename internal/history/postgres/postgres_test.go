package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/scriptdeck/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(connStr)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: now, Script: "job/a.py", PID: 12345}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStop, OccurredAt: now, Script: "job/a.py", PID: 12345}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: now, Script: "job/a.py", PID: 12345, ExitErr: "signal: terminated"}))

	n, err := sink.Count(ctx, "job/a.py")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
