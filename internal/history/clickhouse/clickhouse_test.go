package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/scriptdeck/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	host, err := clickHouseContainer.Host(ctx)
	require.NoError(t, err)
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Options{Addr: addr, Table: "script_history"})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: now, Script: "job/a.py", PID: 12345}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: now, Script: "job/a.py", PID: 12345, ExitErr: "exit status 2"}))

	n, err := sink.Count(ctx, "job/a.py")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestClickHouseSink_RejectsBadTable(t *testing.T) {
	_, err := New(Options{Addr: "localhost:9000", Table: "x; DROP TABLE y"})
	assert.Error(t, err)
}
