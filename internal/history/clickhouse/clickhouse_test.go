package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/svcman/internal/history"
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
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Config{Addr: addr})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	code := 2
	events := []history.Event{
		{ID: "start-1", Type: history.EventStart, OccurredAt: time.Now().UTC(), Service: "server", PID: 12345},
		{ID: "stop-1", Type: history.EventStop, OccurredAt: time.Now().UTC(), Service: "server", PID: 12345, ExitCode: &code},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	var count uint64
	row := sink.conn.QueryRow(ctx, "SELECT count() FROM "+DefaultTable+" WHERE service = 'server'")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to query event count: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 events, got %d", count)
	}

	var exit *int32
	row = sink.conn.QueryRow(ctx, "SELECT exit_code FROM "+DefaultTable+" WHERE event_id = 'stop-1'")
	if err := row.Scan(&exit); err != nil {
		t.Fatalf("Failed to query exit code: %v", err)
	}
	if exit == nil || *exit != 2 {
		t.Fatalf("Expected exit code 2, got %v", exit)
	}
}

func TestNew_InvalidTable(t *testing.T) {
	for _, name := range []string{"drop table x", "a;b", "1abc", "a.b.c"} {
		if _, err := New(Config{Addr: "127.0.0.1:1", Table: name}); err == nil {
			t.Errorf("table %q accepted", name)
		}
	}
}
