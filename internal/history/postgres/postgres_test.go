package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/svcman/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

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
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	code := 1
	for _, e := range []history.Event{
		{ID: "a", Type: history.EventStart, OccurredAt: time.Now(), Service: "server", PID: 4242},
		{ID: "b", Type: history.EventStop, OccurredAt: time.Now(), Service: "server", PID: 4242, ExitCode: &code},
	} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	var n int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_history WHERE service = 'server'`).Scan(&n); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 rows, got %d", n)
	}

	var exit int
	if err := sink.db.QueryRowContext(ctx, `SELECT exit_code FROM service_history WHERE type = 'stop'`).Scan(&exit); err != nil {
		t.Fatalf("Failed to read exit code: %v", err)
	}
	if exit != 1 {
		t.Fatalf("Expected exit code 1, got %d", exit)
	}
}

func TestNew_Empty(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
