package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/svcman/internal/history"
)

func TestSink_InMemory(t *testing.T) {
	for _, dsn := range []string{":memory:", "sqlite://:memory:"} {
		t.Run(dsn, func(t *testing.T) {
			s, err := New(dsn)
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			defer func() { _ = s.Close() }()

			ctx := context.Background()
			code := 137
			for _, e := range []history.Event{
				{ID: "1", Type: history.EventStart, OccurredAt: time.Now(), Service: "server", PID: 10},
				{ID: "2", Type: history.EventStop, OccurredAt: time.Now(), Service: "server", PID: 10, ExitCode: &code, Signal: "killed"},
			} {
				if err := s.Send(ctx, e); err != nil {
					t.Fatalf("send: %v", err)
				}
			}
			n, err := s.Count(ctx, "server")
			if err != nil {
				t.Fatal(err)
			}
			if n != 2 {
				t.Fatalf("count = %d", n)
			}

			var exit int
			var signal string
			row := s.db.QueryRowContext(ctx, `SELECT exit_code, signal FROM service_history WHERE type = 'stop'`)
			if err := row.Scan(&exit, &signal); err != nil {
				t.Fatal(err)
			}
			if exit != 137 || signal != "killed" {
				t.Fatalf("exit=%d signal=%q", exit, signal)
			}
		})
	}
}

func TestSink_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := New("sqlite://" + path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), history.Event{ID: "x", Type: history.EventStart, OccurredAt: time.Now(), Service: "client", PID: 1}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	// reopening keeps rows and tolerates the existing schema
	s, err = New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()
	if n, _ := s.Count(context.Background(), "client"); n != 1 {
		t.Fatalf("count after reopen = %d", n)
	}
}

func TestNew_Empty(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error")
	}
}
