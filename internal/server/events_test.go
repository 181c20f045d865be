package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/svcman/internal/process"
)

type sseMsg struct {
	event string
	data  map[string]any
}

// readSSE parses event/data pairs from r until ctx ends, sending each to out.
func readSSE(ctx context.Context, sc *bufio.Scanner, out chan<- sseMsg) {
	defer close(out)
	var cur sseMsg
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			cur.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			_ = json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &cur.data)
		case line == "" && cur.event != "":
			select {
			case out <- cur:
			case <-ctx.Done():
				return
			}
			cur = sseMsg{}
		}
	}
}

func TestManagerEventStream(t *testing.T) {
	f, h := managerHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q", ct)
	}

	msgs := make(chan sseMsg, 16)
	go readSSE(ctx, bufio.NewScanner(resp.Body), msgs)

	if _, err := f.sup.Start(ctx, "client"); err != nil {
		t.Fatal(err)
	}
	p := f.spawn.last()
	p.ch <- process.Event{Data: "compiled\n"}
	p.exit(0, "")

	want := []string{"service-started", "service-log", "service-stopped"}
	for i, name := range want {
		select {
		case m := <-msgs:
			if m.event != name {
				t.Fatalf("event %d = %q, want %q", i, m.event, name)
			}
			if m.data["serviceName"] != "client" {
				t.Fatalf("event %d data = %v", i, m.data)
			}
			if name == "service-log" && m.data["data"] != "compiled\n" {
				t.Fatalf("log data = %v", m.data["data"])
			}
			if name == "service-stopped" && m.data["exitCode"] != float64(0) {
				t.Fatalf("exit code = %v", m.data["exitCode"])
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func TestManagerEventStreamFilter(t *testing.T) {
	_, h := managerHandler(t)
	rec := doReq(t, h, http.MethodGet, "/api/events?service=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rec.Code)
	}
}
