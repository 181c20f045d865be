package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/svcman/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL, receivedMethod, contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "test-index")
	code := 0
	event := history.Event{
		ID:         "evt-1",
		Type:       history.EventStop,
		OccurredAt: time.Now().UTC(),
		Service:    "client",
		PID:        12345,
		ExitCode:   &code,
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if receivedMethod != http.MethodPut {
		t.Errorf("Expected PUT, got %s", receivedMethod)
	}
	if receivedURL != "/test-index/_doc/evt-1" {
		t.Errorf("Expected /test-index/_doc/evt-1, got %s", receivedURL)
	}
	if contentType != "application/json" {
		t.Errorf("Expected JSON content type, got %s", contentType)
	}
	var got history.Event
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("Failed to unmarshal body: %v", err)
	}
	if got.Service != "client" || got.PID != 12345 || got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("Unexpected body: %+v", got)
	}
}

func TestOpenSearchSink_PostWithoutID(t *testing.T) {
	var method, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	if err := New(server.URL, "").Send(context.Background(), history.Event{Type: history.EventStart}); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodPost || path != "/"+DefaultIndex+"/_doc" {
		t.Fatalf("got %s %s", method, path)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index closed", http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(server.URL, "idx").Send(context.Background(), history.Event{ID: "x"})
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "index closed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenSearchSink_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := New(server.URL, "idx").Send(ctx, history.Event{ID: "x"}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
