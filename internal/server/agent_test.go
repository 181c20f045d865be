package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/loykin/svcman/internal/auth"
)

const agentSecret = "agent-secret"

func agentHandler(t *testing.T) (*fixture, http.Handler, string) {
	t.Helper()
	f := newFixture(t, true, "server")
	v, err := auth.NewVerifier(agentSecret, auth.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := auth.IssueToken(agentSecret, auth.RoleAdmin, "ops", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	h := NewAgentRouter(AgentOptions{Supervisor: f.sup, Service: "server", Verifier: v, Metrics: true}).Handler()
	return f, h, "Bearer " + tok
}

func TestAgentAuthGate(t *testing.T) {
	f, h, _ := agentHandler(t)
	viewer, _ := auth.IssueToken(agentSecret, "VIEWER", "t", time.Hour)

	tests := []struct {
		name   string
		header []string
		status int
		code   string
	}{
		{"missing", nil, http.StatusUnauthorized, "authentication_required"},
		{"malformed", []string{"Authorization", "Bearer xyz"}, http.StatusUnauthorized, "authentication_failed"},
		{"wrong role", []string{"Authorization", "Bearer " + viewer}, http.StatusForbidden, "permission_denied"},
	}
	for _, tc := range tests {
		for _, route := range []struct{ method, path string }{
			{http.MethodGet, "/status"},
			{http.MethodPost, "/start"},
			{http.MethodPost, "/stop"},
			{http.MethodGet, "/metrics"},
		} {
			rec := doReq(t, h, route.method, route.path, nil, tc.header...)
			if rec.Code != tc.status {
				t.Fatalf("%s %s %s: got %d, want %d", tc.name, route.method, route.path, rec.Code, tc.status)
			}
			if body := decode[map[string]string](t, rec); body["error"] != tc.code {
				t.Fatalf("%s: error = %q", tc.name, body["error"])
			}
		}
	}
	if f.spawn.count() != 0 {
		t.Fatal("rejected requests must not spawn")
	}
}

func TestAgentLifecycle(t *testing.T) {
	f, h, bearer := agentHandler(t)

	rec := doReq(t, h, http.MethodGet, "/status", nil, "Authorization", bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	st := decode[agentStatusResp](t, rec)
	if st.Running || st.Managed || st.PID != nil || st.Port != 3000 {
		t.Fatalf("initial status = %+v", st)
	}

	rec = doReq(t, h, http.MethodPost, "/start", nil, "Authorization", bearer)
	started := decode[startResp](t, rec)
	if rec.Code != http.StatusOK || started.Message != "started" || started.PID == 0 {
		t.Fatalf("start: %d %+v", rec.Code, started)
	}

	rec = doReq(t, h, http.MethodPost, "/start", nil, "Authorization", bearer)
	again := decode[startResp](t, rec)
	if again.Message != "already running" || again.PID != started.PID {
		t.Fatalf("second start = %+v", again)
	}
	if f.spawn.count() != 1 {
		t.Fatalf("spawned %d", f.spawn.count())
	}

	st = decode[agentStatusResp](t, doReq(t, h, http.MethodGet, "/status", nil, "Authorization", bearer))
	if !st.Running || !st.Managed || st.PID == nil || *st.PID != started.PID {
		t.Fatalf("running status = %+v", st)
	}

	stopped := decode[stopResp](t, doReq(t, h, http.MethodPost, "/stop", nil, "Authorization", bearer))
	if stopped.Message != "stopped" || stopped.PID == nil || *stopped.PID != started.PID {
		t.Fatalf("stop = %+v", stopped)
	}
	stopped = decode[stopResp](t, doReq(t, h, http.MethodPost, "/stop", nil, "Authorization", bearer))
	if stopped.Message != "not running" || stopped.PID != nil {
		t.Fatalf("second stop = %+v", stopped)
	}
}

func TestAgentPortConflict(t *testing.T) {
	f, h, bearer := agentHandler(t)
	f.busy.Store(true)

	rec := doReq(t, h, http.MethodPost, "/start", nil, "Authorization", bearer)
	if rec.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409", rec.Code)
	}
	if decode[errorResp](t, rec).Error == "" {
		t.Fatal("missing error message")
	}
	st := decode[agentStatusResp](t, doReq(t, h, http.MethodGet, "/status", nil, "Authorization", bearer))
	if !st.Running || st.Managed || st.PID != nil {
		t.Fatalf("status with foreign listener = %+v", st)
	}
	if f.spawn.count() != 0 {
		t.Fatal("conflict must not spawn")
	}
}

func TestAgentMetrics(t *testing.T) {
	_, h, bearer := agentHandler(t)
	rec := doReq(t, h, http.MethodGet, "/metrics", nil, "Authorization", bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
}
