package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loykin/svcman/internal/auth"
	"github.com/loykin/svcman/internal/metrics"
	"github.com/loykin/svcman/internal/supervisor"
)

// AgentRouter exposes one supervised service behind bearer-token auth.
// Endpoints (all require an ADMIN token):
//
//	GET  {basePath}/status
//	POST {basePath}/start
//	POST {basePath}/stop
//	GET  {basePath}/metrics   when metrics are enabled
type AgentRouter struct {
	sup      *supervisor.Supervisor
	service  string
	verifier *auth.Verifier
	basePath string
	metrics  bool
	log      *slog.Logger
}

type AgentOptions struct {
	Supervisor *supervisor.Supervisor
	Service    string
	Verifier   *auth.Verifier
	BasePath   string
	Metrics    bool
	Logger     *slog.Logger
}

func NewAgentRouter(opts AgentOptions) *AgentRouter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &AgentRouter{
		sup:      opts.Supervisor,
		service:  opts.Service,
		verifier: opts.Verifier,
		basePath: sanitizeBase(opts.BasePath),
		metrics:  opts.Metrics,
		log:      log,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *AgentRouter) Handler() http.Handler {
	g := newEngine(r.log)
	group := g.Group(r.basePath, r.verifier.GinAuth())
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

type agentStatusResp struct {
	Running bool `json:"running"`
	Managed bool `json:"managed"`
	Port    int  `json:"port"`
	PID     *int `json:"pid"`
}

func (r *AgentRouter) handleStatus(c *gin.Context) {
	st, err := r.sup.Status(r.service)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, agentStatusResp{Running: st.Running, Managed: st.Managed, Port: st.Port, PID: st.PID})
}

func (r *AgentRouter) handleStart(c *gin.Context) {
	res, err := r.sup.Start(c.Request.Context(), r.service)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, startResp{Message: res.Message(), PID: res.PID})
}

func (r *AgentRouter) handleStop(c *gin.Context) {
	res, err := r.sup.Stop(c.Request.Context(), r.service)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, stopResp{Message: res.Message, PID: res.PID})
}
