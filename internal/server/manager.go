package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/svcman/internal/metrics"
	"github.com/loykin/svcman/internal/supervisor"
)

// ManagerRouter exposes the whole service registry without auth.
// Endpoints:
//
//	GET  {basePath}/config
//	POST {basePath}/start      body: {"service": "..."}
//	POST {basePath}/stop       body: {"service": "..."}  query: wait=5s (optional)
//	GET  {basePath}/status
//	GET  {basePath}/services
//	GET  {basePath}/events     server-sent events
//	GET  {basePath}/resources  when a resource collector is attached
//	GET  /metrics              when metrics are enabled
type ManagerRouter struct {
	sup       *supervisor.Supervisor
	basePath  string
	ports     Ports
	resources *metrics.ResourceCollector
	metrics   bool
	lanIP     func() string
	heartbeat time.Duration
	log       *slog.Logger
}

// Ports are advertised by the config endpoint.
type Ports struct {
	Client  int
	Server  int
	Manager int
}

type ManagerOptions struct {
	Supervisor *supervisor.Supervisor
	BasePath   string
	Ports      Ports
	Resources  *metrics.ResourceCollector
	Metrics    bool
	LANIP      func() string // defaults to LANIP
	Heartbeat  time.Duration // SSE keep-alive interval, defaults to 15s
	Logger     *slog.Logger
}

func NewManagerRouter(opts ManagerOptions) *ManagerRouter {
	r := &ManagerRouter{
		sup:       opts.Supervisor,
		basePath:  sanitizeBase(opts.BasePath),
		ports:     opts.Ports,
		resources: opts.Resources,
		metrics:   opts.Metrics,
		lanIP:     opts.LANIP,
		heartbeat: opts.Heartbeat,
		log:       opts.Logger,
	}
	if r.lanIP == nil {
		r.lanIP = LANIP
	}
	if r.heartbeat <= 0 {
		r.heartbeat = 15 * time.Second
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *ManagerRouter) Handler() http.Handler {
	g := newEngine(r.log)
	group := g.Group(r.basePath)
	group.GET("/config", r.handleConfig)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.GET("/services", r.handleServices)
	group.GET("/events", r.handleEvents)
	if r.resources != nil {
		group.GET("/resources", r.handleResources)
	}
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

type configResp struct {
	LANIP      string `json:"lanIP"`
	ClientURL  string `json:"clientUrl"`
	APIURL     string `json:"apiUrl"`
	ManagerURL string `json:"managerUrl"`
}

func (r *ManagerRouter) handleConfig(c *gin.Context) {
	ip := r.lanIP()
	url := func(port int) string { return "http://" + ip + ":" + strconv.Itoa(port) }
	writeJSON(c, http.StatusOK, configResp{
		LANIP:      ip,
		ClientURL:  url(r.ports.Client),
		APIURL:     url(r.ports.Server),
		ManagerURL: url(r.ports.Manager),
	})
}

type serviceReq struct {
	Service string `json:"service"`
}

// bindService reads and validates the request body. It writes the 400
// response itself and reports false on failure.
func (r *ManagerRouter) bindService(c *gin.Context) (string, bool) {
	var req serviceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return "", false
	}
	if !isSafeName(req.Service) || !r.sup.Known(req.Service) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: fmt.Sprintf("invalid service %q", req.Service)})
		return "", false
	}
	return req.Service, true
}

func (r *ManagerRouter) handleStart(c *gin.Context) {
	name, ok := r.bindService(c)
	if !ok {
		return
	}
	res, err := r.sup.Start(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, startResp{Message: res.Message(), PID: res.PID})
}

func (r *ManagerRouter) handleStop(c *gin.Context) {
	name, ok := r.bindService(c)
	if !ok {
		return
	}
	var (
		res supervisor.StopResult
		err error
	)
	if w := c.Query("wait"); w != "" {
		d, perr := time.ParseDuration(w)
		if perr != nil || d <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait duration"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		res, err = r.sup.StopAndWait(ctx, name)
	} else {
		res, err = r.sup.Stop(c.Request.Context(), name)
	}
	if err != nil && res.PID == nil {
		writeError(c, err)
		return
	}
	if err != nil {
		// the stop was issued; only the confirmation timed out
		r.log.Warn("stop not confirmed", "service", name, "error", err)
	}
	writeJSON(c, http.StatusOK, stopResp{Message: res.Message, PID: res.PID})
}

func (r *ManagerRouter) handleStatus(c *gin.Context) {
	all, err := r.sup.StatusAll()
	if err != nil {
		writeError(c, err)
		return
	}
	out := make(map[string]bool, len(all))
	for _, st := range all {
		out[st.Name] = st.Running
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *ManagerRouter) handleServices(c *gin.Context) {
	all, err := r.sup.StatusAll()
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, all)
}

func (r *ManagerRouter) handleResources(c *gin.Context) {
	if name := c.Query("service"); name != "" {
		writeJSON(c, http.StatusOK, r.resources.History(name))
		return
	}
	writeJSON(c, http.StatusOK, r.resources.Latest())
}
