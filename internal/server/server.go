package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server wraps an http.Server already bound to its listener.
type Server struct {
	*http.Server
	ln net.Listener
}

// ListenAddr returns the bound address, useful when listening on port 0.
func (s *Server) ListenAddr() net.Addr { return s.ln.Addr() }

// NewServer binds addr and serves h in the background. Binding happens
// synchronously so an occupied port is reported to the caller. A zero
// writeTimeout disables the write deadline, which long-lived event streams need.
func NewServer(addr string, h http.Handler, writeTimeout time.Duration, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return &Server{Server: server, ln: ln}, nil
}

// requestLogger logs one line per request at debug level.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}

func newEngine(log *slog.Logger) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(log))
	return g
}
