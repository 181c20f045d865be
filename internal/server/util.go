package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/svcman/internal/supervisor"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeName validates service names before they reach the supervisor or logs.
// Allowed characters: A-Z a-z 0-9 . _ - and no "..".
func isSafeName(s string) bool {
	if s == "" || len(s) > 64 || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

type errorResp struct {
	Error string `json:"error"`
}

// statusFor maps supervisor errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrUnknownService):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrPortOccupied):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}

type startResp struct {
	Message string `json:"message"`
	PID     int    `json:"pid"`
}

type stopResp struct {
	Message string `json:"message"`
	PID     *int   `json:"pid"`
}
