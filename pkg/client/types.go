package client

import (
	"fmt"
	"time"
)

// ServiceRequest is the body of the manager start/stop endpoints.
type ServiceRequest struct {
	Service string `json:"service"`
}

type StartResponse struct {
	Message string `json:"message"`
	PID     int    `json:"pid"`
}

type StopResponse struct {
	Message string `json:"message"`
	PID     *int   `json:"pid"`
}

// ServiceStatus is one entry of the manager services listing.
type ServiceStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Managed bool   `json:"managed"`
	Port    int    `json:"port"`
	PID     *int   `json:"pid"`
}

// AgentStatus is the agent status payload.
type AgentStatus struct {
	Running bool `json:"running"`
	Managed bool `json:"managed"`
	Port    int  `json:"port"`
	PID     *int `json:"pid"`
}

// ManagerConfig describes where the stack can be reached on the LAN.
type ManagerConfig struct {
	LANIP      string `json:"lanIP"`
	ClientURL  string `json:"clientUrl"`
	APIURL     string `json:"apiUrl"`
	ManagerURL string `json:"managerUrl"`
}

type ResourceSample struct {
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpuPercent"`
	RSSBytes   uint64    `json:"rssBytes"`
	NumThreads int32     `json:"numThreads"`
	NumFDs     int32     `json:"numFds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event is one server-sent event. Name is the SSE event name
// (service-log, service-started, service-stopped).
type Event struct {
	Name        string    `json:"-"`
	ID          string    `json:"id"`
	ServiceName string    `json:"serviceName"`
	Data        string    `json:"data,omitempty"`
	IsError     bool      `json:"isError,omitempty"`
	PID         int       `json:"pid,omitempty"`
	ExitCode    *int      `json:"exitCode,omitempty"`
	Signal      string    `json:"signal,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s (%s)", e.StatusCode, e.Code, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}
