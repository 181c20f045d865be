package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to a svcman manager or agent over HTTP.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	stream  *http.Client // no overall timeout, used for event streams
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Token    string       // bearer token, required by the agent
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

const DefaultBaseURL = "http://localhost:4000/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		stream:  &http.Client{Transport: transport},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := c.newRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	reachable := resp.StatusCode != http.StatusNotFound
	c.logger.Debug("Daemon reachability check", "reachable", reachable, "status", resp.StatusCode)
	return reachable
}

// Config returns the manager's LAN addresses.
func (c *Client) Config(ctx context.Context) (ManagerConfig, error) {
	var out ManagerConfig
	err := c.do(ctx, http.MethodGet, "/config", nil, &out)
	return out, err
}

// Start asks the manager to start service.
func (c *Client) Start(ctx context.Context, service string) (StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, http.MethodPost, "/start", ServiceRequest{Service: service}, &out)
	return out, err
}

// Stop asks the manager to stop service. A positive wait makes the manager
// confirm the exit before answering.
func (c *Client) Stop(ctx context.Context, service string, wait time.Duration) (StopResponse, error) {
	path := "/stop"
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	var out StopResponse
	err := c.do(ctx, http.MethodPost, path, ServiceRequest{Service: service}, &out)
	return out, err
}

// Status returns running flags keyed by service name.
func (c *Client) Status(ctx context.Context) (map[string]bool, error) {
	out := map[string]bool{}
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Services returns detailed status in registry order.
func (c *Client) Services(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	err := c.do(ctx, http.MethodGet, "/services", nil, &out)
	return out, err
}

// Resources returns the latest resource sample per running service.
func (c *Client) Resources(ctx context.Context) ([]ResourceSample, error) {
	var out []ResourceSample
	err := c.do(ctx, http.MethodGet, "/resources", nil, &out)
	return out, err
}

// AgentStatus reads the agent's single service status.
func (c *Client) AgentStatus(ctx context.Context) (AgentStatus, error) {
	var out AgentStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// AgentStart starts the agent's service.
func (c *Client) AgentStart(ctx context.Context) (StartResponse, error) {
	var out StartResponse
	err := c.do(ctx, http.MethodPost, "/start", nil, &out)
	return out, err
}

// AgentStop stops the agent's service.
func (c *Client) AgentStop(ctx context.Context) (StopResponse, error) {
	var out StopResponse
	err := c.do(ctx, http.MethodPost, "/stop", nil, &out)
	return out, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do performs a request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", req.URL.String())
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns non-2xx responses into *APIError.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return apiErr
	}
	apiErr.Code, apiErr.Message = er.Error, er.Message
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return apiErr
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	if config.TLS.SkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}
	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}
