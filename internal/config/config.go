package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/svcman/internal/env"
	"github.com/loykin/svcman/internal/logger"
	"github.com/loykin/svcman/internal/portprobe"
	"github.com/loykin/svcman/internal/process"
	"github.com/loykin/svcman/internal/supervisor"
)

// Names of the services the manager knows about, in display order.
const (
	ServiceClient = "client"
	ServiceServer = "server"
	ServiceAgent  = "agent"
)

var KnownServices = []string{ServiceClient, ServiceServer, ServiceAgent}

// Config is the top-level TOML structure.
type Config struct {
	Env      []string        `toml:"env" mapstructure:"env"`
	EnvFiles []string        `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool            `toml:"use_os_env" mapstructure:"use_os_env"`
	LockFile string          `toml:"lock_file" mapstructure:"lock_file"`
	Log      *LogConfig      `toml:"log" mapstructure:"log"`
	Logging  logger.Options  `toml:"logging" mapstructure:"logging"`
	Manager  ManagerConfig   `toml:"manager" mapstructure:"manager"`
	Agent    AgentConfig     `toml:"agent" mapstructure:"agent"`
	Services []ServiceConfig `toml:"services" mapstructure:"services"`
	Metrics  MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History  HistoryConfig   `toml:"history" mapstructure:"history"`
}

// LogConfig controls the per-service stdout/stderr files.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ManagerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	Port     int    `toml:"port" mapstructure:"port"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	PIDFile  string `toml:"pidfile" mapstructure:"pidfile"`
	LogFile  string `toml:"logfile" mapstructure:"logfile"`
	// Autostart lists services started when the manager comes up.
	Autostart []string `toml:"autostart" mapstructure:"autostart"`
}

// AgentConfig configures the single-service agent. When Service is empty the
// supervised service is "<Runtime> <ServerPath>" run from ServerPath's directory.
type AgentConfig struct {
	Listen     string `toml:"listen" mapstructure:"listen"`
	Port       int    `toml:"port" mapstructure:"port"`
	BasePath   string `toml:"base_path" mapstructure:"base_path"`
	JWTSecret  string `toml:"jwt_secret" mapstructure:"jwt_secret"`
	Role       string `toml:"role" mapstructure:"role"`
	Service    string `toml:"service" mapstructure:"service"`
	Runtime    string `toml:"runtime" mapstructure:"runtime"`
	ServerPath string `toml:"server_path" mapstructure:"server_path"`
	ServerPort int    `toml:"server_port" mapstructure:"server_port"`
}

type ServiceConfig struct {
	Name    string     `toml:"name" mapstructure:"name"`
	Command string     `toml:"command" mapstructure:"command"`
	Args    []string   `toml:"args" mapstructure:"args"`
	WorkDir string     `toml:"workdir" mapstructure:"workdir"`
	Env     []string   `toml:"env" mapstructure:"env"`
	Port    int        `toml:"port" mapstructure:"port"`
	Probe   *bool      `toml:"probe_port" mapstructure:"probe_port"`
	Log     *LogConfig `toml:"log" mapstructure:"log"`
}

type MetricsConfig struct {
	Enabled        bool          `toml:"enabled" mapstructure:"enabled"`
	ProcessMetrics bool          `toml:"process_metrics" mapstructure:"process_metrics"`
	Interval       time.Duration `toml:"interval" mapstructure:"interval"`
	MaxHistory     int           `toml:"max_history" mapstructure:"max_history"`
}

// HistoryConfig lists lifecycle history sink DSNs (see history/factory).
type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Sinks   []string `toml:"sinks" mapstructure:"sinks"`
}

// envBindings maps config keys to the environment variables read at startup.
var envBindings = map[string]string{
	"agent.port":        "AGENT_PORT",
	"agent.jwt_secret":  "JWT_SECRET",
	"agent.server_port": "SERVER_PORT",
	"agent.server_path": "SERVER_PATH",
	"manager.port":      "MANAGER_PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("use_os_env", true)
	v.SetDefault("lock_file", filepath.Join(os.TempDir(), "svcman.lock"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("manager.listen", "0.0.0.0")
	v.SetDefault("manager.port", 4000)
	v.SetDefault("manager.base_path", "/api")
	v.SetDefault("manager.pidfile", filepath.Join(os.TempDir(), "svcman.pid"))
	v.SetDefault("agent.listen", "0.0.0.0")
	v.SetDefault("agent.port", 5001)
	v.SetDefault("agent.role", "ADMIN")
	v.SetDefault("agent.runtime", "node")
	v.SetDefault("agent.server_port", 5000)
	v.SetDefault("metrics.interval", 5*time.Second)
	v.SetDefault("metrics.max_history", 60)
}

// Load reads path (TOML) when non-empty, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, name := range envBindings {
		if err := v.BindEnv(key, name); err != nil {
			return nil, err
		}
	}
	v.SetEnvPrefix("SVCMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(c.Services) == 0 {
		c.Services = DefaultServices()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultServices is the stock client/server/agent layout: a frontend dev
// server, the backend, and this binary's own agent subcommand.
func DefaultServices() []ServiceConfig {
	self, err := os.Executable()
	if err != nil {
		self = "svcman"
	}
	return []ServiceConfig{
		{Name: ServiceClient, Command: "npm", Args: []string{"start"}, WorkDir: "client", Port: 3000},
		{Name: ServiceServer, Command: "node", Args: []string{"index.js"}, WorkDir: "server", Port: 5000},
		{Name: ServiceAgent, Command: self, Args: []string{"agent"}, Port: 5001},
	}
}

var (
	ErrUnknownServiceName = errors.New("service name must be one of client, server, agent")
	ErrInvalidPort        = errors.New("port out of range")
)

func validPort(p int) bool { return p >= 0 && p <= portprobe.MaxPort }

// Validate checks names, ports and commands.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Services))
	for _, sc := range c.Services {
		if !slices.Contains(KnownServices, sc.Name) {
			return fmt.Errorf("%w: %q", ErrUnknownServiceName, sc.Name)
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate service %q", sc.Name)
		}
		seen[sc.Name] = true
		if strings.TrimSpace(sc.Command) == "" {
			return fmt.Errorf("service %s: command is required", sc.Name)
		}
		if !validPort(sc.Port) {
			return fmt.Errorf("%w: service %s port %d", ErrInvalidPort, sc.Name, sc.Port)
		}
	}
	for _, name := range c.Manager.Autostart {
		if !seen[name] {
			return fmt.Errorf("autostart references unconfigured service %q", name)
		}
	}
	for what, p := range map[string]int{
		"manager.port":      c.Manager.Port,
		"agent.port":        c.Agent.Port,
		"agent.server_port": c.Agent.ServerPort,
	} {
		if !validPort(p) {
			return fmt.Errorf("%w: %s = %d", ErrInvalidPort, what, p)
		}
	}
	if c.Agent.Service != "" && !seen[c.Agent.Service] {
		return fmt.Errorf("agent.service references unconfigured service %q", c.Agent.Service)
	}
	if c.Metrics.ProcessMetrics && c.Metrics.Interval <= 0 {
		return errors.New("metrics.interval must be positive")
	}
	return nil
}

// GlobalEnv builds the environment shared by all services. Precedence: OS env
// (when use_os_env) < env_files in order < top-level env.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.Isolated()
	if c.UseOSEnv {
		e = env.New()
	}
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		e.SetAll(pairs)
	}
	e.SetAll(c.Env)
	return e, nil
}

// ManagerServices converts the configured services for the manager variant.
// Port probing defaults to off there.
func (c *Config) ManagerServices() []supervisor.Service {
	out := make([]supervisor.Service, 0, len(c.Services))
	for _, sc := range c.Services {
		out = append(out, c.toService(sc, false))
	}
	return out
}

// AgentService returns the single service driven by the agent, with port
// probing enabled by default.
func (c *Config) AgentService() (supervisor.Service, error) {
	if c.Agent.Service != "" {
		for _, sc := range c.Services {
			if sc.Name == c.Agent.Service {
				return c.toService(sc, true), nil
			}
		}
		return supervisor.Service{}, fmt.Errorf("agent.service references unconfigured service %q", c.Agent.Service)
	}
	if c.Agent.ServerPath == "" {
		return supervisor.Service{}, errors.New("agent requires SERVER_PATH (agent.server_path) or agent.service")
	}
	path := filepath.Clean(c.Agent.ServerPath)
	sc := ServiceConfig{
		Name:    ServiceServer,
		Command: c.Agent.Runtime,
		Args:    []string{filepath.Base(path)},
		WorkDir: filepath.Dir(path),
		Port:    c.Agent.ServerPort,
	}
	return c.toService(sc, true), nil
}

func (c *Config) toService(sc ServiceConfig, probe bool) supervisor.Service {
	if sc.Probe != nil {
		probe = *sc.Probe
	}
	return supervisor.Service{
		Spec: process.Spec{
			Name:    sc.Name,
			Command: sc.Command,
			Args:    slices.Clone(sc.Args),
			WorkDir: sc.WorkDir,
			Env:     slices.Clone(sc.Env),
			Log:     mergeLog(c.Log, sc.Log),
		},
		Port:      sc.Port,
		ProbePort: probe,
	}
}

// mergeLog starts with the top-level defaults then applies per-service overrides.
func mergeLog(top, svc *LogConfig) logger.Config {
	var lc logger.Config
	if top != nil {
		lc = logger.Config{
			Dir:        top.Dir,
			MaxSizeMB:  top.MaxSizeMB,
			MaxBackups: top.MaxBackups,
			MaxAgeDays: top.MaxAgeDays,
			Compress:   top.Compress,
		}
	}
	if svc == nil {
		return lc
	}
	if svc.Dir != "" {
		lc.Dir = svc.Dir
	}
	if svc.Stdout != "" {
		lc.StdoutPath = svc.Stdout
	}
	if svc.Stderr != "" {
		lc.StderrPath = svc.Stderr
	}
	if svc.MaxSizeMB != 0 {
		lc.MaxSizeMB = svc.MaxSizeMB
	}
	if svc.MaxBackups != 0 {
		lc.MaxBackups = svc.MaxBackups
	}
	if svc.MaxAgeDays != 0 {
		lc.MaxAgeDays = svc.MaxAgeDays
	}
	if svc.Compress {
		lc.Compress = true
	}
	return lc
}
