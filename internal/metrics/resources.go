package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ResourceSample is one resource reading for a service process.
type ResourceSample struct {
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpuPercent"`
	RSSBytes   uint64    `json:"rssBytes"`
	NumThreads int32     `json:"numThreads"`
	NumFDs     int32     `json:"numFds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig controls periodic sampling of service processes.
type ResourceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// ResourceCollector samples CPU and memory of running services with gopsutil
// and exports them as gauges.
type ResourceCollector struct {
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	history map[string][]ResourceSample
	procs   map[int]*gopsproc.Process // cached so CPUPercent has a previous reading

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpu     *prometheus.GaugeVec
	rss     *prometheus.GaugeVec
	threads *prometheus.GaugeVec
	fds     *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourceConfig) *ResourceCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 60
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      name,
			Help:      help,
		}, []string{"name"})
	}
	return &ResourceCollector{
		interval:   interval,
		maxHistory: maxHistory,
		history:    make(map[string][]ResourceSample),
		procs:      make(map[int]*gopsproc.Process),
		stopCh:     make(chan struct{}),
		cpu:        gauge("cpu_percent", "CPU usage percentage of the service process."),
		rss:        gauge("memory_rss_bytes", "Resident memory of the service process."),
		threads:    gauge("num_threads", "Thread count of the service process."),
		fds:        gauge("num_fds", "Open file descriptors of the service process (Unix only)."),
	}
}

// RegisterMetrics registers the resource gauges; already-registered is not an error.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	cs := []prometheus.Collector{c.cpu, c.rss, c.threads}
	if runtime.GOOS != "windows" {
		cs = append(cs, c.fds)
	}
	for _, col := range cs {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples the pids returned by running every interval until ctx ends or Stop is called.
func (c *ResourceCollector) Start(ctx context.Context, running func() map[string]int) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(running())
			}
		}
	}()
}

func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample for each service → pid pair and forgets services
// that are no longer present.
func (c *ResourceCollector) Collect(services map[string]int) {
	now := time.Now()
	samples := make([]ResourceSample, 0, len(services))
	for name, pid := range services {
		if pid <= 0 {
			continue
		}
		s, err := c.sample(name, pid, now)
		if err != nil {
			slog.Debug("resource sample failed", "service", name, "pid", pid, "error", err)
			continue
		}
		samples = append(samples, s)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range samples {
		c.cpu.WithLabelValues(s.Service).Set(s.CPUPercent)
		c.rss.WithLabelValues(s.Service).Set(float64(s.RSSBytes))
		c.threads.WithLabelValues(s.Service).Set(float64(s.NumThreads))
		if runtime.GOOS != "windows" {
			c.fds.WithLabelValues(s.Service).Set(float64(s.NumFDs))
		}
		h := append(c.history[s.Service], s)
		if len(h) > c.maxHistory {
			h = h[len(h)-c.maxHistory:]
		}
		c.history[s.Service] = h
	}
	live := make(map[int]bool, len(services))
	for _, pid := range services {
		live[pid] = true
	}
	for pid := range c.procs {
		if !live[pid] {
			delete(c.procs, pid)
		}
	}
	for name := range c.history {
		if _, ok := services[name]; !ok {
			delete(c.history, name)
			c.cpu.DeleteLabelValues(name)
			c.rss.DeleteLabelValues(name)
			c.threads.DeleteLabelValues(name)
			c.fds.DeleteLabelValues(name)
		}
	}
}

func (c *ResourceCollector) sample(name string, pid int, now time.Time) (ResourceSample, error) {
	c.mu.RLock()
	p := c.procs[pid]
	c.mu.RUnlock()
	if p == nil {
		np, err := gopsproc.NewProcess(int32(pid))
		if err != nil {
			return ResourceSample{}, err
		}
		p = np
		c.mu.Lock()
		c.procs[pid] = p
		c.mu.Unlock()
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return ResourceSample{}, err
	}
	s := ResourceSample{Service: name, PID: pid, RSSBytes: mem.RSS, Timestamp: now}
	if cpu, err := p.Percent(0); err == nil {
		s.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		s.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			s.NumFDs = n
		}
	}
	return s, nil
}

// Latest returns the newest sample of every tracked service, sorted by name.
func (c *ResourceCollector) Latest() []ResourceSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ResourceSample, 0, len(c.history))
	for _, h := range c.history {
		if len(h) > 0 {
			out = append(out, h[len(h)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// History returns a copy of the retained samples for one service.
func (c *ResourceCollector) History(name string) []ResourceSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ResourceSample(nil), c.history[name]...)
}
