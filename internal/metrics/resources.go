package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

const DefaultResourceInterval = 5 * time.Second

// ResourceSample is one observation of a module's process.
type ResourceSample struct {
	PID        int
	CPUPercent float64
	RSSBytes   uint64
	NumThreads int32
	NumFDs     int32 // Unix only
}

// ResourceCollector periodically samples CPU and memory of running module
// processes and exports them as gauges labelled by module.
type ResourceCollector struct {
	interval time.Duration
	pids     func() map[string]int
	log      *slog.Logger

	mu      sync.Mutex
	last    map[string]ResourceSample
	handles map[int]*gopsproc.Process

	cpu     *prometheus.GaugeVec
	rss     *prometheus.GaugeVec
	threads *prometheus.GaugeVec
	fds     *prometheus.GaugeVec
}

// NewResourceCollector samples the pids returned by pids every interval.
func NewResourceCollector(interval time.Duration, pids func() map[string]int, logger *slog.Logger) *ResourceCollector {
	if interval <= 0 {
		interval = DefaultResourceInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "module",
			Name:      name,
			Help:      help,
		}, []string{"module"})
	}
	return &ResourceCollector{
		interval: interval,
		pids:     pids,
		log:      logger,
		last:     make(map[string]ResourceSample),
		handles:  make(map[int]*gopsproc.Process),
		cpu:      gauge("cpu_percent", "CPU usage percentage of the module process."),
		rss:      gauge("memory_rss_bytes", "Resident memory of the module process."),
		threads:  gauge("num_threads", "Threads of the module process."),
		fds:      gauge("num_fds", "Open file descriptors of the module process (Unix only)."),
	}
}

// Register adds the gauges to r; already registered collectors are ignored.
func (c *ResourceCollector) Register(r prometheus.Registerer) error {
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

// Run samples until ctx is cancelled.
func (c *ResourceCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect takes one sample of every running module and drops gauges of
// modules that are no longer running.
func (c *ResourceCollector) Collect() {
	active := c.pids()

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[int]struct{}, len(active))
	for name, pid := range active {
		if pid <= 0 {
			continue
		}
		seen[pid] = struct{}{}
		s, err := c.sample(pid)
		if err != nil {
			c.log.Debug("resource sample failed", "module", name, "pid", pid, "error", err)
			continue
		}
		c.last[name] = s
		c.cpu.WithLabelValues(name).Set(s.CPUPercent)
		c.rss.WithLabelValues(name).Set(float64(s.RSSBytes))
		c.threads.WithLabelValues(name).Set(float64(s.NumThreads))
		if runtime.GOOS != "windows" {
			c.fds.WithLabelValues(name).Set(float64(s.NumFDs))
		}
	}

	for name := range c.last {
		if _, ok := active[name]; ok {
			continue
		}
		c.cpu.DeleteLabelValues(name)
		c.rss.DeleteLabelValues(name)
		c.threads.DeleteLabelValues(name)
		c.fds.DeleteLabelValues(name)
		delete(c.last, name)
	}
	for pid := range c.handles {
		if _, ok := seen[pid]; !ok {
			delete(c.handles, pid)
		}
	}
}

// Last returns the most recent sample for name.
func (c *ResourceCollector) Last(name string) (ResourceSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.last[name]
	return s, ok
}

// sample keeps one gopsutil handle per pid so CPUPercent measures the delta
// since the previous tick.
func (c *ResourceCollector) sample(pid int) (ResourceSample, error) {
	p, ok := c.handles[pid]
	if !ok {
		var err error
		p, err = gopsproc.NewProcess(int32(pid))
		if err != nil {
			return ResourceSample{}, fmt.Errorf("open process: %w", err)
		}
		c.handles[pid] = p
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return ResourceSample{}, fmt.Errorf("memory info: %w", err)
	}
	s := ResourceSample{PID: pid, RSSBytes: mem.RSS}
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
