package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/craftvisor/internal/sampler"
)

// ResourceConfig holds configuration for periodic resource collection.
type ResourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Target is one running server as seen by the collector.
type Target struct {
	Profile string // display name, not necessarily unique
	PID     int
}

// retainer is implemented by samplers that cache per-PID state.
type retainer interface {
	Retain(pids map[int]bool)
}

// ResourceCollector periodically samples CPU and memory of running servers and
// exports them as gauges labelled by profile name and id.
type ResourceCollector struct {
	enabled  bool
	interval time.Duration
	sampler  sampler.Sampler

	mu     sync.Mutex
	latest map[string]sampler.Sample // by profile id
	labels map[string]Target

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourceConfig, s sampler.Sampler) *ResourceCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceCollector{
		enabled:  cfg.Enabled,
		interval: interval,
		sampler:  s,
		latest:   make(map[string]sampler.Sample),
		labels:   make(map[string]Target),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "craftvisor",
				Subsystem: "profile",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of running servers.",
			}, []string{"profile", "id"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "craftvisor",
				Subsystem: "profile",
				Name:      "memory_mb",
				Help:      "Resident memory in MB of running servers.",
			}, []string{"profile", "id"},
		),
	}
}

// RegisterMetrics registers the resource gauges with the provided registerer.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryMB} {
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

// Start begins periodic collection. running returns profile id -> Target for
// every profile currently in the Running state.
func (c *ResourceCollector) Start(ctx context.Context, running func() map[string]Target) {
	if !c.enabled {
		return
	}
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

// Stop stops the collection loop and waits for it to exit.
func (c *ResourceCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect samples every entry once and drops gauges of profiles that are no
// longer running. Samplers that cache per-PID state are told which PIDs are
// still live.
func (c *ResourceCollector) Collect(running map[string]Target) {
	results := make(map[string]sampler.Sample, len(running))
	live := make(map[int]bool, len(running))
	for id, tgt := range running {
		live[tgt.PID] = true
		s, err := c.sampler.Sample(tgt.PID)
		if err != nil {
			slog.Debug("resource sample failed", "profile", tgt.Profile, "id", id, "pid", tgt.PID, "error", err)
			continue
		}
		results[id] = s
	}
	if r, ok := c.sampler.(retainer); ok {
		r.Retain(live)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, old := range c.labels {
		if _, ok := results[id]; !ok {
			c.cpuPercent.DeleteLabelValues(old.Profile, id)
			c.memoryMB.DeleteLabelValues(old.Profile, id)
			delete(c.labels, id)
		}
	}
	for id, s := range results {
		tgt := running[id]
		if old, ok := c.labels[id]; ok && old.Profile != tgt.Profile {
			c.cpuPercent.DeleteLabelValues(old.Profile, id)
			c.memoryMB.DeleteLabelValues(old.Profile, id)
		}
		c.labels[id] = tgt
		c.cpuPercent.WithLabelValues(tgt.Profile, id).Set(s.CPUPercent)
		c.memoryMB.WithLabelValues(tgt.Profile, id).Set(s.MemoryMB())
	}
	c.latest = results
}

// Latest returns the most recent sample for the profile id.
func (c *ResourceCollector) Latest(id string) (sampler.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.latest[id]
	return s, ok
}
