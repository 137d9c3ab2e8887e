package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/craftvisor/internal/sampler"
)

type fakeSampler map[int]sampler.Sample

func (f fakeSampler) Sample(pid int) (sampler.Sample, error) {
	s, ok := f[pid]
	if !ok {
		return sampler.Sample{}, sampler.ErrUnavailable
	}
	return s, nil
}

func TestResourceCollectorCollect(t *testing.T) {
	fs := fakeSampler{
		10: {CPUPercent: 12.5, MemoryBytes: 512 * 1024 * 1024},
		20: {CPUPercent: 1, MemoryBytes: 1024 * 1024},
	}
	c := NewResourceCollector(ResourceConfig{Enabled: true}, fs)
	reg := prometheus.NewRegistry()
	require.NoError(t, c.RegisterMetrics(reg))

	c.Collect(map[string]Target{
		"/srv/a":    {Profile: "a", PID: 10},
		"/srv/b":    {Profile: "b", PID: 20},
		"/srv/gone": {Profile: "gone", PID: 30},
	})
	assert.Equal(t, 12.5, testutil.ToFloat64(c.cpuPercent.WithLabelValues("a", "/srv/a")))
	assert.Equal(t, 512.0, testutil.ToFloat64(c.memoryMB.WithLabelValues("a", "/srv/a")))
	_, ok := c.Latest("/srv/gone")
	assert.False(t, ok)

	// b stops running: its series is dropped
	c.Collect(map[string]Target{"/srv/a": {Profile: "a", PID: 10}})
	assert.Equal(t, 1, testutil.CollectAndCount(c.cpuPercent))
	_, ok = c.Latest("/srv/b")
	assert.False(t, ok)
}

func TestResourceCollectorSameNameDifferentIDs(t *testing.T) {
	fs := fakeSampler{10: {CPUPercent: 5}, 20: {CPUPercent: 7}}
	c := NewResourceCollector(ResourceConfig{Enabled: true}, fs)
	require.NoError(t, c.RegisterMetrics(prometheus.NewRegistry()))

	c.Collect(map[string]Target{
		"/host0/survival": {Profile: "survival", PID: 10},
		"/host1/survival": {Profile: "survival", PID: 20},
	})
	assert.Equal(t, 2, testutil.CollectAndCount(c.cpuPercent))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.cpuPercent.WithLabelValues("survival", "/host0/survival")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.cpuPercent.WithLabelValues("survival", "/host1/survival")))
}

type retainingSampler struct {
	fakeSampler
	kept map[int]bool
}

func (r *retainingSampler) Retain(pids map[int]bool) { r.kept = pids }

func TestResourceCollectorRetainsLivePIDs(t *testing.T) {
	rs := &retainingSampler{fakeSampler: fakeSampler{10: {}}}
	c := NewResourceCollector(ResourceConfig{Enabled: true}, rs)
	c.Collect(map[string]Target{"/srv/a": {Profile: "a", PID: 10}, "/srv/b": {Profile: "b", PID: 30}})
	assert.Equal(t, map[int]bool{10: true, 30: true}, rs.kept)

	c.Collect(nil)
	assert.Empty(t, rs.kept)
}

func TestResourceCollectorLoop(t *testing.T) {
	fs := fakeSampler{7: {CPUPercent: 3}}
	c := NewResourceCollector(ResourceConfig{Enabled: true, Interval: 10 * time.Millisecond}, fs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx, func() map[string]Target { return map[string]Target{"/srv/p": {Profile: "p", PID: 7}} })
	require.Eventually(t, func() bool {
		_, ok := c.Latest("/srv/p")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()
}

func TestResourceCollectorDisabled(t *testing.T) {
	c := NewResourceCollector(ResourceConfig{}, fakeSampler{})
	assert.NoError(t, c.RegisterMetrics(prometheus.NewRegistry()))
	c.Start(context.Background(), func() map[string]Target { return nil })
	c.Stop()
}
