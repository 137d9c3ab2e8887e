package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/craftvisor/internal/profile"
	"github.com/loykin/craftvisor/internal/sampler"
)

// ConfigPolicy decides whether server.properties may be written while the
// server is not Stopped.
type ConfigPolicy string

const (
	ConfigAllow ConfigPolicy = "allow"
	ConfigWarn  ConfigPolicy = "warn"
	ConfigDeny  ConfigPolicy = "deny"
)

// ParseConfigPolicy accepts allow, warn or deny; empty means warn.
func ParseConfigPolicy(s string) (ConfigPolicy, error) {
	switch p := ConfigPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ConfigWarn, nil
	case ConfigAllow, ConfigWarn, ConfigDeny:
		return p, nil
	default:
		return "", fmt.Errorf("unknown config edit policy %q", s)
	}
}

// ConfigActiveWarning is returned by WriteConfig under the warn policy.
const ConfigActiveWarning = "server is active; changes apply after restart"

// ProfileSummary is one row of ListProfiles.
type ProfileSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Running bool   `json:"running"`
	State   State  `json:"state"`
}

// Status is the result of GetStatus. CPU and memory are set only for a
// Running server whose metrics could be sampled.
type Status struct {
	ID               string   `json:"id"`
	State            State    `json:"state"`
	Running          bool     `json:"running"`
	PID              int      `json:"pid,omitempty"`
	CPUPercent       *float64 `json:"cpu_percent,omitempty"`
	MemoryMB         *float64 `json:"memory_mb,omitempty"`
	MetricsAvailable bool     `json:"metrics_available"`
}

// Control is the operation surface shared by every front end. Reads are
// served from snapshots; mutations go through the Router.
type Control struct {
	registry *Registry
	router   *Router
	sampler  sampler.Sampler
	policy   ConfigPolicy
}

// NewControl wires a control surface. s may be nil to disable sampling.
func NewControl(reg *Registry, r *Router, s sampler.Sampler, policy ConfigPolicy) *Control {
	if policy == "" {
		policy = ConfigWarn
	}
	return &Control{registry: reg, router: r, sampler: s, policy: policy}
}

func (c *Control) Registry() *Registry { return c.registry }
func (c *Control) Router() *Router     { return c.router }

func (c *Control) lookup(id string) (*ManagedProcess, error) {
	mp, ok := c.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrInvalidProfile)
	}
	return mp, nil
}

func (c *Control) ListProfiles() []ProfileSummary {
	entries := c.registry.List()
	out := make([]ProfileSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, ProfileSummary{ID: e.ID, Name: e.Name, Running: e.State == StateRunning, State: e.State})
	}
	return out
}

// GetStatus reports the state of id. A failed sample degrades to a status
// without metrics rather than an error.
func (c *Control) GetStatus(id string) (Status, error) {
	mp, err := c.lookup(id)
	if err != nil {
		return Status{}, err
	}
	snap := mp.Snapshot()
	st := Status{ID: id, State: snap.State, Running: snap.State == StateRunning, PID: snap.PID}
	if st.Running && snap.PID > 0 && c.sampler != nil {
		s, err := c.sampler.Sample(snap.PID)
		if err != nil {
			slog.Debug("status sample unavailable", "profile", id, "error", err)
			return st, nil
		}
		cpu := float64(int64(s.CPUPercent*10+0.5)) / 10
		mem := s.MemoryMB()
		st.CPUPercent = &cpu
		st.MemoryMB = &mem
		st.MetricsAvailable = true
	}
	return st, nil
}

// GetConsole returns the console snapshot of id, newest line last.
func (c *Control) GetConsole(id string) ([]string, error) {
	mp, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return mp.Console(), nil
}

func (c *Control) SendCommand(ctx context.Context, id, text string) error {
	return c.router.Submit(ctx, id, OpSendCommand, text)
}

func (c *Control) StartProcess(ctx context.Context, id string) error {
	return c.router.Submit(ctx, id, OpStart)
}

func (c *Control) StopProcess(ctx context.Context, id string) error {
	return c.router.Submit(ctx, id, OpStop)
}

func (c *Control) KillProcess(ctx context.Context, id string) error {
	return c.router.Submit(ctx, id, OpKill)
}

// ReadConfig returns the server.properties text of id.
func (c *Control) ReadConfig(id string) (string, error) {
	mp, err := c.lookup(id)
	if err != nil {
		return "", err
	}
	return profile.ReadConfig(mp.WorkDir())
}

// ConfigProperties returns the parsed server.properties of id.
func (c *Control) ConfigProperties(id string) (map[string]string, error) {
	text, err := c.ReadConfig(id)
	if err != nil {
		return nil, err
	}
	return profile.Parse(text)
}

// WriteConfig replaces server.properties of id. The state check and the write
// happen on the owner loop so a concurrent start cannot slip in between. The
// returned warning is non-empty when the write was allowed on an active server.
func (c *Control) WriteConfig(ctx context.Context, id, text string) (warning string, err error) {
	err = c.router.Do(ctx, id, func(mp *ManagedProcess) error {
		active := mp.State().Active()
		if active && c.policy == ConfigDeny {
			return ErrConfigLocked
		}
		if err := profile.WriteConfig(mp.WorkDir(), text); err != nil {
			return err
		}
		if active && c.policy == ConfigWarn {
			warning = ConfigActiveWarning
			mp.appendLine("Warning: " + profile.PropertiesFile + " changed while the server is active")
			slog.Warn("config written while server active", "profile", id)
		}
		return nil
	})
	return warning, err
}

// Shutdown stops every active server, waits for them to exit until ctx is
// done, then kills the rest and waits up to killWait for them.
func (c *Control) Shutdown(ctx context.Context, killWait time.Duration) {
	for _, e := range c.registry.List() {
		if e.State.Active() {
			if err := c.StopProcess(ctx, e.ID); err != nil && !errors.Is(err, ErrNotActive) {
				slog.Warn("shutdown stop failed", "profile", e.ID, "error", err)
			}
		}
	}
	if c.waitAllStopped(ctx) {
		return
	}
	for _, e := range c.registry.List() {
		if e.State.Active() {
			kctx, cancel := context.WithTimeout(context.Background(), killWait)
			if err := c.KillProcess(kctx, e.ID); err != nil && !errors.Is(err, ErrNotActive) {
				slog.Warn("shutdown kill failed", "profile", e.ID, "error", err)
			}
			cancel()
		}
	}
	wctx, cancel := context.WithTimeout(context.Background(), killWait)
	defer cancel()
	c.waitAllStopped(wctx)
}

func (c *Control) waitAllStopped(ctx context.Context) bool {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		active := false
		for _, e := range c.registry.List() {
			if e.State.Active() {
				active = true
				break
			}
		}
		if !active {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}
