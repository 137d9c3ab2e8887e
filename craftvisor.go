// Package craftvisor supervises Minecraft server processes: one managed
// process per profile directory, a bounded console scrollback per server and
// a control API shared by every front end.
package craftvisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/craftvisor/internal/auth"
	"github.com/loykin/craftvisor/internal/config"
	"github.com/loykin/craftvisor/internal/history"
	"github.com/loykin/craftvisor/internal/history/factory"
	"github.com/loykin/craftvisor/internal/jre"
	"github.com/loykin/craftvisor/internal/manager"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/profile"
	"github.com/loykin/craftvisor/internal/sampler"
	"github.com/loykin/craftvisor/internal/scheduler"
	"github.com/loykin/craftvisor/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type ProfileConfig = config.ProfileConfig

type State = manager.State

type Status = manager.Status

type ProfileSummary = manager.ProfileSummary

type Schedule = scheduler.Schedule

type HistorySink = history.Sink

const (
	StateStopped  = manager.StateStopped
	StateStarting = manager.StateStarting
	StateRunning  = manager.StateRunning
	StateStopping = manager.StateStopping
)

var (
	ErrInvalidProfile   = manager.ErrInvalidProfile
	ErrAlreadyActive    = manager.ErrAlreadyActive
	ErrNotActive        = manager.ErrNotActive
	ErrLaunchFailure    = manager.ErrLaunchFailure
	ErrDuplicateProfile = manager.ErrDuplicateProfile
	ErrEmptyCommand     = manager.ErrEmptyCommand
	ErrInvalidCommand   = manager.ErrInvalidCommand
	ErrConfigLocked     = manager.ErrConfigLocked
	ErrRouterClosed     = manager.ErrRouterClosed
)

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config { return config.Default() }

// HashPassword returns a bcrypt hash for an [[auth.users]] entry.
func HashPassword(password string, cost int) (string, error) {
	return auth.HashPassword(password, cost)
}

// DefaultKillWait bounds how long Shutdown waits after force-killing servers
// that ignored the stop command.
const DefaultKillWait = 10 * time.Second

// Supervisor wires the registry, router, control surface and the optional
// collaborators (history sinks, metrics, scheduler, profile watcher) from a
// Config.
type Supervisor struct {
	cfg  *Config
	base manager.Options

	registry  *manager.Registry
	router    *manager.Router
	control   *manager.Control
	sampler   *sampler.Gopsutil
	sinks     []history.Sink
	sched     *scheduler.Scheduler
	resources *metrics.ResourceCollector
	gatherer  prometheus.Gatherer
	authSvc   *auth.Service

	mu      sync.Mutex
	watcher *profile.Watcher
	cancel  context.CancelFunc
	closed  bool
}

// New builds a Supervisor and registers every profile found in
// cfg.ProfilesDir. Nothing is started until Start.
func New(cfg *Config) (*Supervisor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	sinks, err := factory.NewSinks(cfg.History.DSNs)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	s := &Supervisor{cfg: cfg, sinks: sinks, sampler: sampler.New()}
	s.base = manager.Options{Resolver: jre.NewDefault(cfg.JavaPath), History: sinks}

	s.registry = manager.NewRegistry(cfg.Options("", s.base))
	if cfg.Console.Enabled() {
		mirror := cfg.Console.MirrorConfig
		s.registry.SetMirror(func(name string) io.Writer { return mirror.Writer(name) })
	}
	s.router = manager.NewRouter(s.registry)
	s.control = manager.NewControl(s.registry, s.router, s.sampler, cfg.Policy())

	if err := s.setupMetrics(); err != nil {
		_ = s.closeSinks()
		return nil, err
	}
	if cfg.Auth.Enabled {
		if s.authSvc, err = auth.NewService(cfg.Auth); err != nil {
			_ = s.closeSinks()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	profiles, err := profile.Scan(cfg.ProfilesDir)
	if err != nil {
		_ = s.closeSinks()
		return nil, err
	}
	for _, p := range profiles {
		s.addProfile(p)
	}

	s.sched = scheduler.New(s.control, s.resolveID,
		scheduler.WithSkip(func(err error) bool { return errors.Is(err, manager.ErrNotActive) }))
	for _, sc := range cfg.Schedules {
		if err := s.sched.Add(sc); err != nil {
			_ = s.closeSinks()
			return nil, err
		}
	}
	return s, nil
}

func (s *Supervisor) setupMetrics() error {
	if !s.cfg.Metrics.Enabled {
		return nil
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	local := prometheus.NewRegistry()
	s.resources = metrics.NewResourceCollector(s.cfg.Metrics, s.sampler)
	if err := s.resources.RegisterMetrics(local); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	s.gatherer = prometheus.Gatherers{prometheus.DefaultGatherer, local}
	return nil
}

func (s *Supervisor) addProfile(p profile.Profile) {
	_, err := s.registry.RegisterWith(p.ID, p.Dir, s.cfg.Options(p.Name, s.base))
	switch {
	case err == nil:
		slog.Info("profile registered", "profile", p.Name, "dir", p.Dir)
	case errors.Is(err, manager.ErrDuplicateProfile):
	default:
		slog.Warn("profile not registered", "profile", p.Name, "error", err)
	}
}

// AddProfile registers dir as a profile. Registering the same directory twice
// fails with ErrDuplicateProfile.
func (s *Supervisor) AddProfile(dir string) (ProfileSummary, error) {
	p, err := profile.FromDir(dir)
	if err != nil {
		return ProfileSummary{}, err
	}
	if st, err := os.Stat(p.Dir); err != nil || !st.IsDir() {
		return ProfileSummary{}, fmt.Errorf("%s: %w", dir, ErrInvalidProfile)
	}
	mp, err := s.registry.RegisterWith(p.ID, p.Dir, s.cfg.Options(p.Name, s.base))
	if err != nil {
		return ProfileSummary{}, err
	}
	st := mp.State()
	return ProfileSummary{ID: mp.ID(), Name: mp.Name(), Running: st == StateRunning, State: st}, nil
}

func (s *Supervisor) resolveID(key string) (string, bool) {
	mp, ok := s.registry.Lookup(key)
	if !ok {
		return "", false
	}
	return mp.ID(), true
}

// Start launches the background collaborators: scheduler, resource collector
// and, when configured, the profile directory watcher. Servers themselves are
// only started on request.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrRouterClosed
	}
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.cfg.WatchProfiles && s.cfg.ProfilesDir != "" {
		w, err := profile.NewWatcher(s.cfg.ProfilesDir, s.addProfile)
		if err != nil {
			slog.Warn("profile watcher disabled", "dir", s.cfg.ProfilesDir, "error", err)
		} else {
			s.watcher = w
			go w.Run(ctx)
		}
	}
	if s.resources != nil {
		s.resources.Start(ctx, s.registry.Running)
	}
	s.sched.Start()
	return nil
}

// Handler returns the HTTP control API mounted under cfg.Server.BasePath.
func (s *Supervisor) Handler() http.Handler {
	return server.NewRouter(s.control, s.cfg.Server.BasePath, s.routerOptions()...).Handler()
}

// RegisterRoutes installs the control API on an existing gin group.
func (s *Supervisor) RegisterRoutes(group *gin.RouterGroup) {
	server.NewRouter(s.control, "", s.routerOptions()...).Register(group)
}

func (s *Supervisor) routerOptions() []server.Option {
	opts := []server.Option{server.WithScheduler(s.sched)}
	if s.authSvc != nil {
		opts = append(opts, server.WithAuth(s.authSvc))
	}
	if s.gatherer != nil {
		opts = append(opts, server.WithMetrics(metrics.HandlerFor(s.gatherer)))
	}
	return opts
}

func (s *Supervisor) Profiles() []ProfileSummary { return s.control.ListProfiles() }

func (s *Supervisor) Status(id string) (Status, error) { return s.control.GetStatus(id) }

func (s *Supervisor) Console(id string) ([]string, error) { return s.control.GetConsole(id) }

func (s *Supervisor) StartServer(ctx context.Context, id string) error {
	return s.control.StartProcess(ctx, id)
}

func (s *Supervisor) StopServer(ctx context.Context, id string) error {
	return s.control.StopProcess(ctx, id)
}

func (s *Supervisor) KillServer(ctx context.Context, id string) error {
	return s.control.KillProcess(ctx, id)
}

func (s *Supervisor) SendCommand(ctx context.Context, id, text string) error {
	return s.control.SendCommand(ctx, id, text)
}

func (s *Supervisor) ReadConfig(id string) (string, error) { return s.control.ReadConfig(id) }

// WriteConfig replaces server.properties; see Config.ConfigEditPolicy.
func (s *Supervisor) WriteConfig(ctx context.Context, id, text string) (string, error) {
	return s.control.WriteConfig(ctx, id, text)
}

// Schedules lists the configured cron entries.
func (s *Supervisor) Schedules() []scheduler.Status { return s.sched.List() }

// Shutdown stops every active server, force-killing those still running when
// ctx expires, then releases all resources. It is safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, w := s.cancel, s.watcher
	s.mu.Unlock()

	s.sched.Stop(ctx)
	if w != nil {
		_ = w.Close()
	}
	if cancel != nil {
		cancel()
	}
	if s.resources != nil {
		s.resources.Stop()
	}
	s.control.Shutdown(ctx, DefaultKillWait)
	s.router.Close()
	err := s.registry.Close()
	return errors.Join(err, s.closeSinks())
}

func (s *Supervisor) closeSinks() error {
	var errs []error
	for _, sink := range s.sinks {
		if c, ok := sink.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
