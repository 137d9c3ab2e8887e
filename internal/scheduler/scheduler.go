// Package scheduler sends console commands to servers on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule runs Command on Profile whenever Spec fires. Spec uses six fields
// with seconds first, or a descriptor such as "@every 30m".
type Schedule struct {
	Profile string `mapstructure:"profile" json:"profile"`
	Spec    string `mapstructure:"spec" json:"spec"`
	Command string `mapstructure:"command" json:"command"`
}

// Sender delivers a console command to a profile id.
type Sender interface {
	SendCommand(ctx context.Context, id, text string) error
}

// Status describes one scheduled entry.
type Status struct {
	Schedule
	Next    time.Time `json:"next"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
}

type entry struct {
	sched   Schedule
	id      cron.EntryID
	lastRun time.Time
	lastErr string
}

// Scheduler owns a cron instance whose jobs submit commands through a Sender.
type Scheduler struct {
	cron    *cron.Cron
	sender  Sender
	resolve func(key string) (string, bool)
	timeout time.Duration
	skip    func(error) bool

	mu      sync.Mutex
	entries []*entry
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation evaluates specs in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.cron = cron.New(cron.WithSeconds(), cron.WithLocation(loc)) }
}

// WithSkip marks errors that only mean "nothing to do right now", such as a
// stopped server. They are logged at debug level instead of warn.
func WithSkip(fn func(error) bool) Option {
	return func(s *Scheduler) { s.skip = fn }
}

// New creates a scheduler. resolve maps the profile key of a schedule to a
// profile id at fire time, so profiles registered later still match.
func New(sender Sender, resolve func(key string) (string, bool), opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		sender:  sender,
		resolve: resolve,
		timeout: 10 * time.Second,
		skip:    func(error) bool { return false },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add validates and registers sc.
func (s *Scheduler) Add(sc Schedule) error {
	if strings.TrimSpace(sc.Profile) == "" {
		return errors.New("schedule: profile required")
	}
	if strings.TrimSpace(sc.Command) == "" {
		return fmt.Errorf("schedule for %s: command required", sc.Profile)
	}
	e := &entry{sched: sc}
	id, err := s.cron.AddFunc(sc.Spec, func() { s.fire(e) })
	if err != nil {
		return fmt.Errorf("schedule for %s: invalid spec %q: %w", sc.Profile, sc.Spec, err)
	}
	s.mu.Lock()
	e.id = id
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) fire(e *entry) {
	var err error
	id, ok := s.resolve(e.sched.Profile)
	if !ok {
		err = fmt.Errorf("unknown profile %q", e.sched.Profile)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err = s.sender.SendCommand(ctx, id, e.sched.Command)
		cancel()
	}

	s.mu.Lock()
	e.lastRun = time.Now()
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		slog.Info("scheduled command sent", "profile", e.sched.Profile, "command", e.sched.Command)
	case s.skip(err):
		slog.Debug("scheduled command skipped", "profile", e.sched.Profile, "command", e.sched.Command, "reason", err)
	default:
		slog.Warn("scheduled command failed", "profile", e.sched.Profile, "command", e.sched.Command, "error", err)
	}
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// List returns every entry ordered by profile.
func (s *Scheduler) List() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Status{
			Schedule: e.sched,
			Next:     s.cron.Entry(e.id).Next,
			LastRun:  e.lastRun,
			LastErr:  e.lastErr,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out
}
