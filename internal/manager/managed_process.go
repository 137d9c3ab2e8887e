package manager

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/craftvisor/internal/console"
	"github.com/loykin/craftvisor/internal/history"
	"github.com/loykin/craftvisor/internal/jre"
	"github.com/loykin/craftvisor/internal/metrics"
	"github.com/loykin/craftvisor/internal/process"
)

// StopCommand is the console command that asks the server to shut down.
const StopCommand = "stop"

// Options controls how a profile's server is launched and observed.
type Options struct {
	Resolver   jre.Resolver
	MemoryGB   int
	Jar        string
	JVMArgs    []string
	ServerArgs []string
	// Command replaces the java invocation, e.g. a modded server's launch script.
	// The profile reaches Stopped when the script itself exits; output from
	// processes it left behind is read for at most process.DrainTimeout.
	Command []string
	Env     []string
	// StopTimeout escalates a cooperative stop to a kill. Zero waits forever.
	StopTimeout     time.Duration
	ConsoleCapacity int
	// Mirror, when set, receives every console line as well.
	Mirror  io.Writer
	History []history.Sink
}

// Snapshot is a point-in-time copy of a ManagedProcess.
type Snapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	WorkDir   string    `json:"work_dir"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	LastExit  string    `json:"last_exit,omitempty"`
}

// ManagedProcess owns one profile's server process, its lifecycle state and
// its console buffer.
//
// Every method is safe for concurrent use; the Router is what gives callers a
// total order of operations. Observational transitions (process running,
// process exited) are delivered through post so that, under a Router, they run
// on the same loop as operator requests. Each spawn gets a new run number and
// events from an older run are dropped.
type ManagedProcess struct {
	id      string
	name    string
	workDir string
	console *console.Buffer
	post    func(func())

	mirrorMu sync.Mutex
	mirror   io.Writer

	mu            sync.RWMutex
	opts          Options
	state         State
	proc          *process.Process
	run           uint64
	stopRequested bool
	stopTimer     *time.Timer
	startedAt     time.Time
	stoppedAt     time.Time
	lastExit      string
}

// NewManagedProcess creates a Stopped process for the profile id rooted at workDir.
// Events are applied inline; a Registry wires them to its Router instead.
func NewManagedProcess(id, workDir string, opts Options) *ManagedProcess {
	return newManagedProcess(id, workDir, opts, func(fn func()) { fn() })
}

func newManagedProcess(id, workDir string, opts Options, post func(func())) *ManagedProcess {
	if workDir == "" {
		workDir = id
	}
	return &ManagedProcess{
		id:      id,
		name:    filepath.Base(workDir),
		workDir: workDir,
		console: console.NewBuffer(opts.ConsoleCapacity),
		post:    post,
		mirror:  opts.Mirror,
		opts:    opts,
		state:   StateStopped,
	}
}

func (mp *ManagedProcess) ID() string      { return mp.id }
func (mp *ManagedProcess) Name() string    { return mp.name }
func (mp *ManagedProcess) WorkDir() string { return mp.workDir }

// Console returns a snapshot of the console buffer, oldest line first.
func (mp *ManagedProcess) Console() []string { return mp.console.Lines() }

func (mp *ManagedProcess) State() State {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.state
}

func (mp *ManagedProcess) Snapshot() Snapshot {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	s := Snapshot{
		ID:        mp.id,
		Name:      mp.name,
		WorkDir:   mp.workDir,
		State:     mp.state,
		StartedAt: mp.startedAt,
		StoppedAt: mp.stoppedAt,
		LastExit:  mp.lastExit,
	}
	if mp.proc != nil {
		s.PID = mp.proc.PID()
	}
	return s
}

// SetOptions replaces the launch options used by the next Start.
func (mp *ManagedProcess) SetOptions(opts Options) {
	mp.mu.Lock()
	opts.Mirror = mp.opts.Mirror
	mp.opts = opts
	mp.mu.Unlock()
}

// Start spawns the server. It returns once the OS has created the process;
// the move to Running happens when the process is observed alive.
func (mp *ManagedProcess) Start() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StateStopped {
		return fmt.Errorf("%s is %s: %w", mp.name, mp.state, ErrAlreadyActive)
	}

	spec, err := mp.specLocked()
	if err != nil {
		return mp.launchFailedLocked(err)
	}

	mp.appendLine("Executing: " + spec.CommandLine())
	mp.run++
	proc, err := process.Start(spec, mp.handlers(mp.run))
	if err != nil {
		return mp.launchFailedLocked(err)
	}

	mp.proc = proc
	mp.stopRequested = false
	mp.startedAt = proc.StartedAt()
	mp.stoppedAt = time.Time{}
	mp.lastExit = ""
	mp.setStateLocked(StateStarting)
	metrics.IncStart(mp.name)
	mp.emitLocked(history.EventStart)
	slog.Info("server spawned", "profile", mp.id, "pid", proc.PID())
	return nil
}

func (mp *ManagedProcess) specLocked() (process.Spec, error) {
	o := mp.opts
	spec := process.Spec{
		Name:       mp.name,
		WorkDir:    mp.workDir,
		Jar:        o.Jar,
		MemoryGB:   o.MemoryGB,
		JVMArgs:    o.JVMArgs,
		ServerArgs: o.ServerArgs,
		Command:    o.Command,
		Env:        o.Env,
	}
	if len(spec.Command) > 0 {
		return spec, nil
	}
	if o.Resolver == nil {
		return spec, jre.ErrNotFound
	}
	java, err := o.Resolver.ResolveInterpreterPath()
	if err != nil {
		return spec, err
	}
	spec.JavaPath = java
	return spec, nil
}

func (mp *ManagedProcess) launchFailedLocked(err error) error {
	mp.appendLine("Failed to start server: " + err.Error())
	metrics.IncLaunchFailure(mp.name)
	slog.Warn("server launch failed", "profile", mp.id, "error", err)
	return fmt.Errorf("%w: %w", ErrLaunchFailure, err)
}

func (mp *ManagedProcess) handlers(run uint64) process.Handlers {
	return process.Handlers{
		Stdout: mp.appendLine,
		Stderr: func(line string) { mp.appendLine("[ERROR] " + line) },
		Started: func(pid int) {
			mp.post(func() { mp.onStarted(run, pid) })
		},
		Exit: func(err error) {
			mp.post(func() { mp.onExit(run, err) })
		},
	}
}

// Stop asks the server to shut down by writing the stop command to its stdin.
// It never kills; see Kill and Options.StopTimeout.
func (mp *ManagedProcess) Stop() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	switch mp.state {
	case StateStopped:
		return fmt.Errorf("%s: %w", mp.name, ErrNotActive)
	case StateStopping:
		return nil
	}

	mp.stopRequested = true
	mp.appendLine("Server stopping...")
	werr := mp.proc.WriteLine(StopCommand)
	mp.setStateLocked(StateStopping)
	metrics.IncStop(mp.name)
	mp.emitLocked(history.EventStopping)

	if d := mp.opts.StopTimeout; d > 0 {
		run := mp.run
		mp.stopTimer = time.AfterFunc(d, func() {
			mp.post(func() { mp.onStopTimeout(run, d) })
		})
	}
	if werr != nil {
		return fmt.Errorf("write stop command: %w", werr)
	}
	return nil
}

// Kill forcibly terminates the server and its process group.
func (mp *ManagedProcess) Kill() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state == StateStopped {
		return fmt.Errorf("%s: %w", mp.name, ErrNotActive)
	}
	mp.stopRequested = true
	mp.appendLine("Killing server...")
	err := mp.proc.Kill()
	mp.setStateLocked(StateStopping)
	metrics.IncKill(mp.name)
	mp.emitLocked(history.EventKill)
	if err != nil {
		return fmt.Errorf("kill %s: %w", mp.name, err)
	}
	return nil
}

// SendCommand writes text as one console command. It is echoed to the
// console as "> text".
func (mp *ManagedProcess) SendCommand(text string) error {
	text = strings.TrimRight(text, "\r\n")
	if strings.TrimSpace(text) == "" {
		return ErrEmptyCommand
	}
	if strings.ContainsAny(text, "\r\n") {
		return ErrInvalidCommand
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.state != StateRunning {
		return fmt.Errorf("%s is %s: %w", mp.name, mp.state, ErrNotActive)
	}
	mp.appendLine("> " + text)
	if err := mp.proc.WriteLine(text); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	metrics.IncCommand(mp.name)
	return nil
}

func (mp *ManagedProcess) onStarted(run uint64, pid int) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if run != mp.run || mp.state != StateStarting {
		return
	}
	mp.setStateLocked(StateRunning)
	mp.emitLocked(history.EventRunning)
	slog.Debug("server running", "profile", mp.id, "pid", pid)
}

func (mp *ManagedProcess) onExit(run uint64, err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if run != mp.run || mp.proc == nil {
		return
	}
	if mp.stopTimer != nil {
		mp.stopTimer.Stop()
		mp.stopTimer = nil
	}

	expected := mp.stopRequested
	line := "Server stopped"
	if err != nil {
		line += " (" + err.Error() + ")"
		mp.lastExit = err.Error()
	}
	if !expected {
		slog.Warn("server exited unexpectedly", "profile", mp.id, "error", err)
	}
	mp.appendLine(line)
	mp.stoppedAt = mp.proc.StoppedAt()
	mp.setStateLocked(StateStopped)
	metrics.IncExit(mp.name, expected)
	mp.emitLocked(history.EventExit)
	mp.proc = nil
}

func (mp *ManagedProcess) onStopTimeout(run uint64, d time.Duration) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if run != mp.run || mp.state != StateStopping || mp.proc == nil {
		return
	}
	mp.stopTimer = nil
	mp.appendLine(fmt.Sprintf("Server did not stop within %s, killing", d))
	if err := mp.proc.Kill(); err != nil {
		slog.Warn("kill after stop timeout failed", "profile", mp.id, "error", err)
	}
	metrics.IncKill(mp.name)
	mp.emitLocked(history.EventKill)
}

// appendLine is called from the output pumps as well as from transitions.
func (mp *ManagedProcess) appendLine(line string) {
	mp.console.Append(line)
	if mp.mirror == nil {
		return
	}
	mp.mirrorMu.Lock()
	_, _ = io.WriteString(mp.mirror, line+"\n")
	mp.mirrorMu.Unlock()
}

func (mp *ManagedProcess) setStateLocked(to State) {
	from := mp.state
	if from == to {
		return
	}
	mp.state = to
	slog.Info("profile state changed", "profile", mp.id, "from", from.String(), "to", to.String())
	metrics.RecordStateTransition(mp.name, from.String(), to.String())
	metrics.SetCurrentState(mp.name, to.String(), StateNames)
}

func (mp *ManagedProcess) emitLocked(t history.EventType) {
	if len(mp.opts.History) == 0 {
		return
	}
	rec := history.Record{
		Profile:   mp.id,
		Name:      mp.name,
		State:     mp.state.String(),
		StartedAt: mp.startedAt,
		StoppedAt: mp.stoppedAt,
		ExitErr:   mp.lastExit,
	}
	if mp.proc != nil {
		rec.PID = mp.proc.PID()
	}
	history.Dispatch(mp.opts.History, history.NewEvent(t, rec))
}
