package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNotStarted is returned by WriteLine when the handle has no live stdin.
var ErrNotStarted = errors.New("process not started")

// DrainTimeout bounds how long output is still read after the child exits.
// A grandchild that inherited stdout or stderr can hold the pipe open; its
// remaining output is dropped once the timeout passes.
var DrainTimeout = 2 * time.Second

// Handlers receive events from a running process. Stdout and Stderr are
// called from the stream's own goroutine, one line at a time, in the order the
// stream delivered them. Started fires once the OS reports a live PID; Exit
// fires exactly once after the process is reaped and both streams are drained
// or DrainTimeout has passed.
type Handlers struct {
	Stdout  func(line string)
	Stderr  func(line string)
	Started func(pid int)
	Exit    func(err error)
}

// Process is the handle to one spawned child. It is created by Start and is
// never reused after the child exits.
type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	done    chan struct{}
	mu      sync.Mutex
	exitErr error
	stopped time.Time
}

// Start validates spec, spawns the child and begins capturing its output.
// It returns as soon as the OS has created the process.
func Start(spec Spec, h Handlers) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// The read ends stay ours so cmd.Wait can run while they are drained.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdoutR, stderrR)
		_ = stdin.Close()
		return nil, err
	}

	p := &Process{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		stdin:     stdin,
		done:      make(chan struct{}),
	}

	drained := make(chan struct{})
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() { defer pumps.Done(); pumpLines(stdoutR, h.Stdout) }()
	go func() { defer pumps.Done(); pumpLines(stderrR, h.Stderr) }()
	go func() { pumps.Wait(); close(drained) }()

	go func() {
		if h.Started != nil && p.Alive() {
			h.Started(p.pid)
		}
		err := cmd.Wait()
		select {
		case <-drained:
		case <-time.After(DrainTimeout):
			closeAll(stdoutR, stderrR)
			<-drained
		}
		closeAll(stdoutR, stderrR)
		p.mu.Lock()
		p.exitErr = err
		p.stopped = time.Now()
		p.mu.Unlock()
		close(p.done)
		if h.Exit != nil {
			h.Exit(err)
		}
	}()
	return p, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// pumpLines decodes r as UTF-8 (invalid bytes become U+FFFD) and hands every
// non-blank line to fn. It returns at EOF.
func pumpLines(r io.Reader, fn func(string)) {
	br := bufio.NewReader(transform.NewReader(r, unicode.UTF8.NewDecoder()))
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if fn != nil && strings.TrimSpace(line) != "" {
			fn(line)
		}
		if err != nil {
			return
		}
	}
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.pid }

// StartedAt returns when the process was spawned.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Spec returns the spec the process was started with.
func (p *Process) Spec() Spec { return p.spec }

// WriteLine writes text followed by a newline to the child's standard input.
// Writes are serialized so concurrent callers never interleave within a line.
func (p *Process) WriteLine(text string) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdin == nil {
		return ErrNotStarted
	}
	_, err := io.WriteString(p.stdin, text+"\n")
	return err
}

// Kill forcibly terminates the child and its process group.
func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killTree(p.pid)
}

// Done is closed after the child has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitErr returns the error reported by Wait; nil while running or on a clean exit.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// StoppedAt returns when the child was reaped; zero while it runs.
func (p *Process) StoppedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Alive probes liveness. A reaped or zombie child is not alive.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	if runtime.GOOS == "linux" && isZombieLinux(p.pid) {
		return false
	}
	return signalAlive(p.pid)
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
