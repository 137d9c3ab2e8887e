// Package sampler reads CPU and memory usage of server processes.
package sampler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrUnavailable is returned when the process cannot be inspected, e.g. it
// has just exited or access was denied.
var ErrUnavailable = errors.New("process metrics unavailable")

// Sample is one resource reading.
type Sample struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

// MemoryMB returns resident memory in MiB rounded to one decimal.
func (s Sample) MemoryMB() float64 {
	mb := float64(s.MemoryBytes) / 1024 / 1024
	return float64(int64(mb*10+0.5)) / 10
}

// Sampler inspects a live OS process by PID.
type Sampler interface {
	Sample(pid int) (Sample, error)
}

// Gopsutil samples through gopsutil. CPU percent is measured between
// consecutive calls for the same PID, so handles are cached; the first call
// for a PID reports 0%. A cached handle is replaced when its PID now belongs
// to a different process, and handles of exited processes are dropped
// whenever a new PID is cached or Retain is called.
type Gopsutil struct {
	mu    sync.Mutex
	procs map[int32]*process.Process
}

func New() *Gopsutil {
	return &Gopsutil{procs: make(map[int32]*process.Process)}
}

func (g *Gopsutil) Sample(pid int) (Sample, error) {
	if pid <= 0 {
		return Sample{}, ErrUnavailable
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p32 := int32(pid)
	proc, ok := g.procs[p32]
	if ok && !alive(proc) {
		delete(g.procs, p32)
		ok = false
	}
	if !ok {
		g.pruneLocked()
		var err error
		proc, err = process.NewProcess(p32)
		if err != nil {
			return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		g.procs[p32] = proc
	}

	cpu, err := proc.Percent(0)
	if err != nil {
		delete(g.procs, p32)
		return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		delete(g.procs, p32)
		return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Sample{CPUPercent: cpu, MemoryBytes: mem.RSS}, nil
}

// alive reports whether the handle still refers to the process it was opened
// for. IsRunning compares creation times, so a reused PID reports false.
func alive(p *process.Process) bool {
	running, err := p.IsRunning()
	return err == nil && running
}

func (g *Gopsutil) pruneLocked() {
	for pid, p := range g.procs {
		if !alive(p) {
			delete(g.procs, pid)
		}
	}
}

// Retain drops cached handles for every PID not in pids.
func (g *Gopsutil) Retain(pids map[int]bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for pid := range g.procs {
		if !pids[int(pid)] {
			delete(g.procs, pid)
		}
	}
}

// Forget drops the cached handle for pid.
func (g *Gopsutil) Forget(pid int) {
	g.mu.Lock()
	delete(g.procs, int32(pid))
	g.mu.Unlock()
}

func (g *Gopsutil) cached() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.procs)
}
