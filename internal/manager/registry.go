package manager

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/craftvisor/internal/metrics"
)

// Entry is one row of Registry.List.
type Entry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State State  `json:"state"`
}

// Registry maps profile ids to their ManagedProcess. Entries are never
// removed; a stopped server keeps its identity and console history.
type Registry struct {
	mu       sync.RWMutex
	procs    map[string]*ManagedProcess
	defaults Options
	mirror   func(name string) io.Writer
	dispatch func(func())
}

// NewRegistry creates an empty registry. defaults are used by Register.
func NewRegistry(defaults Options) *Registry {
	return &Registry{procs: make(map[string]*ManagedProcess), defaults: defaults}
}

// SetMirror installs a factory for per-profile console mirror writers. It
// applies to profiles registered afterwards that do not set Options.Mirror.
func (r *Registry) SetMirror(fn func(name string) io.Writer) {
	r.mu.Lock()
	r.mirror = fn
	r.mu.Unlock()
}

// Defaults returns the options applied by Register.
func (r *Registry) Defaults() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Register adds a Stopped process for id using the registry defaults.
func (r *Registry) Register(id, workDir string) (*ManagedProcess, error) {
	return r.RegisterWith(id, workDir, r.Defaults())
}

// RegisterWith adds a Stopped process for id with explicit options. It fails
// with ErrDuplicateProfile when id is taken and leaves the existing entry as is.
func (r *Registry) RegisterWith(id, workDir string, opts Options) (*ManagedProcess, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidProfile)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[id]; ok {
		return nil, fmt.Errorf("%s: %w", id, ErrDuplicateProfile)
	}
	mp := newManagedProcess(id, workDir, opts, r.post)
	if mp.mirror == nil && r.mirror != nil {
		mp.mirror = r.mirror(mp.name)
	}
	r.procs[id] = mp
	return mp, nil
}

func (r *Registry) Get(id string) (*ManagedProcess, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mp, ok := r.procs[id]
	return mp, ok
}

// Lookup resolves id first as a profile id and then as a profile name.
func (r *Registry) Lookup(key string) (*ManagedProcess, bool) {
	if mp, ok := r.Get(key); ok {
		return mp, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *ManagedProcess
	for _, mp := range r.procs {
		if mp.name == key {
			if found != nil {
				return nil, false
			}
			found = mp
		}
	}
	return found, found != nil
}

// List returns a snapshot of every profile and its state, sorted by id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	procs := make([]*ManagedProcess, 0, len(r.procs))
	for _, mp := range r.procs {
		procs = append(procs, mp)
	}
	r.mu.RUnlock()

	out := make([]Entry, 0, len(procs))
	for _, mp := range procs {
		out = append(out, Entry{ID: mp.id, Name: mp.name, State: mp.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Running returns id -> target of every profile in the Running state.
func (r *Registry) Running() map[string]metrics.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]metrics.Target)
	for _, mp := range r.procs {
		s := mp.Snapshot()
		if s.State == StateRunning && s.PID > 0 {
			out[s.ID] = metrics.Target{Profile: s.Name, PID: s.PID}
		}
	}
	return out
}

// Close releases console mirror writers.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var first error
	for _, mp := range r.procs {
		if c, ok := mp.mirror.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (r *Registry) setDispatch(fn func(func())) {
	r.mu.Lock()
	r.dispatch = fn
	r.mu.Unlock()
}

// post routes an event into the owning loop, or runs it inline when no
// Router is attached.
func (r *Registry) post(fn func()) {
	r.mu.RLock()
	d := r.dispatch
	r.mu.RUnlock()
	if d == nil {
		fn()
		return
	}
	d(fn)
}
