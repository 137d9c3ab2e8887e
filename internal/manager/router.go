package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Op is a mutating operation accepted by the Router.
type Op int

const (
	OpStart Op = iota
	OpStop
	OpKill
	OpSendCommand
)

func (o Op) String() string {
	switch o {
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	case OpKill:
		return "kill"
	case OpSendCommand:
		return "send-command"
	default:
		return "unknown"
	}
}

// Router is the single owner of every ManagedProcess mutation. Requests from
// any goroutine are queued to one loop and applied in arrival order, together
// with the process lifecycle events of the attached Registry.
type Router struct {
	registry *Registry
	queue    chan func()
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRouter starts the owner loop and attaches it to reg.
func NewRouter(reg *Registry) *Router {
	r := &Router{
		registry: reg,
		queue:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
	go r.loop()
	reg.setDispatch(r.post)
	return r
}

func (r *Router) loop() {
	defer close(r.done)
	for fn := range r.queue {
		r.safely(fn)
	}
}

func (r *Router) safely(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("router event panicked", "panic", p)
		}
	}()
	fn()
}

// post enqueues an event. After Close events run on the caller's goroutine.
func (r *Router) post(fn func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		fn()
		return
	}
	r.queue <- fn
}

// Submit applies op to the profile id on the owner loop and returns its
// result. It waits only for the operation itself: a start returns once the
// process is spawned, a stop once the stop command is written.
func (r *Router) Submit(ctx context.Context, id string, op Op, args ...string) error {
	var fn func(*ManagedProcess) error
	switch op {
	case OpStart:
		fn = (*ManagedProcess).Start
	case OpStop:
		fn = (*ManagedProcess).Stop
	case OpKill:
		fn = (*ManagedProcess).Kill
	case OpSendCommand:
		if len(args) != 1 {
			return fmt.Errorf("%s takes exactly one argument", op)
		}
		text := args[0]
		fn = func(mp *ManagedProcess) error { return mp.SendCommand(text) }
	default:
		return fmt.Errorf("unknown operation %d", int(op))
	}
	return r.Do(ctx, id, fn)
}

// Do runs fn against the profile id on the owner loop. Unknown ids are
// rejected before anything is queued.
func (r *Router) Do(ctx context.Context, id string, fn func(*ManagedProcess) error) error {
	mp, ok := r.registry.Get(id)
	if !ok {
		return fmt.Errorf("%q: %w", id, ErrInvalidProfile)
	}

	reply := make(chan error, 1)
	job := func() { reply <- apply(mp, fn) }

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrRouterClosed
	}
	select {
	case r.queue <- job:
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func apply(mp *ManagedProcess, fn func(*ManagedProcess) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("router operation panicked", "profile", mp.ID(), "panic", p)
			err = fmt.Errorf("operation on %s panicked: %v", mp.ID(), p)
		}
	}()
	return fn(mp)
}

// Close stops accepting requests, drains what is queued and detaches from the
// registry. It is safe to call more than once.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	r.registry.setDispatch(nil)
}
