package console

import "sync"

// DefaultCapacity is the number of lines kept when no capacity is given.
const DefaultCapacity = 500

// Buffer is a bounded scrollback of console lines for one profile.
// Append evicts the oldest line once the buffer is full. Lines returns a copy,
// so a snapshot never changes after it is returned.
//
// Buffer is safe for one appender per output stream and any number of readers.
type Buffer struct {
	mu       sync.RWMutex
	lines    []string
	startIdx int
	count    int
}

// NewBuffer creates a buffer holding at most capacity lines.
// A non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Append adds one line, overwriting the oldest entry when full.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	if b.count < len(b.lines) {
		b.lines[(b.startIdx+b.count)%len(b.lines)] = line
		b.count++
	} else {
		b.lines[b.startIdx] = line
		b.startIdx = (b.startIdx + 1) % len(b.lines)
	}
	b.mu.Unlock()
}

// Lines returns all buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.lines[(b.startIdx+i)%len(b.lines)]
	}
	return out
}

// Len reports how many lines are currently buffered.
func (b *Buffer) Len() int {
	b.mu.RLock()
	n := b.count
	b.mu.RUnlock()
	return n
}

// Capacity returns the maximum number of lines the buffer retains.
func (b *Buffer) Capacity() int { return len(b.lines) }
