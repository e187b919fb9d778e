package logtee

import (
	"sync"
)

// keeps only the "capacity" last lines written
type StringTail struct {
	lines   []string
	next    int // index the next Write() goes to
	written int
	mu      sync.Mutex
}

func NewStringTail(capacity int) *StringTail {
	if capacity < 1 {
		capacity = 1
	}

	return &StringTail{
		lines: make([]string, capacity),
	}
}

// oldest first
func (t *StringTail) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.written < len(t.lines) {
		return append([]string{}, t.lines[:t.written]...)
	}

	return append(append([]string{}, t.lines[t.next:]...), t.lines[:t.next]...)
}

func (t *StringTail) Write(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	t.written++
}
