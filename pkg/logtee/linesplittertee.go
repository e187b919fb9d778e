package logtee

import (
	"bytes"
	"io"
	"sync"
)

type lineSplitterTee struct {
	pending       []byte // bytes of a line not yet terminated by \n
	lineCompleted func(string)
	mu            sync.Mutex
}

// returns io.Writer that passes everything to sink and calls lineCompleted for each
// full line (without the \n)
func NewLineSplitterTee(sink io.Writer, lineCompleted func(string)) io.Writer {
	return io.MultiWriter(sink, &lineSplitterTee{
		lineCompleted: lineCompleted,
	})
}

// log output that also keeps the most recent lines around for the control API
func NewTail(sink io.Writer, capacity int) (io.Writer, *StringTail) {
	tail := NewStringTail(capacity)

	return NewLineSplitterTee(sink, tail.Write), tail
}

func (l *lineSplitterTee) Write(data []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rest := data

	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx == -1 {
			break
		}

		if len(l.pending) > 0 {
			l.pending = append(l.pending, rest[:idx]...)
			l.lineCompleted(string(l.pending))
			l.pending = l.pending[:0]
		} else {
			l.lineCompleted(string(rest[:idx]))
		}

		rest = rest[idx+1:]
	}

	l.pending = append(l.pending, rest...)

	return len(data), nil
}
