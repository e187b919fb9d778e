// Fixed-capacity scratch buffers for building pathnames
package pathnamepool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// matches MAXPATHLEN of the BSDs
const DefaultCapacity = 1024

type Buffer struct {
	data  []byte
	inUse atomic.Bool
}

// full capacity, contents are whatever the previous user left there
func (b *Buffer) Bytes() []byte {
	return b.data
}

type Pool struct {
	capacity    int
	free        sync.Pool
	slots       chan struct{} // nil = unlimited
	outstanding atomic.Int64
}

// limit > 0 bounds the number of concurrently acquired buffers. Acquire() blocks when
// the limit is reached.
func New(capacity int, limit int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	p := &Pool{
		capacity: capacity,
	}

	p.free.New = func() interface{} {
		return &Buffer{data: make([]byte, capacity)}
	}

	if limit > 0 {
		p.slots = make(chan struct{}, limit)
	}

	return p
}

func (p *Pool) Capacity() int {
	return p.capacity
}

// may block if pool has a limit
func (p *Pool) Acquire() *Buffer {
	if p.slots != nil {
		p.slots <- struct{}{}
	}

	buf := p.free.Get().(*Buffer)
	buf.inUse.Store(true)

	p.outstanding.Add(1)

	return buf
}

func (p *Pool) Release(buf *Buffer) {
	if !buf.inUse.CompareAndSwap(true, false) {
		panic("pathnamepool: buffer released twice")
	}

	p.outstanding.Add(-1)

	p.free.Put(buf)

	if p.slots != nil {
		<-p.slots
	}
}

// buffers acquired but not yet released
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// pool can still be used after Close(), but a non-nil error means someone leaked a buffer
func (p *Pool) Close() error {
	if outstanding := p.Outstanding(); outstanding != 0 {
		return fmt.Errorf("pathnamepool: %d buffer(s) outstanding", outstanding)
	}

	return nil
}
