package varjoalias

import (
	"github.com/function61/varjo/pkg/pathnamepool"
)

// full pathname of a node, living in a pooled buffer. give back with DestroyBlockName()
type BlockName struct {
	buf *pathnamepool.Buffer
	len int // excluding terminator
}

func (b *BlockName) Bytes() []byte {
	return b.buf.Bytes()[:b.len]
}

func (b *BlockName) String() string {
	return string(b.Bytes())
}

// BuildBlockName composes leaf's full pathname by walking its parent links up to the
// mount root. ErrNameTooLong if it doesn't fit in MaxPathLen() bytes (incl. terminator).
//
// caller must hold leaf and all its ancestors stable for the duration of the call. may
// block waiting for a buffer.
func (m *Mount) BuildBlockName(leaf *Node) (*BlockName, error) {
	buf := m.names.Acquire()

	b := buf.Bytes()
	max := len(b)
	tstart := max
	written := 0

	// components are copied leaf-first, backwards from the end of the buffer. each
	// component's terminator is replaced with a '/' (even the leaf's, the whole string
	// gets re-terminated after the loop).
	for n := leaf; n != nil; n = n.parent {
		component := n.component()
		if component == nil {
			m.names.Release(buf)
			return nil, ErrUnnamedNode
		}

		written += len(component)
		if written > max {
			m.names.Release(buf)

			m.stats.nameTooLong.Add(1)
			m.logl.Error.Printf("BuildBlockName: name too long (%d bytes)", written)

			return nil, ErrNameTooLong
		}

		tstart -= len(component)

		copy(b[tstart:], component)
		b[tstart+len(component)-1] = '/'
	}

	b[max-1] = 0

	// we built from the end, callers expect the name at the start. "written" includes
	// the terminator.
	copy(b, b[tstart:tstart+written])

	return &BlockName{buf: buf, len: written - 1}, nil
}

func (m *Mount) DestroyBlockName(name *BlockName) {
	if name.buf == nil {
		panic(errAlreadyFreed)
	}

	m.names.Release(name.buf)
	name.buf = nil
}
