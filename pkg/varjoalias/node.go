package varjoalias

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// identity of a lower object. stable for the object's lifetime
type Identity struct {
	Dev uint64
	Ino uint64
}

func (i Identity) String() string {
	return fmt.Sprintf("%d:%d", i.Dev, i.Ino)
}

// scopes identity uniqueness
type MountID string

// host's handle to an object in the mirrored tree
type LowerObject interface {
	Identity() Identity
	IncRef()
	DecRef()
}

// Node is the shadow layer's representative of exactly one lower object within a mount.
type Node struct {
	mount MountID
	id    Identity // cached so Remove() works even after lower is detached

	back *Object
	// owned reference. nil only for a creation race loser (or after reclaim)
	lower LowerObject
	// non-owning, written once by the creation winner before publication. the mount
	// root has none.
	parent *Node

	// immutable once set. includes terminator.
	componentName atomic.Pointer[[]byte]

	data interface{} // bound by host via Attach(), guarded by back.mu
}

func (n *Node) Identity() Identity {
	return n.id
}

func (n *Node) Lower() LowerObject {
	return n.lower
}

func (n *Node) Parent() *Node {
	return n.parent
}

func (n *Node) Back() *Object {
	return n.back
}

// Assign gives the node its path component. the first call wins, later ones are no-ops
// (directories can't be hardlinked, so a node's pathname is stable for its lifetime).
//
// absolute names and names without a slash are kept whole, otherwise the name is cut
// at the first slash.
func (n *Node) Assign(name string) {
	if n.componentName.Load() != nil {
		return
	}

	size := len(name) + 1
	if slash := strings.IndexByte(name, '/'); slash > 0 {
		size = slash + 1
	}

	buf := make([]byte, size)
	copy(buf, name[:size-1])
	buf[size-1] = 0

	n.componentName.CompareAndSwap(nil, &buf)
}

// component name without terminator. "" if not assigned
func (n *Node) Name() string {
	if buf := n.component(); buf != nil {
		return string(buf[:len(buf)-1])
	}

	return ""
}

// componentSize is len() of the result
func (n *Node) component() []byte {
	if buf := n.componentName.Load(); buf != nil {
		return *buf
	}

	return nil
}

// binds host data to the node if nothing is bound yet. returns what ended up bound.
func (n *Node) Attach(data interface{}) interface{} {
	n.back.mu.Lock()
	defer n.back.mu.Unlock()

	if n.data == nil {
		n.data = data
	}

	return n.data
}

func (n *Node) Data() interface{} {
	n.back.mu.Lock()
	defer n.back.mu.Unlock()

	return n.data
}

// takes an additional strong reference. caller must already hold one.
func (n *Node) Ref() {
	n.back.mu.Lock()
	defer n.back.mu.Unlock()

	if n.back.refs <= 0 || n.back.doomed {
		panic(InvariantViolation{"Ref", n.id, "no strong reference held"})
	}

	n.back.refs++
}

// drops a strong reference. dropping the last one marks the node idle and calls
// Ops.Inactive()
func (n *Node) Release() {
	o := n.back

	o.mu.Lock()
	if o.refs <= 0 {
		o.mu.Unlock()
		panic(InvariantViolation{"Release", n.id, "reference count underflow"})
	}

	o.refs--
	if o.refs > 0 {
		o.mu.Unlock()
		return
	}

	o.oweInactive = true
	o.mu.Unlock()

	o.ops.Inactive(n)
}

func (n *Node) Refs() int {
	n.back.mu.Lock()
	defer n.back.mu.Unlock()

	return n.back.refs
}

// no strong references, waiting to be either reclaimed or handed out again
func (n *Node) Idle() bool {
	n.back.mu.Lock()
	defer n.back.mu.Unlock()

	return n.back.oweInactive
}

// caller holds n.back.mu, which this releases
func handOut(n *Node, op string) {
	o := n.back

	// must clear this here or the node could get deactivated under its new holder
	o.oweInactive = false

	if o.doomed {
		o.mu.Unlock()

		// reclaim unlinks under the table lock, so a doomed node is never in the table
		panic(InvariantViolation{op, n.id, "found node is being reclaimed"})
	}

	o.refs++
	o.mu.Unlock()
}
