package varjoalias

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// operation table of a back object
type Ops interface {
	// last strong reference to the node's back object was dropped. the node stays in
	// the table (and can be handed out again) until the host reclaims it.
	Inactive(n *Node)
	// node has left the table but its lower reference and name are still intact
	Reclaim(n *Node)
}

type ObjectFactory interface {
	NewObject(mount MountID, ops Ops) (*Object, error)
	FreeObject(o *Object)
}

// Object is the shadow-side object exclusively owned by one Node. a fresh Object has
// one strong reference, which goes to whoever called Mount.Get()
type Object struct {
	mu          sync.Mutex // interlock
	refs        int
	oweInactive bool // deferred-deactivation marker
	doomed      bool // reclaim has started, must never be handed out again
	ops         Ops
	node        *Node
}

func newObject(ops Ops) *Object {
	return &Object{
		refs: 1,
		ops:  ops,
	}
}

func (o *Object) Node() *Node {
	return o.node
}

// InvariantViolation is the panic value for states that the locking protocol makes
// impossible. it is never returned as an error.
type InvariantViolation struct {
	Op       string
	Identity Identity
	Reason   string
}

func (i InvariantViolation) Error() string {
	return fmt.Sprintf("varjoalias: %s: %s (%s)", i.Op, i.Reason, i.Identity)
}

var errTooManyObjects = errors.New("too many objects")

// allocates back objects, optionally refusing to go over a limit (like a kernel's
// maximum vnode count)
type limitedFactory struct {
	max  int64
	live atomic.Int64
}

// max <= 0 means unlimited
func NewObjectFactory(max int) ObjectFactory {
	return &limitedFactory{max: int64(max)}
}

func (l *limitedFactory) NewObject(_ MountID, ops Ops) (*Object, error) {
	if live := l.live.Add(1); l.max > 0 && live > l.max {
		l.live.Add(-1)
		return nil, fmt.Errorf("%w (limit %d)", errTooManyObjects, l.max)
	}

	return newObject(ops), nil
}

func (l *limitedFactory) FreeObject(_ *Object) {
	l.live.Add(-1)
}
