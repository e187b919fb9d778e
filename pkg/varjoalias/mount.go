// Identity-aliasing core of a stacking filesystem: one shadow node per lower object
package varjoalias

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/function61/gokit/logex"
	"github.com/function61/varjo/pkg/pathnamepool"
)

var (
	ErrAllocation   = errors.New("varjoalias: allocation failure")
	ErrNameTooLong  = errors.New("varjoalias: name too long")
	ErrUnnamedNode  = errors.New("varjoalias: node in path has no name")
	ErrBusy         = errors.New("varjoalias: mount busy")
	errAlreadyFreed = errors.New("varjoalias: block name already destroyed")
)

type Stats struct {
	Lookups            uint64 `json:"lookups"`
	Hits               uint64 `json:"hits"`
	Misses             uint64 `json:"misses"`
	Races              uint64 `json:"races"`
	Inserted           uint64 `json:"inserted"`
	Reclaimed          uint64 `json:"reclaimed"`
	NameTooLong        uint64 `json:"name_too_long"`
	Live               int    `json:"live"`
	BuffersOutstanding int64  `json:"buffers_outstanding"`
}

type counters struct {
	lookups     atomic.Uint64
	hits        atomic.Uint64
	misses      atomic.Uint64
	races       atomic.Uint64
	inserted    atomic.Uint64
	reclaimed   atomic.Uint64
	nameTooLong atomic.Uint64
}

// Mount owns the alias table and pathname buffers of one mounted instance. construct
// with Init() at mount, destroy with Uninit() at unmount.
type Mount struct {
	id      MountID
	table   *Table
	names   *pathnamepool.Pool
	objects ObjectFactory
	hostOps Ops // nil = reclaim as soon as inactive
	logl    *logex.Leveled
	stats   counters
}

type config struct {
	objects       ObjectFactory
	ops           Ops
	maxPathLen    int
	namePoolLimit int
	logl          *logex.Leveled
}

type Option func(*config)

func WithObjectFactory(objects ObjectFactory) Option {
	return func(c *config) {
		c.objects = objects
	}
}

// host's operation table. without one, nodes are reclaimed as soon as they go inactive.
func WithOps(ops Ops) Option {
	return func(c *config) {
		c.ops = ops
	}
}

func WithMaxPathLen(maxPathLen int) Option {
	return func(c *config) {
		c.maxPathLen = maxPathLen
	}
}

// bounds concurrently built block names. BuildBlockName() blocks while at limit
func WithNamePoolLimit(limit int) Option {
	return func(c *config) {
		c.namePoolLimit = limit
	}
}

func WithLogger(logl *logex.Leveled) Option {
	return func(c *config) {
		c.logl = logl
	}
}

func Init(id MountID, opts ...Option) *Mount {
	conf := config{
		maxPathLen: pathnamepool.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&conf)
	}

	if conf.objects == nil {
		conf.objects = NewObjectFactory(0)
	}

	if conf.logl == nil {
		conf.logl = logex.Levels(logex.Discard)
	}

	return &Mount{
		id:      id,
		table:   NewTable(),
		names:   pathnamepool.New(conf.maxPathLen, conf.namePoolLimit),
		objects: conf.objects,
		hostOps: conf.ops,
		logl:    conf.logl,
	}
}

// tears down the mount's table and buffer pool. ErrBusy (wrapped) if aliases or block
// names are still around, though teardown happens regardless.
func (m *Mount) Uninit() error {
	live := m.table.Len()
	bufErr := m.names.Close()

	m.table = NewTable()

	if live > 0 || bufErr != nil {
		err := fmt.Errorf("%w: %d live node(s), %d pathname buffer(s) outstanding", ErrBusy, live, m.names.Outstanding())
		m.logl.Error.Printf("Uninit: %v", err)
		return err
	}

	return nil
}

func (m *Mount) ID() MountID {
	return m.id
}

func (m *Mount) Table() *Table {
	return m.table
}

func (m *Mount) MaxPathLen() int {
	return m.names.Capacity()
}

// Get returns the alias for lower, creating it if needed. the returned node carries a
// strong reference for the caller.
//
// lower must carry a spare reference from the caller, which is consumed on success
// (either released, or transferred to a new node). on error the caller still owns it.
// caller must hold lower locked for the duration of the call.
//
// creation is deliberately not serialized: two callers holding lower under a shared
// lock may both allocate, and the loser is reconciled in InsertOrGet().
func (m *Mount) Get(lower LowerObject, parent *Node) (*Node, error) {
	id := lower.Identity()

	m.stats.lookups.Add(1)

	if existing := m.table.Lookup(m.id, id); existing != nil {
		m.stats.hits.Add(1)

		lower.DecRef()
		return existing, nil
	}

	m.stats.misses.Add(1)

	back, err := m.objects.NewObject(m.id, mountOps{m})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	xp := &Node{
		mount: m.id,
		id:    id,
		back:  back,
		lower: lower,
		// written before publication so readers who find the node through the table
		// see it. a losing duplicate drops it below.
		parent: parent,
	}
	back.node = xp

	if winner := m.table.InsertOrGet(m.id, xp); winner != nil {
		m.stats.races.Add(1)
		m.logl.Debug.Printf("Get: lost creation race for %s", id)

		lower.DecRef()

		// we never truly owned lower, so make sure teardown of the duplicate doesn't
		// release it
		xp.lower = nil
		xp.parent = nil
		xp.Release()

		return winner, nil
	}

	m.stats.inserted.Add(1)

	return xp, nil
}

// Reclaim tears down an inactive node. hosts call this with the node's lower object
// locked exclusively. the default ops call it straight from the last Release(), which
// is fine because the node is marked doomed and unlinked in one table critical section,
// so Lookup() either hands it out before that or never finds it.
//
// returns false if the node got handed out again in the meantime (or was already
// reclaimed), in which case nothing happens.
func (m *Mount) Reclaim(n *Node) bool {
	if !m.table.unlinkIdle(n) {
		return false
	}

	// creation race losers were never published and never owned lower
	if n.lower != nil {
		// owned resources are released only after removal from the table
		n.back.ops.Reclaim(n)

		n.lower.DecRef()
		n.lower = nil

		m.stats.reclaimed.Add(1)
	}

	n.componentName.Store(nil)

	m.objects.FreeObject(n.back)

	return true
}

func (m *Mount) Stats() Stats {
	return Stats{
		Lookups:            m.stats.lookups.Load(),
		Hits:               m.stats.hits.Load(),
		Misses:             m.stats.misses.Load(),
		Races:              m.stats.races.Load(),
		Inserted:           m.stats.inserted.Load(),
		Reclaimed:          m.stats.reclaimed.Load(),
		NameTooLong:        m.stats.nameTooLong.Load(),
		Live:               m.table.Len(),
		BuffersOutstanding: m.names.Outstanding(),
	}
}

// the Ops every back object of a mount is bound to. routes to the host's ops, except
// for creation race losers which are unreachable and thus reclaimed right away
type mountOps struct {
	m *Mount
}

func (o mountOps) Inactive(n *Node) {
	if n.lower == nil || o.m.hostOps == nil {
		o.m.Reclaim(n)
		return
	}

	o.m.hostOps.Inactive(n)
}

func (o mountOps) Reclaim(n *Node) {
	if o.m.hostOps != nil {
		o.m.hostOps.Reclaim(n)
	}
}
