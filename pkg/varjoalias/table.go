package varjoalias

import (
	"fmt"
	"sync"
)

type aliasKey struct {
	mount MountID
	lower Identity
}

// Table maps lower objects to their aliases. membership in the table is the sole
// authority for "does an alias already exist for this lower object".
//
// the mutex is only held for map access and never across allocation or blocking.
type Table struct {
	mu    sync.Mutex
	nodes map[aliasKey]*Node
}

func NewTable() *Table {
	return &Table{
		nodes: map[aliasKey]*Node{},
	}
}

// returns the alias for lower object with a new strong reference, or nil.
// caller must have the lower object locked.
func (t *Table) Lookup(mount MountID, lower Identity) *Node {
	t.mu.Lock()

	n, found := t.nodes[aliasKey{mount, lower}]
	if !found {
		t.mu.Unlock()
		return nil
	}

	// take the interlock before letting go of the table so the node can't change
	// state between us finding it and handing it out
	n.back.mu.Lock()
	t.mu.Unlock()

	handOut(n, "Lookup")

	return n
}

// inserts candidate, unless someone beat us to it, in which case the winner is
// returned (with a new strong reference) and candidate is not inserted.
// mount must be the one candidate was created for.
func (t *Table) InsertOrGet(mount MountID, candidate *Node) *Node {
	if mount != candidate.mount {
		panic(InvariantViolation{"InsertOrGet", candidate.id, fmt.Sprintf("node of mount %q inserted under %q", candidate.mount, mount)})
	}

	key := aliasKey{candidate.mount, candidate.id}

	t.mu.Lock()

	if winner, found := t.nodes[key]; found {
		winner.back.mu.Lock()
		t.mu.Unlock()

		handOut(winner, "InsertOrGet")

		return winner
	}

	t.nodes[key] = candidate
	t.mu.Unlock()

	return nil
}

// unlinks node. doesn't touch reference counts. no-op if node is not the table's
// entry for its lower object.
func (t *Table) Remove(n *Node) {
	key := aliasKey{n.mount, n.id}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nodes[key] == n {
		delete(t.nodes, key)
	}
}

// marks n doomed and unlinks it, if it has no strong references. same lock order as
// Lookup() (table, then node) so a lookup can't find a doomed node.
func (t *Table) unlinkIdle(n *Node) bool {
	key := aliasKey{n.mount, n.id}

	t.mu.Lock()
	defer t.mu.Unlock()

	o := n.back

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.refs > 0 || o.doomed {
		return false
	}
	o.doomed = true

	if t.nodes[key] == n {
		delete(t.nodes, key)
	}

	return true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.nodes)
}
