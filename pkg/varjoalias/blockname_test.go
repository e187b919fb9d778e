package varjoalias

import (
	"errors"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
)

// builds a chain of aliases, first name being the root
func chain(t *testing.T, m *Mount, names ...string) []*Node {
	t.Helper()

	nodes := []*Node{}
	var parent *Node
	for i, name := range names {
		n, err := m.Get(newTestLower(uint64(i+1)).spare(), parent)
		assert.Assert(t, err == nil)
		n.Assign(name)

		nodes = append(nodes, n)
		parent = n
	}

	return nodes
}

func releaseAll(nodes []*Node) {
	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].Release()
	}
}

func TestAssign(t *testing.T) {
	tcs := []struct {
		input  string
		output string
	}{
		{"plain", "plain"},
		{"/abs/path/kept/whole", "/abs/path/kept/whole"},
		{"first/second/third", "first"},
		{"", ""},
		{"trailing/", "trailing"},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			m := Init("test")

			n, err := m.Get(newTestLower(1).spare(), nil)
			assert.Assert(t, err == nil)
			defer n.Release()

			n.Assign(tc.input)

			assert.EqualString(t, n.Name(), tc.output)
			assert.Assert(t, len(n.component()) == len(tc.output)+1)
			assert.Assert(t, n.component()[len(tc.output)] == 0)
		})
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	m := Init("test")

	n, err := m.Get(newTestLower(1).spare(), nil)
	assert.Assert(t, err == nil)
	defer n.Release()

	n.Assign("nameA")
	n.Assign("nameB")

	assert.EqualString(t, n.Name(), "nameA")
}

func TestBuildBlockName(t *testing.T) {
	m := Init("test")

	nodes := chain(t, m, "", "tmp", "a", "b")
	defer releaseAll(nodes)

	name, err := m.BuildBlockName(nodes[3])
	assert.Assert(t, err == nil)
	assert.EqualString(t, name.String(), "/tmp/a/b")
	m.DestroyBlockName(name)

	// intermediate node works as a leaf, too
	name, err = m.BuildBlockName(nodes[1])
	assert.Assert(t, err == nil)
	assert.EqualString(t, name.String(), "/tmp")
	m.DestroyBlockName(name)

	assert.Assert(t, m.Stats().BuffersOutstanding == 0)
}

func TestBuildBlockNameAbsoluteRoot(t *testing.T) {
	m := Init("test")

	nodes := chain(t, m, "/tmp/VMwareDnD", "abc123")
	defer releaseAll(nodes)

	name, err := m.BuildBlockName(nodes[1])
	assert.Assert(t, err == nil)
	defer m.DestroyBlockName(name)

	assert.EqualString(t, name.String(), "/tmp/VMwareDnD/abc123")
	// terminated in the buffer like the C string it stands in for
	assert.Assert(t, name.buf.Bytes()[len("/tmp/VMwareDnD/abc123")] == 0)
}

func TestBuildBlockNameOfRoot(t *testing.T) {
	m := Init("test")

	nodes := chain(t, m, "/lower")
	defer releaseAll(nodes)

	name, err := m.BuildBlockName(nodes[0])
	assert.Assert(t, err == nil)
	defer m.DestroyBlockName(name)

	assert.EqualString(t, name.String(), "/lower")
}

func TestBuildBlockNameLengthBoundary(t *testing.T) {
	// "/aaaa/bbbb" + terminator = 11 bytes
	exact := Init("test", WithMaxPathLen(11))

	nodes := chain(t, exact, "", "aaaa", "bbbb")
	defer releaseAll(nodes)

	name, err := exact.BuildBlockName(nodes[2])
	assert.Assert(t, err == nil)
	assert.EqualString(t, name.String(), "/aaaa/bbbb")
	exact.DestroyBlockName(name)

	oneShort := Init("test", WithMaxPathLen(10))

	nodes2 := chain(t, oneShort, "", "aaaa", "bbbb")
	defer releaseAll(nodes2)

	_, err = oneShort.BuildBlockName(nodes2[2])
	assert.Assert(t, errors.Is(err, ErrNameTooLong))
	assert.Assert(t, oneShort.Stats().BuffersOutstanding == 0)
	assert.Assert(t, oneShort.Stats().NameTooLong == 1)
}

func TestBuildBlockNameTooLongDeepChain(t *testing.T) {
	m := Init("test")

	names := []string{""}
	for i := 0; i < 300; i++ {
		names = append(names, strings.Repeat("x", 10))
	}

	nodes := chain(t, m, names...)
	defer releaseAll(nodes)

	_, err := m.BuildBlockName(nodes[len(nodes)-1])
	assert.Assert(t, errors.Is(err, ErrNameTooLong))
	assert.Assert(t, m.Stats().BuffersOutstanding == 0)

	// shallower leaf still fits
	name, err := m.BuildBlockName(nodes[10])
	assert.Assert(t, err == nil)
	assert.Assert(t, len(name.String()) == 10*11)
	m.DestroyBlockName(name)
}

func TestBuildBlockNameUnnamedNode(t *testing.T) {
	m := Init("test")

	nodes := chain(t, m, "", "named")
	defer releaseAll(nodes)

	unnamed, err := m.Get(newTestLower(100).spare(), nodes[1])
	assert.Assert(t, err == nil)
	defer unnamed.Release()

	_, err = m.BuildBlockName(unnamed)
	assert.Assert(t, err == ErrUnnamedNode)
	assert.Assert(t, m.Stats().BuffersOutstanding == 0)
}

func TestDestroyBlockNameTwicePanics(t *testing.T) {
	m := Init("test")

	nodes := chain(t, m, "/x")
	defer releaseAll(nodes)

	name, err := m.BuildBlockName(nodes[0])
	assert.Assert(t, err == nil)

	m.DestroyBlockName(name)

	defer func() {
		assert.Assert(t, recover() == errAlreadyFreed)
	}()

	m.DestroyBlockName(name)
}
