// Read-only FUSE mirror of a lower directory, where lookups of blocked paths wait for
// the block to be removed
package varjofuse

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"bazil.org/fuse/fs"
	"github.com/function61/gokit/logex"
	"github.com/function61/varjo/pkg/lowerfs"
	"github.com/function61/varjo/pkg/varjoalias"
	"github.com/function61/varjo/pkg/varjoblock"
)

const attrCacheMaxEntries = 4096

// couples the alias layer together with the lower filesystem and the block list.
// implements fs.FS
type shadowFS struct {
	lowerDir string
	mount    *varjoalias.Mount
	registry *lowerfs.Registry
	blocks   *varjoblock.List
	attrs    *attrCache
	metrics  *metricsController
	root     *shadowNode
	logl     *logex.Leveled

	knownMu sync.Mutex
	known   map[*shadowNode]struct{} // nodes the kernel has a reference to

	idleMu sync.Mutex
	idle   map[*varjoalias.Node]struct{} // inactive, waiting for the reaper

	reapMu sync.Mutex
}

var _ fs.FS = (*shadowFS)(nil)

func newShadowFS(
	conf *Config,
	blocks *varjoblock.List,
	metrics *metricsController,
	logl *logex.Leveled,
) (*shadowFS, error) {
	fsys := &shadowFS{
		lowerDir: conf.LowerDir,
		registry: lowerfs.NewRegistry(),
		blocks:   blocks,
		attrs:    newAttrCache(attrCacheMaxEntries, conf.attrCacheTtl()),
		metrics:  metrics,
		logl:     logl,
		known:    map[*shadowNode]struct{}{},
		idle:     map[*varjoalias.Node]struct{}{},
	}

	fsys.mount = varjoalias.Init(
		varjoalias.MountID(conf.MountPath),
		varjoalias.WithObjectFactory(varjoalias.NewObjectFactory(conf.MaxNodes)),
		varjoalias.WithOps(hostOps{fsys}),
		varjoalias.WithMaxPathLen(conf.MaxPathLen),
		varjoalias.WithLogger(logl))

	vnode, err := fsys.registry.Open(conf.LowerDir)
	if err != nil {
		return nil, err
	}

	if !vnode.IsDir() {
		vnode.DecRef()
		return nil, fmt.Errorf("%s is not a directory", conf.LowerDir)
	}

	vnode.RLock()
	rootAlias, err := fsys.mount.Get(vnode, nil)
	vnode.RUnlock()
	if err != nil {
		vnode.DecRef()
		return nil, err
	}

	// naming the root with the absolute lower path makes block names absolute lower paths
	rootAlias.Assign(conf.LowerDir)

	// the reference from Get() is ours until close()
	fsys.root = fsys.wrap(rootAlias)

	return fsys, nil
}

func (f *shadowFS) Root() (fs.Node, error) {
	return f.root, nil
}

// returns child with a reference the caller must pass on to remember() or Release()
func (f *shadowFS) lookup(ctx context.Context, dir *shadowNode, name string) (*shadowNode, error) {
	vnode, err := f.registry.Open(filepath.Join(dir.vnode.Path(), name))
	if err != nil {
		return nil, err
	}

	// shared, so concurrent lookups of the same object race inside Get() and only
	// reclaim (which takes it exclusively) is kept out
	vnode.RLock()
	alias, err := f.mount.Get(vnode, dir.alias)
	if err != nil {
		vnode.RUnlock()
		vnode.DecRef() // spare reference was not consumed
		return nil, err
	}
	alias.Assign(name)
	vnode.RUnlock()

	child := f.wrap(alias)

	if err := f.waitUnblocked(ctx, alias); err != nil {
		alias.Release()
		return nil, err
	}

	return child, nil
}

func (f *shadowFS) waitUnblocked(ctx context.Context, alias *varjoalias.Node) error {
	name, err := f.mount.BuildBlockName(alias)
	if err != nil {
		return err
	}
	defer f.mount.DestroyBlockName(name)

	return f.blocks.Wait(ctx, name.String())
}

// binds our node to alias, or returns the one already bound
func (f *shadowFS) wrap(alias *varjoalias.Node) *shadowNode {
	if bound, ok := alias.Data().(*shadowNode); ok {
		return bound
	}

	// a node keeps its parent alive so the ancestor chain stays intact for block names.
	// released in hostOps.Reclaim()
	parent := alias.Parent()
	if parent != nil {
		parent.Ref()
	}

	candidate := &shadowNode{
		fsys:   f,
		alias:  alias,
		vnode:  alias.Lower().(*lowerfs.Vnode),
		parent: parent,
	}

	bound := alias.Attach(candidate).(*shadowNode)
	if bound != candidate && parent != nil {
		parent.Release()
	}

	return bound
}

// the kernel holds at most one of our references per node, however many times it
// looked the node up (bazil counts the rest)
func (f *shadowFS) remember(node *shadowNode) {
	f.knownMu.Lock()
	_, known := f.known[node]
	f.known[node] = struct{}{}
	f.knownMu.Unlock()

	if known {
		node.alias.Release()
	}
}

func (f *shadowFS) forget(node *shadowNode) {
	f.knownMu.Lock()
	_, known := f.known[node]
	delete(f.known, node)
	f.knownMu.Unlock()

	if known {
		node.alias.Release()
	}
}

// drops every reference we hold, reaps everything and tears down the mount.
// call after the FUSE connection is gone.
func (f *shadowFS) close() error {
	f.knownMu.Lock()
	known := f.known
	f.known = map[*shadowNode]struct{}{}
	f.knownMu.Unlock()

	for node := range known {
		node.alias.Release()
	}

	f.root.alias.Release()

	reaped := f.reap()

	f.logl.Debug.Printf("close: reaped %d node(s)", reaped)

	return f.mount.Uninit()
}
