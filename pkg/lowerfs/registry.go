// Lower (mirrored) filesystem objects, one live Vnode per (device, inode)
package lowerfs

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/function61/varjo/pkg/varjoalias"
)

// Registry is the host side of the lower-object contract: stable identities, reference
// counts and a per-object lock.
type Registry struct {
	mu     sync.Mutex
	vnodes map[varjoalias.Identity]*Vnode
}

func NewRegistry() *Registry {
	return &Registry{
		vnodes: map[varjoalias.Identity]*Vnode{},
	}
}

// Open returns the object at path, with a reference the caller has to drop with DecRef().
// symlinks are not followed.
func (r *Registry) Open(path string) (*Vnode, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}

	id, err := IdentityOf(info)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vnode, found := r.vnodes[id]
	if !found {
		vnode = &Vnode{
			registry: r,
			id:       id,
			path:     path,
			mode:     info.Mode(),
		}

		r.vnodes[id] = vnode
	}

	vnode.refs++

	return vnode, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.vnodes)
}

func IdentityOf(info os.FileInfo) (varjoalias.Identity, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return varjoalias.Identity{}, errors.New("no stat information for identity")
	}

	// uint64() conversions b/c types differ by OS
	return varjoalias.Identity{
		Dev: uint64(stat.Dev),
		Ino: uint64(stat.Ino),
	}, nil
}

type Vnode struct {
	registry *Registry
	id       varjoalias.Identity
	path     string      // where we first found it
	mode     os.FileMode // type bits don't change for an inode's lifetime
	refs     int         // guarded by registry.mu
	lock     sync.RWMutex
}

var _ varjoalias.LowerObject = (*Vnode)(nil)

func (v *Vnode) Identity() varjoalias.Identity {
	return v.id
}

func (v *Vnode) Path() string {
	return v.path
}

func (v *Vnode) Mode() os.FileMode {
	return v.mode
}

func (v *Vnode) IsDir() bool {
	return v.mode.IsDir()
}

func (v *Vnode) IncRef() {
	v.registry.mu.Lock()
	defer v.registry.mu.Unlock()

	if v.refs <= 0 {
		panic("lowerfs: IncRef() on released vnode " + v.id.String())
	}

	v.refs++
}

func (v *Vnode) DecRef() {
	v.registry.mu.Lock()
	defer v.registry.mu.Unlock()

	v.refs--

	switch {
	case v.refs == 0:
		delete(v.registry.vnodes, v.id)
	case v.refs < 0:
		panic("lowerfs: DecRef() underflow for " + v.id.String())
	}
}

func (v *Vnode) Refs() int {
	v.registry.mu.Lock()
	defer v.registry.mu.Unlock()

	return v.refs
}

// shared lock is enough for lookups. holders of the exclusive lock (= reclaimers)
// exclude lookups of the same object.
func (v *Vnode) RLock()   { v.lock.RLock() }
func (v *Vnode) RUnlock() { v.lock.RUnlock() }
func (v *Vnode) Lock()    { v.lock.Lock() }
func (v *Vnode) Unlock()  { v.lock.Unlock() }
