// Blocks on pathnames: lookups of a blocked path wait until the block is removed
package varjoblock

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/samber/lo"
)

var (
	ErrExists      = errors.New("block already exists")
	ErrNotFound    = errors.New("block not found")
	ErrNotAbsolute = errors.New("block path must be absolute")
)

type Block struct {
	Path    string    `json:"path"`
	Owner   string    `json:"owner"`
	Created time.Time `json:"created"`
	Waiters int       `json:"waiters"`
}

type Stats struct {
	Active     int    `json:"active"`
	Waiting    int    `json:"waiting"`
	TotalWaits uint64 `json:"total_waits"`
}

type entry struct {
	path     string
	owner    string
	created  time.Time
	released chan struct{} // closed on removal
	waiters  int
}

// Think of this as mutexmap, but the one holding the lock is an outside party (the
// blocker) and the ones waiting are filesystem lookups.
type List struct {
	mu         sync.Mutex
	blocks     map[string]*entry
	totalWaits uint64
	store      *Store // nil = nothing persisted
	logl       *logex.Leveled
}

// store can be nil. if not, previously persisted blocks are restored.
func New(store *Store, logl *logex.Leveled) (*List, error) {
	l := &List{
		blocks: map[string]*entry{},
		store:  store,
		logl:   logl,
	}

	if store != nil {
		persisted, err := store.All()
		if err != nil {
			return nil, err
		}

		for _, block := range persisted {
			l.blocks[block.Path] = newEntry(block.Path, block.Owner, block.Created)
		}

		if len(persisted) > 0 {
			logl.Info.Printf("restored %d block(s)", len(persisted))
		}
	}

	return l, nil
}

func newEntry(path string, owner string, created time.Time) *entry {
	return &entry{
		path:     path,
		owner:    owner,
		created:  created,
		released: make(chan struct{}),
	}
}

func (l *List) Add(blockPath string, owner string) error {
	blockPath, err := normalize(blockPath)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.blocks[blockPath]; exists {
		return fmt.Errorf("%s: %w", blockPath, ErrExists)
	}

	e := newEntry(blockPath, owner, time.Now().UTC())

	if l.store != nil {
		if err := l.store.Put(e.block()); err != nil {
			return err
		}
	}

	l.blocks[blockPath] = e

	l.logl.Debug.Printf("add %s (owner %s)", blockPath, owner)

	return nil
}

// only the owner of a block can remove it
func (l *List) Remove(blockPath string, owner string) error {
	blockPath, err := normalize(blockPath)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.blocks[blockPath]
	if !exists || e.owner != owner {
		return fmt.Errorf("%s: %w", blockPath, ErrNotFound)
	}

	return l.removeInternal(e)
}

// removes all blocks of owner in path order, returning how many were removed (on error,
// how many were removed before it)
func (l *List) RemoveAll(owner string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	owned := lo.Filter(lo.Values(l.blocks), func(e *entry, _ int) bool {
		return e.owner == owner
	})
	sort.Slice(owned, func(i, j int) bool { return owned[i].path < owned[j].path })

	for i, e := range owned {
		if err := l.removeInternal(e); err != nil {
			return i, err
		}
	}

	return len(owned), nil
}

// caller holds mu
func (l *List) removeInternal(e *entry) error {
	if l.store != nil {
		if err := l.store.Delete(e.path); err != nil {
			return err
		}
	}

	delete(l.blocks, e.path)
	close(e.released)

	l.logl.Debug.Printf("remove %s (%d waiter(s))", e.path, e.waiters)

	return nil
}

func (l *List) IsBlocked(blockPath string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, blocked := l.blocks[path.Clean(blockPath)]
	return blocked
}

// Wait returns immediately if blockPath is not blocked. otherwise waits until the block
// is removed or ctx is done.
func (l *List) Wait(ctx context.Context, blockPath string) error {
	blockPath = path.Clean(blockPath)

	l.mu.Lock()
	e, blocked := l.blocks[blockPath]
	if !blocked {
		l.mu.Unlock()
		return nil
	}
	e.waiters++
	l.totalWaits++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		e.waiters--
		l.mu.Unlock()
	}()

	select {
	case <-e.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sorted by path
func (l *List) Snapshot() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()

	blocks := lo.Map(lo.Values(l.blocks), func(e *entry, _ int) Block {
		return e.block()
	})

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Path < blocks[j].Path })

	return blocks
}

func (l *List) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	waiting := 0
	for _, e := range l.blocks {
		waiting += e.waiters
	}

	return Stats{
		Active:     len(l.blocks),
		Waiting:    waiting,
		TotalWaits: l.totalWaits,
	}
}

// caller holds mu
func (e *entry) block() Block {
	return Block{
		Path:    e.path,
		Owner:   e.owner,
		Created: e.created,
		Waiters: e.waiters,
	}
}

func normalize(blockPath string) (string, error) {
	if !path.IsAbs(blockPath) {
		return "", fmt.Errorf("%s: %w", blockPath, ErrNotAbsolute)
	}

	return path.Clean(blockPath), nil
}
