package varjofuse

import (
	"os"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"github.com/djherbis/times"
	"github.com/function61/varjo/pkg/lowerfs"
	"github.com/function61/varjo/pkg/varjoalias"
	"github.com/golang/groupcache/lru"
)

type cachedAttr struct {
	info    os.FileInfo
	fetched time.Time
}

// lstat results of lower objects, keyed by identity. entries older than ttl are refetched.
type attrCache struct {
	mu      sync.Mutex
	entries *lru.Cache
	ttl     time.Duration // 0 = no caching
	now     func() time.Time
}

func newAttrCache(maxEntries int, ttl time.Duration) *attrCache {
	return &attrCache{
		entries: lru.New(maxEntries),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (a *attrCache) stat(id varjoalias.Identity, path string) (os.FileInfo, error) {
	if a.ttl > 0 {
		a.mu.Lock()
		cached, found := a.entries.Get(id)
		a.mu.Unlock()

		if found && a.now().Sub(cached.(cachedAttr).fetched) < a.ttl {
			return cached.(cachedAttr).info, nil
		}
	}

	info, err := os.Lstat(path)
	if err != nil {
		a.forget(id)
		return nil, err
	}

	if currentId, err := lowerfs.IdentityOf(info); err != nil || currentId != id {
		a.forget(id)
		return nil, errStale
	}

	if a.ttl > 0 {
		a.mu.Lock()
		a.entries.Add(id, cachedAttr{info: info, fetched: a.now()})
		a.mu.Unlock()
	}

	return info, nil
}

func (a *attrCache) forget(id varjoalias.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries.Remove(id)
}

func (a *attrCache) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.entries.Len()
}

// mirror is read-only, so write bits are dropped
func fillAttr(attr *fuse.Attr, id varjoalias.Identity, info os.FileInfo, valid time.Duration) {
	ts := times.Get(info)

	attr.Valid = valid
	attr.Inode = id.Ino
	attr.Mode = info.Mode() &^ 0222
	attr.Size = uint64(info.Size())
	attr.Mtime = ts.ModTime()
	attr.Atime = ts.AccessTime()

	if ts.HasChangeTime() {
		attr.Ctime = ts.ChangeTime()
	}

	if ts.HasBirthTime() {
		attr.Crtime = ts.BirthTime()
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		attr.Nlink = uint32(stat.Nlink)
		attr.Uid = stat.Uid
		attr.Gid = stat.Gid
		attr.Blocks = uint64(stat.Blocks)
		attr.Rdev = uint32(stat.Rdev)
	}
}
