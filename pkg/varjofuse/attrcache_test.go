package varjofuse

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/varjo/pkg/lowerfs"
)

func TestAttrCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	assert.Assert(t, os.WriteFile(path, []byte("12345"), 0644) == nil)

	info, err := os.Lstat(path)
	assert.Assert(t, err == nil)
	id, err := lowerfs.IdentityOf(info)
	assert.Assert(t, err == nil)

	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	cache := newAttrCache(10, time.Second)
	cache.now = func() time.Time { return now }

	cached, err := cache.stat(id, path)
	assert.Assert(t, err == nil)
	assert.Assert(t, cached.Size() == 5)

	assert.Assert(t, os.WriteFile(path, []byte("1234567890"), 0644) == nil)

	// still within ttl
	cached, err = cache.stat(id, path)
	assert.Assert(t, err == nil)
	assert.Assert(t, cached.Size() == 5)

	now = now.Add(time.Second)

	cached, err = cache.stat(id, path)
	assert.Assert(t, err == nil)
	assert.Assert(t, cached.Size() == 10)

	// replaced with a different object at the same path
	assert.Assert(t, os.Remove(path) == nil)
	assert.Assert(t, os.Mkdir(path, 0755) == nil)
	now = now.Add(time.Second)

	_, err = cache.stat(id, path)
	assert.Assert(t, errors.Is(err, errStale))
	assert.Assert(t, cache.Len() == 0)
}

func TestAttrCacheDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	assert.Assert(t, os.WriteFile(path, []byte("12345"), 0644) == nil)

	info, _ := os.Lstat(path)
	id, _ := lowerfs.IdentityOf(info)

	cache := newAttrCache(10, 0)

	_, err := cache.stat(id, path)
	assert.Assert(t, err == nil)
	assert.Assert(t, cache.Len() == 0)
}
