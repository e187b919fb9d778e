package varjofuse

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"
	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
	"github.com/function61/varjo/pkg/varjoblock"
)

func TestLookupAliasesSameObject(t *testing.T) {
	fsys := newTestFS(t, nil)

	sub := lookup(t, fsys.root, "sub")
	again := lookup(t, fsys.root, "sub")

	assert.Assert(t, sub == again)
	// kernel's reference, however many lookups
	assert.Assert(t, sub.alias.Refs() == 1)
	assert.Assert(t, fsys.mount.Stats().Live == 2)
	assert.EqualString(t, sub.alias.Name(), "sub")
	assert.Assert(t, sub.alias.Parent() == fsys.root.alias)

	assert.Assert(t, fsys.close() == nil)
}

func TestForgetAndReap(t *testing.T) {
	fsys := newTestFS(t, nil)

	sub := lookup(t, fsys.root, "sub")
	file := lookup(t, sub, "file.txt")

	assert.Assert(t, fsys.mount.Stats().Live == 3)

	file.Forget()
	assert.Assert(t, fsys.idleLen() == 1)
	assert.Assert(t, file.alias.Idle())

	// file's reclaim drops its reference on sub, but the kernel still knows sub
	assert.Assert(t, fsys.reap() == 1)
	assert.Assert(t, fsys.mount.Stats().Live == 2)
	assert.Assert(t, fsys.idleLen() == 0)

	sub.Forget()
	sub.Forget() // no-op
	assert.Assert(t, fsys.reap() == 1)
	assert.Assert(t, fsys.mount.Stats().Live == 1)

	assert.Assert(t, fsys.close() == nil)
	assert.Assert(t, fsys.registry.Len() == 0)
}

func TestReapCascadesToParents(t *testing.T) {
	fsys := newTestFS(t, nil)

	sub := lookup(t, fsys.root, "sub")
	file := lookup(t, sub, "file.txt")

	sub.Forget() // sub stays alive, file holds it
	assert.Assert(t, fsys.reap() == 0)
	assert.Assert(t, fsys.mount.Stats().Live == 3)

	file.Forget()
	assert.Assert(t, fsys.reap() == 2)
	assert.Assert(t, fsys.mount.Stats().Live == 1)

	assert.Assert(t, fsys.close() == nil)
}

func TestLookupOfIdleNodeBeforeReap(t *testing.T) {
	fsys := newTestFS(t, nil)

	sub := lookup(t, fsys.root, "sub")
	sub.Forget()
	assert.Assert(t, sub.alias.Idle())

	again := lookup(t, fsys.root, "sub")
	assert.Assert(t, again == sub)
	assert.Assert(t, !sub.alias.Idle())

	// handed out again, so nothing to reclaim
	assert.Assert(t, fsys.reap() == 0)
	assert.Assert(t, fsys.mount.Stats().Live == 2)

	assert.Assert(t, fsys.close() == nil)
}

func TestLookupNonExistent(t *testing.T) {
	fsys := newTestFS(t, nil)

	_, err := fsys.root.Lookup(context.Background(), "nope")
	assert.Assert(t, err == fuse.Errno(syscall.ENOENT))

	assert.Assert(t, fsys.close() == nil)
}

func TestLookupWaitsOnBlock(t *testing.T) {
	fsys := newTestFS(t, nil)

	blockPath := filepath.Join(fsys.lowerDir, "sub")

	assert.Assert(t, fsys.blocks.Add(blockPath, "test") == nil)

	type lookupResult struct {
		node *shadowNode
		err  error
	}

	result := make(chan lookupResult, 1)
	go func() {
		node, err := fsys.root.Lookup(context.Background(), "sub")
		if err != nil {
			result <- lookupResult{nil, err}
			return
		}
		result <- lookupResult{node.(*shadowNode), nil}
	}()

	for fsys.blocks.Stats().Waiting != 1 {
		time.Sleep(time.Millisecond)
	}

	// other paths are not affected
	_ = lookup(t, fsys.root, "file-at-root.txt")

	assert.Assert(t, fsys.blocks.Remove(blockPath, "test") == nil)

	res := <-result
	assert.Assert(t, res.err == nil)
	assert.EqualString(t, res.node.alias.Name(), "sub")

	assert.Assert(t, fsys.close() == nil)
}

func TestBlockedLookupInterrupted(t *testing.T) {
	fsys := newTestFS(t, nil)

	assert.Assert(t, fsys.blocks.Add(filepath.Join(fsys.lowerDir, "sub"), "test") == nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := fsys.root.Lookup(ctx, "sub")
	assert.Assert(t, err == fuse.Errno(syscall.EINTR))

	// the alias we got for the wait is released and left for the reaper
	assert.Assert(t, fsys.idleLen() == 1)
	assert.Assert(t, fsys.reap() == 1)
	assert.Assert(t, fsys.mount.Stats().Live == 1)

	assert.Assert(t, fsys.close() == nil)
}

func TestMaxNodes(t *testing.T) {
	fsys := newTestFS(t, func(conf *Config) {
		conf.MaxNodes = 2 // root + one
	})

	_ = lookup(t, fsys.root, "sub")

	_, err := fsys.root.Lookup(context.Background(), "file-at-root.txt")
	assert.Assert(t, err == fuse.Errno(syscall.ENFILE))

	// failed lookup must not leak the lower object
	assert.Assert(t, fsys.registry.Len() == 2)

	assert.Assert(t, fsys.close() == nil)
}

func TestNameTooLong(t *testing.T) {
	var lowerDirLen int
	fsys := newTestFS(t, func(conf *Config) {
		lowerDirLen = len(conf.LowerDir)
		// "<lower>/sub" + terminator
		conf.MaxPathLen = lowerDirLen + len("/sub") + 1
	})

	_ = lookup(t, fsys.root, "sub")

	_, err := fsys.root.Lookup(context.Background(), "file-at-root.txt")
	assert.Assert(t, err == fuse.Errno(syscall.ENAMETOOLONG))
	assert.Assert(t, fsys.mount.Stats().NameTooLong == 1)
	assert.Assert(t, fsys.mount.Stats().BuffersOutstanding == 0)

	assert.Assert(t, fsys.close() == nil)
}

func TestAttrAndRead(t *testing.T) {
	fsys := newTestFS(t, nil)
	ctx := context.Background()

	file := lookup(t, fsys.root, "file-at-root.txt")

	attr := fuse.Attr{}
	assert.Assert(t, file.Attr(ctx, &attr) == nil)
	assert.Assert(t, attr.Size == 11)
	assert.Assert(t, attr.Mode&0222 == 0)
	assert.Assert(t, attr.Inode == file.alias.Identity().Ino)
	assert.Assert(t, !attr.Mtime.IsZero())

	_, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadWrite}, &fuse.OpenResponse{})
	assert.Assert(t, err == fuse.Errno(syscall.EROFS))

	handle, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, &fuse.OpenResponse{})
	assert.Assert(t, err == nil)

	resp := &fuse.ReadResponse{}
	assert.Assert(t, handle.(*fileHandle).Read(ctx, &fuse.ReadRequest{Offset: 6, Size: 100}, resp) == nil)
	assert.EqualString(t, string(resp.Data), "world")

	assert.Assert(t, handle.(*fileHandle).Release(ctx, &fuse.ReleaseRequest{}) == nil)

	assert.Assert(t, fsys.close() == nil)
}

func TestReadDirAll(t *testing.T) {
	fsys := newTestFS(t, nil)

	dirents, err := fsys.root.ReadDirAll(context.Background())
	assert.Assert(t, err == nil)

	assert.Assert(t, len(dirents) == 3)

	// ReadDir() sorts by name
	assert.EqualString(t, dirents[0].Name, "file-at-root.txt")
	assert.Assert(t, dirents[0].Type == fuse.DT_File)
	assert.EqualString(t, dirents[1].Name, "link")
	assert.Assert(t, dirents[1].Type == fuse.DT_Link)
	assert.EqualString(t, dirents[2].Name, "sub")
	assert.Assert(t, dirents[2].Type == fuse.DT_Dir)
	assert.Assert(t, dirents[2].Inode != 0)

	assert.Assert(t, fsys.close() == nil)
}

func TestReadlink(t *testing.T) {
	fsys := newTestFS(t, nil)

	link := lookup(t, fsys.root, "link")

	target, err := link.Readlink(context.Background(), &fuse.ReadlinkRequest{})
	assert.Assert(t, err == nil)
	assert.EqualString(t, target, "sub")

	assert.Assert(t, fsys.close() == nil)
}

// lower dir:
//
//	file-at-root.txt
//	link -> sub
//	sub/file.txt
func newTestFS(t *testing.T, tweak func(*Config)) *shadowFS {
	t.Helper()

	lowerDir := t.TempDir()

	assert.Assert(t, os.Mkdir(filepath.Join(lowerDir, "sub"), 0755) == nil)
	assert.Assert(t, os.WriteFile(filepath.Join(lowerDir, "sub", "file.txt"), []byte("in sub"), 0644) == nil)
	assert.Assert(t, os.WriteFile(filepath.Join(lowerDir, "file-at-root.txt"), []byte("hello world"), 0644) == nil)
	assert.Assert(t, os.Symlink("sub", filepath.Join(lowerDir, "link")) == nil)

	conf := &Config{
		LowerDir:  lowerDir,
		MountPath: filepath.Join(t.TempDir(), "mnt"),
	}
	if tweak != nil {
		tweak(conf)
	}
	assert.Assert(t, conf.Validate() == nil)

	blocks, err := varjoblock.New(nil, logex.Levels(logex.Discard))
	assert.Assert(t, err == nil)

	fsys, err := newShadowFS(conf, blocks, newMetricsController(), logex.Levels(logex.Discard))
	assert.Assert(t, err == nil)

	return fsys
}

func lookup(t *testing.T, dir *shadowNode, name string) *shadowNode {
	t.Helper()

	node, err := dir.Lookup(context.Background(), name)
	assert.Assert(t, err == nil)

	return node.(*shadowNode)
}
