package varjofuse

import (
	"context"
	"io"
	"os"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/function61/varjo/pkg/lowerfs"
	"github.com/function61/varjo/pkg/varjoalias"
	"github.com/pkg/xattr"
	"github.com/samber/lo"
)

// one per alias. directories act as their own handle
type shadowNode struct {
	fsys   *shadowFS
	alias  *varjoalias.Node
	vnode  *lowerfs.Vnode
	parent *varjoalias.Node // strong reference, nil for root
}

var _ interface {
	fs.Node
	fs.NodeStringLookuper
	fs.HandleReadDirAller
	fs.NodeOpener
	fs.NodeReadlinker
	fs.NodeGetxattrer
	fs.NodeListxattrer
	fs.NodeForgetter
} = (*shadowNode)(nil)

func (s *shadowNode) Attr(_ context.Context, attr *fuse.Attr) error {
	info, err := s.fsys.attrs.stat(s.alias.Identity(), s.vnode.Path())
	if err != nil {
		return toErrno(err)
	}

	fillAttr(attr, s.alias.Identity(), info, s.fsys.attrs.ttl)

	return nil
}

func (s *shadowNode) Lookup(ctx context.Context, name string) (fs.Node, error) {
	s.fsys.metrics.lookups.Inc()

	child, err := s.fsys.lookup(ctx, s, name)
	if err != nil {
		errno := toErrno(err)

		if !os.IsNotExist(err) {
			s.fsys.logl.Debug.Printf("Lookup %s in %s: %v", name, s.vnode.Path(), err)
		}

		s.fsys.metrics.lookupFailed(errno)

		return nil, errno
	}

	s.fsys.remember(child)

	return child, nil
}

func (s *shadowNode) Forget() {
	if s == s.fsys.root {
		return
	}

	s.fsys.forget(s)
}

func (s *shadowNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	entries, err := os.ReadDir(s.vnode.Path())
	if err != nil {
		return nil, toErrno(err)
	}

	return lo.FilterMap(entries, func(entry os.DirEntry, _ int) (fuse.Dirent, bool) {
		info, err := entry.Info()
		if err != nil { // removed since ReadDir()
			return fuse.Dirent{}, false
		}

		id, err := lowerfs.IdentityOf(info)
		if err != nil {
			return fuse.Dirent{}, false
		}

		return fuse.Dirent{
			Inode: id.Ino,
			Name:  entry.Name(),
			Type:  direntType(entry.Type()),
		}, true
	}), nil
}

func (s *shadowNode) Open(_ context.Context, req *fuse.OpenRequest, _ *fuse.OpenResponse) (fs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		return nil, fuse.Errno(syscall.EROFS)
	}

	if req.Dir {
		return s, nil
	}

	file, err := os.Open(s.vnode.Path())
	if err != nil {
		return nil, toErrno(err)
	}

	s.fsys.metrics.openFiles.Inc()

	return &fileHandle{file, s.fsys.metrics}, nil
}

func (s *shadowNode) Readlink(_ context.Context, _ *fuse.ReadlinkRequest) (string, error) {
	target, err := os.Readlink(s.vnode.Path())
	return target, toErrno(err)
}

func (s *shadowNode) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	value, err := xattr.LGet(s.vnode.Path(), req.Name)
	if err != nil {
		return toErrno(err)
	}

	resp.Xattr = value

	return nil
}

func (s *shadowNode) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	names, err := xattr.LList(s.vnode.Path())
	if err != nil {
		return toErrno(err)
	}

	resp.Append(names...)

	return nil
}

type fileHandle struct {
	file    *os.File
	metrics *metricsController
}

var _ interface {
	fs.HandleReader
	fs.HandleReleaser
} = (*fileHandle)(nil)

func (h *fileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)

	n, err := h.file.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return toErrno(err)
	}

	resp.Data = buf[:n]

	h.metrics.readBytes.Add(float64(n))

	return nil
}

func (h *fileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	h.metrics.openFiles.Dec()

	return toErrno(h.file.Close())
}

func direntType(mode os.FileMode) fuse.DirentType {
	switch {
	case mode&os.ModeDir != 0:
		return fuse.DT_Dir
	case mode&os.ModeSymlink != 0:
		return fuse.DT_Link
	case mode&os.ModeNamedPipe != 0:
		return fuse.DT_FIFO
	case mode&os.ModeSocket != 0:
		return fuse.DT_Socket
	case mode&os.ModeCharDevice != 0:
		return fuse.DT_Char
	case mode&os.ModeDevice != 0:
		return fuse.DT_Block
	case mode.IsRegular():
		return fuse.DT_File
	default:
		return fuse.DT_Unknown
	}
}
