package varjofuse

import (
	"context"
	"errors"
	"syscall"

	"bazil.org/fuse"
	"github.com/function61/varjo/pkg/varjoalias"
	"github.com/pkg/xattr"
)

// lower object at a path is no longer the one we have a node for
var errStale = errors.New("lower object replaced")

// translates our errors to what the kernel understands. bazil would turn anything it
// doesn't recognize into EIO.
func toErrno(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, varjoalias.ErrAllocation):
		return fuse.Errno(syscall.ENFILE)
	case errors.Is(err, varjoalias.ErrNameTooLong):
		return fuse.Errno(syscall.ENAMETOOLONG)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fuse.Errno(syscall.EINTR)
	case errors.Is(err, errStale):
		return fuse.Errno(syscall.ESTALE)
	case errors.Is(err, xattr.ENOATTR):
		return fuse.ErrNoXattr
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Errno(errno)
	}

	return fuse.Errno(syscall.EIO)
}
