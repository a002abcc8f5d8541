package shadow

import (
	"golang.org/x/sys/unix"

	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
)

// Errno maps a migration failure to the errno returned by a transparent
// filesystem operation. Interruption, would-block and allocation failures
// keep their meaning; every other failure is EIO. The control surface
// reports the specific code instead.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	switch shadowerrors.CodeOf(err) {
	case shadowerrors.ErrInterrupted:
		return unix.EINTR
	case shadowerrors.ErrWouldBlock:
		return unix.EAGAIN
	case shadowerrors.ErrOutOfMemory:
		return unix.ENOMEM
	default:
		return unix.EIO
	}
}
