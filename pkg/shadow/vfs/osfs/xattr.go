//go:build linux

package osfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// ListXattr returns the user, trusted and security attributes. System
// attributes (ACLs) travel through the security attribute calls.
func (f *FS) ListXattr(ctx context.Context, n vfs.Node, cred vfs.Cred) ([]string, error) {
	nd, err := f.locate(n)
	if err != nil {
		return nil, err
	}
	abs := f.Abs(nd.rel)
	size, err := unix.Llistxattr(abs, nil)
	if err != nil {
		return nil, &os.PathError{Op: "listxattr", Path: nd.rel, Err: mapErr(err)}
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	size, err = unix.Llistxattr(abs, buf)
	if err != nil {
		return nil, &os.PathError{Op: "listxattr", Path: nd.rel, Err: mapErr(err)}
	}
	var names []string
	for _, name := range bytes.Split(buf[:size], []byte{0}) {
		if len(name) == 0 || strings.HasPrefix(string(name), "system.") {
			continue
		}
		names = append(names, string(name))
	}
	return names, nil
}

func (f *FS) getxattr(rel, name string) ([]byte, error) {
	abs := f.Abs(rel)
	for {
		size, err := unix.Lgetxattr(abs, name, nil)
		if err != nil {
			return nil, &os.PathError{Op: "getxattr", Path: rel, Err: mapErr(err)}
		}
		buf := make([]byte, size)
		size, err = unix.Lgetxattr(abs, name, buf)
		if errors.Is(err, unix.ERANGE) {
			// Grew between the two calls.
			continue
		}
		if err != nil {
			return nil, &os.PathError{Op: "getxattr", Path: rel, Err: mapErr(err)}
		}
		return buf[:size], nil
	}
}

func (f *FS) GetXattr(ctx context.Context, n vfs.Node, name string, cred vfs.Cred) ([]byte, error) {
	nd, err := f.locate(n)
	if err != nil {
		return nil, err
	}
	return f.getxattr(nd.rel, name)
}

func (f *FS) SetXattr(ctx context.Context, n vfs.Node, name string, value []byte, cred vfs.Cred) error {
	nd, err := f.locate(n)
	if err != nil {
		return err
	}
	if err := unix.Lsetxattr(f.Abs(nd.rel), name, value, 0); err != nil {
		return &os.PathError{Op: "setxattr", Path: nd.rel, Err: mapErr(err)}
	}
	return nil
}

func (f *FS) RemoveXattr(ctx context.Context, n vfs.Node, name string, cred vfs.Cred) error {
	nd, err := f.locate(n)
	if err != nil {
		return err
	}
	if err := unix.Lremovexattr(f.Abs(nd.rel), name); err != nil {
		return &os.PathError{Op: "removexattr", Path: nd.rel, Err: mapErr(err)}
	}
	return nil
}

// The security attribute blob is the access ACL followed by the default
// ACL, each prefixed by its little-endian uint32 length. Both ACLs use the
// kernel's xattr encoding.

// GetSecAttr returns the POSIX ACLs of n, or nil if it has none.
func (f *FS) GetSecAttr(ctx context.Context, n vfs.Node, cred vfs.Cred) ([]byte, error) {
	nd, err := f.locate(n)
	if err != nil {
		return nil, err
	}
	access, err := f.acl(nd.rel, aclAccess)
	if err != nil {
		return nil, err
	}
	def, err := f.acl(nd.rel, aclDefault)
	if err != nil {
		return nil, err
	}
	if access == nil && def == nil {
		return nil, nil
	}
	blob := make([]byte, 0, 8+len(access)+len(def))
	blob = binary.LittleEndian.AppendUint32(blob, uint32(len(access)))
	blob = append(blob, access...)
	blob = binary.LittleEndian.AppendUint32(blob, uint32(len(def)))
	blob = append(blob, def...)
	return blob, nil
}

func (f *FS) acl(rel, name string) ([]byte, error) {
	v, err := f.getxattr(rel, name)
	if errors.Is(err, vfs.ErrNoAttr) || errors.Is(err, vfs.ErrUnsupported) {
		return nil, nil
	}
	return v, err
}

// SetSecAttr applies a blob returned by GetSecAttr. A nil blob is a no-op.
func (f *FS) SetSecAttr(ctx context.Context, n vfs.Node, blob []byte, cred vfs.Cred) error {
	nd, err := f.locate(n)
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	access, rest, err := splitACL(blob)
	if err != nil {
		return err
	}
	def, _, err := splitACL(rest)
	if err != nil {
		return err
	}
	abs := f.Abs(nd.rel)
	for _, a := range []struct {
		name  string
		value []byte
	}{{aclAccess, access}, {aclDefault, def}} {
		if len(a.value) == 0 {
			continue
		}
		if err := unix.Lsetxattr(abs, a.name, a.value, 0); err != nil {
			return &os.PathError{Op: "setacl", Path: nd.rel, Err: mapErr(err)}
		}
	}
	return nil
}

func splitACL(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("osfs: truncated security attribute")
	}
	n := binary.LittleEndian.Uint32(b)
	if uint64(len(b)-4) < uint64(n) {
		return nil, nil, fmt.Errorf("osfs: truncated security attribute")
	}
	return b[4 : 4+n], b[4+n:], nil
}
