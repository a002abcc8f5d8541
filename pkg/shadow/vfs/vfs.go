// Package vfs defines the filesystem collaborator consumed by the shadow
// migration engine. Both the local (new) and the remote (source) filesystem
// are accessed exclusively through FS.
package vfs

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/marmos91/shadowfs/pkg/shadow/fid"
)

// Sentinel errors returned by FS implementations. Implementations may wrap
// them; callers test with errors.Is.
var (
	ErrNotExist    = os.ErrNotExist
	ErrExist       = os.ErrExist
	ErrNoAttr      = errors.New("vfs: no such attribute")
	ErrNoData      = errors.New("vfs: no data past offset")
	ErrNotDir      = errors.New("vfs: not a directory")
	ErrReadOnly    = errors.New("vfs: read-only filesystem")
	ErrUnsupported = errors.New("vfs: operation not supported")
)

// ObjectType is the type of a filesystem object.
type ObjectType uint8

const (
	TypeRegular ObjectType = iota + 1
	TypeDirectory
	TypeSymlink
	TypeOther
)

func (t ObjectType) String() string {
	switch t {
	case TypeRegular:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeOther:
		return "other"
	default:
		return "unknown"
	}
}

// Cred is the credential an operation runs with.
type Cred struct {
	UID        uint32
	GID        uint32
	Privileged bool
}

// Kernel is the privileged credential the engine uses for migration I/O,
// distinct from the credentials of the caller that triggered it.
var Kernel = Cred{Privileged: true}

// Node is an opaque reference to an object inside one FS.
type Node interface {
	// ID returns the object's stable identity within its filesystem instance.
	ID() fid.FID
}

// Attr describes an object.
type Attr struct {
	Type  ObjectType
	Mode  os.FileMode // permission bits only
	UID   uint32
	GID   uint32
	Size  int64
	Nlink uint32
	Atime time.Time
	Mtime time.Time

	// FsID is the volatile identifier of the filesystem instance holding the
	// object. It is not persistent across reboots.
	FsID string

	// FID is the object's stable identity within FsID.
	FID fid.FID
}

// SetAttr selects the attributes to change. Nil fields are left untouched.
type SetAttr struct {
	Mode  *os.FileMode
	UID   *uint32
	GID   *uint32
	Size  *int64
	Atime *time.Time
	Mtime *time.Time
}

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name string
	Type ObjectType
}

// FS is the filesystem collaborator.
//
// Thread Safety:
// Implementations must be safe for concurrent use from multiple goroutines.
type FS interface {
	// FsID returns the volatile identifier of the root filesystem instance.
	FsID() string

	// Root returns the root directory.
	Root() Node

	Lookup(ctx context.Context, dir Node, name string, cred Cred) (Node, error)

	// LookupPath resolves a slash-separated path relative to Root.
	LookupPath(ctx context.Context, rel string, cred Cred) (Node, error)

	// PathOf returns a root-relative path of n, if one is known.
	PathOf(ctx context.Context, n Node) (string, error)

	// ResolveFID maps an identity back to a live object.
	ResolveFID(ctx context.Context, id fid.FID) (Node, error)

	// Create creates a regular file. Fails with ErrExist if name exists.
	Create(ctx context.Context, dir Node, name string, attr SetAttr, cred Cred) (Node, error)
	Mkdir(ctx context.Context, dir Node, name string, attr SetAttr, cred Cred) (Node, error)
	Symlink(ctx context.Context, dir Node, name, target string, attr SetAttr, cred Cred) (Node, error)
	Readlink(ctx context.Context, n Node, cred Cred) (string, error)
	Link(ctx context.Context, dir Node, name string, target Node, cred Cred) error
	Remove(ctx context.Context, dir Node, name string, cred Cred) error
	Rmdir(ctx context.Context, dir Node, name string, cred Cred) error
	Rename(ctx context.Context, srcDir Node, srcName string, dstDir Node, dstName string, cred Cred) error
	ReadDir(ctx context.Context, dir Node, cred Cred) ([]DirEntry, error)

	ReadAt(ctx context.Context, n Node, p []byte, off int64, cred Cred) (int, error)
	WriteAt(ctx context.Context, n Node, p []byte, off int64, cred Cred) (int, error)
	Fsync(ctx context.Context, n Node, cred Cred) error

	GetAttr(ctx context.Context, n Node, cred Cred) (Attr, error)
	SetAttr(ctx context.Context, n Node, attr SetAttr, cred Cred) error

	// GetSecAttr returns the object's ACL as an opaque blob (nil if none).
	GetSecAttr(ctx context.Context, n Node, cred Cred) ([]byte, error)
	SetSecAttr(ctx context.Context, n Node, acl []byte, cred Cred) error

	// Extended attribute namespace. GetXattr returns ErrNoAttr if absent.
	ListXattr(ctx context.Context, n Node, cred Cred) ([]string, error)
	GetXattr(ctx context.Context, n Node, name string, cred Cred) ([]byte, error)
	SetXattr(ctx context.Context, n Node, name string, value []byte, cred Cred) error
	RemoveXattr(ctx context.Context, n Node, name string, cred Cred) error

	// SeekData returns the offset of the next data region at or after off,
	// or ErrNoData if only a hole remains.
	SeekData(ctx context.Context, n Node, off int64) (int64, error)

	// SeekHole returns the offset of the next hole at or after off. The
	// implicit hole at end-of-file always exists.
	SeekHole(ctx context.Context, n Node, off int64) (int64, error)

	// BlockSize is the preferred I/O size of the filesystem.
	BlockSize() int64
}
