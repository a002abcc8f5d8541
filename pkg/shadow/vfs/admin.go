package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
)

// AdminDirName is the hidden directory at the local root that holds shadow
// bookkeeping (pending log, space maps, link table). It lives on the local
// filesystem itself so that link entries can be hard links.
const AdminDirName = ".shadow"

// Dir is a bookkeeping directory accessed with the privileged credential.
type Dir struct {
	fs   FS
	node Node
	path string
}

// OpenDir looks up name under parent, creating it (mode 0700) if missing.
func OpenDir(ctx context.Context, fs FS, parent Node, parentPath, name string) (*Dir, error) {
	p := path.Join(parentPath, name)
	n, err := fs.Lookup(ctx, parent, name, Kernel)
	if errors.Is(err, ErrNotExist) {
		mode := adminDirMode
		n, err = fs.Mkdir(ctx, parent, name, SetAttr{Mode: &mode}, Kernel)
		if errors.Is(err, ErrExist) {
			n, err = fs.Lookup(ctx, parent, name, Kernel)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open admin dir %s: %w", p, err)
	}
	return &Dir{fs: fs, node: n, path: p}, nil
}

// OpenAdminDir opens (creating if needed) the admin directory at the root of fs.
func OpenAdminDir(ctx context.Context, fs FS) (*Dir, error) {
	return OpenDir(ctx, fs, fs.Root(), "", AdminDirName)
}

const (
	adminDirMode  os.FileMode = 0o700
	adminFileMode os.FileMode = 0o600
)

// Sub opens a child directory.
func (d *Dir) Sub(ctx context.Context, name string) (*Dir, error) {
	return OpenDir(ctx, d.fs, d.node, d.path, name)
}

// FS returns the filesystem holding d.
func (d *Dir) FS() FS { return d.fs }

// Node returns the directory node.
func (d *Dir) Node() Node { return d.node }

// Path returns the root-relative path of d.
func (d *Dir) Path() string { return d.path }

// Lookup looks up a name in d.
func (d *Dir) Lookup(ctx context.Context, name string) (Node, error) {
	return d.fs.Lookup(ctx, d.node, name, Kernel)
}

// Create creates an empty file, replacing any existing one.
func (d *Dir) Create(ctx context.Context, name string) (Node, error) {
	if err := d.Remove(ctx, name); err != nil {
		return nil, err
	}
	mode := adminFileMode
	return d.fs.Create(ctx, d.node, name, SetAttr{Mode: &mode}, Kernel)
}

// OpenOrCreate returns the existing file name or creates it empty. The
// boolean result reports whether the file was created.
func (d *Dir) OpenOrCreate(ctx context.Context, name string) (Node, bool, error) {
	n, err := d.Lookup(ctx, name)
	if err == nil {
		return n, false, nil
	}
	if !errors.Is(err, ErrNotExist) {
		return nil, false, err
	}
	mode := adminFileMode
	n, err = d.fs.Create(ctx, d.node, name, SetAttr{Mode: &mode}, Kernel)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

// ReadFile reads the whole content of name.
func (d *Dir) ReadFile(ctx context.Context, name string) ([]byte, error) {
	n, err := d.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return ReadAll(ctx, d.fs, n)
}

// WriteFile durably replaces the content of name: the data is written to a
// temporary sibling, fsynced and renamed into place.
func (d *Dir) WriteFile(ctx context.Context, name string, data []byte) error {
	tmp := name + ".tmp"
	n, err := d.Create(ctx, tmp)
	if err != nil {
		return err
	}
	if _, err := d.fs.WriteAt(ctx, n, data, 0, Kernel); err != nil {
		_ = d.Remove(ctx, tmp)
		return err
	}
	if err := d.fs.Fsync(ctx, n, Kernel); err != nil {
		_ = d.Remove(ctx, tmp)
		return err
	}
	return d.Rename(ctx, tmp, name)
}

// Rename atomically renames from to to within d.
func (d *Dir) Rename(ctx context.Context, from, to string) error {
	return d.fs.Rename(ctx, d.node, from, d.node, to, Kernel)
}

// Remove removes name. A missing name is not an error.
func (d *Dir) Remove(ctx context.Context, name string) error {
	err := d.fs.Remove(ctx, d.node, name, Kernel)
	if errors.Is(err, ErrNotExist) {
		return nil
	}
	return err
}

// Link creates name as a hard link to target.
func (d *Dir) Link(ctx context.Context, name string, target Node) error {
	return d.fs.Link(ctx, d.node, name, target, Kernel)
}

// List returns the entries of d.
func (d *Dir) List(ctx context.Context) ([]DirEntry, error) {
	return d.fs.ReadDir(ctx, d.node, Kernel)
}

// ReadAll reads the whole content of a regular file.
func ReadAll(ctx context.Context, fs FS, n Node) ([]byte, error) {
	attr, err := fs.GetAttr(ctx, n, Kernel)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, attr.Size)
	off := 0
	for off < len(buf) {
		m, err := fs.ReadAt(ctx, n, buf[off:], int64(off), Kernel)
		off += m
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if m == 0 {
			break
		}
	}
	return buf[:off], nil
}
