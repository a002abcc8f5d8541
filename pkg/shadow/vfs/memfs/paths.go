package memfs

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"

	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// Path-based helpers used to populate and inspect trees in tests and tools.
// They run with the privileged credential.

func (f *FS) parentOf(ctx context.Context, rel string) (vfs.Node, string, error) {
	rel = strings.Trim(rel, "/")
	dir, name := path.Split(rel)
	parent, err := f.LookupPath(ctx, dir, vfs.Kernel)
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}

// MkdirAll creates rel and any missing parents.
func (f *FS) MkdirAll(rel string, mode os.FileMode) error {
	ctx := context.Background()
	cur := f.Root()
	for _, part := range strings.Split(strings.Trim(rel, "/"), "/") {
		if part == "" {
			continue
		}
		next, err := f.Lookup(ctx, cur, part, vfs.Kernel)
		if errors.Is(err, vfs.ErrNotExist) {
			next, err = f.Mkdir(ctx, cur, part, vfs.SetAttr{Mode: &mode}, vfs.Kernel)
		}
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}

// WriteFile creates or replaces the regular file rel with data.
func (f *FS) WriteFile(rel string, data []byte, mode os.FileMode) error {
	ctx := context.Background()
	parent, name, err := f.parentOf(ctx, rel)
	if err != nil {
		return err
	}
	if err := f.Remove(ctx, parent, name, vfs.Kernel); err != nil && !errors.Is(err, vfs.ErrNotExist) {
		return err
	}
	n, err := f.Create(ctx, parent, name, vfs.SetAttr{Mode: &mode}, vfs.Kernel)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err = f.WriteAt(ctx, n, data, 0, vfs.Kernel)
	return err
}

// WriteSparse creates rel with the given size, writing data only at the
// offsets in extents. Everything else is a hole.
func (f *FS) WriteSparse(rel string, size int64, extents map[int64][]byte) error {
	if err := f.WriteFile(rel, nil, 0o644); err != nil {
		return err
	}
	ctx := context.Background()
	n, err := f.LookupPath(ctx, rel, vfs.Kernel)
	if err != nil {
		return err
	}
	for off, data := range extents {
		if _, err := f.WriteAt(ctx, n, data, off, vfs.Kernel); err != nil {
			return err
		}
	}
	return f.SetAttr(ctx, n, vfs.SetAttr{Size: &size}, vfs.Kernel)
}

// ReadFile returns the content of rel.
func (f *FS) ReadFile(rel string) ([]byte, error) {
	ctx := context.Background()
	n, err := f.LookupPath(ctx, rel, vfs.Kernel)
	if err != nil {
		return nil, err
	}
	return vfs.ReadAll(ctx, f, n)
}

// LinkPath creates newRel as a hard link to oldRel.
func (f *FS) LinkPath(oldRel, newRel string) error {
	ctx := context.Background()
	target, err := f.LookupPath(ctx, oldRel, vfs.Kernel)
	if err != nil {
		return err
	}
	parent, name, err := f.parentOf(ctx, newRel)
	if err != nil {
		return err
	}
	return f.Link(ctx, parent, name, target, vfs.Kernel)
}

// SymlinkPath creates rel as a symbolic link to target.
func (f *FS) SymlinkPath(target, rel string) error {
	ctx := context.Background()
	parent, name, err := f.parentOf(ctx, rel)
	if err != nil {
		return err
	}
	_, err = f.Symlink(ctx, parent, name, target, vfs.SetAttr{}, vfs.Kernel)
	return err
}

// RemovePath removes the file or empty directory rel.
func (f *FS) RemovePath(rel string) error {
	ctx := context.Background()
	parent, name, err := f.parentOf(ctx, rel)
	if err != nil {
		return err
	}
	n, err := f.Lookup(ctx, parent, name, vfs.Kernel)
	if err != nil {
		return err
	}
	attr, err := f.GetAttr(ctx, n, vfs.Kernel)
	if err != nil {
		return err
	}
	if attr.Type == vfs.TypeDirectory {
		return f.Rmdir(ctx, parent, name, vfs.Kernel)
	}
	return f.Remove(ctx, parent, name, vfs.Kernel)
}

// Stat returns the attributes of rel.
func (f *FS) Stat(rel string) (vfs.Attr, error) {
	ctx := context.Background()
	n, err := f.LookupPath(ctx, rel, vfs.Kernel)
	if err != nil {
		return vfs.Attr{}, err
	}
	return f.GetAttr(ctx, n, vfs.Kernel)
}
