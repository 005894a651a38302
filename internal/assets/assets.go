// Package assets resolves broadcast images by name from a directory.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// MaxSize caps a single asset; platforms reject larger photos anyway.
const MaxSize = 10 << 20

// Dir serves assets from an fs.FS rooted at the asset directory.
type Dir struct {
	fsys fs.FS
}

func NewDir(root string) *Dir { return &Dir{fsys: os.DirFS(root)} }

func NewFS(fsys fs.FS) *Dir { return &Dir{fsys: fsys} }

// Load returns (nil, false, nil) when the asset does not exist.
func (d *Dir) Load(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	name = path.Clean(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	if !fs.ValidPath(name) || name == "." {
		return nil, false, fmt.Errorf("invalid asset name %q", name)
	}
	st, err := fs.Stat(d.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat asset %s: %w", name, err)
	}
	if st.IsDir() {
		return nil, false, nil
	}
	if st.Size() > MaxSize {
		return nil, false, fmt.Errorf("asset %s too large (%d bytes)", name, st.Size())
	}
	b, err := fs.ReadFile(d.fsys, name)
	if err != nil {
		return nil, false, fmt.Errorf("read asset %s: %w", name, err)
	}
	return b, true, nil
}
