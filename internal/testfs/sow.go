//go:build unix

package testfs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ivoronin/fscrash/internal/ops"
	"github.com/ivoronin/fscrash/internal/types"
)

// -----------------------------------------------------------------------------
// Sow Operations - Create filesystem from spec
// -----------------------------------------------------------------------------

// SowTree creates the structure described by spec under root.
//
// Entries are created through the ops primitives, so fixtures and workloads
// share one code path.
func SowTree(root string, spec Tree) error {
	o := ops.New(root)

	for _, d := range spec.Dirs {
		if err := mkdirAll(root, d); err != nil {
			return fmt.Errorf("sow dir %s: %w", d, err)
		}
	}
	for _, f := range spec.Files {
		if err := sowFile(o, root, f); err != nil {
			return err
		}
	}
	for _, sym := range spec.Symlinks {
		if err := sowSymlink(root, sym); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", sym.Path, sym.Target, err)
		}
	}
	return nil
}

// SowFromReader reads a Tree JSON from the reader and creates it under root.
// Used by testfs-helper CLI tool to read from stdin.
func SowFromReader(r io.Reader, root string) error {
	var spec Tree
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return fmt.Errorf("decode spec: %w", err)
	}
	return SowTree(root, spec)
}

// sowFile creates a single file entry (with optional hardlinks).
func sowFile(o *ops.Ops, root string, f File) error {
	if len(f.Path) == 0 {
		return nil
	}

	first := f.Path[0]
	if err := mkdirAll(root, filepath.Dir(first)); err != nil {
		return fmt.Errorf("create %s: %w", first, err)
	}
	if err := o.Create(first, types.KindFile); err != nil {
		return err
	}
	if len(f.Chunks) > 0 {
		if err := o.WriteChunks(first, 0, f.Chunks); err != nil {
			return err
		}
	}

	for _, p := range f.Path[1:] {
		if err := mkdirAll(root, filepath.Dir(p)); err != nil {
			return fmt.Errorf("hardlink %s -> %s: %w", p, first, err)
		}
		if err := o.Link(first, p); err != nil {
			return err
		}
	}
	return nil
}

// sowSymlink creates a symlink, creating parent dirs.
func sowSymlink(root string, sym Symlink) error {
	if err := mkdirAll(root, filepath.Dir(sym.Path)); err != nil {
		return err
	}
	return os.Symlink(sym.Target, filepath.Join(root, sym.Path))
}

func mkdirAll(root, rel string) error {
	return os.MkdirAll(filepath.Join(root, rel), 0o755)
}
