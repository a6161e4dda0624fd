//go:build unix

package testfs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"
)

// -----------------------------------------------------------------------------
// Reap Operations - Capture filesystem state
// -----------------------------------------------------------------------------

// ReapTree captures the state of the tree under root.
//
// Files are grouped by inode (hardlinks), directories and symlinks are
// listed by path. All paths are relative to root and slash-separated.
func ReapTree(root string) (*ReapResult, error) {
	result := &ReapResult{}

	// Map inodes to paths for hardlink grouping
	inodeToFile := make(map[uint64]*ReapFile)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil // Skip root
		}

		relPath, _ := filepath.Rel(root, path)
		relPath = filepath.ToSlash(relPath)

		// Handle symlinks - must check before IsDir since Lstat is used
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			result.Symlinks = append(result.Symlinks, ReapSymlink{Path: relPath, Target: target})
			return nil
		}

		if info.IsDir() {
			result.Dirs = append(result.Dirs, relPath)
			return nil
		}

		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return fmt.Errorf("cannot get stat for %s", path)
		}

		if existing, ok := inodeToFile[stat.Ino]; ok {
			existing.Path = append(existing.Path, relPath)
			return nil
		}
		inodeToFile[stat.Ino] = &ReapFile{
			Path:  []string{relPath},
			Inode: stat.Ino,
			Nlink: uint64(stat.Nlink), //nolint:unconvert // platform-dependent type
			Size:  info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rf := range inodeToFile {
		result.Files = append(result.Files, *rf)
	}
	// Walk order is lexical, so only the inode map needs sorting.
	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path[0] < result.Files[j].Path[0]
	})

	return result, nil
}

// ReapToWriter captures tree state and writes JSON to the writer.
// Used by testfs-helper CLI tool to write to stdout.
func ReapToWriter(w io.Writer, root string) error {
	result, err := ReapTree(root)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
