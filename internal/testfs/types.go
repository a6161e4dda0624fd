// Package testfs provides test infrastructure for filesystem trees.
//
// It supports two modes:
//   - Integration tests: Harness creates the tree in t.TempDir()
//   - E2E tests: Harness runs fscrash inside a Docker container whose mount
//     root is a tmpfs, the same layout a crash harness uses
//
// # Unified Tree Specification
//
// Tests use a single Tree type for both setup and verification:
//
//	given := testfs.Tree{
//	    Dirs: []string{"test_dir_x", "test_dir_y/test_dir_z"},
//	    Files: []testfs.File{
//	        {Path: []string{"test_dir_x/foo", "test_dir_x/bar"}, Chunks: []ops.Chunk{{Pattern: 'A', Size: "4KiB"}}},
//	        {Path: []string{"test_dir_y/foo_2"}},
//	    },
//	}
//	then := testfs.Tree{
//	    Files:  []testfs.File{{Path: []string{"test_dir_x/foo", "test_dir_x/bar"}}}, // same inode
//	    Absent: []string{"test_dir_y/foo_2"},
//	}
//
// Parent directories are created automatically (mkdir -p semantics).
//
//	h := testfs.New(t, given)
//	// ... run a workload or mutate h.Root()
//	h.Assert(then)
//
// # Context-Dependent Field Usage
//
//	| Field          | Setup              | Verification             |
//	|----------------|--------------------|--------------------------|
//	| Dirs           | mkdir -p           | Assert is directory      |
//	| File.Path      | Create file/links  | Assert same inode        |
//	| File.Chunks    | Generate content   | Assert size (if set)     |
//	| Symlink.Path   | Create symlink     | Assert is symlink        |
//	| Symlink.Target | Symlink target     | Assert symlink target    |
//	| Absent         | Ignored            | Assert not present       |
//	| ExitCode       | Ignored            | Assert matches (e2e)     |
package testfs

import "github.com/ivoronin/fscrash/internal/ops"

// -----------------------------------------------------------------------------
// Tree Specification Types
// -----------------------------------------------------------------------------

// Tree describes a filesystem state under one root (used for both setup and verification).
type Tree struct {
	// Dirs are directories, relative to the root.
	Dirs []string `json:"dirs,omitempty"`

	// Files are regular files, possibly hardlinked.
	Files []File `json:"files,omitempty"`

	// Symlinks in the tree.
	Symlinks []Symlink `json:"symlinks,omitempty"`

	// Absent paths must not exist (verification only).
	Absent []string `json:"absent,omitempty"`

	// ExitCode expected from the last fscrash invocation (e2e verification only).
	ExitCode int `json:"-"` // Not serialized - harness-only field
}

// File defines a regular file, possibly with hardlinks.
//
// In setup context:
//   - Path[0] is created with content from Chunks specification
//   - Path[1:] are hardlinked to Path[0]
//
// In verification context:
//   - All paths must exist
//   - All paths must share the same inode
type File struct {
	// Path contains one or more paths (relative to the root).
	// Multiple paths indicate hardlinks sharing the same inode.
	Path []string `json:"path"`

	// Chunks specifies file content as a sequence of filled regions.
	Chunks []ops.Chunk `json:"chunks,omitempty"`
}

// Symlink defines a symbolic link.
type Symlink struct {
	// Path is relative to the root.
	Path string `json:"path"`

	// Target is stored verbatim as the link target.
	Target string `json:"target"`
}

// -----------------------------------------------------------------------------
// Execution Result Types
// -----------------------------------------------------------------------------

// RunResult captures the results of an fscrash execution.
type RunResult struct {
	ExitCode int    // Process exit code
	Stdout   string // Standard output
	Stderr   string // Standard error
}

// -----------------------------------------------------------------------------
// Reap Types (filesystem state captured from disk)
// -----------------------------------------------------------------------------

// ReapResult captures the actual state of a tree for verification against an expected Tree.
type ReapResult struct {
	Dirs     []string      `json:"dirs,omitempty"`     // Directories (relative paths)
	Files    []ReapFile    `json:"files,omitempty"`    // Regular files (grouped by inode)
	Symlinks []ReapSymlink `json:"symlinks,omitempty"` // Symbolic links
}

// ReapFile contains file metadata including inode for hardlink verification.
type ReapFile struct {
	Path  []string `json:"path"`  // All paths sharing this inode
	Inode uint64   `json:"inode"` // Inode number
	Nlink uint64   `json:"nlink"` // Link count
	Size  int64    `json:"size"`  // File size in bytes
}

// ReapSymlink contains symlink metadata.
type ReapSymlink struct {
	Path   string `json:"path"`   // Symlink path (relative to root)
	Target string `json:"target"` // Symlink target
}
