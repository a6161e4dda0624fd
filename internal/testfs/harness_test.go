//go:build unix && !e2e

package testfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ivoronin/fscrash/internal/ops"
)

// recordingT captures assertion failures without failing the enclosing test.
type recordingT struct {
	testing.TB
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

// TestSowCreatesFilesCorrectly verifies that SowTree creates files with correct sizes and content.
func TestSowCreatesFilesCorrectly(t *testing.T) {
	root := t.TempDir()

	spec := Tree{
		Files: []File{
			{Path: []string{"a.txt"}, Chunks: []ops.Chunk{{Pattern: 'A', Size: "100"}}},
			{Path: []string{"sub/b.txt"}, Chunks: []ops.Chunk{{Pattern: 'B', Size: "50"}}},
		},
	}

	if err := SowTree(root, spec); err != nil {
		t.Fatalf("SowTree failed: %v", err)
	}

	contentA, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatalf("failed to read a.txt: %v", err)
	}
	if len(contentA) != 100 {
		t.Errorf("a.txt size: got %d, want 100", len(contentA))
	}
	for i, b := range contentA {
		if b != 'A' {
			t.Errorf("a.txt content[%d]: got %q, want 'A'", i, b)
			break
		}
	}

	contentB, err := os.ReadFile(filepath.Join(root, "sub", "b.txt"))
	if err != nil {
		t.Fatalf("failed to read sub/b.txt: %v", err)
	}
	if len(contentB) != 50 {
		t.Errorf("b.txt size: got %d, want 50", len(contentB))
	}
}

// TestSowCreatesHardlinksCorrectly verifies that multiple paths in a File entry share the same inode.
func TestSowCreatesHardlinksCorrectly(t *testing.T) {
	root := t.TempDir()

	spec := Tree{
		Files: []File{
			{Path: []string{"test_dir_x/foo", "test_dir_x/bar", "other/link2"}, Chunks: []ops.Chunk{{Pattern: 'S', Size: "100"}}},
		},
	}

	if err := SowTree(root, spec); err != nil {
		t.Fatalf("SowTree failed: %v", err)
	}

	paths := []string{
		filepath.Join(root, "test_dir_x", "foo"),
		filepath.Join(root, "test_dir_x", "bar"),
		filepath.Join(root, "other", "link2"),
	}

	var inodes []uint64
	for _, p := range paths {
		info, err := os.Lstat(p)
		if err != nil {
			t.Fatalf("failed to stat %s: %v", p, err)
		}
		inodes = append(inodes, info.Sys().(*syscall.Stat_t).Ino)
	}
	for i := 1; i < len(inodes); i++ {
		if inodes[i] != inodes[0] {
			t.Errorf("hardlink mismatch: %s (inode %d) != %s (inode %d)",
				paths[i], inodes[i], paths[0], inodes[0])
		}
	}

	info, _ := os.Lstat(paths[0])
	if nlink := info.Sys().(*syscall.Stat_t).Nlink; nlink != 3 {
		t.Errorf("nlink: got %d, want 3", nlink)
	}
}

// TestReapCapturesTree verifies dirs, hardlink groups and symlinks are reaped.
func TestReapCapturesTree(t *testing.T) {
	h := New(t, Tree{
		Dirs: []string{"test_dir_x", "test_dir_y/test_dir_z"},
		Files: []File{
			{Path: []string{"test_dir_x/foo", "test_dir_x/bar"}},
			{Path: []string{"test_dir_y/foo_2"}, Chunks: []ops.Chunk{{Pattern: 'F', Size: "1KiB"}}},
		},
		Symlinks: []Symlink{{Path: "test_dir_y/link", Target: "../test_dir_x/foo"}},
	})

	got := h.Reap()

	wantDirs := []string{"test_dir_x", "test_dir_y", "test_dir_y/test_dir_z"}
	if diff := cmp.Diff(wantDirs, got.Dirs); diff != "" {
		t.Errorf("dirs mismatch (-want +got):\n%s", diff)
	}

	var paths [][]string
	for _, f := range got.Files {
		paths = append(paths, f.Path)
	}
	wantPaths := [][]string{{"test_dir_x/bar", "test_dir_x/foo"}, {"test_dir_y/foo_2"}}
	if diff := cmp.Diff(wantPaths, paths); diff != "" {
		t.Errorf("file groups mismatch (-want +got):\n%s", diff)
	}

	wantLinks := []ReapSymlink{{Path: "test_dir_y/link", Target: "../test_dir_x/foo"}}
	if diff := cmp.Diff(wantLinks, got.Symlinks); diff != "" {
		t.Errorf("symlinks mismatch (-want +got):\n%s", diff)
	}
}

// TestAssertAcceptsMatchingTree verifies Assert passes for a correct expectation.
func TestAssertAcceptsMatchingTree(t *testing.T) {
	spec := Tree{
		Dirs: []string{"x"},
		Files: []File{
			{Path: []string{"x/a", "x/b"}, Chunks: []ops.Chunk{{Pattern: 'A', Size: "10"}}},
			{Path: []string{"x/c"}},
		},
	}
	h := New(t, spec)

	spec.Absent = []string{"x/missing"}
	h.Assert(spec)
}

// TestAssertDetectsMismatches verifies each kind of mismatch is reported.
func TestAssertDetectsMismatches(t *testing.T) {
	h := New(t, Tree{
		Files: []File{
			{Path: []string{"a.txt"}, Chunks: []ops.Chunk{{Pattern: 'A', Size: "100"}}},
			{Path: []string{"b.txt"}, Chunks: []ops.Chunk{{Pattern: 'B', Size: "100"}}},
		},
	})

	tests := []struct {
		name  string
		wrong Tree
	}{
		{"missing hardlink", Tree{Files: []File{{Path: []string{"a.txt", "b.txt"}}}}},
		{"missing file", Tree{Files: []File{{Path: []string{"missing.txt"}}}}},
		{"missing dir", Tree{Dirs: []string{"nodir"}}},
		{"present but expected absent", Tree{Absent: []string{"a.txt"}}},
		{"wrong size", Tree{Files: []File{{Path: []string{"a.txt"}, Chunks: []ops.Chunk{{Pattern: 'A', Size: "1"}}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			AssertTree(rec, tt.wrong, h.Reap())
			if len(rec.errors) == 0 {
				t.Errorf("AssertTree should have failed for %s", tt.name)
			}
		})
	}
}

// TestHarnessSowAddsEntries verifies a harness can fake leftovers after a crash.
func TestHarnessSowAddsEntries(t *testing.T) {
	h := New(t, Tree{Dirs: []string{"test_dir_x"}})
	h.Sow(Tree{Files: []File{{Path: []string{"test_dir_y/foo_2"}}}})

	h.Assert(Tree{
		Dirs:  []string{"test_dir_x", "test_dir_y"},
		Files: []File{{Path: []string{"test_dir_y/foo_2"}}},
	})
}

// TestSowFromReader verifies the JSON form used by testfs-helper.
func TestSowFromReader(t *testing.T) {
	root := t.TempDir()
	input := `{"dirs":["d"],"files":[{"path":["d/f","d/g"],"chunks":[{"pattern":"Q","size":"3"}]}]}`

	if err := SowFromReader(strings.NewReader(input), root); err != nil {
		t.Fatalf("SowFromReader: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "d", "g"))
	if err != nil {
		t.Fatalf("read d/g: %v", err)
	}
	if string(got) != "QQQ" {
		t.Errorf("d/g content = %q, want QQQ", got)
	}
}
