package testfs

import (
	"testing"

	"github.com/ivoronin/fscrash/internal/ops"
)

// -----------------------------------------------------------------------------
// Assertion Functions - Shared between the TempDir and E2E harnesses
// -----------------------------------------------------------------------------

// AssertTree verifies the actual filesystem state matches expected.
//
// Checks:
//   - Directories exist
//   - Files exist at all specified paths and share one inode per File entry
//   - Files in different File entries have different inodes
//   - Symlinks point to the expected targets
//   - Absent paths do not exist in any form
func AssertTree(t testing.TB, expected Tree, actual *ReapResult) {
	t.Helper()
	AssertDirs(t, expected.Dirs, actual.Dirs)
	AssertFiles(t, expected.Files, actual.Files)
	AssertSymlinks(t, expected.Symlinks, actual.Symlinks)
	AssertAbsent(t, expected.Absent, actual)
}

// AssertDirs verifies expected directories exist.
func AssertDirs(t testing.TB, expected, actual []string) {
	t.Helper()
	have := make(map[string]bool, len(actual))
	for _, d := range actual {
		have[d] = true
	}
	for _, d := range expected {
		if !have[d] {
			t.Errorf("expected directory not found: %s", d)
		}
	}
}

// AssertFiles verifies expected files exist and hardlinks are correct.
func AssertFiles(t testing.TB, expected []File, actual []ReapFile) {
	t.Helper()

	byPath := buildPathToFileMap(actual)
	entryInodes := verifyFileEntries(t, expected, byPath)
	verifyUniqueInodes(t, expected, entryInodes)
}

// AssertSymlinks verifies expected symlinks exist with correct targets.
func AssertSymlinks(t testing.TB, expected []Symlink, actual []ReapSymlink) {
	t.Helper()

	pathToTarget := make(map[string]string)
	for _, rs := range actual {
		pathToTarget[rs.Path] = rs.Target
	}

	for _, expectedSym := range expected {
		target, ok := pathToTarget[expectedSym.Path]
		if !ok {
			t.Errorf("expected symlink not found: %s", expectedSym.Path)
			continue
		}
		if target != expectedSym.Target {
			t.Errorf("symlink %s: got target %q, want %q",
				expectedSym.Path, target, expectedSym.Target)
		}
	}
}

// AssertAbsent verifies none of the paths exist as a directory, file or symlink.
func AssertAbsent(t testing.TB, absent []string, actual *ReapResult) {
	t.Helper()
	if len(absent) == 0 {
		return
	}

	present := make(map[string]bool)
	for _, d := range actual.Dirs {
		present[d] = true
	}
	for _, f := range actual.Files {
		for _, p := range f.Path {
			present[p] = true
		}
	}
	for _, s := range actual.Symlinks {
		present[s.Path] = true
	}

	for _, p := range absent {
		if present[p] {
			t.Errorf("expected path to be absent: %s", p)
		}
	}
}

// -----------------------------------------------------------------------------
// Helper Functions (unexported)
// -----------------------------------------------------------------------------

// buildPathToFileMap indexes reaped files by every path that reaches them.
func buildPathToFileMap(files []ReapFile) map[string]ReapFile {
	m := make(map[string]ReapFile)
	for _, rf := range files {
		for _, p := range rf.Path {
			m[p] = rf
		}
	}
	return m
}

// verifyFileEntries checks that all expected files exist and share inodes correctly.
// Returns a map of entry index to inode for cross-entry uniqueness checking.
func verifyFileEntries(t testing.TB, expected []File, byPath map[string]ReapFile) map[int]uint64 {
	t.Helper()
	entryInodes := make(map[int]uint64)

	for i, ef := range expected {
		if len(ef.Path) == 0 {
			continue
		}
		if inode, ok := verifyFileEntry(t, ef, byPath); ok {
			entryInodes[i] = inode
		}
	}
	return entryInodes
}

// verifyFileEntry checks a single file entry and returns its inode if valid.
func verifyFileEntry(t testing.TB, ef File, byPath map[string]ReapFile) (uint64, bool) {
	t.Helper()

	firstPath := ef.Path[0]
	first, ok := byPath[firstPath]
	if !ok {
		t.Errorf("expected file not found: %s", firstPath)
		return 0, false
	}

	for _, p := range ef.Path[1:] {
		rf, ok := byPath[p]
		if !ok {
			t.Errorf("expected file not found: %s", p)
			continue
		}
		if rf.Inode != first.Inode {
			t.Errorf("hardlink mismatch: %s (inode %d) != %s (inode %d)",
				firstPath, first.Inode, p, rf.Inode)
		}
	}
	if first.Nlink < uint64(len(ef.Path)) {
		t.Errorf("%s: nlink %d, want at least %d", firstPath, first.Nlink, len(ef.Path))
	}

	if len(ef.Chunks) > 0 {
		want, err := ops.ChunksSize(ef.Chunks)
		if err != nil {
			t.Errorf("%s: %v", firstPath, err)
		} else if first.Size != want {
			t.Errorf("%s: size %d, want %d", firstPath, first.Size, want)
		}
	}
	return first.Inode, true
}

// verifyUniqueInodes checks that different File entries have different inodes.
func verifyUniqueInodes(t testing.TB, expected []File, entryInodes map[int]uint64) {
	t.Helper()
	for i, ino1 := range entryInodes {
		for j, ino2 := range entryInodes {
			if i < j && ino1 == ino2 {
				t.Errorf("files from different entries share inode %d: %v and %v",
					ino1, expected[i].Path, expected[j].Path)
			}
		}
	}
}
