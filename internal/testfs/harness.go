//go:build unix && !e2e

package testfs

import (
	"testing"
)

// -----------------------------------------------------------------------------
// Harness - Integration Test API
// -----------------------------------------------------------------------------

// Harness provides integration test infrastructure using t.TempDir().
//
// The temporary directory plays the role of the recovered mount: tests sow an
// arbitrary "post-crash" tree, point the oracle or a workload at Root(), and
// assert on the result.
//
// Limitations:
//   - No real power failure: the tree is whatever the test sows
//   - Use E2E tests with Docker to run the fscrash binary against a tmpfs mount
//
// Usage:
//
//	h := testfs.New(t, testfs.Tree{Dirs: []string{"test_dir_x", "test_dir_y"}})
//	tc := lifecycle.New(sc, lifecycle.Options{Root: h.Root(), ...})
//	// ... setup, run
//	h.Assert(testfs.Tree{Absent: []string{"test_dir_y/foo_2"}})
type Harness struct {
	t     testing.TB
	root  string // Temporary directory root
	given Tree   // Original spec
}

// New creates a new Harness with the given Tree specification.
//
// The temporary directory is automatically cleaned up by t.TempDir() mechanics.
func New(t testing.TB, given Tree) *Harness {
	t.Helper()

	root := t.TempDir()
	h := &Harness{
		t:     t,
		root:  root,
		given: given,
	}

	if err := SowTree(root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// Root returns the temporary directory root path.
func (h *Harness) Root() string {
	return h.root
}

// Sow adds more entries to the tree, e.g. to fake a stale entry a crash left behind.
func (h *Harness) Sow(extra Tree) {
	h.t.Helper()
	if err := SowTree(h.root, extra); err != nil {
		h.t.Fatalf("failed to sow: %v", err)
	}
}

// Reap captures the current tree.
func (h *Harness) Reap() *ReapResult {
	h.t.Helper()
	actual, err := ReapTree(h.root)
	if err != nil {
		h.t.Fatalf("reap %s: %v", h.root, err)
	}
	return actual
}

// Assert verifies the filesystem state matches the expected Tree.
// Fails the test with descriptive errors if any assertion fails.
func (h *Harness) Assert(expected Tree) {
	h.t.Helper()
	AssertTree(h.t, expected, h.Reap())
}
