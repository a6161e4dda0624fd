//go:build unix && !e2e

package oracle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ivoronin/fscrash/internal/testfs"
	"github.com/ivoronin/fscrash/internal/types"
)

// rename343 is the expectation after the hard link, both renames and fsync(foo).
var rename343 = ExpectedStateSet{
	1: {
		Links: []Link{{Paths: []string{"x/foo", "x/bar"}}},
		Moves: []Move{
			{Path: "x/foo_2", From: []string{"y/foo_2"}, Kind: types.KindFile},
			{Path: "x/z", From: []string{"y/z"}, Kind: types.KindDir},
		},
		Present: []EntrySpec{
			{Path: "x/foo", Kind: types.KindFile},
			{Path: "x/bar", Kind: types.KindFile},
		},
		Absent: []string{"y/foo_2", "y/z"},
	},
}

// recovered343 is the correct post-checkpoint tree.
func recovered343() testfs.Tree {
	return testfs.Tree{
		Dirs: []string{"x/z", "y"},
		Files: []testfs.File{
			{Path: []string{"x/foo", "x/bar"}},
			{Path: []string{"x/foo_2"}},
		},
	}
}

// TestEvaluatePassesOnExpectedTree verifies the correct recovered state passes.
func TestEvaluatePassesOnExpectedTree(t *testing.T) {
	h := testfs.New(t, recovered343())

	out := Evaluate(h.Root(), rename343, 1)
	if !out.Passed() {
		t.Fatalf("got %v, want Pass", out)
	}
	if out.Class != ClassPass || out.Checkpoint != 1 {
		t.Errorf("got class %q checkpoint %d, want pass 1", out.Class, out.Checkpoint)
	}
}

// TestEvaluateClassifiesFindings verifies each failure kind against a sown recovered tree.
func TestEvaluateClassifiesFindings(t *testing.T) {
	tests := []struct {
		name     string
		tree     testfs.Tree
		want     Kind
		mentions []string
	}{
		{
			name: "moved file under neither parent",
			tree: testfs.Tree{
				Dirs:  []string{"x/z", "y"},
				Files: []testfs.File{{Path: []string{"x/foo", "x/bar"}}},
			},
			want:     FileMissing,
			mentions: []string{"x/foo_2", "y/foo_2"},
		},
		{
			name: "moved file under both parents",
			tree: testfs.Tree{
				Dirs: []string{"x/z", "y"},
				Files: []testfs.File{
					{Path: []string{"x/foo", "x/bar"}},
					{Path: []string{"x/foo_2"}},
					{Path: []string{"y/foo_2"}},
				},
			},
			want:     OldEntryPersisted,
			mentions: []string{"y/foo_2"},
		},
		{
			name: "moved file only under old parent",
			tree: testfs.Tree{
				Dirs: []string{"x/z", "y"},
				Files: []testfs.File{
					{Path: []string{"x/foo", "x/bar"}},
					{Path: []string{"y/foo_2"}},
				},
			},
			want:     OrphanEntry,
			mentions: []string{"y/foo_2"},
		},
		{
			name: "link lost while original present",
			tree: testfs.Tree{
				Dirs: []string{"x/z", "y"},
				Files: []testfs.File{
					{Path: []string{"x/foo"}},
					{Path: []string{"x/foo_2"}},
				},
			},
			want:     LinkInvariantBroken,
			mentions: []string{"x/bar"},
		},
		{
			name: "link entries are distinct inodes",
			tree: testfs.Tree{
				Dirs: []string{"x/z", "y"},
				Files: []testfs.File{
					{Path: []string{"x/foo"}},
					{Path: []string{"x/bar"}},
					{Path: []string{"x/foo_2"}},
				},
			},
			want:     LinkInvariantBroken,
			mentions: []string{"distinct"},
		},
		{
			name: "link broken wins over missing moved file",
			tree: testfs.Tree{
				Dirs:  []string{"x/z", "y"},
				Files: []testfs.File{{Path: []string{"x/foo"}}},
			},
			want:     LinkInvariantBroken,
			mentions: []string{"x/bar", "x/foo_2"},
		},
		{
			name: "both link entries absent is data loss not link breakage",
			tree: testfs.Tree{
				Dirs:  []string{"x/z", "y"},
				Files: []testfs.File{{Path: []string{"x/foo_2"}}},
			},
			want:     FileMissing,
			mentions: []string{"x/foo missing"},
		},
		{
			name: "moved directory persisted in old parent",
			tree: testfs.Tree{
				Dirs: []string{"x/z", "y/z"},
				Files: []testfs.File{
					{Path: []string{"x/foo", "x/bar"}},
					{Path: []string{"x/foo_2"}},
				},
			},
			want:     OldEntryPersisted,
			mentions: []string{"y/z"},
		},
		{
			name: "moved directory became a file",
			tree: testfs.Tree{
				Dirs: []string{"y"},
				Files: []testfs.File{
					{Path: []string{"x/foo", "x/bar"}},
					{Path: []string{"x/foo_2"}},
					{Path: []string{"x/z"}},
				},
			},
			want:     FileMissing,
			mentions: []string{"x/z is a file, want dir"},
		},
		{
			name: "old parent directory vanished entirely",
			tree: testfs.Tree{
				Dirs:  []string{"x/z"},
				Files: []testfs.File{{Path: []string{"x/foo", "x/bar"}}, {Path: []string{"x/foo_2"}}},
			},
			want: Pass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testfs.New(t, tt.tree)

			out := Evaluate(h.Root(), rename343, 1)
			if out.Kind != tt.want {
				t.Fatalf("got %v, want %v", out, tt.want)
			}
			for _, m := range tt.mentions {
				if !strings.Contains(out.Description, m) {
					t.Errorf("description %q should mention %q", out.Description, m)
				}
			}
			if tt.want != Pass && out.Class != ClassDataLoss {
				t.Errorf("class = %q, want data-loss", out.Class)
			}
		})
	}
}

// TestEvaluateReportsAllFindings verifies every violation is listed, first one decides the kind.
func TestEvaluateReportsAllFindings(t *testing.T) {
	h := testfs.New(t, testfs.Tree{
		Dirs:  []string{"x", "y/z"},
		Files: []testfs.File{{Path: []string{"x/foo"}}, {Path: []string{"y/foo_2"}}},
	})

	out := Evaluate(h.Root(), rename343, 1)

	var kinds []Kind
	for _, f := range out.Findings {
		kinds = append(kinds, f.Kind)
	}
	want := []Kind{
		LinkInvariantBroken, // x/bar missing, x/foo present
		OrphanEntry,         // foo_2 only in y
		OrphanEntry,         // z only in y
		FileMissing,         // x/bar
		OldEntryPersisted,   // y/foo_2
		OldEntryPersisted,   // y/z
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("finding kinds mismatch (-want +got):\n%s", diff)
	}
	if out.Kind != LinkInvariantBroken {
		t.Errorf("outcome kind = %v, want LinkInvariantBroken", out.Kind)
	}
}

// TestEvaluateBeforeFirstCheckpointIsPermissive verifies no invariant applies at checkpoint 0.
func TestEvaluateBeforeFirstCheckpointIsPermissive(t *testing.T) {
	h := testfs.New(t, testfs.Tree{}) // everything lost

	out := Evaluate(h.Root(), rename343, 0)
	if !out.Passed() {
		t.Fatalf("got %v, want Pass", out)
	}
	if !strings.Contains(out.Description, "no invariant") {
		t.Errorf("description %q should explain why nothing was checked", out.Description)
	}
}

// TestEvaluateUsesHighestRegisteredCheckpoint verifies lookup picks the newest applicable expectation.
func TestEvaluateUsesHighestRegisteredCheckpoint(t *testing.T) {
	set := ExpectedStateSet{
		1: {Present: []EntrySpec{{Path: "a", Kind: types.KindFile}}},
		3: {Absent: []string{"a"}},
	}
	h := testfs.New(t, testfs.Tree{Files: []testfs.File{{Path: []string{"a"}}}})

	for _, last := range []uint{1, 2} {
		if out := Evaluate(h.Root(), set, last); !out.Passed() {
			t.Errorf("checkpoint %d: got %v, want Pass", last, out)
		}
	}
	for _, last := range []uint{3, 7} {
		out := Evaluate(h.Root(), set, last)
		if out.Kind != OldEntryPersisted {
			t.Errorf("checkpoint %d: got %v, want OldEntryPersisted", last, out)
		}
	}
}

// TestEvaluateUnreadableDirectoryIsError verifies inspection failures never pass.
func TestEvaluateUnreadableDirectoryIsError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}

	h := testfs.New(t, recovered343())
	dir := filepath.Join(h.Root(), "x")
	if err := os.Chmod(dir, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	out := Evaluate(h.Root(), rename343, 1)
	if out.Kind != InspectError || out.Class != ClassError {
		t.Errorf("got %v (%s), want InspectError (error)", out, out.Class)
	}
}

// TestExpectationDirectories verifies the listing set derives from every predicate.
func TestExpectationDirectories(t *testing.T) {
	got := rename343[1].Directories()
	want := []string{"x", "y"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Directories() mismatch (-want +got):\n%s", diff)
	}

	root := Expectation{Present: []EntrySpec{{Path: "top"}}, Absent: []string{"./a/b"}}
	if diff := cmp.Diff([]string{".", "a"}, root.Directories()); diff != "" {
		t.Errorf("Directories() mismatch (-want +got):\n%s", diff)
	}
}

// TestKindText verifies outcome kinds round-trip through text for reports.
func TestKindText(t *testing.T) {
	for kind := range kindNames {
		text, err := kind.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", kind, err)
		}
		var got Kind
		if err := got.UnmarshalText(text); err != nil || got != kind {
			t.Errorf("UnmarshalText(%s) = %v, %v; want %v", text, got, err, kind)
		}
	}
	if MalformedScenario.Class() != ClassError {
		t.Error("MalformedScenario must be reported as a test defect")
	}
}

func TestExpectedStateSetHighest(t *testing.T) {
	if got := (ExpectedStateSet{}).Highest(); got != 0 {
		t.Errorf("empty set: Highest() = %d, want 0", got)
	}
	if got := (ExpectedStateSet{1: {}, 3: {}, 2: {}}).Highest(); got != 3 {
		t.Errorf("Highest() = %d, want 3", got)
	}
}
