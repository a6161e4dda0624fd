package catalog

import (
	"github.com/ivoronin/fscrash/internal/oracle"
	"github.com/ivoronin/fscrash/internal/types"
	"github.com/ivoronin/fscrash/internal/workload"
)

// Generic343 reproduces xfstests generic/343: hard link a file F in a
// directory A, move a directory and a file from C into A, fsync F, power
// fail. After recovery both links of F must exist and the moved entries must
// be found only in A.
//
// Every step fails with its own status, the negated position of the step:
// setup -1 X, -2 Y, -3 X/foo, -4 Y/Z, -5 Y/foo_2, -6 sync; run -1 link, -2
// and -3 the renames, -4 open, -5 fsync, -6 checkpoint. Releasing
// descriptors after either phase is -7.
func Generic343() *workload.Definition {
	return &workload.Definition{
		ScenarioName: "generic_343",
		Summary:      "hard link plus renames into the link's directory, then fsync of the linked file",
		Vars: map[string]string{
			"dir_x": "test_dir_x",
			"dir_y": "test_dir_y",
			"dir_z": "test_dir_z",
			"foo":   "foo",
			"foo_2": "foo_2",
			"bar":   "bar",
		},
		SetupSteps: workload.Script{
			{Op: workload.OpMkdir, Path: "${dir_x}"},
			{Op: workload.OpMkdir, Path: "${dir_y}"},
			{Op: workload.OpCreate, Path: "${dir_x}/${foo}"},
			{Op: workload.OpMkdir, Path: "${dir_y}/${dir_z}"},
			{Op: workload.OpCreate, Path: "${dir_y}/${foo_2}"},
			{Op: workload.OpSync},
		},
		RunSteps: workload.Script{
			{Op: workload.OpLink, Path: "${dir_x}/${foo}", Target: "${dir_x}/${bar}"},
			{Op: workload.OpRename, Path: "${dir_y}/${dir_z}", Target: "${dir_x}/${dir_z}"},
			{Op: workload.OpRename, Path: "${dir_y}/${foo_2}", Target: "${dir_x}/${foo_2}"},
			{Op: workload.OpOpen, Path: "${dir_x}/${foo}"},
			{Op: workload.OpFsync, Path: "${dir_x}/${foo}"},
			{Op: workload.OpCheckpoint},
		},
		Expect: oracle.ExpectedStateSet{
			1: {
				Links: []oracle.Link{{Paths: []string{"${dir_x}/${foo}", "${dir_x}/${bar}"}}},
				Moves: []oracle.Move{
					{Path: "${dir_x}/${foo_2}", From: []string{"${dir_y}/${foo_2}"}, Kind: types.KindFile},
					{Path: "${dir_x}/${dir_z}", From: []string{"${dir_y}/${dir_z}"}, Kind: types.KindDir},
				},
				Present: []oracle.EntrySpec{
					{Path: "${dir_x}/${foo}", Kind: types.KindFile},
					{Path: "${dir_x}/${bar}", Kind: types.KindFile},
				},
				Absent: []string{"${dir_y}/${foo_2}", "${dir_y}/${dir_z}"},
			},
		},
	}
}
