// Package workload executes scripted filesystem operations for the Setup
// and Run phases of a scenario, and loads declarative scenario definitions.
package workload

import (
	"errors"
	"fmt"

	"github.com/ivoronin/fscrash/internal/ops"
	"github.com/ivoronin/fscrash/internal/scenario"
	"github.com/ivoronin/fscrash/internal/types"
)

// Op names one scripted operation.
type Op string

const (
	OpMkdir      Op = "mkdir"
	OpCreate     Op = "create"
	OpRemove     Op = "remove"
	OpLink       Op = "link"   // path: existing file, target: new name
	OpRename     Op = "rename" // path: old name, target: new name
	OpWrite      Op = "write"
	OpOpen       Op = "open"
	OpClose      Op = "close"
	OpFsync      Op = "fsync"
	OpFdatasync  Op = "fdatasync"
	OpSync       Op = "sync"
	OpCheckpoint Op = "checkpoint"
)

var ErrInvalidStep = errors.New("invalid step")

// Step is one operation in a Script.
type Step struct {
	Op     Op              `json:"op"`
	Path   string          `json:"path,omitempty"`
	Target string          `json:"target,omitempty"`
	Kind   types.EntryKind `json:"kind,omitempty"` // create only; default file
	Data   string          `json:"data,omitempty"`
	Offset int64           `json:"offset,omitempty"`
	Chunks []ops.Chunk     `json:"chunks,omitempty"`

	// Site is the failure site reported when this step fails. Zero means
	// the step's 1-based position in its script.
	Site int `json:"site,omitempty"`
}

func (s Step) String() string {
	switch {
	case s.Target != "":
		return fmt.Sprintf("%s %s %s", s.Op, s.Path, s.Target)
	case s.Path != "":
		return fmt.Sprintf("%s %s", s.Op, s.Path)
	default:
		return string(s.Op)
	}
}

// validate checks that the step names a known op with the fields it needs.
func (s Step) validate() error {
	needPath := func() error {
		if s.Path == "" {
			return fmt.Errorf("%w: %s requires path", ErrInvalidStep, s.Op)
		}
		return nil
	}

	switch s.Op {
	case OpMkdir, OpRemove, OpOpen, OpClose, OpFsync, OpFdatasync:
		return needPath()
	case OpCreate:
		if s.Kind != types.KindNone && s.Kind != types.KindFile && s.Kind != types.KindDir {
			return fmt.Errorf("%w: create cannot make a %s", ErrInvalidStep, s.Kind)
		}
		return needPath()
	case OpLink, OpRename:
		if err := needPath(); err != nil {
			return err
		}
		if s.Target == "" {
			return fmt.Errorf("%w: %s requires target", ErrInvalidStep, s.Op)
		}
	case OpWrite:
		if err := needPath(); err != nil {
			return err
		}
		if s.Data != "" && len(s.Chunks) > 0 {
			return fmt.Errorf("%w: write takes data or chunks, not both", ErrInvalidStep)
		}
		if s.Offset < 0 {
			return fmt.Errorf("%w: negative offset %d", ErrInvalidStep, s.Offset)
		}
		if _, err := ops.ChunksSize(s.Chunks); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidStep, err)
		}
	case OpSync, OpCheckpoint:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidStep, s.Op)
	}
	if s.Site < 0 {
		return fmt.Errorf("%w: site must be positive, got %d", ErrInvalidStep, s.Site)
	}
	return nil
}

// apply performs the step against env.
func (s Step) apply(env *scenario.Env) error {
	o := env.Ops
	switch s.Op {
	case OpMkdir:
		return o.Create(s.Path, types.KindDir)
	case OpCreate:
		kind := s.Kind
		if kind == types.KindNone {
			kind = types.KindFile
		}
		return o.Create(s.Path, kind)
	case OpRemove:
		return o.Remove(s.Path)
	case OpLink:
		return o.Link(s.Path, s.Target)
	case OpRename:
		return o.Rename(s.Path, s.Target)
	case OpWrite:
		if len(s.Chunks) > 0 {
			return o.WriteChunks(s.Path, s.Offset, s.Chunks)
		}
		return o.Write(s.Path, []byte(s.Data), s.Offset)
	case OpOpen:
		return o.Open(s.Path)
	case OpClose:
		return o.Close(s.Path)
	case OpFsync:
		return o.Fsync(s.Path)
	case OpFdatasync:
		return o.Fdatasync(s.Path)
	case OpSync:
		return o.SyncAll()
	case OpCheckpoint:
		if env.Checkpoints == nil {
			return scenario.ErrNoRecorder
		}
		_, err := env.Checkpoints.Mark()
		return err
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidStep, s.Op)
	}
}

// expand substitutes ${name} references in the step's paths.
func (s Step) expand(mapping func(string) string) Step {
	s.Path = expandPath(s.Path, mapping)
	s.Target = expandPath(s.Target, mapping)
	return s
}
