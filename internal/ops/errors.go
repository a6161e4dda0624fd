package ops

import (
	"errors"
	"fmt"
)

// Precondition errors. The primitive checks these before mutating anything,
// so a precondition error means nothing was changed.
var (
	ErrExist       = errors.New("already exists")
	ErrNotExist    = errors.New("does not exist")
	ErrNotFile     = errors.New("not a regular file")
	ErrNotOpen     = errors.New("not open")
	ErrAlreadyOpen = errors.New("already open")
	ErrInvalidPath = errors.New("path escapes mount root")
)

// ErrPartial reports a rename whose result is only half visible.
var ErrPartial = errors.New("mutation only partially observed")

// OpError records a failed primitive with the operation and the path it targeted.
type OpError struct {
	Op   string // Primitive name (create, link, rename, ...)
	Path string // Path relative to the mount root
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsPrecondition reports whether err is a precondition failure rather than
// a failure of the mutation itself.
func IsPrecondition(err error) bool {
	for _, target := range []error{ErrExist, ErrNotExist, ErrNotFile, ErrNotOpen, ErrAlreadyOpen, ErrInvalidPath} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
