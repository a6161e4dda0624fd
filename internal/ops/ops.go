//go:build unix

// Package ops provides the operation primitives a workload script is built from.
//
// Every primitive performs one namespace or data mutation under a fixed mount
// root and returns an *OpError on failure. Preconditions (missing source,
// existing destination, descriptor not open) are checked before the mutation
// and reported with the sentinel errors in this package, so callers can tell
// "nothing happened because the precondition was false" apart from "the
// filesystem refused the mutation" (see IsPrecondition).
//
// Paths are relative to the mount root. An Ops value owns a table of open
// descriptors keyed by path; it is not safe for concurrent use.
package ops

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/ivoronin/fscrash/internal/types"
)

const (
	dirPerms  = 0o777
	filePerms = 0o777
)

// Ops executes primitives against one mount root.
type Ops struct {
	root  string
	open  map[string]*os.File
	trace io.Writer
}

// Option configures an Ops.
type Option func(*Ops)

// WithTrace prints every primitive to w before it executes.
func WithTrace(w io.Writer) Option {
	return func(o *Ops) { o.trace = w }
}

// New creates an Ops bound to root.
func New(root string, opts ...Option) *Ops {
	o := &Ops{
		root: root,
		open: make(map[string]*os.File),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create creates a regular file (exclusively) or a directory.
func (o *Ops) Create(path string, kind types.EntryKind) error {
	o.tracef("create %s %s", kind, path)
	abs, err := o.resolve("create", path)
	if err != nil {
		return err
	}
	if err := o.mustNotExist("create", path, abs); err != nil {
		return err
	}

	switch kind {
	case types.KindDir:
		if err := os.Mkdir(abs, dirPerms); err != nil {
			return o.fail("create", path, err)
		}
	case types.KindFile:
		f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerms)
		if err != nil {
			return o.fail("create", path, err)
		}
		if err := f.Close(); err != nil {
			return o.fail("create", path, err)
		}
	default:
		return &OpError{Op: "create", Path: path, Err: fmt.Errorf("unsupported kind %s", kind)}
	}
	return nil
}

// Remove unlinks a file or removes an empty directory.
func (o *Ops) Remove(path string) error {
	o.tracef("remove %s", path)
	abs, err := o.resolve("remove", path)
	if err != nil {
		return err
	}
	if _, err := o.mustExist("remove", path, abs); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return o.fail("remove", path, err)
	}
	return nil
}

// Link adds newPath as a hard link to the regular file at existing.
func (o *Ops) Link(existing, newPath string) error {
	o.tracef("link %s -> %s", newPath, existing)
	absOld, err := o.resolve("link", existing)
	if err != nil {
		return err
	}
	absNew, err := o.resolve("link", newPath)
	if err != nil {
		return err
	}

	info, err := o.mustExist("link", existing, absOld)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &OpError{Op: "link", Path: existing, Err: ErrNotFile}
	}
	if err := o.mustNotExist("link", newPath, absNew); err != nil {
		return err
	}

	if err := os.Link(absOld, absNew); err != nil {
		return o.fail("link", newPath, err)
	}
	return nil
}

// Rename moves oldPath to newPath.
//
// rename(2) is atomic, and the result is checked afterwards: the source must
// be gone and the destination must resolve. If only one side is visible the
// call returns ErrPartial.
func (o *Ops) Rename(oldPath, newPath string) error {
	o.tracef("rename %s -> %s", oldPath, newPath)
	absOld, err := o.resolve("rename", oldPath)
	if err != nil {
		return err
	}
	absNew, err := o.resolve("rename", newPath)
	if err != nil {
		return err
	}
	if _, err := o.mustExist("rename", oldPath, absOld); err != nil {
		return err
	}

	if err := os.Rename(absOld, absNew); err != nil {
		return o.fail("rename", oldPath, err)
	}

	_, oldErr := os.Lstat(absOld)
	_, newErr := os.Lstat(absNew)
	if newErr != nil || !errors.Is(oldErr, os.ErrNotExist) {
		// Renaming one hard link onto another of the same inode is a no-op
		// that leaves both names in place.
		if newErr == nil && oldErr == nil && sameFile(absOld, absNew) {
			return nil
		}
		return &OpError{Op: "rename", Path: oldPath, Err: fmt.Errorf("%w: %s -> %s", ErrPartial, oldPath, newPath)}
	}
	return nil
}

// Write writes data at offset. An open descriptor for path is used when one
// exists; otherwise the file is opened for the duration of the write.
func (o *Ops) Write(path string, data []byte, offset int64) error {
	o.tracef("write %s %d bytes at %d", path, len(data), offset)
	return o.withWritable("write", path, func(f *os.File) error {
		n, err := f.WriteAt(data, offset)
		if err != nil {
			return err
		}
		if n != len(data) {
			return io.ErrShortWrite
		}
		return nil
	})
}

// WriteChunks writes pattern-filled chunks starting at offset.
func (o *Ops) WriteChunks(path string, offset int64, chunks []Chunk) error {
	o.tracef("write %s %d chunks at %d", path, len(chunks), offset)
	return o.withWritable("write", path, func(f *os.File) error {
		return writeChunksAt(f, offset, chunks)
	})
}

// Open opens path (file read-write, directory read-only) and keeps the
// descriptor until Close or CloseAll.
func (o *Ops) Open(path string) error {
	o.tracef("open %s", path)
	abs, err := o.resolve("open", path)
	if err != nil {
		return err
	}
	if _, ok := o.open[filepath.Clean(path)]; ok {
		return &OpError{Op: "open", Path: path, Err: ErrAlreadyOpen}
	}
	info, err := o.mustExist("open", path, abs)
	if err != nil {
		return err
	}

	flag := os.O_RDWR
	if info.IsDir() {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(abs, flag, 0)
	if err != nil {
		return o.fail("open", path, err)
	}
	o.open[filepath.Clean(path)] = f
	return nil
}

// Close releases the descriptor for path.
func (o *Ops) Close(path string) error {
	o.tracef("close %s", path)
	f, ok := o.open[filepath.Clean(path)]
	if !ok {
		return &OpError{Op: "close", Path: path, Err: ErrNotOpen}
	}
	delete(o.open, filepath.Clean(path))
	if err := f.Close(); err != nil {
		return o.fail("close", path, err)
	}
	return nil
}

// CloseAll releases every open descriptor, in path order.
func (o *Ops) CloseAll() error {
	paths := o.OpenPaths()
	var errs []error
	for _, p := range paths {
		if err := o.Close(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenPaths returns the paths with open descriptors, sorted.
func (o *Ops) OpenPaths() []string {
	paths := make([]string, 0, len(o.open))
	for p := range o.open {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Fsync flushes data and metadata of path through its open descriptor.
func (o *Ops) Fsync(path string) error {
	o.tracef("fsync %s", path)
	return o.withOpen("fsync", path, unix.Fsync)
}

// Fdatasync flushes data of path through its open descriptor.
func (o *Ops) Fdatasync(path string) error {
	o.tracef("fdatasync %s", path)
	return o.withOpen("fdatasync", path, unix.Fdatasync)
}

// SyncAll commits every filesystem's buffered state to storage.
func (o *Ops) SyncAll() error {
	o.tracef("sync")
	unix.Sync()
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (o *Ops) tracef(format string, args ...any) {
	if o.trace != nil {
		fmt.Fprintf(o.trace, format+"\n", args...)
	}
}

// resolve maps a root-relative path to an absolute one.
func (o *Ops) resolve(op, path string) (string, error) {
	clean := filepath.Clean(path)
	if !filepath.IsLocal(clean) {
		return "", &OpError{Op: op, Path: path, Err: ErrInvalidPath}
	}
	return filepath.Join(o.root, clean), nil
}

func (o *Ops) mustExist(op, path, abs string) (os.FileInfo, error) {
	info, err := os.Lstat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &OpError{Op: op, Path: path, Err: ErrNotExist}
	}
	if err != nil {
		return nil, o.fail(op, path, err)
	}
	return info, nil
}

func (o *Ops) mustNotExist(op, path, abs string) error {
	_, err := os.Lstat(abs)
	if err == nil {
		return &OpError{Op: op, Path: path, Err: ErrExist}
	}
	if !errors.Is(err, os.ErrNotExist) {
		return o.fail(op, path, err)
	}
	return nil
}

// withOpen runs fn on the descriptor for path. The path must still exist.
func (o *Ops) withOpen(op, path string, fn func(fd int) error) error {
	abs, err := o.resolve(op, path)
	if err != nil {
		return err
	}
	if _, err := o.mustExist(op, path, abs); err != nil {
		return err
	}
	f, ok := o.open[filepath.Clean(path)]
	if !ok {
		return &OpError{Op: op, Path: path, Err: ErrNotOpen}
	}
	if err := fn(int(f.Fd())); err != nil {
		return o.fail(op, path, err)
	}
	return nil
}

// withWritable runs fn on an open descriptor for path, opening one
// temporarily if needed.
func (o *Ops) withWritable(op, path string, fn func(*os.File) error) (err error) {
	abs, err := o.resolve(op, path)
	if err != nil {
		return err
	}
	info, err := o.mustExist(op, path, abs)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &OpError{Op: op, Path: path, Err: ErrNotFile}
	}

	f, ok := o.open[filepath.Clean(path)]
	if !ok {
		f, err = os.OpenFile(abs, os.O_WRONLY, 0)
		if err != nil {
			return o.fail(op, path, err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = o.fail(op, path, cerr)
			}
		}()
	}

	if err := fn(f); err != nil {
		return o.fail(op, path, err)
	}
	return nil
}

// fail wraps an error from the mutation itself.
func (o *Ops) fail(op, path string, err error) error {
	return &OpError{Op: op, Path: path, Err: err}
}

func sameFile(a, b string) bool {
	ia, errA := os.Lstat(a)
	ib, errB := os.Lstat(b)
	return errA == nil && errB == nil && os.SameFile(ia, ib)
}
