// Package types provides shared types used across the fscrash codebase.
package types

import (
	"cmp"
	"fmt"
	"io/fs"
	"slices"
)

// EntryKind is the type of entity a directory entry resolves to.
type EntryKind int

const (
	KindNone  EntryKind = iota // No entry (or kind not constrained)
	KindFile                   // Regular file
	KindDir                    // Directory
	KindOther                  // Symlink, device, fifo, socket
)

// String returns the lowercase kind name used in definitions and reports.
func (k EntryKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EntryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// The empty string decodes to KindNone.
func (k *EntryKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "none":
		*k = KindNone
	case "file":
		*k = KindFile
	case "dir", "directory":
		*k = KindDir
	case "other":
		*k = KindOther
	default:
		return fmt.Errorf("unknown entry kind %q", text)
	}
	return nil
}

// KindOf classifies a file mode. Only regular files and directories get
// their own kind; everything else is KindOther.
func KindOf(mode fs.FileMode) EntryKind {
	if mode.IsRegular() {
		return KindFile
	}
	if mode.IsDir() {
		return KindDir
	}
	return KindOther
}

// Entry holds metadata for one inspected directory entry.
type Entry struct {
	Name  string    // Entry name within its parent
	Kind  EntryKind // Resolved entity kind (lstat, symlinks not followed)
	Ino   uint64    // Inode number (entity identity)
	Nlink uint64    // Link count
	Size  int64     // Size in bytes
}

// Sorted is an ordered collection that maintains sort order by a key function.
// T is the element type, K is the comparable key type.
// Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// Find returns the item with the given key using binary search.
func (s Sorted[T, K]) Find(key K) (T, bool) {
	i, ok := slices.BinarySearchFunc(s.items, key, func(item T, k K) int {
		return cmp.Compare(s.keyFunc(item), k)
	})
	if !ok {
		var zero T
		return zero, false
	}
	return s.items[i], true
}

// Listing is the entry set of one directory, sorted by name.
type Listing = Sorted[Entry, string]

// NewListing creates a Listing sorted by entry name.
func NewListing(entries []Entry) Listing {
	return NewSorted(entries, func(e Entry) string { return e.Name })
}
