package oracle

import (
	"path"
	"sort"

	"github.com/ivoronin/fscrash/internal/types"
)

// Expectation is the declarative predicate that must hold once its
// checkpoint was reached. Paths are slash-separated and relative to the
// mount root.
type Expectation struct {
	// Present entries must exist with the given kind (KindNone = any kind).
	Present []EntrySpec `json:"present,omitempty"`

	// Absent entries must not exist.
	Absent []string `json:"absent,omitempty"`

	// Moves name entities that must be found at exactly one location: Path.
	Moves []Move `json:"moves,omitempty"`

	// Links name groups of entries that must resolve to one entity, or all be absent.
	Links []Link `json:"links,omitempty"`
}

// EntrySpec names an entry and its expected kind.
type EntrySpec struct {
	Path string          `json:"path"`
	Kind types.EntryKind `json:"kind,omitempty"`
}

// Move describes an entity that was renamed from one of From to Path.
type Move struct {
	Path string          `json:"path"`
	From []string        `json:"from"`
	Kind types.EntryKind `json:"kind,omitempty"`
}

// Locations returns Path followed by every stale location.
func (m Move) Locations() []string {
	return append([]string{m.Path}, m.From...)
}

// Link is a group of entries created with link(2) that must share an inode.
type Link struct {
	Paths []string `json:"paths"`
}

// Paths returns every path the expectation mentions, sorted and deduplicated.
func (e Expectation) Paths() []string {
	seen := make(map[string]struct{})
	add := func(p string) { seen[path.Clean(p)] = struct{}{} }

	for _, p := range e.Present {
		add(p.Path)
	}
	for _, p := range e.Absent {
		add(p)
	}
	for _, m := range e.Moves {
		for _, p := range m.Locations() {
			add(p)
		}
	}
	for _, l := range e.Links {
		for _, p := range l.Paths {
			add(p)
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Directories returns the parent directories that must be listed to evaluate e.
func (e Expectation) Directories() []string {
	seen := make(map[string]struct{})
	for _, p := range e.Paths() {
		seen[path.Dir(p)] = struct{}{}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// ExpectedStateSet maps a checkpoint index to the expectation that holds
// from that checkpoint until the next registered one.
type ExpectedStateSet map[uint]Expectation

// Lookup returns the expectation registered at the highest index <= last.
// No entry (in particular for last == 0) means any recovered state is acceptable.
func (s ExpectedStateSet) Lookup(last uint) (uint, Expectation, bool) {
	var (
		best  uint
		found bool
	)
	for k := range s {
		if k <= last && (!found || k > best) {
			best, found = k, true
		}
	}
	if !found {
		return 0, Expectation{}, false
	}
	return best, s[best], true
}

// Highest returns the largest registered checkpoint index.
func (s ExpectedStateSet) Highest() uint {
	var hi uint
	for k := range s {
		if k > hi {
			hi = k
		}
	}
	return hi
}
