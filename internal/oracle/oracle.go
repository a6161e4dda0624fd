//go:build unix

// Package oracle decides whether a recovered filesystem tree is consistent
// with the last checkpoint a crash harness reports as reached.
//
// # Evaluation
//
//	Evaluate(root, set, last)
//	    │
//	    ├──► select expectation at highest k <= last (none: Pass)
//	    │
//	    ├──► list every directory the expectation names (fresh, from disk)
//	    │
//	    ├──► link groups   ──► LinkInvariantBroken
//	    ├──► moves         ──► FileMissing | OldEntryPersisted | OrphanEntry
//	    ├──► present       ──► FileMissing
//	    └──► absent        ──► OldEntryPersisted
//
// Checks run in the order above and every violation is collected; the first
// one decides the outcome kind. Link groups come first so that a half-present
// hard link is always LinkInvariantBroken, never FileMissing.
//
// # Before the first checkpoint
//
// When no expectation is registered at or below last (notably last == 0, a
// crash before the first checkpoint), no invariant applies and the outcome
// is Pass: the workload has promised nothing yet.
package oracle

import (
	"fmt"
	"strings"

	"github.com/ivoronin/fscrash/internal/types"
)

// Evaluate checks the tree under root against the expectation in set that
// applies to last.
func Evaluate(root string, set ExpectedStateSet, last uint) Outcome {
	k, exp, ok := set.Lookup(last)
	if !ok {
		return Outcome{
			Kind:        Pass,
			Class:       ClassPass,
			Checkpoint:  last,
			Description: fmt.Sprintf("no invariant registered at or below checkpoint %d", last),
		}
	}

	snap, err := inspect(root, exp.Directories())
	if err != nil {
		return Outcome{
			Kind:        InspectError,
			Class:       InspectError.Class(),
			Checkpoint:  last,
			Description: err.Error(),
		}
	}

	var findings []Finding
	findings = append(findings, checkLinks(snap, exp.Links)...)
	findings = append(findings, checkMoves(snap, exp.Moves)...)
	findings = append(findings, checkPresent(snap, exp.Present)...)
	findings = append(findings, checkAbsent(snap, exp.Absent)...)

	out := fromFindings(last, findings)
	if out.Passed() {
		out.Description = fmt.Sprintf("state satisfies checkpoint %d", k)
	}
	return out
}

// checkLinks requires every group to be all present (one inode, enough links)
// or all absent.
func checkLinks(s *snapshot, links []Link) []Finding {
	var findings []Finding
	for _, l := range links {
		var present, missing []string
		var entries []types.Entry
		for _, p := range l.Paths {
			if e, ok := s.lookup(p); ok {
				present = append(present, p)
				entries = append(entries, e)
			} else {
				missing = append(missing, p)
			}
		}

		switch {
		case len(present) == 0:
			continue
		case len(missing) > 0:
			findings = append(findings, Finding{
				Kind:   LinkInvariantBroken,
				Paths:  l.Paths,
				Detail: fmt.Sprintf("%s missing while %s present", strings.Join(missing, ", "), strings.Join(present, ", ")),
			})
			continue
		}

		if f, ok := checkLinkIdentity(l.Paths, entries); !ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// checkLinkIdentity verifies that fully present link entries are one regular file.
func checkLinkIdentity(paths []string, entries []types.Entry) (Finding, bool) {
	first := entries[0]
	for i, e := range entries {
		if e.Kind != types.KindFile {
			return Finding{
				Kind:   LinkInvariantBroken,
				Paths:  paths,
				Detail: fmt.Sprintf("%s is a %s, not a hard-linked file", paths[i], e.Kind),
			}, false
		}
		if e.Ino != first.Ino {
			return Finding{
				Kind:   LinkInvariantBroken,
				Paths:  paths,
				Detail: fmt.Sprintf("%s (inode %d) and %s (inode %d) are distinct entities", paths[0], first.Ino, paths[i], e.Ino),
			}, false
		}
	}
	if first.Nlink < uint64(len(entries)) {
		return Finding{
			Kind:   LinkInvariantBroken,
			Paths:  paths,
			Detail: fmt.Sprintf("%s has link count %d but %d entries resolve to it", paths[0], first.Nlink, len(entries)),
		}, false
	}
	return Finding{}, true
}

// checkMoves requires each moved entity at exactly one location, the new one.
func checkMoves(s *snapshot, moves []Move) []Finding {
	var findings []Finding
	for _, m := range moves {
		locations := m.Locations()
		var found []string
		for _, p := range locations {
			if _, ok := s.lookup(p); ok {
				found = append(found, p)
			}
		}

		switch {
		case len(found) == 0:
			findings = append(findings, Finding{
				Kind:   FileMissing,
				Paths:  locations,
				Detail: fmt.Sprintf("%s missing", strings.Join(locations, ", ")),
			})
		case len(found) > 1:
			findings = append(findings, Finding{
				Kind:   OldEntryPersisted,
				Paths:  found,
				Detail: fmt.Sprintf("%s still present alongside %s", strings.Join(staleOnly(found, m.Path), ", "), m.Path),
			})
		case found[0] != m.Path:
			findings = append(findings, Finding{
				Kind:   OrphanEntry,
				Paths:  []string{found[0], m.Path},
				Detail: fmt.Sprintf("%s left at %s instead of %s", m.Path, found[0], m.Path),
			})
		default:
			if f, ok := checkKind(s, m.Path, m.Kind); !ok {
				findings = append(findings, f)
			}
		}
	}
	return findings
}

// checkPresent requires each entry to exist with its kind.
func checkPresent(s *snapshot, present []EntrySpec) []Finding {
	var findings []Finding
	for _, p := range present {
		if f, ok := checkKind(s, p.Path, p.Kind); !ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// checkAbsent requires each entry not to exist.
func checkAbsent(s *snapshot, absent []string) []Finding {
	var findings []Finding
	for _, p := range absent {
		if _, ok := s.lookup(p); ok {
			findings = append(findings, Finding{
				Kind:   OldEntryPersisted,
				Paths:  []string{p},
				Detail: fmt.Sprintf("%s still present", p),
			})
		}
	}
	return findings
}

func checkKind(s *snapshot, p string, want types.EntryKind) (Finding, bool) {
	e, ok := s.lookup(p)
	if !ok {
		return Finding{Kind: FileMissing, Paths: []string{p}, Detail: fmt.Sprintf("%s missing", p)}, false
	}
	if want != types.KindNone && e.Kind != want {
		return Finding{
			Kind:   FileMissing,
			Paths:  []string{p},
			Detail: fmt.Sprintf("%s is a %s, want %s", p, e.Kind, want),
		}, false
	}
	return Finding{}, true
}

func staleOnly(found []string, dest string) []string {
	stale := make([]string, 0, len(found))
	for _, p := range found {
		if p != dest {
			stale = append(stale, p)
		}
	}
	return stale
}
