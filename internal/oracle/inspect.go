//go:build unix

package oracle

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/ivoronin/fscrash/internal/types"
)

// snapshot holds directory listings read from the recovered tree during one
// evaluation. It is built fresh for every Check and never outlives it.
type snapshot struct {
	dirs map[string]types.Listing
}

// inspect lists every directory in dirs under root.
//
// A directory that does not exist (or is no longer a directory) yields an empty listing; its absence is
// itself observable through the entries of its parent. Any other read
// failure aborts the inspection.
func inspect(root string, dirs []string) (*snapshot, error) {
	s := &snapshot{dirs: make(map[string]types.Listing, len(dirs))}
	for _, d := range dirs {
		listing, err := listDirectory(filepath.Join(root, filepath.FromSlash(d)))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", d, err)
		}
		s.dirs[d] = listing
	}
	return s, nil
}

// lookup resolves a slash-separated path against the snapshot.
func (s *snapshot) lookup(p string) (types.Entry, bool) {
	p = path.Clean(p)
	listing, ok := s.dirs[path.Dir(p)]
	if !ok {
		return types.Entry{}, false
	}
	return listing.Find(path.Base(p))
}

// listDirectory reads one directory. Each entry is lstat'ed for its kind,
// inode and link count; presence is exactly membership in the listing.
func listDirectory(dir string) (types.Listing, error) {
	dirEntries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return types.NewListing(nil), nil
	}
	if err != nil {
		return types.Listing{}, err
	}

	entries := make([]types.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue // Raced with removal; nothing else mutates the tree during Check
		}
		if err != nil {
			return types.Listing{}, fmt.Errorf("lstat %s: %w", de.Name(), err)
		}

		entry := types.Entry{
			Name: de.Name(),
			Kind: types.KindOf(info.Mode()),
			Size: info.Size(),
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			entry.Ino = st.Ino
			entry.Nlink = uint64(st.Nlink) //nolint:unconvert // platform-dependent type
		}
		entries = append(entries, entry)
	}
	return types.NewListing(entries), nil
}
