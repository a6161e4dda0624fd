package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// textLog writes one index per line and fsyncs after every append.
type textLog struct {
	f *os.File
}

func createTextLog(path string) (*textLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint log: %w", err)
	}
	// The truncation itself must be durable, or a stale log could resurface.
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sync checkpoint log: %w", err)
	}
	if err := syncDir(path); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &textLog{f: f}, nil
}

func (l *textLog) Append(idx uint) error {
	if _, err := fmt.Fprintf(l.f, "%d\n", idx); err != nil {
		return fmt.Errorf("append checkpoint %d: %w", idx, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint %d: %w", idx, err)
	}
	return nil
}

func (l *textLog) Close() error {
	return l.f.Close()
}

// replayText parses a text log. A missing file is an empty log. Blank lines
// are ignored.
func replayText(path string) (indices []uint, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		idx, err := strconv.ParseUint(text, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %q", ErrCorruptLog, line, text)
		}
		indices = append(indices, uint(idx))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint log: %w", err)
	}
	return indices, nil
}
