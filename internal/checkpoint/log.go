// Package checkpoint records checkpoint boundaries for an external crash injector.
//
// A checkpoint is a strictly increasing index, starting at 1, appended to an
// append-only log each time a workload calls Recorder.Mark. Every append is
// durable before Mark returns, so the injector can read the log to learn which
// points in program order are legal crash points.
//
// Two log formats exist:
//
//	| Format | Layout                                          |
//	|--------|-------------------------------------------------|
//	| text   | one decimal index per line, fsync per append    |
//	| bolt   | bbolt bucket "checkpoints", big-endian keys     |
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Format selects the on-disk checkpoint log layout.
type Format string

const (
	FormatText Format = "text"
	FormatBolt Format = "bolt"
)

var (
	ErrUnknownFormat = errors.New("unknown checkpoint log format")
	ErrCorruptLog    = errors.New("checkpoint log is not a strictly increasing sequence from 1")
)

// ParseFormat validates a format name. The empty string selects FormatText.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatBolt:
		return FormatBolt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Log is an append-only sequence of checkpoint indices.
type Log interface {
	// Append durably records idx. It returns only after the entry is on stable storage.
	Append(idx uint) error

	// Close releases the log.
	Close() error
}

// Create starts a fresh log at path, discarding any previous contents.
func Create(path string, format Format) (Log, error) {
	switch format {
	case "", FormatText:
		return createTextLog(path)
	case FormatBolt:
		return createBoltLog(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// syncDir makes the directory entry of a newly created log at path durable.
func syncDir(path string) error {
	d, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("open checkpoint log dir: %w", err)
	}
	err = d.Sync()
	if closeErr := d.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("sync checkpoint log dir: %w", err)
	}
	return nil
}

// Replay reads back every index recorded in the log at path.
//
// The sequence must be 1, 2, 3, ...; anything else is ErrCorruptLog.
// Replaying the same log always yields the same sequence.
func Replay(path string, format Format) ([]uint, error) {
	var (
		indices []uint
		err     error
	)
	switch format {
	case "", FormatText:
		indices, err = replayText(path)
	case FormatBolt:
		indices, err = replayBolt(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if err := validateSequence(indices); err != nil {
		return nil, err
	}
	return indices, nil
}

// validateSequence checks that indices are exactly 1..n.
func validateSequence(indices []uint) error {
	for i, idx := range indices {
		if idx != uint(i+1) {
			return fmt.Errorf("%w: entry %d is %d", ErrCorruptLog, i+1, idx)
		}
	}
	return nil
}
