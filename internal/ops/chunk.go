package ops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	// Pattern is the fill byte for this chunk region.
	Pattern byte `json:"pattern"`

	// Size accepts IEC (1KiB) and SI (1K) units, parsed via go-humanize.
	Size string `json:"size"`
}

// UnmarshalJSON accepts the pattern as a one-character string ("A") or as a
// byte value (65).
func (c *Chunk) UnmarshalJSON(data []byte) error {
	var raw struct {
		Pattern json.RawMessage `json:"pattern"`
		Size    string          `json:"size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Size = raw.Size
	c.Pattern = 0
	if len(raw.Pattern) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.Pattern, &s); err == nil {
		if len(s) != 1 {
			return fmt.Errorf("chunk pattern %q must be a single byte", s)
		}
		c.Pattern = s[0]
		return nil
	}

	var b byte
	if err := json.Unmarshal(raw.Pattern, &b); err != nil {
		return fmt.Errorf("chunk pattern: %w", err)
	}
	c.Pattern = b
	return nil
}

// ChunksSize calculates the sum of all chunk sizes in bytes.
func ChunksSize(chunks []Chunk) (int64, error) {
	var total int64
	for _, c := range chunks {
		size, err := humanize.ParseBytes(c.Size)
		if err != nil {
			return 0, fmt.Errorf("parse chunk size %q: %w", c.Size, err)
		}
		total += int64(size)
	}
	return total, nil
}

// writeChunksAt streams chunk content into f starting at off.
func writeChunksAt(f *os.File, off int64, chunks []Chunk) error {
	for _, c := range chunks {
		n, err := writeChunkAt(f, off, c)
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// writeChunkAt writes a single chunk and returns the number of bytes written.
func writeChunkAt(f *os.File, off int64, c Chunk) (int64, error) {
	const maxBufSize = 1 << 20 // 1MiB max buffer

	size, err := humanize.ParseBytes(c.Size)
	if err != nil {
		return 0, fmt.Errorf("parse chunk size %q: %w", c.Size, err)
	}

	bufSize := int(size)
	if bufSize > maxBufSize {
		bufSize = maxBufSize
	}
	buf := bytes.Repeat([]byte{c.Pattern}, bufSize)

	var written int64
	for written < int64(size) {
		toWrite := int64(len(buf))
		if remaining := int64(size) - written; remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.WriteAt(buf[:toWrite], off+written); err != nil {
			return written, err
		}
		written += toWrite
	}
	return written, nil
}
