package checkpoint

import (
	"errors"
	"fmt"
)

// ErrHalt is returned by Mark after the checkpoint configured with
// WithHaltAfter has been durably recorded. The workload should stop issuing
// operations; the checkpoint itself is valid.
var ErrHalt = errors.New("halt after checkpoint")

// ErrClosed is returned by Mark after Close.
var ErrClosed = errors.New("checkpoint recorder closed")

// Recorder hands out checkpoint indices and appends them to a Log.
//
// Mark is only ever called from the single workload goroutine, after every
// preceding primitive has returned, so program order and log order agree.
type Recorder struct {
	log       Log
	last      uint
	haltAfter uint // 0 = never halt
	closed    bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithHaltAfter makes Mark return ErrHalt once checkpoint k is recorded.
func WithHaltAfter(k uint) Option {
	return func(r *Recorder) { r.haltAfter = k }
}

// NewRecorder creates a Recorder appending to log. The first Mark returns 1.
func NewRecorder(log Log, opts ...Option) *Recorder {
	r := &Recorder{log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mark records the next checkpoint and returns its index.
//
// If the append fails, the index is not consumed and the error is returned;
// callers treat this as a fatal workload error.
func (r *Recorder) Mark() (uint, error) {
	if r.closed {
		return 0, ErrClosed
	}

	next := r.last + 1
	if err := r.log.Append(next); err != nil {
		return 0, fmt.Errorf("mark checkpoint: %w", err)
	}
	r.last = next

	if r.haltAfter != 0 && next >= r.haltAfter {
		return next, ErrHalt
	}
	return next, nil
}

// Last returns the most recently recorded index (0 if none).
func (r *Recorder) Last() uint { return r.last }

// Close closes the underlying log. Further Marks fail with ErrClosed.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.log.Close()
}
