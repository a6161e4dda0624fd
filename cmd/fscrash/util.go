package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ivoronin/fscrash/internal/checkpoint"
	"github.com/ivoronin/fscrash/internal/oracle"
)

// parseAssignments parses repeated key=value flags into a map.
func parseAssignments(sets []string) (map[string]string, error) {
	params := make(map[string]string, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("%q: want key=value", s)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%q: empty key", s)
		}
		if value == "" {
			return nil, fmt.Errorf("%q: empty value", s)
		}
		if _, dup := params[key]; dup {
			return nil, fmt.Errorf("%q: %s set twice", s, key)
		}
		params[key] = value
	}
	return params, nil
}

// parseLastCheckpoint parses a non-negative checkpoint index.
func parseLastCheckpoint(s string) (uint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty value")
	}
	n, err := strconv.ParseUint(s, 10, 0)
	if err != nil {
		return 0, fmt.Errorf("%q is not a checkpoint index", s)
	}
	return uint(n), nil
}

// logFileName returns the checkpoint log file name for a scenario.
func logFileName(name string, format checkpoint.Format) string {
	if format == checkpoint.FormatBolt {
		return name + ".ckpt.db"
	}
	return name + ".ckpt"
}

// checkReport is the JSON form of a check result.
type checkReport struct {
	Scenario string `json:"scenario"`
	oracle.Outcome
}

func newReport(name string, out oracle.Outcome) checkReport {
	return checkReport{Scenario: name, Outcome: out}
}

// writeReport atomically writes the JSON outcome to path.
func writeReport(path, name string, out oracle.Outcome) error {
	data, err := json.MarshalIndent(newReport(name, out), "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
