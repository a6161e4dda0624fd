//go:build linux

// testfs-helper is a binary helper for E2E tests that runs inside containers.
//
// It provides two modes for filesystem operations:
//
//	testfs-helper sow <root>   - Create tree from JSON spec (stdin)
//	testfs-helper reap <root>  - Capture tree state as JSON (stdout)
//
// This is a thin wrapper around the testfs package functions.
package main

import (
	"fmt"
	"os"

	"github.com/ivoronin/fscrash/internal/testfs"
)

func main() {
	if len(os.Args) != 3 {
		fatalf("usage: testfs-helper <sow|reap> <root>")
	}

	root := os.Args[2]
	switch os.Args[1] {
	case "sow":
		if err := testfs.SowFromReader(os.Stdin, root); err != nil {
			fatalf("sow: %v", err)
		}
	case "reap":
		if err := testfs.ReapToWriter(os.Stdout, root); err != nil {
			fatalf("reap: %v", err)
		}
	default:
		fatalf("unknown command: %s (use 'sow' or 'reap')", os.Args[1])
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "testfs-helper: "+format+"\n", args...)
	os.Exit(1)
}
