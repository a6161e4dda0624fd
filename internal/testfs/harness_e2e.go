//go:build e2e

package testfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/docker/docker/api/types/container"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	// baseImage is the Docker image used for E2E tests.
	baseImage = "alpine:3.21"

	// MountRoot is the tmpfs inside the container that plays the filesystem under test.
	MountRoot = "/mnt/snapshot"

	// StateDir holds checkpoint logs and phase files, outside the mount.
	StateDir = "/var/lib/fscrash"

	// Binary names and paths inside container.
	binaryName       = "fscrash"
	helperBinaryName = "testfs-helper"
	binaryPath       = "/tmp/" + binaryName
	helperBinaryPath = "/tmp/" + helperBinaryName
)

// -----------------------------------------------------------------------------
// Harness - Public API
// -----------------------------------------------------------------------------

// Harness provides E2E test infrastructure using Docker containers.
//
// Usage:
//
//	h := testfs.New(t, testfs.Tree{})
//	h.RunFscrash("setup", "generic_343")
//	h.RunFscrash("run", "generic_343")
//	h.Shell("rm " + testfs.MountRoot + "/test_dir_x/bar") // fake a lost link
//	h.RunFscrash("check", "generic_343", "--last-checkpoint", "1")
//	h.Assert(testfs.Tree{ExitCode: 3})
type Harness struct {
	t          *testing.T
	ctx        context.Context
	given      Tree
	container  *Container
	lastResult *RunResult
}

// New creates a new Harness with the given Tree sown under MountRoot.
//
// Requires FSCRASH_E2E_BINDIR env var (set by 'make test-e2e').
// The container is automatically cleaned up when the test finishes via t.Cleanup().
func New(t *testing.T, given Tree) *Harness {
	t.Helper()

	ctx := context.Background()
	h := &Harness{
		t:     t,
		ctx:   ctx,
		given: given,
	}

	cfg, hostCfg, err := buildContainerConfig()
	if err != nil {
		t.Fatalf("failed to build container config: %v", err)
	}

	c, err := NewContainer(ctx, cfg, hostCfg)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	h.container = c

	t.Cleanup(func() {
		h.Cleanup()
	})

	h.Sow(given)
	return h
}

// RunFscrash executes fscrash inside the container against MountRoot.
//
// The result (exit code, stdout, stderr) is stored for later assertion.
func (h *Harness) RunFscrash(args ...string) *RunResult {
	h.t.Helper()

	cmd := append([]string{binaryPath, "--mount", MountRoot, "--state-dir", StateDir, "--no-progress"}, args...)
	res, err := h.container.Exec(h.ctx, cmd, nil)
	if err != nil {
		h.t.Fatalf("failed to run fscrash: %v", err)
	}
	h.lastResult = res
	return res
}

// Shell runs a busybox shell command inside the container, failing the test on a non-zero exit.
func (h *Harness) Shell(script string) {
	h.t.Helper()

	res, err := h.container.Exec(h.ctx, []string{"sh", "-c", script}, nil)
	if err != nil {
		h.t.Fatalf("shell %q: %v", script, err)
	}
	if res.ExitCode != 0 {
		h.t.Fatalf("shell %q failed (exit %d): %s%s", script, res.ExitCode, res.Stdout, res.Stderr)
	}
}

// Sow creates extra entries under MountRoot using testfs-helper.
func (h *Harness) Sow(extra Tree) {
	h.t.Helper()

	specJSON, err := json.Marshal(extra)
	if err != nil {
		h.t.Fatalf("marshal spec: %v", err)
	}
	res, err := h.container.Exec(h.ctx, []string{helperBinaryPath, "sow", MountRoot}, specJSON)
	if err != nil {
		h.t.Fatalf("run sow: %v", err)
	}
	if res.ExitCode != 0 {
		h.t.Fatalf("sow failed (exit %d): %s%s", res.ExitCode, res.Stdout, res.Stderr)
	}
}

// Reap captures the tree under MountRoot using testfs-helper.
func (h *Harness) Reap() *ReapResult {
	h.t.Helper()

	res, err := h.container.Exec(h.ctx, []string{helperBinaryPath, "reap", MountRoot}, nil)
	if err != nil {
		h.t.Fatalf("run reap: %v", err)
	}
	if res.ExitCode != 0 {
		h.t.Fatalf("reap failed (exit %d): %s%s", res.ExitCode, res.Stdout, res.Stderr)
	}

	var result ReapResult
	if err := json.Unmarshal([]byte(res.Stdout), &result); err != nil {
		h.t.Fatalf("parse reap output: %v", err)
	}
	return &result
}

// Assert verifies the exit code of the last fscrash run and the tree under MountRoot.
func (h *Harness) Assert(expected Tree) {
	h.t.Helper()

	if expected.ExitCode != 0 || h.lastResult != nil {
		if h.lastResult == nil {
			h.t.Fatal("Assert called before RunFscrash")
		}
		if h.lastResult.ExitCode != expected.ExitCode {
			h.t.Errorf("exit code: got %d, want %d\nstdout: %s\nstderr: %s",
				h.lastResult.ExitCode, expected.ExitCode,
				h.lastResult.Stdout, h.lastResult.Stderr)
		}
	}

	AssertTree(h.t, expected, h.Reap())
}

// Cleanup terminates the container and releases resources.
func (h *Harness) Cleanup() {
	if h.container != nil {
		_ = h.container.Close(h.ctx)
		h.container = nil
	}
}

// -----------------------------------------------------------------------------
// Container Configuration
// -----------------------------------------------------------------------------

// buildContainerConfig creates Docker container and host configs for E2E tests.
func buildContainerConfig() (*container.Config, *container.HostConfig, error) {
	binDir := os.Getenv("FSCRASH_E2E_BINDIR")
	if binDir == "" {
		return nil, nil, fmt.Errorf("FSCRASH_E2E_BINDIR not set - run via 'make test-e2e'")
	}

	binds := []string{
		fmt.Sprintf("%s:%s:ro", filepath.Join(binDir, binaryName), binaryPath),
		fmt.Sprintf("%s:%s:ro", filepath.Join(binDir, helperBinaryName), helperBinaryPath),
	}

	cfg := &container.Config{
		Image: baseImage,
		Cmd:   []string{"sleep", "infinity"},
	}

	hostCfg := &container.HostConfig{
		Binds:      binds,
		Tmpfs:      map[string]string{MountRoot: "size=64m", StateDir: "size=8m"},
		AutoRemove: true,
	}

	return cfg, hostCfg, nil
}
