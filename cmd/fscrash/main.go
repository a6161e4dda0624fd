package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1 // Usage or internal error
	exitFailed    = 2 // Setup or run failed
	exitFinding   = 3 // Recovered state violates the checkpoint
	exitMalformed = 4 // Test is malformed or the tree could not be inspected
)

// exitCodeError carries a specific exit code. A nil err prints nothing.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

func main() {
	os.Exit(run())
}

func run() int {
	return execute(os.Args[1:], os.Stdout, os.Stderr)
}

// execute runs the command line args and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}

	var ce *exitCodeError
	if errors.As(err, &ce) {
		if ce.err != nil {
			fmt.Fprintf(stderr, "error: %v\n", ce.err)
		}
		return ce.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitError
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{
		mount:     "/mnt/snapshot",
		stateDir:  "/var/lib/fscrash",
		logFormat: "text",
	}

	root := &cobra.Command{
		Use:   "fscrash",
		Short: "Checkpoint-aware crash-consistency workloads and recovery oracle",
		Long: `Runs filesystem crash-consistency scenarios for an external crash harness.

A harness calls setup and run against the filesystem under test, injects a
power failure at some point, remounts, and calls check with the last
checkpoint the workload reached (as recorded in the checkpoint log):

  fscrash setup generic_343
  fscrash run generic_343
  # crash, remount
  fscrash check generic_343 --last-checkpoint "$(tail -n1 /var/lib/fscrash/generic_343.ckpt)"

check exits 0 when the recovered tree is consistent, 3 on a consistency
violation and 4 when the test itself is malformed.`,
		Version:       version + " (" + commit + ")",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.mount, "mount", opts.mount, "Mount root of the filesystem under test")
	flags.StringVar(&opts.stateDir, "state-dir", opts.stateDir, "Directory for checkpoint logs and phase state (outside the mount)")
	flags.StringVar(&opts.logFormat, "log-format", opts.logFormat, "Checkpoint log format: text or bolt")
	flags.StringArrayVarP(&opts.scenarioFiles, "scenario-file", "f", nil, "Load a JSONC scenario definition (repeatable)")
	flags.StringArrayVar(&opts.sets, "set", nil, "Override a scenario parameter, key=value (repeatable)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Trace every filesystem operation")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	root.AddCommand(
		newListCmd(opts),
		newSetupCmd(opts),
		newRunCmd(opts),
		newCheckCmd(opts),
		newLogCmd(opts),
		newValidateCmd(opts),
	)
	return root
}
