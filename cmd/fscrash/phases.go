package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ivoronin/fscrash/internal/lifecycle"
	"github.com/ivoronin/fscrash/internal/oracle"
	"github.com/ivoronin/fscrash/internal/scenario"
)

// newSetupCmd creates the setup subcommand.
func newSetupCmd(g *globalOptions) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "setup <scenario>",
		Short: "Build the scenario's initial state and make it durable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := g.testCase(args[0], cmd.OutOrStdout(), func(o *lifecycle.Options) {
				o.Fresh = reset
			})
			if err != nil {
				return err
			}
			return reportPhase(cmd, "setup", args[0], tc.Setup(), "")
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Discard state left by a previous test case")
	return cmd
}

// newRunCmd creates the run subcommand.
func newRunCmd(g *globalOptions) *cobra.Command {
	var haltAfter uint

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Perform the workload, recording checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := g.testCase(args[0], cmd.OutOrStdout(), func(o *lifecycle.Options) {
				o.HaltAfter = haltAfter
			})
			if err != nil {
				return err
			}
			err = tc.Run()
			return reportPhase(cmd, "run", args[0], err, fmt.Sprintf(", %d checkpoints", tc.Checkpoints()))
		},
	}

	cmd.Flags().UintVar(&haltAfter, "halt-after", 0, "Stop the workload right after this checkpoint")
	return cmd
}

// reportPhase prints the harness status of a phase and maps failures to exitFailed.
func reportPhase(cmd *cobra.Command, phase, name string, err error, extra string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: status %d%s\n", phase, name, scenario.Status(err), extra)
	if err != nil {
		return &exitCodeError{code: exitFailed, err: err}
	}
	return nil
}

// checkOptions holds CLI flags for the check command.
type checkOptions struct {
	lastCheckpoint string
	json           bool
	report         string
}

// newCheckCmd creates the check subcommand.
func newCheckCmd(g *globalOptions) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check <scenario>",
		Short: "Judge the recovered tree against the last reached checkpoint",
		Long: `Inspects the remounted filesystem and classifies it against the
expectation of the last checkpoint reached before the crash.

Exit status: 0 pass, 3 consistency violation, 4 malformed test or
unreadable tree.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, g, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.lastCheckpoint, "last-checkpoint", "c", "", "Last checkpoint index reached before the crash")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the outcome as JSON")
	cmd.Flags().StringVar(&opts.report, "report", "", "Also write the JSON outcome to this file")
	_ = cmd.MarkFlagRequired("last-checkpoint")
	return cmd
}

func runCheck(cmd *cobra.Command, g *globalOptions, name string, opts *checkOptions) error {
	last, err := parseLastCheckpoint(opts.lastCheckpoint)
	if err != nil {
		return fmt.Errorf("invalid --last-checkpoint: %w", err)
	}

	tc, err := g.testCase(name, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	out, err := tc.Check(last)
	if err != nil {
		return err
	}

	if opts.report != "" {
		if err := writeReport(opts.report, name, out); err != nil {
			return err
		}
	}
	if opts.json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(newReport(name, out)); err != nil {
			return err
		}
	} else {
		printOutcome(cmd, name, out)
	}

	switch out.Class {
	case oracle.ClassPass:
		return nil
	case oracle.ClassDataLoss:
		return &exitCodeError{code: exitFinding}
	default:
		return &exitCodeError{code: exitMalformed}
	}
}

func printOutcome(cmd *cobra.Command, name string, out oracle.Outcome) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "check %s at checkpoint %d: %v\n", name, out.Checkpoint, out)
	if len(out.Findings) > 1 {
		for _, f := range out.Findings {
			fmt.Fprintf(w, "  %s: %v\n", f.Kind, f)
		}
	}
}
