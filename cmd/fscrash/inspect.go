package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivoronin/fscrash/internal/checkpoint"
	"github.com/ivoronin/fscrash/internal/selftest"
	"github.com/ivoronin/fscrash/internal/workload"
)

// newListCmd creates the list subcommand.
func newListCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := g.registry()
			if err != nil {
				return err
			}
			params, err := g.params()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, name := range reg.Names() {
				sc, err := reg.New(name, params)
				if err != nil {
					return err
				}
				def, ok := sc.(*workload.Definition)
				if !ok {
					fmt.Fprintf(w, "%-24s %s\n", name, sc.Description())
					continue
				}
				size, err := def.SetupSteps.Bytes()
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				fmt.Fprintf(w, "%-24s %d checkpoints, %s written in setup  %s\n",
					name, def.RunSteps.Checkpoints(), humanize.IBytes(uint64(size)), def.Description())
			}
			return nil
		},
	}
}

// newLogCmd creates the log subcommand.
func newLogCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log <scenario>",
		Short: "Replay the checkpoint log of the last run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			indices, err := checkpoint.Replay(g.logPath(args[0], format), format)
			if err != nil {
				return &exitCodeError{code: exitMalformed, err: err}
			}
			for _, idx := range indices {
				fmt.Fprintln(cmd.OutOrStdout(), idx)
			}
			return nil
		},
	}
}

// newValidateCmd creates the validate subcommand.
func newValidateCmd(g *globalOptions) *cobra.Command {
	var scratch string

	cmd := &cobra.Command{
		Use:   "validate [scenario...]",
		Short: "Check that scenarios satisfy their own expectations without a crash",
		Long: `Runs every scenario on a scratch directory with no crash: the full run
must pass its last checkpoint, and a run halted after each earlier checkpoint
k must pass checkpoint k. All registered scenarios are validated when none
are named.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := g.registry()
			if err != nil {
				return err
			}
			params, err := g.params()
			if err != nil {
				return err
			}
			format, err := g.format()
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = reg.Names()
			}

			dir, err := os.MkdirTemp(scratch, "fscrash-validate-")
			if err != nil {
				return fmt.Errorf("create scratch dir: %w", err)
			}
			defer func() { _ = os.RemoveAll(dir) }()

			opts := selftest.Options{Params: params, ScratchDir: dir, LogFormat: format}
			if !g.noProgress {
				opts.Progress = cmd.ErrOrStderr()
			}
			if g.verbose {
				opts.Trace = cmd.OutOrStdout()
			}

			failed := 0
			for _, rep := range selftest.Validate(reg, names, opts) {
				status := "ok"
				if !rep.Passed() {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-4s %s (%d checkpoints)\n", status, rep.Scenario, rep.Checkpoints)
				for _, run := range rep.Runs {
					if !run.Passed() {
						fmt.Fprintf(cmd.OutOrStdout(), "     %v\n", run)
					}
				}
			}
			if failed > 0 {
				return &exitCodeError{code: exitMalformed, err: fmt.Errorf("%d of %d scenarios failed validation", failed, len(names))}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scratch, "scratch-dir", "", "Parent directory for scratch roots (default: system temp dir)")
	return cmd
}
