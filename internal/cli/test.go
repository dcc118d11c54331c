package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/modux/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test [scenarios-dir]",
		Short: "Run scenario files",
		Long: `Run every YAML scenario under a directory.

Each scenario loads its model manifests, drives a fresh engine through its
steps and checks its assertions. When a golden file exists for the scenario
the journaled trace must also match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  modux test ./scenarios
  modux test ./scenarios --filter "todos*"
  modux test ./scenarios --update
  modux test ./scenarios --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.config()
			dir, err := pathArg(args, cfg.Test.Scenarios, "scenarios directory")
			if err != nil {
				return err
			}
			if opts.GoldenDir == "" {
				opts.GoldenDir = cfg.Test.Golden
			}
			return runTests(opts, dir, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (default <scenarios-dir>/golden)")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	formatter := opts.formatter(cmd)
	result, err := harness.RunSuite(cmd.Context(), scenariosDir, harness.SuiteOptions{
		Filter:    opts.Filter,
		GoldenDir: opts.GoldenDir,
		Update:    opts.Update,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if result.Total == 0 {
		if formatter.JSON() {
			return formatter.Success(result)
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	if formatter.JSON() {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter, result)
}

// outputTestJSON outputs the suite result as JSON.
func outputTestJSON(formatter *OutputFormatter, result *harness.SuiteResult) error {
	if result.Failed == 0 {
		return formatter.Success(result)
	}

	msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if err := formatter.Failure("E_TEST_FAILED", msg, result); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

// outputTestText outputs the suite result as text.
func outputTestText(formatter *OutputFormatter, result *harness.SuiteResult) error {
	w := formatter.Writer

	for _, s := range result.Scenarios {
		status := "PASS"
		if !s.Pass {
			status = "FAIL"
		}
		switch s.Golden {
		case harness.GoldenMatched, harness.GoldenMismatch, harness.GoldenUpdated:
			fmt.Fprintf(w, "%s %s (golden %s)\n", status, s.Name, s.Golden)
		default:
			fmt.Fprintf(w, "%s %s\n", status, s.Name)
		}
		if formatter.Verbose {
			fmt.Fprintf(w, "  file: %s\n", s.File)
		}
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		if s.Golden == harness.GoldenMismatch {
			fmt.Fprintln(w, "  run with --update to regenerate")
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "All scenarios passed")
	return nil
}
