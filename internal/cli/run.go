package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/modux/internal/harness"
	"github.com/roach88/modux/internal/journal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Run      string
}

// RunResult is the output of the run command.
type RunResult struct {
	Run       string   `json:"run"`
	Scenario  string   `json:"scenario"`
	Pass      bool     `json:"pass"`
	Actions   int      `json:"actions"`
	StateHash string   `json:"state_hash"`
	Errors    []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run one scenario into a journal",
		Long: `Run one scenario and keep its trace in a SQLite journal.

The database is created if it doesn't exist. Each run is stored under its
own run id (default: <scenario name>@<uuid>) so repeated runs can be
compared with the trace command.

Example:
  modux run --db ./modux.db ./scenarios/counter.yaml
  modux run --db ./modux.db --run baseline ./scenarios/counter.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Database == "" {
				opts.Database = rootOpts.config().Journal.DB
			}
			if opts.Database == "" {
				return NewExitError(ExitCommandError, "--db is required (or set [journal] db in "+DefaultConfigFile+")")
			}
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run id (default <scenario>@<uuid>)")

	return cmd
}

func runScenario(opts *RunOptions, scenarioFile string, cmd *cobra.Command) error {
	logger := opts.logger()
	formatter := opts.formatter(cmd)

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	logger.Info("opening journal", "path", opts.Database)
	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if closeErr := j.Close(); closeErr != nil {
			logger.Error("error closing journal", "error", closeErr)
		}
	}()

	run := opts.Run
	if run == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to generate run id", err)
		}
		run = scenario.Name + "@" + id.String()
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("running scenario", "scenario", scenario.Name, "run", run)
	result, err := harness.RunWith(ctx, scenario, harness.Options{
		Journal: j,
		Run:     run,
		Logger:  logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	out := RunResult{
		Run:       run,
		Scenario:  scenario.Name,
		Pass:      result.Pass,
		Actions:   len(result.Trace),
		StateHash: result.StateHash,
		Errors:    result.Errors,
	}

	if formatter.JSON() {
		if out.Pass {
			return formatter.Success(out)
		}
		if err := formatter.Failure("E_RUN_FAILED", "scenario failed", out); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "scenario failed")
	}

	w := formatter.Writer
	status := "PASS"
	if !out.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(w, "%s %s\n", status, out.Scenario)
	fmt.Fprintf(w, "  run:        %s\n", out.Run)
	fmt.Fprintf(w, "  actions:    %d\n", out.Actions)
	fmt.Fprintf(w, "  state hash: %s\n", out.StateHash)
	for _, e := range out.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if !out.Pass {
		return NewExitError(ExitFailure, "scenario failed")
	}
	return nil
}
