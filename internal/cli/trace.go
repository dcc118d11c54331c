package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/modux/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	Run        string
	Namespace  string
	Type       string
	NoReserved bool
	Limit      int
	ListRuns   bool
}

// RunList is the output of trace --runs.
type RunList struct {
	Runs []RunSummary `json:"runs"`
}

// RunSummary describes one journaled run.
type RunSummary struct {
	Run     string `json:"run"`
	LastSeq int64  `json:"last_seq"`
}

// TraceEvent is one journaled action in the trace timeline.
type TraceEvent struct {
	Run       string `json:"run"`
	Seq       int64  `json:"seq"`
	Token     string `json:"token"`
	Type      string `json:"type"`
	Namespace string `json:"namespace,omitempty"`
	Action    string `json:"action,omitempty"`
	Reserved  bool   `json:"reserved,omitempty"`
	Payload   string `json:"payload"`
	StateHash string `json:"state_hash"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Runs     []string     `json:"runs"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Reserved    int `json:"reserved"`
	Namespaces  int `json:"namespaces"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the action journal",
		Long: `Query the SQLite action journal written by the run command or by an
engine configured with a journal.

Shows the journaled actions in order with their dispatch token, canonical
payload and the hash of the root state after the action.

Examples:
  modux trace --db ./modux.db
  modux trace --db ./modux.db --runs
  modux trace --db ./modux.db --run baseline --namespace app/todos
  modux trace --db ./modux.db --type @@modux/register --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Database == "" {
				opts.Database = rootOpts.config().Journal.DB
			}
			if opts.Database == "" {
				return NewExitError(ExitCommandError, "--db is required (or set [journal] db in "+DefaultConfigFile+")")
			}
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal")
	cmd.Flags().StringVar(&opts.Run, "run", "", "only this run id")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "only actions routed to this namespace")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only actions of this type")
	cmd.Flags().BoolVar(&opts.NoReserved, "no-reserved", false, "hide register/unregister/reload/hydrate actions")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of actions (0 = all)")
	cmd.Flags().BoolVar(&opts.ListRuns, "runs", false, "list the journaled runs instead of actions")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	if opts.ListRuns {
		return listRuns(ctx, j, formatter)
	}

	entries, err := j.Entries(ctx, journal.Filter{
		Run:             opts.Run,
		Namespace:       opts.Namespace,
		Type:            opts.Type,
		ExcludeReserved: opts.NoReserved,
		Limit:           opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := buildTrace(entries)

	if formatter.JSON() {
		return formatter.Success(result)
	}
	if len(result.Timeline) == 0 {
		fmt.Fprintln(formatter.Writer, "No actions found.")
		return nil
	}
	writeTraceText(formatter.Writer, result, formatter.Verbose)
	return nil
}

func listRuns(ctx context.Context, j *journal.Journal, formatter *OutputFormatter) error {
	runs, err := j.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	list := RunList{Runs: make([]RunSummary, 0, len(runs))}
	for _, run := range runs {
		last, err := j.LastSeq(ctx, run)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		list.Runs = append(list.Runs, RunSummary{Run: run, LastSeq: last})
	}

	if formatter.JSON() {
		return formatter.Success(list)
	}
	if len(list.Runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs found.")
		return nil
	}
	for _, r := range list.Runs {
		fmt.Fprintf(formatter.Writer, "%s  (last seq %d)\n", r.Run, r.LastSeq)
	}
	return nil
}

// buildTrace converts journal entries to the timeline and its stats.
func buildTrace(entries []journal.Entry) TraceResult {
	result := TraceResult{Runs: []string{}, Timeline: make([]TraceEvent, 0, len(entries))}
	seenRuns := make(map[string]bool)
	namespaces := make(map[string]bool)

	for _, e := range entries {
		if !seenRuns[e.Run] {
			seenRuns[e.Run] = true
			result.Runs = append(result.Runs, e.Run)
		}
		if e.Reserved {
			result.Stats.Reserved++
		} else if e.Namespace != "" {
			namespaces[e.Namespace] = true
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Run:       e.Run,
			Seq:       e.Seq,
			Token:     e.Token,
			Type:      e.Type,
			Namespace: e.Namespace,
			Action:    e.ActionName,
			Reserved:  e.Reserved,
			Payload:   e.Payload,
			StateHash: e.StateHash,
		})
	}
	result.Stats.TotalEvents = len(result.Timeline)
	result.Stats.Namespaces = len(namespaces)
	return result
}

// writeTraceText outputs the trace result as text, one section per run.
func writeTraceText(w io.Writer, result TraceResult, verbose bool) {
	current := ""
	for _, ev := range result.Timeline {
		if ev.Run != current {
			if current != "" {
				fmt.Fprintln(w)
			}
			current = ev.Run
			fmt.Fprintf(w, "=== Run %s ===\n", current)
		}
		fmt.Fprintf(w, "  [%d] %s %s\n", ev.Seq, ev.Type, truncatePayload(ev.Payload, verbose))
		if verbose {
			fmt.Fprintf(w, "       token: %s  state: %s\n", ev.Token, truncateID(ev.StateHash))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Runs:       %d\n", len(result.Runs))
	fmt.Fprintf(w, "  Actions:    %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Reserved:   %d\n", result.Stats.Reserved)
	fmt.Fprintf(w, "  Namespaces: %d\n", result.Stats.Namespaces)
}

// truncatePayload shortens long payloads unless verbose.
func truncatePayload(payload string, verbose bool) string {
	const width = 72
	if verbose || len(payload) <= width {
		return payload
	}
	return payload[:width-3] + "..."
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
