package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/uowflush/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	OperationID string // optional - without it, operations are listed
	Unit        string // optional - filter to one unit
}

// TraceResult holds the journal timeline of one operation.
type TraceResult struct {
	OperationID string               `json:"operation_id"`
	Timeline    []store.JournalEntry `json:"timeline"`
	Stats       TraceStats           `json:"stats"`
}

// TraceStats holds summary statistics for a trace.
type TraceStats struct {
	UnitFlushes int           `json:"unit_flushes"`
	Failures    int           `json:"failures"`
	Entries     int           `json:"entries"`
	Lanes       int           `json:"lanes"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the flush journal",
		Long: `Inspect journaled flush operations.

Without --operation, lists every operation in the journal with its unit
and failure counts. With --operation, shows the timeline of unit flushes
for that operation in the order they were recorded.

Examples:
  uowflush trace --db ./flush.db
  uowflush trace --db ./flush.db --operation 0192f0c4-...
  uowflush trace --db ./flush.db --operation 0192f0c4-... --unit orders
  uowflush trace --db ./flush.db --operation 0192f0c4-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.OperationID, "operation", "", "operation id to trace")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "filter to a specific unit name")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening would create an empty database; a missing file is a usage error.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	out := newFormatter(opts.RootOptions, cmd)

	if opts.OperationID == "" {
		ops, err := st.ListOperations(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list operations", err)
		}
		if out.IsJSON() {
			return out.Success(ops)
		}
		printOperations(out.Writer, ops)
		return nil
	}

	var entries []store.JournalEntry
	if opts.Unit != "" {
		entries, err = st.ReadUnitJournal(ctx, opts.OperationID, opts.Unit)
	} else {
		entries, err = st.ReadJournal(ctx, opts.OperationID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := buildTrace(opts.OperationID, entries, opts.Unit)
	if out.IsJSON() {
		return out.Success(result)
	}
	printTrace(out.Writer, result, opts)
	return nil
}

// buildTrace filters entries by unit and computes stats over what remains.
func buildTrace(operationID string, entries []store.JournalEntry, unit string) TraceResult {
	timeline := make([]store.JournalEntry, 0, len(entries))
	for _, e := range entries {
		if unit != "" && e.Unit != unit {
			continue
		}
		timeline = append(timeline, e)
	}

	stats := TraceStats{UnitFlushes: len(timeline)}
	entrySet := make(map[int]struct{})
	laneSet := make(map[int]struct{})
	for _, e := range timeline {
		if e.Failed() {
			stats.Failures++
		}
		entrySet[e.Entry] = struct{}{}
		laneSet[int(e.Lane)] = struct{}{}
		stats.Elapsed += e.Duration
	}
	stats.Entries = len(entrySet)
	stats.Lanes = len(laneSet)

	return TraceResult{OperationID: operationID, Timeline: timeline, Stats: stats}
}

func printOperations(w io.Writer, ops []store.OperationSummary) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations found.")
		return
	}
	fmt.Fprintf(w, "Operations (%d):\n", len(ops))
	for _, op := range ops {
		fmt.Fprintf(w, "  %s  units=%d failures=%d\n", op.OperationID, op.Units, op.Failures)
	}
}

func printTrace(w io.Writer, result TraceResult, opts *TraceOptions) {
	if len(result.Timeline) == 0 {
		fmt.Fprintf(w, "No journal entries found for operation: %s\n", result.OperationID)
		return
	}

	fmt.Fprintf(w, "Operation: %s\n", result.OperationID)
	if opts.Unit != "" {
		fmt.Fprintf(w, "Unit filter: %s\n", opts.Unit)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Timeline:")
	for _, e := range result.Timeline {
		status := "ok"
		if e.Failed() {
			status = "FAILED: " + e.Error
		}
		group := ""
		if e.Group != "" {
			group = " group=" + e.Group
		}
		fmt.Fprintf(w, "  [%d] entry=%d %s on %s%s %s %s\n", e.Seq, e.Entry, e.Mode, e.Lane, group, e.Unit, status)
		if opts.Verbose {
			fmt.Fprintf(w, "      took %s\n", e.Duration)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Stats:")
	fmt.Fprintf(w, "  Unit flushes: %d\n", result.Stats.UnitFlushes)
	fmt.Fprintf(w, "  Failures: %d\n", result.Stats.Failures)
	fmt.Fprintf(w, "  Entries: %d\n", result.Stats.Entries)
	fmt.Fprintf(w, "  Lanes: %d\n", result.Stats.Lanes)
}
