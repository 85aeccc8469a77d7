package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/uowflush/internal/flush"
	"github.com/roach88/uowflush/internal/harness"
	"github.com/roach88/uowflush/internal/store"
	"github.com/roach88/uowflush/internal/testutil"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Metrics  bool

	// OperationGenerator allows overriding the operation id generator (for
	// testing). If nil, the scenario's operation_id is used when set,
	// otherwise UUIDv7Generator.
	OperationGenerator flush.OperationIDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Scenario string          `json:"scenario"`
	Database string          `json:"database"`
	Result   *harness.Result `json:"result"`
	Metrics  []MetricSample  `json:"metrics,omitempty"`
}

// MetricSample is one counter value gathered after a run.
type MetricSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Flush a scenario against a database",
		Long: `Run one flush scenario against a SQLite database.

Every unit flush is journaled to the database under the operation id, so
the run can be inspected afterwards with "uowflush trace". The database is
created if it does not exist.

Example:
  uowflush run --db ./flush.db ./scenarios/batch_writes.yaml
  uowflush run --db ./flush.db ./scenario.yaml --metrics --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print flush counters after the run")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	logger.Debug("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// The journal ignores rows it already holds, so a reused id would hide
	// this run from trace.
	operationID := operationGenerator(opts, scenario).Generate()
	exists, err := st.HasOperation(ctx, operationID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to check journal", err)
	}
	if exists {
		return NewExitError(ExitCommandError, fmt.Sprintf(
			"operation %s is already journaled in %s; set a new operation_id or remove it to use a generated one",
			operationID, opts.Database))
	}

	reg := prometheus.NewRegistry()
	result, err := harness.Run(scenario,
		harness.WithStore(st),
		harness.WithLogger(logger),
		harness.WithObserver(flush.NewMetrics(reg)),
		harness.WithOperationIDGenerator(testutil.NewFixedOperationGenerator(operationID)),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}
	logger.Info("scenario flushed", "scenario", scenario.Name, "operation_id", result.OperationID, "failures", result.Failures)

	var samples []MetricSample
	if opts.Metrics {
		samples, err = gatherCounters(reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
	}

	out := newFormatter(opts.RootOptions, cmd)
	if out.IsJSON() {
		payload := RunOutput{Scenario: scenario.Name, Database: opts.Database, Result: result, Metrics: samples}
		if result.Pass {
			err = out.Success(payload)
		} else {
			err = out.Failure("E_SCENARIO_FAILED", fmt.Sprintf("scenario %s failed", scenario.Name), payload)
		}
		if err != nil {
			return err
		}
	} else {
		printRunText(out.Writer, scenario, result, samples)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func operationGenerator(opts *RunOptions, scenario *harness.Scenario) flush.OperationIDGenerator {
	switch {
	case opts.OperationGenerator != nil:
		return opts.OperationGenerator
	case scenario.OperationID != "":
		return testutil.NewFixedOperationGenerator(scenario.OperationID)
	default:
		return flush.UUIDv7Generator{}
	}
}

// gatherCounters flattens every counter in reg, sorted by name then labels.
func gatherCounters(reg *prometheus.Registry) ([]MetricSample, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}

	var samples []MetricSample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			c := m.GetCounter()
			if c == nil {
				continue
			}
			s := MetricSample{Name: mf.GetName(), Value: c.GetValue()}
			if pairs := m.GetLabel(); len(pairs) > 0 {
				s.Labels = make(map[string]string, len(pairs))
				for _, lp := range pairs {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			samples = append(samples, s)
		}
	}
	return samples, nil
}

func printRunText(w io.Writer, scenario *harness.Scenario, result *harness.Result, samples []MetricSample) {
	fmt.Fprintf(w, "Scenario: %s\n", scenario.Name)
	fmt.Fprintf(w, "Operation: %s\n", result.OperationID)

	fmt.Fprintln(w, "Plan:")
	for _, p := range result.Plan {
		group := ""
		if p.Group != "" {
			group = " group=" + p.Group
		}
		fmt.Fprintf(w, "  [%d] %s on %s%s: %s\n", p.Entry, p.Mode, p.Lane, group, strings.Join(p.Units, ", "))
	}

	fmt.Fprintln(w, "Units:")
	for _, u := range result.Units {
		lanes := make([]string, len(u.Lanes))
		for i, l := range u.Lanes {
			lanes[i] = l.String()
		}
		line := fmt.Sprintf("  %s: %d flush(es) [%s]", u.Name, u.Flushes, strings.Join(lanes, ", "))
		if u.Error != "" {
			line += " error: " + u.Error
		}
		fmt.Fprintln(w, line)
	}

	if result.FlushError != "" {
		fmt.Fprintf(w, "Flush error: %s\n", result.FlushError)
	}

	if len(samples) > 0 {
		fmt.Fprintln(w, "Metrics:")
		for _, s := range samples {
			fmt.Fprintf(w, "  %s%s %g\n", s.Name, formatLabels(s.Labels), s.Value)
		}
	}

	if result.Pass {
		fmt.Fprintln(w, "✓ All assertions passed")
		return
	}
	fmt.Fprintln(w, "✗ Assertions failed:")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
