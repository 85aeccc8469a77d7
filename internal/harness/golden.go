package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/uowflush/internal/canonical"
)

// Snapshot captures the deterministic part of a scenario run: the flush
// plan and per-unit outcomes. Durations and seq values are left out.
type Snapshot struct {
	ScenarioName string        `json:"scenario_name"`
	OperationID  string        `json:"operation_id"`
	Plan         []PlanEntry   `json:"plan"`
	Units        []UnitOutcome `json:"units"`
	Failures     int           `json:"failures"`
	FlushError   string        `json:"flush_error,omitempty"`
}

// NewSnapshot builds the snapshot of a result.
func NewSnapshot(scenarioName string, result *Result) Snapshot {
	return Snapshot{
		ScenarioName: scenarioName,
		OperationID:  result.OperationID,
		Plan:         result.Plan,
		Units:        result.Units,
		Failures:     result.Failures,
		FlushError:   result.FlushError,
	}
}

// toCanonicalMap converts a Snapshot to the value set canonical.Marshal accepts.
func (s *Snapshot) toCanonicalMap() map[string]any {
	plan := make([]any, len(s.Plan))
	for i, p := range s.Plan {
		entry := map[string]any{
			"entry": p.Entry,
			"mode":  string(p.Mode),
			"lane":  int(p.Lane),
			"units": p.Units,
		}
		if p.Group != "" {
			entry["group"] = p.Group
		}
		plan[i] = entry
	}

	units := make([]any, len(s.Units))
	for i, u := range s.Units {
		lanes := make([]any, len(u.Lanes))
		for j, l := range u.Lanes {
			lanes[j] = int(l)
		}
		unit := map[string]any{
			"name":    u.Name,
			"flushes": u.Flushes,
			"lanes":   lanes,
		}
		if u.Error != "" {
			unit["error"] = u.Error
		}
		units[i] = unit
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"operation_id":  s.OperationID,
		"plan":          plan,
		"units":         units,
		"failures":      s.Failures,
	}
	if s.FlushError != "" {
		result["flush_error"] = s.FlushError
	}
	return result
}

// MarshalCanonical returns the snapshot as canonical JSON.
func (s *Snapshot) MarshalCanonical() ([]byte, error) {
	return canonical.Marshal(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's snapshot against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenarioName, result)
	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
