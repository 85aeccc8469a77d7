package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/uowflush/internal/canonical"
	"github.com/roach88/uowflush/internal/store"
)

// AssertionContext carries what store-backed assertions need.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
// It includes the flush plan to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Plan     []PlanEntry // Flush plan for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Plan) > 0 {
		fmt.Fprintf(&buf, "\nFlush plan:\n")
		for _, p := range e.Plan {
			fmt.Fprintf(&buf, "  [%d] %s on %s %v\n", p.Entry, p.Mode, p.Lane, p.Units)
		}
	}

	return buf.String()
}

// assertLane checks every listed unit flushed and whether it was on the caller.
func assertLane(result *Result, assertion Assertion, wantCaller bool) error {
	where := "the caller lane"
	if !wantCaller {
		where = "a worker lane"
	}

	for _, name := range assertion.Units {
		u, _ := result.Unit(name)
		lane, ok := u.LastLane()
		if !ok {
			return &AssertionError{
				Type:     assertion.Type,
				Expected: fmt.Sprintf("%s flushed on %s", name, where),
				Actual:   "never flushed",
				Plan:     result.Plan,
			}
		}
		if lane.IsCaller() != wantCaller {
			return &AssertionError{
				Type:     assertion.Type,
				Expected: fmt.Sprintf("%s flushed on %s", name, where),
				Actual:   fmt.Sprintf("flushed on %s", lane),
				Plan:     result.Plan,
			}
		}
	}
	return nil
}

// assertSameLane checks every listed unit flushed on one lane.
func assertSameLane(result *Result, assertion Assertion) error {
	lanes := make([]string, 0, len(assertion.Units))
	first := ""
	mismatch := false

	for _, name := range assertion.Units {
		u, _ := result.Unit(name)
		lane, ok := u.LastLane()
		if !ok {
			return &AssertionError{
				Type:     AssertSameLane,
				Expected: fmt.Sprintf("units %v on one lane", assertion.Units),
				Actual:   fmt.Sprintf("%s never flushed", name),
				Plan:     result.Plan,
			}
		}
		lanes = append(lanes, fmt.Sprintf("%s=%s", name, lane))
		if first == "" {
			first = lane.String()
		} else if lane.String() != first {
			mismatch = true
		}
	}

	if mismatch {
		return &AssertionError{
			Type:     AssertSameLane,
			Expected: fmt.Sprintf("units %v on one lane", assertion.Units),
			Actual:   strings.Join(lanes, ", "),
			Plan:     result.Plan,
		}
	}
	return nil
}

// assertFlushCount checks the unit flushed exactly Count times.
func assertFlushCount(result *Result, assertion Assertion) error {
	u, _ := result.Unit(assertion.Unit)
	if u.Flushes != assertion.Count {
		return &AssertionError{
			Type:     AssertFlushCount,
			Expected: fmt.Sprintf("%s flushed %d time(s)", assertion.Unit, assertion.Count),
			Actual:   fmt.Sprintf("flushed %d time(s)", u.Flushes),
			Plan:     result.Plan,
		}
	}
	return nil
}

// assertNotFlushed checks none of the listed units flushed.
func assertNotFlushed(result *Result, assertion Assertion) error {
	for _, name := range assertion.Units {
		u, _ := result.Unit(name)
		if u.Flushes > 0 {
			return &AssertionError{
				Type:     AssertNotFlushed,
				Expected: fmt.Sprintf("%s not flushed", name),
				Actual:   fmt.Sprintf("flushed %d time(s)", u.Flushes),
				Plan:     result.Plan,
			}
		}
	}
	return nil
}

// assertFlushError checks Flush failed, optionally with a substring and a
// number of failed units.
func assertFlushError(result *Result, assertion Assertion) error {
	if result.FlushError == "" {
		return &AssertionError{
			Type:     AssertFlushError,
			Expected: "flush error",
			Actual:   "flush succeeded",
			Plan:     result.Plan,
		}
	}
	if assertion.Contains != "" && !strings.Contains(result.FlushError, assertion.Contains) {
		return &AssertionError{
			Type:     AssertFlushError,
			Expected: fmt.Sprintf("error containing %q", assertion.Contains),
			Actual:   result.FlushError,
			Plan:     result.Plan,
		}
	}
	if assertion.Count > 0 && result.Failures != assertion.Count {
		return &AssertionError{
			Type:     AssertFlushError,
			Expected: fmt.Sprintf("%d failed unit(s)", assertion.Count),
			Actual:   fmt.Sprintf("%d failed unit(s)", result.Failures),
			Plan:     result.Plan,
		}
	}
	return nil
}

func assertFlushSucceeds(result *Result) error {
	if result.FlushError != "" {
		return &AssertionError{
			Type:     AssertFlushSucceeds,
			Expected: "flush succeeded",
			Actual:   result.FlushError,
			Plan:     result.Plan,
		}
	}
	return nil
}

// assertStored checks the kv value at Key, comparing canonical JSON.
func assertStored(ctx context.Context, st *store.Store, assertion Assertion) error {
	got, ok, err := st.Get(ctx, assertion.Key)
	if err != nil {
		return fmt.Errorf("stored assertion failed: %w", err)
	}

	if assertion.Value == nil {
		if ok {
			return &AssertionError{
				Type:     AssertStored,
				Expected: fmt.Sprintf("%s absent", assertion.Key),
				Actual:   got,
			}
		}
		return nil
	}

	want, err := canonical.Marshal(assertion.Value)
	if err != nil {
		return fmt.Errorf("stored assertion failed: expected value: %w", err)
	}
	if !ok {
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("%s = %s", assertion.Key, want),
			Actual:   "absent",
		}
	}
	if got != string(want) {
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("%s = %s", assertion.Key, want),
			Actual:   got,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertOnCaller:
			err = assertLane(result, assertion, true)
		case AssertOffCaller:
			err = assertLane(result, assertion, false)
		case AssertSameLane:
			err = assertSameLane(result, assertion)
		case AssertFlushCount:
			err = assertFlushCount(result, assertion)
		case AssertNotFlushed:
			err = assertNotFlushed(result, assertion)
		case AssertFlushError:
			err = assertFlushError(result, assertion)
		case AssertFlushSucceeds:
			err = assertFlushSucceeds(result)
		case AssertStored:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: stored requires database context", i)
			} else {
				err = assertStored(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
