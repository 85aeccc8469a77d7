package harness

import (
	"github.com/roach88/uowflush/internal/flush"
)

// PlanEntry is one scheduled flush-set entry.
// Entries are listed in flush-set order; lanes are assigned on the caller
// in that order, so a plan is deterministic for a given scenario.
type PlanEntry struct {
	Entry int        `json:"entry"`
	Mode  flush.Mode `json:"mode"`
	Lane  flush.Lane `json:"lane"`
	Group string     `json:"group,omitempty"`
	Units []string   `json:"units"`
}

// UnitOutcome records what happened to one scenario unit.
type UnitOutcome struct {
	Name    string       `json:"name"`
	Flushes int          `json:"flushes"`
	Lanes   []flush.Lane `json:"lanes"`
	Error   string       `json:"error,omitempty"`
}

// LastLane returns the lane of the unit's last flush. ok is false if the
// unit never flushed.
func (u UnitOutcome) LastLane() (flush.Lane, bool) {
	if len(u.Lanes) == 0 {
		return flush.CallerLane, false
	}
	return u.Lanes[len(u.Lanes)-1], true
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: true if every assertion held.
	Pass bool `json:"pass"`

	// OperationID is the controller's operation id.
	OperationID string `json:"operation_id"`

	// Plan lists the flush-set entries in order.
	Plan []PlanEntry `json:"plan"`

	// Units lists per-unit outcomes in scenario order.
	Units []UnitOutcome `json:"units"`

	// FlushError is the error returned by Flush, if any.
	FlushError string `json:"flush_error,omitempty"`

	// Failures is the number of failed unit flushes.
	Failures int `json:"failures"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Plan:   []PlanEntry{},
		Units:  []UnitOutcome{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Unit returns the outcome of the named unit.
func (r *Result) Unit(name string) (UnitOutcome, bool) {
	for _, u := range r.Units {
		if u.Name == name {
			return u, true
		}
	}
	return UnitOutcome{}, false
}
