package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/uowflush/internal/canonical"
	"github.com/roach88/uowflush/internal/flush"
	"github.com/roach88/uowflush/internal/store"
	"github.com/roach88/uowflush/internal/testutil"
	"github.com/roach88/uowflush/internal/unitofwork"
)

// runConfig holds Run options.
type runConfig struct {
	store     *store.Store
	logger    *slog.Logger
	opGen     flush.OperationIDGenerator
	observers []flush.Observer
}

// Option configures Run.
type Option func(*runConfig)

// WithStore runs the scenario against st instead of a fresh in-memory store.
// The caller keeps ownership of st.
func WithStore(st *store.Store) Option {
	return func(c *runConfig) {
		c.store = st
	}
}

// WithLogger sets the controller's logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithObserver adds observers to the scenario's controller.
func WithObserver(obs ...flush.Observer) Option {
	return func(c *runConfig) {
		c.observers = append(c.observers, obs...)
	}
}

// WithOperationIDGenerator overrides the operation id source.
// Default: the scenario's fixed operation_id.
func WithOperationIDGenerator(gen flush.OperationIDGenerator) Option {
	return func(c *runConfig) {
		c.opGen = gen
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a fresh in-memory store (unless WithStore is given)
//  2. Build every unit and register it with one controller
//  3. Flush once, journaling every unit flush to the store
//  4. Evaluate assertions against the recorded outcome
//
// An error is returned only if the scenario could not be executed; a flush
// failure is part of the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := &runConfig{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		opGen:  testutil.NewFixedOperationGenerator(scenario.OperationID),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	st := cfg.store
	if st == nil {
		mem, err := store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer mem.Close()
		st = mem
	}

	ctx := context.Background()
	rec := &recorder{}
	journal := store.NewJournal(st, cfg.logger)

	ctrl := flush.NewController(
		flush.WithLogger(cfg.logger),
		flush.WithOperationID(cfg.opGen.Generate()),
		flush.WithResolver(unitofwork.NewResolver()),
		flush.WithForceSynchronousFlush(scenario.ForceSynchronous),
		flush.WithMaxAsyncWorkers(scenario.MaxAsyncWorkers),
		flush.WithObserver(rec, journal),
		flush.WithObserver(cfg.observers...),
	)

	for _, spec := range scenario.Units {
		u, err := buildUnit(st, spec)
		if err != nil {
			return nil, err
		}
		for i := 0; i < spec.Registrations(); i++ {
			if err := ctrl.Register(u); err != nil {
				return nil, fmt.Errorf("failed to register %s: %w", spec.Name, err)
			}
		}
	}

	flushErr := ctrl.Flush(ctx)

	if err := journal.Err(); err != nil {
		return nil, fmt.Errorf("failed to journal flush: %w", err)
	}

	result := rec.result(scenario, ctrl.OperationID())
	if flushErr != nil {
		result.FlushError = flushErr.Error()
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func buildUnit(st *store.Store, spec UnitSpec) (unitofwork.UnitOfWork, error) {
	cfg := unitofwork.Config{
		FlushGroup:            spec.Group,
		ForceSynchronousFlush: spec.Sync,
	}

	if len(spec.Writes) > 0 {
		b := store.NewBatch(st, spec.Name, cfg)
		for _, key := range canonical.SortedKeys(spec.Writes) {
			if err := b.Put(key, spec.Writes[key]); err != nil {
				return nil, fmt.Errorf("unit %s: %w", spec.Name, err)
			}
		}
		return b, nil
	}

	u := testutil.NewRecordingUnit(spec.Name, cfg)
	if spec.Clean {
		u.Clean()
	}
	if spec.Fail != "" {
		u.FailWith(errors.New(spec.Fail))
	}
	if spec.Panic != "" {
		u.PanicWith(spec.Panic)
	}
	return u, nil
}

// recorder is the observer collecting a run's plan and unit outcomes.
type recorder struct {
	mu       sync.Mutex
	entries  []flush.EntryEvent
	units    []flush.UnitEvent
	failures int
}

func (r *recorder) EntryScheduled(e flush.EntryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) UnitFlushed(e flush.UnitEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, e)
}

func (r *recorder) FlushCompleted(e flush.FlushEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = e.Failures
}

func (r *recorder) result(scenario *Scenario, operationID string) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := NewResult()
	result.OperationID = operationID
	result.Failures = r.failures

	for _, e := range r.entries {
		result.Plan = append(result.Plan, PlanEntry{
			Entry: e.Entry,
			Mode:  e.Mode,
			Lane:  e.Lane,
			Group: e.Group,
			Units: e.Units,
		})
	}

	events := make([]flush.UnitEvent, len(r.units))
	copy(events, r.units)
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })

	for _, spec := range scenario.Units {
		out := UnitOutcome{Name: spec.Name, Lanes: []flush.Lane{}}
		for _, e := range events {
			if e.Unit != spec.Name {
				continue
			}
			out.Flushes++
			out.Lanes = append(out.Lanes, e.Lane)
			if e.Err != nil {
				out.Error = e.Err.Error()
			}
		}
		result.Units = append(result.Units, out)
	}

	return result
}
