package flush

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/uowflush/internal/unitofwork"
)

type state int

const (
	stateCollecting state = iota
	stateFlushed
)

// Controller registers the units of work of one logical operation and
// flushes them.
//
// Lifecycle: collecting -> flushed. A controller is used for exactly one
// operation; after Flush, Register and Flush return ErrCodeAlreadyFlushed.
//
// Thread-safety model:
//   - Register(), SetForceSynchronousFlush(), Flush(): single caller only
//   - Units may be flushed on worker goroutines during Flush()
type Controller struct {
	ledger []Wrapper // top-level wrappers in registration order
	state  state

	operationID     string
	forceSync       bool
	maxAsyncWorkers int

	resolver  *unitofwork.Resolver
	logger    *slog.Logger
	observers []Observer
	clock     *Clock
}

// Option configures a Controller.
type Option func(*Controller)

// WithForceSynchronousFlush runs every entry on the caller's lane.
func WithForceSynchronousFlush(force bool) Option {
	return func(c *Controller) {
		c.forceSync = force
	}
}

// WithResolver sets the resolver used by Register.
// Default: unitofwork.Default().
func WithResolver(r *unitofwork.Resolver) Option {
	return func(c *Controller) {
		c.resolver = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithObserver adds observers notified during Flush.
func WithObserver(obs ...Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, obs...)
	}
}

// WithMaxAsyncWorkers bounds the number of concurrently running worker
// lanes. Zero or negative means unbounded (the default).
func WithMaxAsyncWorkers(n int) Option {
	return func(c *Controller) {
		c.maxAsyncWorkers = n
	}
}

// WithOperationID sets the operation id reported in events and errors.
// Default: a fresh UUIDv7.
func WithOperationID(id string) Option {
	return func(c *Controller) {
		c.operationID = id
	}
}

// NewController creates a controller in the collecting state.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		resolver: unitofwork.Default(),
		logger:   slog.Default(),
		clock:    NewClock(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.operationID == "" {
		c.operationID = UUIDv7Generator{}.Generate()
	}
	return c
}

// OperationID returns the id of the operation this controller serves.
func (c *Controller) OperationID() string {
	return c.operationID
}

// SetForceSynchronousFlush overrides the force-sync option before Flush.
func (c *Controller) SetForceSynchronousFlush(force bool) {
	c.forceSync = force
}

// ForceSynchronousFlush reports whether every entry will run on the caller's lane.
func (c *Controller) ForceSynchronousFlush() bool {
	return c.forceSync
}

// Len returns the number of top-level wrappers in the ledger.
func (c *Controller) Len() int {
	return len(c.ledger)
}

// Register adds u using its resolved flush configuration.
//
// Returns an ErrCodeInvalidArgument error if u is nil or a typed nil.
func (c *Controller) Register(u unitofwork.UnitOfWork) error {
	if unitofwork.IsNil(u) {
		return newNilUnitError(c.operationID)
	}
	return c.RegisterWithConfig(u, c.resolver.Resolve(u))
}

// RegisterWithConfig adds u with an explicitly supplied configuration.
//
// A unit already in the ledger is ignored. Otherwise the first top-level
// wrapper that accepts the merge absorbs it; failing that, it is appended.
func (c *Controller) RegisterWithConfig(u unitofwork.UnitOfWork, cfg unitofwork.Config) error {
	if unitofwork.IsNil(u) {
		return newNilUnitError(c.operationID)
	}
	if c.state == stateFlushed {
		return newAlreadyFlushedError(c.operationID, "register")
	}

	item := NewItem(u, cfg)

	for _, w := range c.ledger {
		if w.WrapsSameUnitOfWorkAs(item) {
			c.logger.Debug("unit already registered",
				"operation", c.operationID,
				"unit", item.Name(),
			)
			return nil
		}
	}

	for idx, w := range c.ledger {
		if group, ok := w.TryMergeWith(item); ok {
			c.ledger[idx] = group
			c.logger.Debug("unit merged into flush group",
				"operation", c.operationID,
				"unit", item.Name(),
				"group", group.Group(),
				"members", group.Len(),
			)
			return nil
		}
	}

	c.ledger = append(c.ledger, item)
	c.logger.Debug("unit registered",
		"operation", c.operationID,
		"unit", item.Name(),
		"group", item.Group(),
		"async", item.CanBeFlushedAsynchronously(),
	)
	return nil
}

// Flush computes the flush set and flushes it, returning once every entry
// has finished. All failures are combined with multierr in flush-set order.
//
// The ctx is handed to each unit's Flush; the controller itself never
// cancels scheduled work.
func (c *Controller) Flush(ctx context.Context) error {
	if c.state == stateFlushed {
		return newAlreadyFlushedError(c.operationID, "flush")
	}
	c.state = stateFlushed

	start := time.Now()
	ledger := c.ledger
	c.ledger = nil

	var flushSet []Wrapper
	for _, w := range ledger {
		flushSet = w.CollectUnitsThatRequireFlush(flushSet)
	}

	allSync := c.forceSync || len(flushSet) <= 1
	last := len(flushSet) - 1

	errs := make([]error, len(flushSet))

	var g errgroup.Group
	if c.maxAsyncWorkers > 0 {
		g.SetLimit(c.maxAsyncWorkers)
	}

	nextLane := CallerLane
	for idx, entry := range flushSet {
		if !allSync && idx != last && entry.CanBeFlushedAsynchronously() {
			nextLane++
			lane := nextLane
			c.entryScheduled(idx, entry, ModeAsync, lane)
			g.Go(func() error {
				errs[idx] = c.flushEntry(ctx, idx, entry, ModeAsync, lane)
				return nil
			})
			continue
		}

		c.entryScheduled(idx, entry, ModeSync, CallerLane)
		errs[idx] = c.flushEntry(ctx, idx, entry, ModeSync, CallerLane)
	}

	// Closures never return an error; failures are kept per entry.
	_ = g.Wait()

	err := multierr.Combine(errs...)
	failures := len(multierr.Errors(err))

	ev := FlushEvent{
		OperationID: c.operationID,
		Seq:         c.clock.Next(),
		Registered:  len(ledger),
		Entries:     len(flushSet),
		Failures:    failures,
		Duration:    time.Since(start),
	}
	for _, obs := range c.observers {
		obs.FlushCompleted(ev)
	}

	c.logger.Info("operation flushed",
		"operation", c.operationID,
		"registered", len(ledger),
		"entries", len(flushSet),
		"workers", int(nextLane),
		"failures", failures,
		"duration", ev.Duration,
	)

	return err
}

// flushEntry runs one flush-set entry on lane.
func (c *Controller) flushEntry(ctx context.Context, idx int, entry Wrapper, mode Mode, lane Lane) error {
	s := &scope{
		operationID: c.operationID,
		lane:        lane,
		entry:       idx,
		mode:        mode,
	}
	s.unitFlushed = func(item *Item, took time.Duration, err error) {
		c.unitFlushed(s, item, took, err)
	}
	return entry.Flush(withScope(ctx, s))
}

func (c *Controller) entryScheduled(idx int, entry Wrapper, mode Mode, lane Lane) {
	leaves := entry.leaves()
	units := make([]string, len(leaves))
	for i, item := range leaves {
		units[i] = item.Name()
	}

	c.logger.Debug("flush entry scheduled",
		"operation", c.operationID,
		"entry", idx,
		"mode", mode,
		"lane", lane,
		"group", entry.Group(),
		"units", units,
	)

	if len(c.observers) == 0 {
		return
	}
	ev := EntryEvent{
		OperationID: c.operationID,
		Seq:         c.clock.Next(),
		Entry:       idx,
		Mode:        mode,
		Lane:        lane,
		Group:       entry.Group(),
		Units:       units,
	}
	for _, obs := range c.observers {
		obs.EntryScheduled(ev)
	}
}

// unitFlushed may be called concurrently from worker lanes.
func (c *Controller) unitFlushed(s *scope, item *Item, took time.Duration, err error) {
	if err != nil {
		c.logger.Warn("unit of work flush failed",
			"operation", c.operationID,
			"unit", item.Name(),
			"group", item.Group(),
			"lane", s.lane,
			"error", err,
		)
	} else {
		c.logger.Debug("unit of work flushed",
			"operation", c.operationID,
			"unit", item.Name(),
			"lane", s.lane,
			"took", took,
		)
	}

	if len(c.observers) == 0 {
		return
	}
	ev := UnitEvent{
		OperationID: c.operationID,
		Seq:         c.clock.Next(),
		Entry:       s.entry,
		Mode:        s.mode,
		Lane:        s.lane,
		Unit:        item.Name(),
		Group:       item.Group(),
		Duration:    took,
		Err:         err,
	}
	for _, obs := range c.observers {
		obs.UnitFlushed(ev)
	}
}
