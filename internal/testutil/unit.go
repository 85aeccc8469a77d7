// Package testutil provides deterministic helpers and fake units of work
// for tests.
package testutil

import (
	"context"
	"sync"

	"github.com/roach88/uowflush/internal/flush"
	"github.com/roach88/uowflush/internal/unitofwork"
)

// RecordingUnit is a fake unit of work that records every Flush call and
// the lane it ran on.
//
// Thread-safety: Flush may be called from any goroutine.
type RecordingUnit struct {
	name string
	cfg  unitofwork.Config

	mu     sync.Mutex
	dirty  bool
	err    error
	panics any
	lanes  []flush.Lane
	before func(ctx context.Context)
}

// NewRecordingUnit creates a dirty unit (RequiresFlush true) named name.
func NewRecordingUnit(name string, cfg unitofwork.Config) *RecordingUnit {
	return &RecordingUnit{name: name, cfg: cfg, dirty: true}
}

// Clean marks the unit as having no pending changes.
func (u *RecordingUnit) Clean() *RecordingUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dirty = false
	return u
}

// FailWith makes Flush return err.
func (u *RecordingUnit) FailWith(err error) *RecordingUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.err = err
	return u
}

// PanicWith makes Flush panic with v.
func (u *RecordingUnit) PanicWith(v any) *RecordingUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.panics = v
	return u
}

// OnFlush installs a hook run at the start of each Flush, before recording.
func (u *RecordingUnit) OnFlush(fn func(ctx context.Context)) *RecordingUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.before = fn
	return u
}

// UnitName implements unitofwork.Named.
func (u *RecordingUnit) UnitName() string { return u.name }

// FlushConfig implements unitofwork.Configurer.
func (u *RecordingUnit) FlushConfig() unitofwork.Config { return u.cfg }

// RequiresFlush implements unitofwork.UnitOfWork.
func (u *RecordingUnit) RequiresFlush() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dirty
}

// Flush implements unitofwork.UnitOfWork. A successful flush clears the
// pending state.
func (u *RecordingUnit) Flush(ctx context.Context) error {
	u.mu.Lock()
	before := u.before
	u.mu.Unlock()

	if before != nil {
		before(ctx)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	u.lanes = append(u.lanes, flush.LaneFromContext(ctx))
	if u.panics != nil {
		panic(u.panics)
	}
	if u.err != nil {
		return u.err
	}
	u.dirty = false
	return nil
}

// Calls returns the number of Flush calls.
func (u *RecordingUnit) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.lanes)
}

// Lanes returns the lanes of every Flush call in order.
func (u *RecordingUnit) Lanes() []flush.Lane {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]flush.Lane, len(u.lanes))
	copy(out, u.lanes)
	return out
}

// LastLane returns the lane of the most recent Flush call.
// ok is false if the unit was never flushed.
func (u *RecordingUnit) LastLane() (lane flush.Lane, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.lanes) == 0 {
		return flush.CallerLane, false
	}
	return u.lanes[len(u.lanes)-1], true
}
