package flush

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/multierr"

	"github.com/roach88/uowflush/internal/unitofwork"
)

// Wrapper adapts either a single unit of work (*Item) or a merged set of
// units sharing one flush group (*Group).
//
// Wrapper is closed: only *Item and *Group implement it.
type Wrapper interface {
	// Group returns the flush-group key. Empty means no group.
	Group() string

	// CanBeFlushedAsynchronously reports whether the wrapper may run on a
	// worker lane.
	CanBeFlushedAsynchronously() bool

	// WrapsSameUnitOfWorkAs reports whether candidate's unit is already
	// wrapped (by identity).
	WrapsSameUnitOfWorkAs(candidate *Item) bool

	// TryMergeWith absorbs candidate if it is not already wrapped and shares
	// this wrapper's non-empty group. On success it returns the group now
	// holding both.
	TryMergeWith(candidate *Item) (*Group, bool)

	// CollectUnitsThatRequireFlush appends the minimal wrapper covering the
	// units that need flushing to out and returns the extended slice.
	CollectUnitsThatRequireFlush(out []Wrapper) []Wrapper

	// Flush persists every wrapped unit on the calling goroutine.
	Flush(ctx context.Context) error

	// leaves returns the wrapped items in merge order.
	leaves() []*Item
}

// Item wraps exactly one unit of work.
type Item struct {
	unit unitofwork.UnitOfWork
	cfg  unitofwork.Config
	name string
}

// NewItem wraps u with its resolved flush configuration.
func NewItem(u unitofwork.UnitOfWork, cfg unitofwork.Config) *Item {
	return &Item{
		unit: u,
		cfg:  cfg,
		name: unitofwork.NameOf(u),
	}
}

// Unit returns the wrapped unit of work.
func (i *Item) Unit() unitofwork.UnitOfWork { return i.unit }

// Config returns the item's flush configuration.
func (i *Item) Config() unitofwork.Config { return i.cfg }

// Name returns the unit's display name.
func (i *Item) Name() string { return i.name }

func (i *Item) Group() string { return i.cfg.FlushGroup }

func (i *Item) CanBeFlushedAsynchronously() bool { return i.cfg.CanBeFlushedAsynchronously() }

func (i *Item) WrapsSameUnitOfWorkAs(candidate *Item) bool {
	return candidate != nil && sameUnit(i.unit, candidate.unit)
}

func (i *Item) TryMergeWith(candidate *Item) (*Group, bool) {
	if !canMerge(i, candidate) {
		return nil, false
	}
	return newGroup([]*Item{i, candidate}), true
}

func (i *Item) CollectUnitsThatRequireFlush(out []Wrapper) []Wrapper {
	if i.unit.RequiresFlush() {
		out = append(out, i)
	}
	return out
}

// Flush flushes the wrapped unit. A panic inside the unit is recovered and
// reported as an ErrCodeFlushPanic error.
func (i *Item) Flush(ctx context.Context) (err error) {
	s := scopeFrom(ctx)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(s, i, r)
		}
		if s != nil && s.unitFlushed != nil {
			s.unitFlushed(i, time.Since(start), err)
		}
	}()

	if ferr := i.unit.Flush(ctx); ferr != nil {
		return newFlushError(s, i, ferr)
	}
	return nil
}

func (i *Item) leaves() []*Item { return []*Item{i} }

// Group wraps two or more items sharing one flush group.
//
// INVARIANTS:
//   - len(members) >= 2
//   - every member has the same non-empty group key
//   - no unit of work appears twice
//   - async == AND of members' CanBeFlushedAsynchronously
type Group struct {
	members []*Item
	async   bool
}

// newGroup builds a group from items that already passed canMerge.
func newGroup(members []*Item) *Group {
	g := &Group{members: members}
	g.recompute()
	return g
}

func (g *Group) recompute() {
	g.async = true
	for _, m := range g.members {
		if !m.CanBeFlushedAsynchronously() {
			g.async = false
			return
		}
	}
}

// Members returns a copy of the group's items in merge order.
func (g *Group) Members() []*Item {
	out := make([]*Item, len(g.members))
	copy(out, g.members)
	return out
}

// Len returns the number of members.
func (g *Group) Len() int { return len(g.members) }

// Group returns the key of the first member; all members share it.
func (g *Group) Group() string { return g.members[0].Group() }

func (g *Group) CanBeFlushedAsynchronously() bool { return g.async }

func (g *Group) WrapsSameUnitOfWorkAs(candidate *Item) bool {
	for _, m := range g.members {
		if m.WrapsSameUnitOfWorkAs(candidate) {
			return true
		}
	}
	return false
}

// TryMergeWith extends the group in place.
func (g *Group) TryMergeWith(candidate *Item) (*Group, bool) {
	if !canMerge(g, candidate) {
		return nil, false
	}
	g.members = append(g.members, candidate)
	g.recompute()
	return g, true
}

func (g *Group) CollectUnitsThatRequireFlush(out []Wrapper) []Wrapper {
	pending := make([]*Item, 0, len(g.members))
	for _, m := range g.members {
		if m.unit.RequiresFlush() {
			pending = append(pending, m)
		}
	}

	switch len(pending) {
	case 0:
		return out
	case 1:
		return append(out, pending[0])
	case len(g.members):
		return append(out, g)
	default:
		return append(out, newGroup(pending))
	}
}

// Flush flushes every member in merge order on the calling goroutine.
// A failing member does not stop the remaining members.
func (g *Group) Flush(ctx context.Context) error {
	var errs error
	for _, m := range g.members {
		errs = multierr.Append(errs, m.Flush(ctx))
	}
	return errs
}

func (g *Group) leaves() []*Item { return g.members }

// canMerge implements the merge eligibility rule shared by both variants.
func canMerge(w Wrapper, candidate *Item) bool {
	if candidate == nil || w.WrapsSameUnitOfWorkAs(candidate) {
		return false
	}
	key := candidate.Group()
	return key != "" && key == w.Group()
}

// sameUnit compares units by identity. Values of non-comparable dynamic
// types are never identical.
func sameUnit(a, b unitofwork.UnitOfWork) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
