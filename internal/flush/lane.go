package flush

import (
	"context"
	"fmt"
	"time"
)

// Lane identifies the execution context a flush ran on.
//
// CallerLane is the goroutine that called Controller.Flush. Worker lanes are
// numbered from 1 in flush-set order.
type Lane int

// CallerLane is the lane of the goroutine that invoked Flush.
const CallerLane Lane = 0

// IsCaller reports whether l is the caller's lane.
func (l Lane) IsCaller() bool {
	return l == CallerLane
}

// String returns "caller" or "worker-N".
func (l Lane) String() string {
	if l.IsCaller() {
		return "caller"
	}
	return fmt.Sprintf("worker-%d", int(l))
}

// Mode describes how a flush-set entry was scheduled.
type Mode string

const (
	// ModeSync runs the entry on the caller's lane.
	ModeSync Mode = "sync"

	// ModeAsync runs the entry on its own worker lane.
	ModeAsync Mode = "async"
)

type scopeKey struct{}

// scope is the explicit execution context handed to every unit flush.
type scope struct {
	operationID string

	lane  Lane
	entry int
	mode  Mode

	// unitFlushed is invoked after each leaf flush. May be nil.
	unitFlushed func(item *Item, took time.Duration, err error)
}

func withScope(ctx context.Context, s *scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// LaneFromContext returns the lane a flush is executing on.
// Outside a controller flush it returns CallerLane.
func LaneFromContext(ctx context.Context) Lane {
	if s := scopeFrom(ctx); s != nil {
		return s.lane
	}
	return CallerLane
}

// EntryFromContext returns the flush-set index of the entry being flushed,
// or -1 outside a controller flush.
func EntryFromContext(ctx context.Context) int {
	if s := scopeFrom(ctx); s != nil {
		return s.entry
	}
	return -1
}
