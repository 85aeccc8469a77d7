package flush

import "time"

// Observer receives events from a Controller's flush.
//
// UnitFlushed is called from worker lanes concurrently; implementations must
// be safe for concurrent use.
type Observer interface {
	// EntryScheduled is called once per flush-set entry before it runs.
	EntryScheduled(EntryEvent)

	// UnitFlushed is called after each unit of work finished flushing.
	UnitFlushed(UnitEvent)

	// FlushCompleted is called once, after every entry has finished.
	FlushCompleted(FlushEvent)
}

// EntryEvent describes one scheduled flush-set entry.
type EntryEvent struct {
	OperationID string
	Seq         int64
	Entry       int
	Mode        Mode
	Lane        Lane
	Group       string
	Units       []string
}

// UnitEvent describes the outcome of one unit flush.
type UnitEvent struct {
	OperationID string
	Seq         int64
	Entry       int
	Mode        Mode
	Lane        Lane
	Unit        string
	Group       string
	Duration    time.Duration
	Err         error
}

// FlushEvent summarises a completed Controller.Flush.
type FlushEvent struct {
	OperationID string
	Seq         int64

	// Registered is the number of top-level wrappers in the ledger.
	Registered int

	// Entries is the size of the flush set.
	Entries  int
	Failures int
	Duration time.Duration
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnEntryScheduled func(EntryEvent)
	OnUnitFlushed    func(UnitEvent)
	OnFlushCompleted func(FlushEvent)
}

func (o ObserverFuncs) EntryScheduled(e EntryEvent) {
	if o.OnEntryScheduled != nil {
		o.OnEntryScheduled(e)
	}
}

func (o ObserverFuncs) UnitFlushed(e UnitEvent) {
	if o.OnUnitFlushed != nil {
		o.OnUnitFlushed(e)
	}
}

func (o ObserverFuncs) FlushCompleted(e FlushEvent) {
	if o.OnFlushCompleted != nil {
		o.OnFlushCompleted(e)
	}
}
