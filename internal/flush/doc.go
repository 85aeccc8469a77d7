// Package flush coordinates deferred persistence of units of work for one
// logical operation.
//
// ARCHITECTURE:
//
// Registration:
// Every unit of work touched while handling an operation is registered with
// a Controller. The controller wraps it as an Item and keeps an ordered
// ledger of top-level wrappers:
//   - a unit already present in the ledger is ignored (identity dedup)
//   - a unit whose flush group matches an existing wrapper is merged into it
//   - anything else is appended as a new top-level wrapper
//
// Wrappers are a closed variant: an Item wraps one unit, a Group wraps two or
// more Items sharing a flush group. A Group never contains another Group.
//
// Flush:
//  1. Each top-level wrapper is reduced to the parts that need flushing
//     (CollectUnitsThatRequireFlush), producing the flush set.
//  2. With ForceSynchronousFlush, or a flush set of at most one entry,
//     every entry runs on the caller's lane in order.
//  3. Otherwise every entry but the last runs on a worker lane when it may
//     be flushed asynchronously, on the caller's lane when not. The last
//     entry always runs on the caller's lane.
//  4. Flush returns once every entry has finished.
//
// LANES:
//
// The execution context of a flush is passed explicitly in ctx. Units read it
// with LaneFromContext. All members of a Group flush sequentially on one lane.
//
// FAILURES:
//
// Failed flushes are never retried. Every scheduled unit is attempted even
// when others fail; the returned error combines all failures in flush-set
// order (see go.uber.org/multierr).
package flush
