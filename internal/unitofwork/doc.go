// Package unitofwork defines the contract between the flush coordinator and
// the resources that accumulate pending changes while one logical operation
// is handled.
//
// A unit of work exposes two operations: RequiresFlush reports whether there
// is anything to persist, and Flush persists it. Each unit also carries a
// flush configuration that is resolved once per concrete type:
//
//   - FlushGroup: units sharing a non-empty group are flushed together on a
//     single execution lane.
//   - ForceSynchronousFlush: the unit must be flushed on the caller's lane.
//
// # Resolving Configuration
//
// Resolver looks configuration up in this order:
//
//  1. The unit implements Configurer (asked every time).
//  2. A declaration registered with Resolver.Declare for the unit's type.
//  3. A struct field of type Options carrying a `flush` tag:
//
//	type OrderRepository struct {
//	    _ unitofwork.Options `flush:"group=orders,sync"`
//	    ...
//	}
//
//  4. The zero Config (no group, asynchronous flush allowed).
//
// Sources 2 to 4 are computed once per type and memoised.
package unitofwork
