// Package permission implements the pure authorization engine for membergate:
// a closed set of actions evaluated against a role's grant masks and, for
// owner-scoped actions, the resource's owner.
//
// # Architecture boundaries
//
// Decisions are pure functions of their inputs. The package performs no I/O,
// reads no clocks, and holds no mutable state after init. This keeps the full
// role x action x ownership table unit-testable as a value table.
//
// # What this package must NOT do
//
//   - Resolve sessions, identities, or resource owners (callers do that).
//   - Consult Redis or any store.
//   - Accept free-form permission strings; the action set is a closed enum.
package permission
