// Package middleware exposes HTTP adapters that translate requests into
// Engine authorization calls.
//
// # Guards
//
//   - [Require] — guards a route with one permission verb.
//   - [RequireOwned] — guards a route with an ownership-scoped verb, deriving
//     the resource from the request.
//   - [Attach] — propagates the bearer token and client origin into the
//     request context without enforcing anything.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT make
// authorization decisions itself — every allow/deny comes from
// Engine.Authorize.
//
// # What this package must NOT do
//
//   - Parse sessions or JWTs directly (the configured SessionResolver does).
//   - Access Redis (the Engine handles I/O).
//   - Invent permission semantics beyond mapping Engine errors to statuses.
package middleware
