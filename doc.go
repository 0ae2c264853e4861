// Package membergate implements the security core of a membership
// bulletin-board application: single-use email verification and password
// reset tokens, abuse-resistant rate limiting with escalating backoff, and a
// role/ownership permission engine gating every mutating action.
//
// The package is a library, not a service. The host application keeps its
// routing, templates, and user database, and hands membergate an
// [IdentityProvider], a Redis client, and an [EmailDispatcher] through
// [Builder.Build]. Engine methods are safe for concurrent use after Build.
//
// # Architecture boundaries
//
// membergate is the public surface; it exposes [Engine], [Builder],
// [Config], the error taxonomy, and collaborator interfaces. Token storage,
// throttle state, and audit dispatch live under internal/ and never leak
// into the API. The pure permission table lives in the permission
// sub-package so it can be evaluated without an Engine.
//
// # What this package must NOT do
//
//   - Render pages, issue cookies, or speak HTTP (the middleware package
//     adapts HTTP semantics on top).
//   - Log or persist raw token values; only digests are stored.
//   - Fail open: any store fault surfaces as [ErrStoreUnavailable] and the
//     guarded operation is denied.
package membergate
