// Package stores implements the Redis persistence layer for membergate
// verification tokens.
//
// Records are encoded with a compact versioned binary codec (version byte,
// big-endian integers) and written with a TTL matching their expiry, so Redis
// reclaims abandoned state without a sweeper. All multi-step mutations run
// inside WATCH/MULTI optimistic transactions: a concurrent writer aborts the
// transaction and the operation retries, which is what makes token
// consumption single-use under concurrency.
package stores
