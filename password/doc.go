// Package password implements Argon2id password hashing for membergate using
// the PHC string format ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
//
// Hashes are self-describing: Verify derives all cost parameters from the
// stored string, so parameter upgrades never invalidate existing hashes.
// NeedsUpgrade reports when a stored hash was produced with weaker parameters
// than the current configuration, letting callers rehash on next login.
package password
