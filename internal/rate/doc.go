// Package rate implements membergate's abuse throttle: per-subject-key
// attempt budgets with a minimum cooldown between attempts, a rolling window
// cap, temporary blocks, and an escalating backoff level for repeat
// offenders.
//
// The throttle state is one small binary record per subject key in Redis,
// mutated only inside WATCH/MULTI transactions so concurrent attempts on the
// same key are linearized: when a single attempt should pass, exactly one
// caller observes Allowed. Distinct keys never contend.
//
// State machine per key: NormalWindow -> Blocked(level) on the attempt that
// overflows the window; Blocked -> NormalWindow once blockedUntil passes; the
// backoff level decays to zero only after a full window with no attempts at
// all.
package rate
