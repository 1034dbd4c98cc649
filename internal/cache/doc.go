// Package cache deduplicates equivalent work requests.
//
// Cache wraps a WorkSender. Requests marked cacheable are keyed by their
// Fingerprint: at most one execution per fingerprint is in flight, every
// caller asking for the same fingerprint observes the same event stream, and
// successful results are persisted in a Store for later reuse as long as the
// recorded inputs are unchanged.
package cache
