// Package backoff implements the Reconnection Strategy: a pure decision
// component the Connection Manager consults whenever the transport fails.
//
// It combines exponential backoff with jitter, a max-attempt cap, and a
// circuit breaker that opens after repeated consecutive failures and
// closes itself after a cool-down.
package backoff
