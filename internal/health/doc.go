// Package health implements the Health Monitor: periodic liveness checks
// over the feed connection (message recency, uptime, error and reconnect
// counts) with forced reconnects on detected staleness.
package health
