// Package token implements the Token Manager: per-identity feed tokens
// minted from API keys via the marketplace token endpoint, refreshed
// periodically and on demand.
package token
