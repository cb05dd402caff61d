// Package registry implements the Subscription Registry: an in-memory cache
// of active subscriptions periodically reconciled against the relational
// store, feeding required identities to the Token Manager.
package registry
