// Package store provides read-only access to the relational store: active
// subscription definitions and per-identity credentials. The watcher never
// writes; subscriptions are managed by the surrounding system.
package store
