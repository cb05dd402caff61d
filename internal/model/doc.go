// Package model defines shared data types used across the feed watcher.
//
// Conventions:
//   - Prices: integer cents as reported by the marketplace
//   - Float values: wire strings (decimal in [0,1]), parsed at the matching boundary
//   - Timestamps: time.Time in UTC
package model
