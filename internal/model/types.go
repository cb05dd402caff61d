package model

import (
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

// PaintSeed is a single allowed pattern index with its desirability tier.
type PaintSeed struct {
	Value int `json:"value"`
	Tier  int `json:"tier"`
}

// Query describes what a subscription is looking for. Item is required;
// all range bounds are optional (nil = unbounded).
type Query struct {
	Item       string      `json:"item"`
	FloatGte   *float64    `json:"float_gte,omitempty"`
	FloatLte   *float64    `json:"float_lte,omitempty"`
	PriceGte   *int64      `json:"price_gte,omitempty"`
	PriceLte   *int64      `json:"price_lte,omitempty"`
	PaintSeeds []PaintSeed `json:"paint_seeds,omitempty"`
}

// Subscription is one user's standing interest in matching marketplace events.
// The watcher holds a read-only cached copy; the source of truth lives in the
// external store.
type Subscription struct {
	ID         int64
	IdentityID int64
	Query      Query
	Active     bool
}

// Credential is a per-identity API key used to mint feed tokens.
type Credential struct {
	IdentityID int64
	APIKey     string
}

// -----------------------------------------------------------------------------
// Inbound events
// -----------------------------------------------------------------------------

// EventKind is the lifecycle kind of an inbound feed event.
type EventKind string

const (
	EventAdded        EventKind = "obtained_skin_added"
	EventDeleted      EventKind = "obtained_skin_deleted"
	EventPriceChanged EventKind = "obtained_skin_price_changed"
)

// InboundEvent is a single item notification pushed by the upstream feed.
// Transient: consumed once by the Message Router and discarded.
type InboundEvent struct {
	ItemID     string
	Name       string
	Price      int64
	FloatValue string // decimal string, e.g. "0.0341"
	PaintSeed  *int
	UnlockAt   time.Time
	CreatedAt  time.Time
	Kind       EventKind
}

// Float parses the wire float string. Returns false when the value is
// missing or not a decimal.
func (e InboundEvent) Float() (float64, bool) {
	if e.FloatValue == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(e.FloatValue, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

// UnknownQuality is the sentinel for names without a parenthesized wear suffix.
const UnknownQuality = "Unknown"

// Item is the matched item snapshot carried in a FoundItem message.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Float     float64   `json:"float"`
	PaintSeed *int      `json:"paint_seed,omitempty"`
	Tier      *int      `json:"tier,omitempty"`
	Quality   string    `json:"quality"`
	UnlockAt  time.Time `json:"unlock_at"`
}

// FoundItem is the watcher's output artifact: one message per
// (event, subscription) pair that satisfied the subscription's query.
type FoundItem struct {
	SubscriptionID int64     `json:"subscription_id"`
	IdentityID     int64     `json:"identity_id"`
	Platform       string    `json:"platform"`
	Item           Item      `json:"item"`
	FoundAt        time.Time `json:"found_at"`
}

// QualityFromName extracts the wear label from the trailing parenthesized
// segment of an item name, e.g. "AK-47 | Redline (Factory New)" yields
// "Factory New". Names without the suffix yield UnknownQuality.
func QualityFromName(name string) string {
	open := strings.LastIndex(name, "(")
	end := strings.LastIndex(name, ")")
	if open == -1 || end == -1 || end < open || end != len(name)-1 {
		return UnknownQuality
	}
	q := strings.TrimSpace(name[open+1 : end])
	if q == "" {
		return UnknownQuality
	}
	return q
}
