package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dkrasnov/float-feed/internal/connection"
	"github.com/dkrasnov/float-feed/internal/model"
)

// Sink receives matches. The sink's queue owns durability and retries; the
// router does not retry failed publishes.
type Sink interface {
	PublishFound(ctx context.Context, item model.FoundItem) error
}

// Subscriptions provides the active subscription snapshot to match against.
type Subscriptions interface {
	LoadActive() []model.Subscription
}

// ConnectionInfo exposes the connection record for the start-time filter.
type ConnectionInfo interface {
	State() connection.State
}

// Router matches inbound feed events against active subscriptions and hands
// matches to the sink.
type Router struct {
	platform string
	sink     Sink
	subs     Subscriptions
	conn     ConnectionInfo
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Message Router.
func New(platform string, sink Sink, subs Subscriptions, conn ConnectionInfo, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		platform: platform,
		sink:     sink,
		subs:     subs,
		conn:     conn,
		logger:   logger,
	}
}

// Run drains publications until ctx is cancelled or the channel closes.
func (r *Router) Run(ctx context.Context, pubs <-chan connection.Publication) {
	for {
		select {
		case <-ctx.Done():
			return
		case pub, ok := <-pubs:
			if !ok {
				return
			}
			r.route(ctx, pub)
		}
	}
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// route validates one publication and publishes its matches.
func (r *Router) route(ctx context.Context, pub connection.Publication) {
	r.mu.Lock()
	r.stats.EventsReceived++
	r.mu.Unlock()

	var wire eventWire
	if err := json.Unmarshal(pub.Data, &wire); err != nil {
		r.logger.Warn("malformed feed event", "error", err)
		r.mu.Lock()
		r.stats.ParseErrors++
		r.mu.Unlock()
		return
	}

	ev, err := wire.toModel()
	if err != nil {
		r.logger.Warn("rejected feed event", "error", err)
		r.mu.Lock()
		r.stats.ParseErrors++
		r.mu.Unlock()
		return
	}

	matches := r.Handle(ev, r.subs.LoadActive())
	if len(matches) == 0 {
		return
	}

	for _, item := range matches {
		if err := r.sink.PublishFound(ctx, item); err != nil {
			// The sink's queue owns durability; just record it.
			r.logger.Error("failed to publish match",
				"subscription_id", item.SubscriptionID,
				"item_id", item.Item.ID,
				"error", err,
			)
			r.mu.Lock()
			r.stats.PublishErrors++
			r.mu.Unlock()
			continue
		}
		r.logger.Info("match published",
			"subscription_id", item.SubscriptionID,
			"identity_id", item.IdentityID,
			"item", item.Item.Name,
			"price", item.Item.Price,
		)
	}
}

// Handle matches one event against the active subscriptions and returns one
// FoundItem per satisfied subscription. Events older than the current
// connection and deletion events yield no matches.
func (r *Router) Handle(ev model.InboundEvent, subs []model.Subscription) []model.FoundItem {
	// The feed replays recent history on reconnect; anything created before
	// this connection came up has already been seen.
	if r.conn != nil {
		if connectedAt := r.conn.State().ConnectedAt; connectedAt != nil && ev.CreatedAt.Before(*connectedAt) {
			r.drop()
			return nil
		}
	}

	switch ev.Kind {
	case model.EventAdded, model.EventPriceChanged:
	default:
		r.drop()
		return nil
	}

	var out []model.FoundItem
	now := time.Now()

	for _, sub := range subs {
		tier, ok := match(sub.Query, ev)
		if !ok {
			continue
		}

		floatVal, _ := ev.Float()
		out = append(out, model.FoundItem{
			SubscriptionID: sub.ID,
			IdentityID:     sub.IdentityID,
			Platform:       r.platform,
			Item: model.Item{
				ID:        ev.ItemID,
				Name:      ev.Name,
				Price:     ev.Price,
				Float:     floatVal,
				PaintSeed: ev.PaintSeed,
				Tier:      tier,
				Quality:   model.QualityFromName(ev.Name),
				UnlockAt:  ev.UnlockAt,
			},
			FoundAt: now,
		})
	}

	if n := len(out); n > 0 {
		r.mu.Lock()
		r.stats.Matches += int64(n)
		r.mu.Unlock()
	}
	return out
}

func (r *Router) drop() {
	r.mu.Lock()
	r.stats.EventsDropped++
	r.mu.Unlock()
}

// match evaluates the query predicate against one event. All conditions are
// AND'ed; each is optional except the name. Returns the tier of the matched
// paint seed, when the query filters on seeds.
func match(q model.Query, ev model.InboundEvent) (*int, bool) {
	if !strings.Contains(strings.ToLower(ev.Name), strings.ToLower(q.Item)) {
		return nil, false
	}

	if q.FloatGte != nil || q.FloatLte != nil {
		f, ok := ev.Float()
		if !ok {
			return nil, false
		}
		if q.FloatGte != nil && f < *q.FloatGte {
			return nil, false
		}
		if q.FloatLte != nil && f > *q.FloatLte {
			return nil, false
		}
	}

	if q.PriceGte != nil && ev.Price < *q.PriceGte {
		return nil, false
	}
	if q.PriceLte != nil && ev.Price > *q.PriceLte {
		return nil, false
	}

	if len(q.PaintSeeds) > 0 {
		// An event without a seed cannot satisfy an active seed filter.
		if ev.PaintSeed == nil {
			return nil, false
		}
		for _, ps := range q.PaintSeeds {
			if ps.Value == *ev.PaintSeed {
				tier := ps.Tier
				return &tier, true
			}
		}
		return nil, false
	}

	return nil, true
}
