package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkrasnov/float-feed/internal/connection"
	"github.com/dkrasnov/float-feed/internal/model"
)

// fakeSink collects published matches.
type fakeSink struct {
	mu    sync.Mutex
	items []model.FoundItem
	err   error
}

func (f *fakeSink) PublishFound(ctx context.Context, item model.FoundItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// fixedSubs serves a fixed subscription list.
type fixedSubs []model.Subscription

func (s fixedSubs) LoadActive() []model.Subscription { return s }

// fixedConn reports a fixed connection start time.
type fixedConn struct{ connectedAt time.Time }

func (c fixedConn) State() connection.State {
	at := c.connectedAt
	return connection.State{Status: connection.StatusConnected, ConnectedAt: &at}
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
func int64Ptr(i int64) *int64     { return &i }

func newTestRouter(subs []model.Subscription) (*Router, *fakeSink) {
	sink := &fakeSink{}
	r := New("csfloat", sink, fixedSubs(subs), fixedConn{connectedAt: time.Now().Add(-time.Minute)}, nil)
	return r, sink
}

func akQuery() model.Subscription {
	return model.Subscription{
		ID:         1,
		IdentityID: 10,
		Query: model.Query{
			Item:     "AK-47",
			FloatGte: floatPtr(0.0),
			FloatLte: floatPtr(0.07),
		},
		Active: true,
	}
}

func akEvent() model.InboundEvent {
	return model.InboundEvent{
		ItemID:     "793559",
		Name:       "AK-47 | Redline (Factory New)",
		Price:      18433,
		FloatValue: "0.03",
		CreatedAt:  time.Now(),
		Kind:       model.EventAdded,
	}
}

func TestHandle_MatchWithQuality(t *testing.T) {
	r, _ := newTestRouter(nil)

	matches := r.Handle(akEvent(), []model.Subscription{akQuery()})
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}

	m := matches[0]
	if m.SubscriptionID != 1 || m.IdentityID != 10 {
		t.Errorf("match ids = (%d, %d), want (1, 10)", m.SubscriptionID, m.IdentityID)
	}
	if m.Platform != "csfloat" {
		t.Errorf("Platform = %q, want csfloat", m.Platform)
	}
	if m.Item.Quality != "Factory New" {
		t.Errorf("Quality = %q, want Factory New", m.Item.Quality)
	}
	if m.Item.Float != 0.03 {
		t.Errorf("Float = %v, want 0.03", m.Item.Float)
	}
	if m.Item.Tier != nil {
		t.Errorf("Tier = %v, want nil without a seed filter", *m.Item.Tier)
	}
}

func TestHandle_FloatOutOfRange(t *testing.T) {
	r, _ := newTestRouter(nil)

	ev := akEvent()
	ev.FloatValue = "0.20"
	if matches := r.Handle(ev, []model.Subscription{akQuery()}); len(matches) != 0 {
		t.Errorf("matches = %d, want 0 for float out of range", len(matches))
	}
}

func TestHandle_HistoricalEventDropped(t *testing.T) {
	r, _ := newTestRouter(nil)

	ev := akEvent()
	ev.CreatedAt = time.Now().Add(-time.Hour) // before connection start
	if matches := r.Handle(ev, []model.Subscription{akQuery()}); len(matches) != 0 {
		t.Errorf("matches = %d, want 0 for pre-connection event", len(matches))
	}
}

func TestHandle_DeletedEventDropped(t *testing.T) {
	r, _ := newTestRouter(nil)

	ev := akEvent()
	ev.Kind = model.EventDeleted
	if matches := r.Handle(ev, []model.Subscription{akQuery()}); len(matches) != 0 {
		t.Errorf("matches = %d, want 0 for deleted event", len(matches))
	}
}

func TestHandle_PriceChangedMatches(t *testing.T) {
	r, _ := newTestRouter(nil)

	ev := akEvent()
	ev.Kind = model.EventPriceChanged
	if matches := r.Handle(ev, []model.Subscription{akQuery()}); len(matches) != 1 {
		t.Errorf("matches = %d, want 1 for price-changed event", len(matches))
	}
}

func TestHandle_PaintSeedFilter(t *testing.T) {
	seedSub := model.Subscription{
		ID:         2,
		IdentityID: 20,
		Query: model.Query{
			Item:       "AK-47",
			PaintSeeds: []model.PaintSeed{{Value: 387, Tier: 1}, {Value: 555, Tier: 3}},
		},
		Active: true,
	}
	r, _ := newTestRouter(nil)

	// Absent seed fails an active seed filter.
	ev := akEvent()
	if matches := r.Handle(ev, []model.Subscription{seedSub}); len(matches) != 0 {
		t.Errorf("matches = %d, want 0 for event without paint seed", len(matches))
	}

	// Listed seed matches and carries its tier.
	ev.PaintSeed = intPtr(387)
	matches := r.Handle(ev, []model.Subscription{seedSub})
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if matches[0].Item.Tier == nil || *matches[0].Item.Tier != 1 {
		t.Errorf("Tier = %v, want 1", matches[0].Item.Tier)
	}

	// Unlisted seed fails.
	ev.PaintSeed = intPtr(42)
	if matches := r.Handle(ev, []model.Subscription{seedSub}); len(matches) != 0 {
		t.Errorf("matches = %d, want 0 for unlisted seed", len(matches))
	}
}

func TestHandle_PriceRange(t *testing.T) {
	priceSub := model.Subscription{
		ID:         3,
		IdentityID: 30,
		Query: model.Query{
			Item:     "redline",
			PriceGte: int64Ptr(10000),
			PriceLte: int64Ptr(20000),
		},
		Active: true,
	}
	r, _ := newTestRouter(nil)

	if matches := r.Handle(akEvent(), []model.Subscription{priceSub}); len(matches) != 1 {
		t.Errorf("matches = %d, want 1 inside price range", len(matches))
	}

	ev := akEvent()
	ev.Price = 25000
	if matches := r.Handle(ev, []model.Subscription{priceSub}); len(matches) != 0 {
		t.Errorf("matches = %d, want 0 above price range", len(matches))
	}
}

func TestHandle_CaseInsensitiveName(t *testing.T) {
	sub := akQuery()
	sub.Query = model.Query{Item: "ak-47 | redline"}
	r, _ := newTestRouter(nil)

	if matches := r.Handle(akEvent(), []model.Subscription{sub}); len(matches) != 1 {
		t.Errorf("matches = %d, want 1 for case-insensitive substring", len(matches))
	}
}

func TestHandle_ManySubscriptionsManyMatches(t *testing.T) {
	subs := []model.Subscription{
		akQuery(),
		{ID: 2, IdentityID: 20, Query: model.Query{Item: "Redline"}, Active: true},
		{ID: 3, IdentityID: 30, Query: model.Query{Item: "AWP"}, Active: true},
	}
	r, _ := newTestRouter(nil)

	matches := r.Handle(akEvent(), subs)
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
}

func TestRoute_EndToEnd(t *testing.T) {
	r, sink := newTestRouter([]model.Subscription{akQuery()})

	pubs := make(chan connection.Publication, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx, pubs)

	data, _ := json.Marshal(map[string]any{
		"event":      "obtained_skin_added",
		"id":         "793559",
		"name":       "AK-47 | Redline (Factory New)",
		"price":      18433,
		"item_float": "0.03",
		"created_at": time.Now().Format(time.RFC3339),
	})
	pubs <- connection.Publication{Data: data, Offset: 1, ReceivedAt: time.Now()}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("published = %d, want 1", sink.count())
}

func TestRoute_MalformedPayloadDropped(t *testing.T) {
	r, sink := newTestRouter([]model.Subscription{akQuery()})

	pubs := make(chan connection.Publication, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx, pubs)

	pubs <- connection.Publication{Data: json.RawMessage(`{"event":"mystery_kind","name":"X"}`)}
	pubs <- connection.Publication{Data: json.RawMessage(`not json at all`)}

	time.Sleep(50 * time.Millisecond)

	if sink.count() != 0 {
		t.Errorf("published = %d, want 0", sink.count())
	}
	stats := r.Stats()
	if stats.ParseErrors != 2 {
		t.Errorf("ParseErrors = %d, want 2", stats.ParseErrors)
	}
}

func TestRoute_PublishFailureNotRetried(t *testing.T) {
	r, sink := newTestRouter([]model.Subscription{akQuery()})
	sink.err = context.DeadlineExceeded

	pubs := make(chan connection.Publication, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx, pubs)

	data, _ := json.Marshal(map[string]any{
		"event":      "obtained_skin_added",
		"name":       "AK-47 | Redline (Factory New)",
		"item_float": "0.03",
		"created_at": time.Now().Format(time.RFC3339),
	})
	pubs <- connection.Publication{Data: data}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.Stats().PublishErrors == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("PublishErrors = %d, want 1", r.Stats().PublishErrors)
}
