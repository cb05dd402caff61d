package router

import (
	"fmt"
	"time"

	"github.com/dkrasnov/float-feed/internal/model"
)

// Stats contains runtime statistics.
type Stats struct {
	EventsReceived int64
	EventsDropped  int64
	ParseErrors    int64
	Matches        int64
	PublishErrors  int64
}

// eventWire is the strict wire schema for feed item events. Anything that
// fails to deserialize into it is dropped at the boundary.
type eventWire struct {
	Event         string     `json:"event"`
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Price         int64      `json:"price"`
	ItemFloat     string     `json:"item_float"`
	ItemPaintSeed *int       `json:"item_paint_seed"`
	CreatedAt     time.Time  `json:"created_at"`
	UnlockAt      *time.Time `json:"unlock_at"`
}

// toModel validates the wire event and converts it.
func (w eventWire) toModel() (model.InboundEvent, error) {
	kind := model.EventKind(w.Event)
	switch kind {
	case model.EventAdded, model.EventDeleted, model.EventPriceChanged:
	default:
		return model.InboundEvent{}, fmt.Errorf("unknown event kind %q", w.Event)
	}
	if w.Name == "" {
		return model.InboundEvent{}, fmt.Errorf("event %q missing item name", w.Event)
	}

	ev := model.InboundEvent{
		ItemID:     w.ID,
		Name:       w.Name,
		Price:      w.Price,
		FloatValue: w.ItemFloat,
		PaintSeed:  w.ItemPaintSeed,
		CreatedAt:  w.CreatedAt,
		Kind:       kind,
	}
	if w.UnlockAt != nil {
		ev.UnlockAt = *w.UnlockAt
	}
	return ev, nil
}
