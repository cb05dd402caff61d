package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dkrasnov/float-feed/internal/model"
)

// SubscriptionSource is the store query the registry reconciles against.
type SubscriptionSource interface {
	ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error)
}

// Config holds registry settings.
type Config struct {
	ReconcileInterval time.Duration // store poll interval
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{ReconcileInterval: 30 * time.Second}
}

// Diff reports which subscription ids changed during a reconcile.
type Diff struct {
	Added   []int64
	Removed []int64
}

// Empty reports whether the reconcile changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Metrics is a read-only snapshot of registry state.
type Metrics struct {
	Total              int
	CountsByIdentity   map[int64]int
	LastReconcileAt    time.Time
	LastReconcileError error
}

// Registry caches the active subscription set. The cache is mutated only on
// the registry's own control flow; other components read via snapshots.
type Registry struct {
	cfg    Config
	source SubscriptionSource
	logger *slog.Logger

	mu            sync.RWMutex
	subs          map[int64]model.Subscription
	lastReconcile time.Time
	lastErr       error
}

// New creates a Subscription Registry.
func New(cfg Config, source SubscriptionSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:    cfg,
		source: source,
		logger: logger,
		subs:   make(map[int64]model.Subscription),
	}
}

// LoadActive returns a snapshot of the cached active subscriptions.
func (r *Registry) LoadActive() []model.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

// Add inserts or replaces a subscription in the cache.
func (r *Registry) Add(sub model.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = sub
}

// Remove drops a subscription by id.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Reconcile re-reads the store, applies the set difference by id, and
// returns exactly which ids changed. Idempotent when the store is unchanged.
func (r *Registry) Reconcile(ctx context.Context) (Diff, error) {
	fresh, err := r.source.ListActiveSubscriptions(ctx)
	if err != nil {
		r.mu.Lock()
		r.lastErr = err
		r.mu.Unlock()
		return Diff{}, err
	}

	freshByID := make(map[int64]model.Subscription, len(fresh))
	for _, sub := range fresh {
		freshByID[sub.ID] = sub
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var diff Diff
	for id := range freshByID {
		if _, ok := r.subs[id]; !ok {
			diff.Added = append(diff.Added, id)
		}
	}
	for id := range r.subs {
		if _, ok := freshByID[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}

	r.subs = freshByID
	r.lastReconcile = time.Now()
	r.lastErr = nil

	sort.Slice(diff.Added, func(i, j int) bool { return diff.Added[i] < diff.Added[j] })
	sort.Slice(diff.Removed, func(i, j int) bool { return diff.Removed[i] < diff.Removed[j] })

	if !diff.Empty() {
		r.logger.Info("subscriptions reconciled",
			"added", len(diff.Added),
			"removed", len(diff.Removed),
			"total", len(r.subs),
		)
	}
	return diff, nil
}

// ListIdentities returns the distinct identity ids backing the active set.
func (r *Registry) ListIdentities() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int64]bool)
	var ids []int64
	for _, sub := range r.subs {
		if !seen[sub.IdentityID] {
			seen[sub.IdentityID] = true
			ids = append(ids, sub.IdentityID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Metrics returns a snapshot for observability.
func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[int64]int)
	for _, sub := range r.subs {
		counts[sub.IdentityID]++
	}
	return Metrics{
		Total:              len(r.subs),
		CountsByIdentity:   counts,
		LastReconcileAt:    r.lastReconcile,
		LastReconcileError: r.lastErr,
	}
}

// Run reconciles on a fixed interval until ctx is cancelled, invoking
// onDiff after every reconcile that changed the set. The composition root
// owns this task and its cancellation.
func (r *Registry) Run(ctx context.Context, onDiff func(Diff)) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		diff, err := r.Reconcile(ctx)
		if err != nil {
			r.logger.Warn("subscription reconcile failed", "error", err)
		} else if !diff.Empty() && onDiff != nil {
			onDiff(diff)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
