package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dkrasnov/float-feed/internal/connection"
)

// Connection is the slice of the Connection Manager the monitor observes.
type Connection interface {
	State() connection.State
	ForceReconnect(ctx context.Context) error
}

// Config holds monitor tuning parameters.
type Config struct {
	CheckInterval    time.Duration // how often to run the health check
	MaxSilentPeriod  time.Duration // max time without a message while connected
	MaxConnectionAge time.Duration // force a fresh connection past this uptime
	RateWindow       time.Duration // trailing window for the message rate
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:    time.Minute,
		MaxSilentPeriod:  5 * time.Minute,
		MaxConnectionAge: 2 * time.Hour,
		RateWindow:       time.Minute,
	}
}

// Metrics is a read-only snapshot for observability tooling.
type Metrics struct {
	Status            connection.Status
	Uptime            time.Duration
	LastMessageAt     *time.Time
	MessagesPerMinute float64
	Reconnects        int64
	Errors            int64
}

// Monitor observes connection liveness and triggers forced reconnects.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	conn       Connection
	cancel     context.CancelFunc
	done       chan struct{}
	msgTimes   []time.Time // receipt times within the trailing rate window
	reconnects int64
	errors     int64
}

// NewMonitor creates a Health Monitor.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{cfg: cfg, logger: logger}
}

// Start begins periodic checks against conn, running one immediately.
func (m *Monitor) Start(ctx context.Context, conn Connection) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		m.logger.Warn("health monitor already started")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.conn = conn
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop halts the periodic checks.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.check(ctx)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check evaluates health and forces a reconnect when a connection that
// believes itself connected has gone stale.
func (m *Monitor) check(ctx context.Context) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	healthy := m.CheckHealth()
	metrics := m.Metrics()

	m.logger.Debug("health check",
		"healthy", healthy,
		"status", metrics.Status,
		"uptime", metrics.Uptime,
		"messages_per_minute", metrics.MessagesPerMinute,
	)

	if healthy {
		return
	}

	if metrics.Status != connection.StatusConnected {
		// Nothing to force; the manager's own reconnect path owns this.
		return
	}

	m.logger.Warn("connection unhealthy, forcing reconnect",
		"uptime", metrics.Uptime,
		"last_message_at", metrics.LastMessageAt,
	)
	if err := conn.ForceReconnect(ctx); err != nil {
		m.logger.Error("forced reconnect failed", "error", err)
	}
}

// CheckHealth reports whether the connection currently looks healthy.
func (m *Monitor) CheckHealth() bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}

	state := conn.State()
	if state.Status != connection.StatusConnected {
		return false
	}

	uptime := state.Uptime()
	if uptime > m.cfg.MaxConnectionAge {
		return false
	}

	// Silence only counts once the connection has been up long enough to
	// have plausibly received traffic.
	if uptime > m.cfg.MaxSilentPeriod {
		last := state.ConnectedAt
		if state.LastMessageAt != nil {
			last = state.LastMessageAt
		}
		if last != nil && time.Since(*last) > m.cfg.MaxSilentPeriod {
			return false
		}
	}

	return true
}

// RecordMessage notes a received message for the rate window.
func (m *Monitor) RecordMessage() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgTimes = append(m.msgTimes, now)
	m.pruneLocked(now)
}

// RecordReconnect counts a reconnect.
func (m *Monitor) RecordReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

// RecordError counts a connection error.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// Metrics returns a snapshot for observability.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.pruneLocked(now)

	rate := float64(len(m.msgTimes)) / m.cfg.RateWindow.Minutes()

	out := Metrics{
		MessagesPerMinute: rate,
		Reconnects:        m.reconnects,
		Errors:            m.errors,
	}
	if m.conn != nil {
		state := m.conn.State()
		out.Status = state.Status
		out.Uptime = state.Uptime()
		out.LastMessageAt = state.LastMessageAt
	}
	return out
}

// pruneLocked drops message timestamps older than the rate window.
func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.RateWindow)
	i := 0
	for i < len(m.msgTimes) && m.msgTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.msgTimes = m.msgTimes[i:]
	}
}
