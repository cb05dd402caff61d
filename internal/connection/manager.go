package connection

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/float-feed/internal/backoff"
)

// TokenSource supplies feed tokens. identityID zero means any available
// identity's token. InvalidateTokens is called when the feed rejects a
// token, so the next GetToken returns a fresh one instead of the cached
// token the feed just refused.
type TokenSource interface {
	GetToken(ctx context.Context, identityID int64) (string, error)
	InvalidateTokens()
}

// Signals receives connection lifecycle notifications. The Health Monitor
// implements it; a nil Signals is valid.
type Signals interface {
	RecordMessage()
	RecordReconnect()
	RecordError()
}

// Manager owns the single live transport to the feed and wires the state
// machine, reconnection strategy, and health signals together.
type Manager struct {
	cfg      ManagerConfig
	tokens   TokenSource
	strategy *backoff.Strategy
	sm       *StateMachine
	signals  Signals
	logger   *slog.Logger

	// newClient is a seam for tests.
	newClient func(ClientConfig, *slog.Logger) Client

	out chan Publication

	mu             sync.Mutex
	client         Client
	disposed       bool
	reconnectTimer *time.Timer
	tokenOverride  string
	offset         uint64
	epoch          string
	pumpDone       chan struct{}
}

// NewManager creates a Connection Manager.
func NewManager(cfg ManagerConfig, tokens TokenSource, strategy *backoff.Strategy, signals Signals, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:       cfg,
		tokens:    tokens,
		strategy:  strategy,
		sm:        NewStateMachine(logger),
		signals:   signals,
		logger:    logger,
		newClient: NewClient,
		out:       make(chan Publication, cfg.BufferSize),
	}
}

// Publications returns the output channel consumed by the Message Router.
func (m *Manager) Publications() <-chan Publication {
	return m.out
}

// StateMachine exposes the machine for observer registration.
func (m *Manager) StateMachine() *StateMachine {
	return m.sm
}

// State returns a snapshot of the connection record.
func (m *Manager) State() State {
	return m.sm.State()
}

// IsConnected reports whether the transport is live.
func (m *Manager) IsConnected() bool {
	return m.sm.Status() == StatusConnected
}

// Connect opens the transport and subscribes the feed channel. A no-op with
// a warning when already connecting or connected. On failure the error is
// returned to the caller and, when the strategy allows, a delayed retry is
// scheduled in the background.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}

	switch m.sm.Status() {
	case StatusConnecting, StatusConnected, StatusReconnecting:
		m.logger.Warn("connect requested but connection already active",
			"status", m.sm.Status(),
		)
		return nil
	}

	if err := m.sm.Apply(TransitionConnect); err != nil {
		return err
	}

	if err := m.openTransportLocked(ctx); err != nil {
		m.failLocked(err)
		return err
	}
	return nil
}

// Disconnect cleanly closes the transport and cancels any pending
// reconnection attempt.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}
	m.disconnectLocked()
	return nil
}

// ForceReconnect fully disconnects, resets the Reconnection Strategy, waits
// briefly to avoid thrashing, and connects again.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}

	m.logger.Info("forcing reconnect")
	m.disconnectLocked()
	m.strategy.Reset()
	m.mu.Unlock()

	if m.signals != nil {
		m.signals.RecordReconnect()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.cfg.ForceReconnectWait):
	}

	return m.Connect(ctx)
}

// UpdateToken overrides the token used for the next transport handshake.
func (m *Manager) UpdateToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}
	m.tokenOverride = token
	return nil
}

// Dispose permanently disables the manager. All subsequent calls fail with
// ErrDisposed.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return ErrDisposed
	}
	m.disconnectLocked()
	m.disposed = true
	return nil
}

// openTransportLocked runs one connect attempt: fresh connection id, token
// fetch, dial, channel subscribe with resume cursor, pump start. Caller holds
// m.mu and has already applied the connect/reconnect transition.
func (m *Manager) openTransportLocked(ctx context.Context) error {
	connID := uuid.NewString()
	m.sm.SetConnectionID(connID)

	token := m.tokenOverride
	if token == "" {
		t, err := m.tokens.GetToken(ctx, 0)
		if err != nil {
			return &ConnError{Op: "token", Err: err}
		}
		token = t
	}

	cl := m.newClient(ClientConfig{
		URL:            m.cfg.URL,
		Token:          token,
		ClientName:     "float-feed",
		ConnectTimeout: m.cfg.ConnectTimeout,
		WriteTimeout:   m.cfg.WriteTimeout,
		BufferSize:     m.cfg.BufferSize,
	}, m.logger.With("connection_id", connID))

	if err := cl.Connect(ctx); err != nil {
		return &ConnError{Op: "dial", Err: err}
	}

	offset, epoch, err := cl.Subscribe(ctx, SubscribeParams{
		Channel: m.cfg.Channel,
		Data:    m.cfg.FilterData,
		Offset:  m.offset,
		Epoch:   m.epoch,
	})
	if err != nil {
		cl.Close()
		return &ConnError{Op: "subscribe", Err: err}
	}
	if m.epoch == "" {
		m.epoch = epoch
	}
	if m.offset == 0 {
		m.offset = offset
	}

	m.client = cl
	m.pumpDone = make(chan struct{})
	go m.pump(cl, m.pumpDone)

	if err := m.sm.Apply(TransitionConnected); err != nil {
		return err
	}
	m.strategy.Reset()
	m.logger.Info("feed connected",
		"connection_id", connID,
		"channel", m.cfg.Channel,
		"resume_offset", m.offset,
	)
	return nil
}

// failLocked records a failed attempt and hands the decision to the
// Reconnection Strategy.
func (m *Manager) failLocked(err error) {
	m.sm.RecordError(err)
	if applyErr := m.sm.Apply(TransitionFail); applyErr != nil {
		m.logger.Warn("fail transition rejected", "error", applyErr)
	}
	m.strategy.RecordFailure()
	if m.signals != nil {
		m.signals.RecordError()
	}
	m.scheduleReconnectLocked(err)
}

// scheduleReconnectLocked consults the strategy and arms the retry timer.
func (m *Manager) scheduleReconnectLocked(cause error) {
	if IsAuthError(cause) {
		// Retrying with the same token would fail the same way.
		m.logger.Warn("feed rejected token, invalidating cached tokens", "error", cause)
		m.tokenOverride = ""
		m.tokens.InvalidateTokens()
	}

	attempt := m.sm.IncrementAttempts()

	if !m.strategy.ShouldReconnect(attempt, cause) {
		m.logger.Error("giving up on reconnection",
			"attempt", attempt,
			"error", cause,
		)
		return
	}

	delay := m.strategy.NextDelay(attempt)
	m.logger.Info("scheduling reconnect",
		"attempt", attempt,
		"delay", delay,
		"error", cause,
	)

	m.reconnectTimer = time.AfterFunc(delay, m.retry)
}

// retry runs a scheduled reconnection attempt.
func (m *Manager) retry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || m.reconnectTimer == nil {
		// Disconnect or Dispose cancelled this attempt while the timer
		// was already firing.
		return
	}
	m.reconnectTimer = nil

	if err := m.sm.Apply(TransitionReconnect); err != nil {
		// A Connect or Disconnect raced the timer; let it win.
		m.logger.Warn("skipping scheduled reconnect", "error", err)
		return
	}

	if m.signals != nil {
		m.signals.RecordReconnect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	if err := m.openTransportLocked(ctx); err != nil {
		m.failLocked(err)
	}
}

// disconnectLocked tears down the transport and pending timers.
func (m *Manager) disconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}

	if m.pumpDone != nil {
		close(m.pumpDone)
		m.pumpDone = nil
	}

	if m.client != nil {
		m.client.Close()
		m.client = nil
	}

	if err := m.sm.Apply(TransitionDisconnect); err == nil {
		m.logger.Info("feed disconnected")
	}
}

// pump drains one client's publications and errors until the client dies or
// the manager tears it down.
func (m *Manager) pump(cl Client, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return

		case pub, ok := <-cl.Publications():
			if !ok {
				return
			}
			m.sm.RecordMessage(pub.ReceivedAt)
			if m.signals != nil {
				m.signals.RecordMessage()
			}

			m.mu.Lock()
			if pub.Offset > m.offset {
				m.offset = pub.Offset
			}
			m.mu.Unlock()

			select {
			case m.out <- pub:
			case <-done:
				return
			default:
				m.logger.Warn("router buffer full, dropping publication")
			}

		case err := <-cl.Errors():
			m.handleTransportError(cl, err)
			return
		}
	}
}

// handleTransportError funnels every transport failure through the single
// reconnect decision path.
func (m *Manager) handleTransportError(cl Client, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || m.client != cl {
		return
	}

	// A dead underlying socket can leave the transport half-open; close it
	// before walking the normal error path.
	if isChannelGone(err) {
		cl.Close()
	}

	m.sm.RecordError(err)
	if m.signals != nil {
		m.signals.RecordError()
	}

	m.client = nil
	m.pumpDone = nil
	cl.Close()

	if applyErr := m.sm.Apply(TransitionDisconnect); applyErr != nil {
		m.logger.Warn("disconnect transition rejected", "error", applyErr)
	}

	if ce, ok := err.(*CloseError); ok && ce.Clean() {
		m.logger.Info("feed closed cleanly", "code", ce.Code, "reason", ce.Reason)
		return
	}

	m.logger.Warn("feed transport failed", "error", err)
	m.scheduleReconnectLocked(&ConnError{Op: "transport", Err: err})
}

// isChannelGone reports whether the error text indicates the underlying
// socket itself is gone.
func isChannelGone(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
