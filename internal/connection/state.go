package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the transport's current condition.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// Transition names an edge of the state machine.
type Transition string

const (
	TransitionConnect    Transition = "connect"
	TransitionConnected  Transition = "connected"
	TransitionDisconnect Transition = "disconnect"
	TransitionReconnect  Transition = "reconnect"
	TransitionFail       Transition = "fail"
)

// transitions maps each edge to its valid source states and target state.
var transitions = map[Transition]struct {
	from map[Status]bool
	to   Status
}{
	TransitionConnect: {
		from: map[Status]bool{StatusDisconnected: true, StatusFailed: true},
		to:   StatusConnecting,
	},
	TransitionConnected: {
		from: map[Status]bool{StatusConnecting: true, StatusReconnecting: true},
		to:   StatusConnected,
	},
	TransitionDisconnect: {
		from: map[Status]bool{StatusConnected: true, StatusConnecting: true, StatusReconnecting: true},
		to:   StatusDisconnected,
	},
	TransitionReconnect: {
		from: map[Status]bool{StatusDisconnected: true, StatusFailed: true, StatusConnected: true},
		to:   StatusReconnecting,
	},
	TransitionFail: {
		from: map[Status]bool{StatusConnecting: true, StatusReconnecting: true},
		to:   StatusFailed,
	},
}

// State is a snapshot of the connection's bookkeeping record.
type State struct {
	ConnectionID  string
	Status        Status
	ConnectedAt   *time.Time
	LastMessageAt *time.Time
	Attempts      int
	LastError     error
}

// Uptime returns how long the connection has been up, zero when down.
func (s State) Uptime() time.Duration {
	if s.Status != StatusConnected || s.ConnectedAt == nil {
		return 0
	}
	return time.Since(*s.ConnectedAt)
}

// Observer is notified synchronously after every successful transition.
type Observer func(from, to Status)

// StateMachine enforces the valid transitions between connection statuses
// and keeps the single mutable connection record.
type StateMachine struct {
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	observers []Observer
}

// NewStateMachine creates a machine in the disconnected state.
func NewStateMachine(logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		logger: logger,
		state:  State{Status: StatusDisconnected},
	}
}

// OnTransition registers an observer. Observers run synchronously in
// registration order; a panicking observer is recovered and logged and does
// not abort the transition or later observers.
func (m *StateMachine) OnTransition(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Apply attempts a transition. An edge whose current state is not in the
// from set leaves the state unchanged and returns an error, never panics.
func (m *StateMachine) Apply(t Transition) error {
	m.mu.Lock()

	edge, ok := transitions[t]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown transition %q", t)
	}

	from := m.state.Status
	if !edge.from[from] {
		m.mu.Unlock()
		m.logger.Warn("rejected state transition",
			"transition", t,
			"current", from,
		)
		return fmt.Errorf("invalid transition %q from %q", t, from)
	}

	m.state.Status = edge.to
	switch edge.to {
	case StatusConnected:
		now := time.Now()
		m.state.ConnectedAt = &now
		m.state.Attempts = 0
	case StatusDisconnected, StatusFailed:
		m.state.ConnectedAt = nil
	}

	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	m.logger.Debug("state transition", "from", from, "to", edge.to)

	for _, obs := range observers {
		m.notify(obs, from, edge.to)
	}
	return nil
}

func (m *StateMachine) notify(obs Observer, from, to Status) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state observer panicked", "panic", r, "from", from, "to", to)
		}
	}()
	obs(from, to)
}

// Status returns the current status.
func (m *StateMachine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status
}

// State returns a snapshot of the connection record.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetConnectionID records the id generated for a connect attempt.
func (m *StateMachine) SetConnectionID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ConnectionID = id
}

// RecordMessage updates the last-message timestamp.
func (m *StateMachine) RecordMessage(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastMessageAt = &at
}

// RecordError stores the most recent error.
func (m *StateMachine) RecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastError = err
}

// IncrementAttempts bumps the reconnect attempt counter and returns the
// new value. The counter resets to zero on every connected transition.
func (m *StateMachine) IncrementAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Attempts++
	return m.state.Attempts
}
