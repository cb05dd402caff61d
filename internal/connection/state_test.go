package connection

import (
	"testing"
	"time"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Transition
		want Status
	}{
		{"connect", []Transition{TransitionConnect}, StatusConnecting},
		{"connect then connected", []Transition{TransitionConnect, TransitionConnected}, StatusConnected},
		{"full session", []Transition{TransitionConnect, TransitionConnected, TransitionDisconnect}, StatusDisconnected},
		{"reconnect from connected", []Transition{TransitionConnect, TransitionConnected, TransitionReconnect}, StatusReconnecting},
		{"fail while connecting", []Transition{TransitionConnect, TransitionFail}, StatusFailed},
		{"connect after failure", []Transition{TransitionConnect, TransitionFail, TransitionConnect}, StatusConnecting},
		{"reconnect after failure", []Transition{TransitionConnect, TransitionFail, TransitionReconnect}, StatusReconnecting},
		{"recover via reconnecting", []Transition{TransitionConnect, TransitionFail, TransitionReconnect, TransitionConnected}, StatusConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStateMachine(nil)
			for i, tr := range tt.path {
				if err := m.Apply(tr); err != nil {
					t.Fatalf("step %d (%s): %v", i, tr, err)
				}
			}
			if got := m.Status(); got != tt.want {
				t.Errorf("Status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStateMachine_InvalidTransitionLeavesStateUnchanged(t *testing.T) {
	tests := []struct {
		name string
		path []Transition
		bad  Transition
	}{
		{"connected from disconnected", nil, TransitionConnected},
		{"fail from disconnected", nil, TransitionFail},
		{"connect while connected", []Transition{TransitionConnect, TransitionConnected}, TransitionConnect},
		{"reconnect while connecting", []Transition{TransitionConnect}, TransitionReconnect},
		{"disconnect from failed", []Transition{TransitionConnect, TransitionFail}, TransitionDisconnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStateMachine(nil)
			for _, tr := range tt.path {
				if err := m.Apply(tr); err != nil {
					t.Fatalf("setup transition %s: %v", tr, err)
				}
			}
			before := m.Status()
			if err := m.Apply(tt.bad); err == nil {
				t.Fatalf("Apply(%s) from %s should fail", tt.bad, before)
			}
			if got := m.Status(); got != before {
				t.Errorf("status changed on rejected transition: %s -> %s", before, got)
			}
		})
	}
}

func TestStateMachine_AttemptsResetOnConnected(t *testing.T) {
	m := NewStateMachine(nil)

	m.Apply(TransitionConnect)
	m.Apply(TransitionFail)
	m.IncrementAttempts()
	m.IncrementAttempts()
	m.Apply(TransitionReconnect)

	if got := m.State().Attempts; got != 2 {
		t.Fatalf("Attempts = %d, want 2", got)
	}

	m.Apply(TransitionConnected)
	if got := m.State().Attempts; got != 0 {
		t.Errorf("Attempts after connected = %d, want 0", got)
	}
	if m.State().ConnectedAt == nil {
		t.Error("ConnectedAt should be set after connected")
	}
}

func TestStateMachine_ObserversRunInOrder(t *testing.T) {
	m := NewStateMachine(nil)

	var calls []int
	m.OnTransition(func(from, to Status) { calls = append(calls, 1) })
	m.OnTransition(func(from, to Status) { panic("observer boom") })
	m.OnTransition(func(from, to Status) { calls = append(calls, 3) })

	if err := m.Apply(TransitionConnect); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 3 {
		t.Errorf("calls = %v, want [1 3]", calls)
	}
	if m.Status() != StatusConnecting {
		t.Errorf("panicking observer must not abort the transition, status = %s", m.Status())
	}
}

func TestState_Uptime(t *testing.T) {
	m := NewStateMachine(nil)
	if up := m.State().Uptime(); up != 0 {
		t.Errorf("Uptime while disconnected = %v, want 0", up)
	}

	m.Apply(TransitionConnect)
	m.Apply(TransitionConnected)
	time.Sleep(5 * time.Millisecond)

	if up := m.State().Uptime(); up <= 0 {
		t.Errorf("Uptime while connected = %v, want > 0", up)
	}
}
