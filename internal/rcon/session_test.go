package rcon

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSessionLifecyclePath(t *testing.T) {
	s := NewSession(zerolog.Nop())

	if s.State() != StateDisconnected {
		t.Fatalf("initial state = %s, want disconnected", s.State())
	}

	var transitions [][2]State
	s.Events().OnStateChange(func(newState, oldState State) {
		transitions = append(transitions, [2]State{newState, oldState})
	})

	path := []State{StateConnecting, StateConnected, StateAuthenticating, StateAuthenticated, StateError, StateDisconnected}
	for _, next := range path {
		s.Transition(next)
		if s.State() != next {
			t.Fatalf("state = %s, want %s", s.State(), next)
		}
	}

	if len(transitions) != len(path) {
		t.Fatalf("got %d state_change events, want %d", len(transitions), len(path))
	}
	prev := StateDisconnected
	for i, tr := range transitions {
		if tr[0] != path[i] || tr[1] != prev {
			t.Errorf("transition %d = (%s, %s), want (%s, %s)", i, tr[0], tr[1], path[i], prev)
		}
		prev = path[i]
	}
}

func TestSessionIllegalTransitionPanics(t *testing.T) {
	tests := []struct {
		name string
		from []State
		to   State
	}{
		{"disconnected to authenticated", nil, StateAuthenticated},
		{"skip authenticating", []State{StateConnecting, StateConnected}, StateAuthenticated},
		{"error back to connecting", []State{StateConnecting, StateError}, StateConnecting},
		{"authenticated back to connecting", []State{StateConnecting, StateConnected, StateAuthenticating, StateAuthenticated}, StateConnecting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(zerolog.Nop())
			for _, st := range tt.from {
				s.Transition(st)
			}

			defer func() {
				if recover() == nil {
					t.Errorf("transition to %s did not panic", tt.to)
				}
			}()
			s.Transition(tt.to)
		})
	}
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateAuthenticating, "authenticating"},
		{StateAuthenticated, "authenticated"},
		{StateError, "error"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestEmitterDispatch(t *testing.T) {
	e := NewEmitter()

	var (
		authed   int
		closes   []bool
		errs     []error
		messages []string
	)
	e.OnAuthenticated(func() { authed++ })
	e.OnClose(func(hadError bool) { closes = append(closes, hadError) })
	e.OnError(func(err error) { errs = append(errs, err) })
	e.OnServerMessage(func(text string) { messages = append(messages, text) })

	e.EmitAuthenticated()
	e.EmitClose(true)
	e.EmitClose(false)
	e.EmitError(ErrTimeout)
	e.EmitServerMessage("hello")

	if authed != 1 {
		t.Errorf("authenticated events = %d, want 1", authed)
	}
	if len(closes) != 2 || !closes[0] || closes[1] {
		t.Errorf("close events = %v, want [true false]", closes)
	}
	if len(errs) != 1 || errs[0] != ErrTimeout {
		t.Errorf("error events = %v", errs)
	}
	if len(messages) != 1 || messages[0] != "hello" {
		t.Errorf("message events = %v", messages)
	}

	// Emitting with no subscribers must be a no-op.
	fresh := NewEmitter()
	fresh.EmitAuthenticated()
	fresh.EmitDisconnected()
}
