// Package rcon defines the shared client contract for the Source and
// BattlEye protocol engines: connection state, session lifecycle, the
// per-client event emitter, and the error taxonomy.
package rcon

// State represents the lifecycle state of an RCON session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateError
)

// stateStrings maps states to their lowercase string representation.
var stateStrings = map[State]string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateConnected:      "connected",
	StateAuthenticating: "authenticating",
	StateAuthenticated:  "authenticated",
	StateError:          "error",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes State as a JSON string (e.g. "authenticated").
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// legalTransitions describes the one-way session lifecycle. There is no way
// back from Error except a full teardown to Disconnected.
var legalTransitions = map[State][]State{
	StateDisconnected:   {StateConnecting},
	StateConnecting:     {StateConnected, StateError, StateDisconnected},
	StateConnected:      {StateAuthenticating, StateError, StateDisconnected},
	StateAuthenticating: {StateAuthenticated, StateError, StateDisconnected},
	StateAuthenticated:  {StateError, StateDisconnected},
	StateError:          {StateDisconnected},
}

// canTransition reports whether moving from one state to the next is legal.
func canTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
