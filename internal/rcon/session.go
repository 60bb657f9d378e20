package rcon

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Session is the finite automaton shared by both protocol engines. It owns
// the current state and the per-client event emitter, and gates every state
// mutation through the legal transition table.
//
// An illegal transition is a programmer error in the engine, not a runtime
// condition, so Transition panics on one.
type Session struct {
	mu      sync.Mutex
	state   State
	emitter *Emitter
	logger  zerolog.Logger
}

// NewSession creates a Session in the Disconnected state.
func NewSession(logger zerolog.Logger) *Session {
	return &Session{
		state:   StateDisconnected,
		emitter: NewEmitter(),
		logger:  logger,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the session's listener registry.
func (s *Session) Events() *Emitter {
	return s.emitter
}

// Is reports whether the session is currently in the given state.
func (s *Session) Is(state State) bool {
	return s.State() == state
}

// Transition moves the session to the next state and notifies subscribers.
func (s *Session) Transition(next State) {
	s.mu.Lock()
	prev := s.state
	if !canTransition(prev, next) {
		s.mu.Unlock()
		panic(fmt.Sprintf("rcon: illegal session transition %s -> %s", prev, next))
	}
	s.state = next
	s.mu.Unlock()

	s.logger.Debug().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("session state changed")

	s.emitter.EmitStateChange(next, prev)
}
