// Package events defines event types and the publish-subscribe bus used by
// the rconsole collaborator layers (CLI, REST API, telemetry) to observe
// RCON session activity.
package events

import (
	"time"

	"github.com/rconsole-project/rconsole/internal/rcon"
)

// EventType represents the type of event emitted through the Bus.
type EventType string

const (
	// Session lifecycle events
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"
	EventStateChange   EventType = "session_state_change"
	EventAuthenticated EventType = "session_authenticated"
	EventSessionError  EventType = "session_error"

	// Command events
	EventCommandExecuted EventType = "command_executed"

	// Server push events (BattlEye only)
	EventServerMessage EventType = "server_message"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// StateChangePayload describes a session state transition.
type StateChangePayload struct {
	Profile string     `json:"profile"`
	New     rcon.State `json:"new"`
	Old     rcon.State `json:"old"`
}

// SessionPayload identifies a session for open/close/auth events.
type SessionPayload struct {
	Profile  string        `json:"profile"`
	Protocol rcon.Protocol `json:"protocol"`
	Addr     string        `json:"addr"`
	HadError bool          `json:"had_error,omitempty"`
}

// SessionErrorPayload carries an asynchronous session error.
type SessionErrorPayload struct {
	Profile string `json:"profile"`
	Error   string `json:"error"`
}

// CommandPayload records one executed command and its outcome.
type CommandPayload struct {
	Profile  string        `json:"profile"`
	Command  string        `json:"command"`
	Response string        `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ServerMessagePayload carries a server-pushed message.
type ServerMessagePayload struct {
	Profile string `json:"profile"`
	Text    string `json:"text"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string      `json:"section"`
	Key     string      `json:"key"`
	Value   interface{} `json:"value"`
}
