// Package session manages live RCON sessions: it constructs the right
// protocol engine for a profile, bridges per-client events onto the process
// event bus, and records executed commands in the history store.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rconsole-project/rconsole/internal/config"
	"github.com/rconsole-project/rconsole/internal/db"
	"github.com/rconsole-project/rconsole/internal/events"
	"github.com/rconsole-project/rconsole/internal/rcon"
	"github.com/rconsole-project/rconsole/internal/rcon/battleye"
	"github.com/rconsole-project/rconsole/internal/rcon/source"
)

// Active describes one live session.
type Active struct {
	Profile  config.Profile
	Client   rcon.Client
	OpenedAt time.Time
}

// Status is a snapshot of one session for display layers.
type Status struct {
	Profile  string        `json:"profile"`
	Protocol rcon.Protocol `json:"protocol"`
	Addr     string        `json:"addr"`
	State    rcon.State    `json:"state"`
	OpenedAt time.Time     `json:"opened_at"`
}

// Manager owns the mapping from profile name to live client. At most one
// session exists per profile.
type Manager struct {
	cfg     *config.Config
	bus     *events.Bus
	history *db.HistoryStore

	mu       sync.Mutex
	sessions map[string]*Active
}

// NewManager creates a session manager. history may be nil, in which case
// commands are not recorded.
func NewManager(cfg *config.Config, bus *events.Bus, history *db.HistoryStore) *Manager {
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		history:  history,
		sessions: make(map[string]*Active),
	}
}

// Open connects a client for the named profile. It fails when the profile
// is unknown or a session for it is already live.
func (m *Manager) Open(ctx context.Context, profileName string) error {
	profile, ok := m.cfg.GetProfile(profileName)
	if !ok {
		return fmt.Errorf("unknown profile %q", profileName)
	}

	m.mu.Lock()
	if _, exists := m.sessions[profileName]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session for %q is already open", profileName)
	}
	// Reserve the slot before the (blocking) connect.
	m.sessions[profileName] = nil
	m.mu.Unlock()

	client := m.buildClient(profile)
	m.bridgeEvents(profile, client)

	if err := client.Connect(ctx); err != nil {
		m.mu.Lock()
		delete(m.sessions, profileName)
		m.mu.Unlock()
		return err
	}

	active := &Active{
		Profile:  profile,
		Client:   client,
		OpenedAt: time.Now(),
	}
	m.mu.Lock()
	m.sessions[profileName] = active
	m.mu.Unlock()

	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventSessionOpened,
		Source: "session_manager",
		Payload: events.SessionPayload{
			Profile:  profile.Name,
			Protocol: profile.ProtocolKind(),
			Addr:     fmt.Sprintf("%s:%d", profile.Host, profile.Port),
		},
	})

	log.Info().Str("profile", profileName).Msg("session opened")
	return nil
}

// Execute runs a command on the named session, records it in history, and
// publishes the audit event.
func (m *Manager) Execute(ctx context.Context, profileName, command string) (string, error) {
	m.mu.Lock()
	active := m.sessions[profileName]
	m.mu.Unlock()
	if active == nil {
		return "", fmt.Errorf("no open session for %q", profileName)
	}

	start := time.Now()
	response, err := active.Client.Execute(ctx, command)
	elapsed := time.Since(start)

	payload := events.CommandPayload{
		Profile:  profileName,
		Command:  command,
		Response: response,
		Duration: elapsed,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	m.bus.Emit(context.Background(), events.Event{
		Type:    events.EventCommandExecuted,
		Source:  "session_manager",
		Payload: payload,
	})

	if m.history != nil {
		entry := db.HistoryEntry{
			Profile:  profileName,
			Command:  command,
			Response: response,
			Duration: elapsed,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if herr := m.history.Record(entry); herr != nil {
			log.Warn().Err(herr).Msg("failed to record command history")
		}
	}

	return response, err
}

// Close disconnects and removes the named session.
func (m *Manager) Close(profileName string) error {
	m.mu.Lock()
	active := m.sessions[profileName]
	delete(m.sessions, profileName)
	m.mu.Unlock()
	if active == nil {
		return fmt.Errorf("no open session for %q", profileName)
	}

	active.Client.Disconnect()

	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventSessionClosed,
		Source: "session_manager",
		Payload: events.SessionPayload{
			Profile:  active.Profile.Name,
			Protocol: active.Profile.ProtocolKind(),
			Addr:     fmt.Sprintf("%s:%d", active.Profile.Host, active.Profile.Port),
		},
	})

	log.Info().Str("profile", profileName).Msg("session closed")
	return nil
}

// CloseAll disconnects every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name, active := range m.sessions {
		if active != nil {
			names = append(names, name)
		}
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Close(name)
	}
}

// Get returns the live session for a profile, if any.
func (m *Manager) Get(profileName string) (*Active, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.sessions[profileName]
	return active, active != nil
}

// List returns a status snapshot of every live session.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.sessions))
	for _, active := range m.sessions {
		if active == nil {
			continue
		}
		out = append(out, Status{
			Profile:  active.Profile.Name,
			Protocol: active.Profile.ProtocolKind(),
			Addr:     fmt.Sprintf("%s:%d", active.Profile.Host, active.Profile.Port),
			State:    active.Client.State(),
			OpenedAt: active.OpenedAt,
		})
	}
	return out
}

// buildClient constructs the engine matching the profile's protocol.
func (m *Manager) buildClient(profile config.Profile) rcon.Client {
	clientCfg := profile.ClientConfig()
	logger := log.With().Str("profile", profile.Name).Logger()

	if profile.ProtocolKind() == rcon.ProtocolBattlEye {
		return battleye.New(clientCfg, logger)
	}
	return source.New(clientCfg, logger)
}

// bridgeEvents forwards per-client events onto the process bus. Client
// callbacks run on engine goroutines; the bus dispatches asynchronously, so
// no subscriber can stall the engine.
func (m *Manager) bridgeEvents(profile config.Profile, client rcon.Client) {
	name := profile.Name
	ev := client.Events()

	ev.OnStateChange(func(newState, oldState rcon.State) {
		m.bus.Emit(context.Background(), events.Event{
			Type:   events.EventStateChange,
			Source: "session:" + name,
			Payload: events.StateChangePayload{
				Profile: name,
				New:     newState,
				Old:     oldState,
			},
		})
	})

	ev.OnAuthenticated(func() {
		m.bus.Emit(context.Background(), events.Event{
			Type:   events.EventAuthenticated,
			Source: "session:" + name,
			Payload: events.SessionPayload{
				Profile:  name,
				Protocol: profile.ProtocolKind(),
			},
		})
	})

	ev.OnError(func(err error) {
		m.bus.Emit(context.Background(), events.Event{
			Type:   events.EventSessionError,
			Source: "session:" + name,
			Payload: events.SessionErrorPayload{
				Profile: name,
				Error:   err.Error(),
			},
		})
	})

	ev.OnClose(func(hadError bool) {
		if !hadError {
			return
		}
		// A faulted session is unusable; drop it so the profile can be
		// reconnected.
		m.mu.Lock()
		if active := m.sessions[name]; active != nil && active.Client == client {
			delete(m.sessions, name)
		}
		m.mu.Unlock()

		m.bus.Emit(context.Background(), events.Event{
			Type:   events.EventSessionClosed,
			Source: "session:" + name,
			Payload: events.SessionPayload{
				Profile:  name,
				Protocol: profile.ProtocolKind(),
				HadError: true,
			},
		})
	})

	ev.OnServerMessage(func(text string) {
		m.bus.Emit(context.Background(), events.Event{
			Type:   events.EventServerMessage,
			Source: "session:" + name,
			Payload: events.ServerMessagePayload{
				Profile: name,
				Text:    text,
			},
		})
	})
}
