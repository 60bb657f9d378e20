package rcon

import (
	"context"
	"time"
)

// Protocol identifies which RCON dialect a client speaks.
type Protocol string

const (
	ProtocolSource   Protocol = "source"
	ProtocolBattlEye Protocol = "battleye"
)

// Encoding selects how command and response text crosses the wire.
type Encoding string

const (
	EncodingASCII Encoding = "ascii"
	EncodingUTF8  Encoding = "utf-8"
)

// Protocol-specific defaults.
const (
	DefaultSourcePort    uint16 = 25575
	DefaultBattlEyePort  uint16 = 2305
	DefaultConnectTimeout       = 5 * time.Second
	DefaultIOTimeout            = 5 * time.Second
)

// ClientConfig is the immutable construction-time configuration for a
// client. Zero values are replaced by protocol defaults at construction.
type ClientConfig struct {
	Host     string
	Port     uint16
	Password string

	// ConnectTimeout bounds connection establishment and authentication.
	// For BattlEye it also bounds each command round trip.
	ConnectTimeout time.Duration

	// IOTimeout bounds each Source command round trip.
	IOTimeout time.Duration

	// Debug enables packet-level trace logging on the client's logger.
	Debug bool

	// Encoding of command and response text. Defaults to ASCII for Source
	// and UTF-8 for BattlEye.
	Encoding Encoding

	// AllowIPv6 lets the Source engine dial over either address family.
	// By default the dial is restricted to IPv4: some servers listen solely
	// on IPv4 while DNS prefers IPv6, and connecting to the dead family
	// stalls the whole handshake.
	AllowIPv6 bool
}

// Client is the uniform contract implemented by both protocol engines.
//
// Connect, Execute, and Disconnect block until completion, failure, or
// timeout. Execute is accepted only in the Authenticated state. A client is
// not safe to share across goroutines without external synchronisation of
// the Execute call pattern; see the engine documentation for the per-
// protocol concurrency rules.
type Client interface {
	// Connect establishes the transport and performs the authentication
	// handshake. On success the session state is Authenticated.
	Connect(ctx context.Context) error

	// Execute runs a command on the server and returns its response text,
	// which may be empty.
	Execute(ctx context.Context, command string) (string, error)

	// Disconnect tears the session down. It never fails and is idempotent;
	// afterwards the state is Disconnected and no request is in flight.
	Disconnect() error

	// State returns the current session state.
	State() State

	// IsAuthenticated reports whether the session is in the Authenticated
	// state.
	IsAuthenticated() bool

	// Events returns the client's listener registry.
	Events() *Emitter
}
