package battleye

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rconsole-project/rconsole/internal/rcon"
)

// heartbeatInterval is how often an empty command is sent while
// authenticated. The server drops sessions that stay silent for 45 seconds,
// so any packet within that window keeps the session alive.
const heartbeatInterval = 45 * time.Second

// result carries the outcome of one command exchange.
type result struct {
	body string
	err  error
}

// inflight is one outstanding command, keyed by its sequence byte. released
// closes when the entry leaves the table, letting a waiter for the same
// sequence slot proceed.
type inflight struct {
	seq      byte
	done     chan result
	timer    *time.Timer
	released chan struct{}
}

// Client is the BattlEye RCON protocol engine. It owns exactly one UDP
// socket per connect/disconnect cycle, the table of in-flight commands
// keyed by sequence number, and the heartbeat.
//
// Concurrent Execute calls are allowed; the 8-bit sequence window means at
// most 256 can be live, and a caller hitting an occupied slot waits for it
// to free rather than being rejected.
type Client struct {
	cfg    rcon.ClientConfig
	addr   string
	logger zerolog.Logger

	session *rcon.Session

	mu            sync.Mutex
	conn          net.Conn
	pending       map[byte]*inflight
	seq           byte
	authCh        chan error
	stopHeartbeat chan struct{}
	tearingDown   bool
}

// New creates a BattlEye RCON client from cfg, applying protocol defaults
// for any zero-valued field. The configuration is immutable afterwards.
// BattlEye has no separate IO timeout: the connect timeout bounds command
// round trips as well.
func New(cfg rcon.ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = rcon.DefaultBattlEyePort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = rcon.DefaultConnectTimeout
	}
	if cfg.Encoding == "" {
		cfg.Encoding = rcon.EncodingUTF8
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	l := logger.With().Str("component", "battleye_rcon").Str("addr", addr).Logger()

	return &Client{
		cfg:     cfg,
		addr:    addr,
		logger:  l,
		session: rcon.NewSession(l),
		pending: make(map[byte]*inflight),
	}
}

// State returns the current session state.
func (c *Client) State() rcon.State {
	return c.session.State()
}

// IsAuthenticated reports whether the session is authenticated.
func (c *Client) IsAuthenticated() bool {
	return c.session.Is(rcon.StateAuthenticated)
}

// Events returns the client's listener registry.
func (c *Client) Events() *rcon.Emitter {
	return c.session.Events()
}

// Connect opens the UDP socket, performs the login exchange, and starts the
// heartbeat. It is rejected unless the session is Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if !c.session.Is(rcon.StateDisconnected) {
		return rcon.Errorf(rcon.KindConnectionFailed, "connect", c.addr,
			"session is %s, connect requires disconnected", c.session.State())
	}
	c.session.Transition(rcon.StateConnecting)

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "udp", c.addr)
	if err != nil {
		c.session.Transition(rcon.StateDisconnected)
		c.session.Events().EmitDisconnected()
		return rcon.NewError(rcon.KindConnectionFailed, "connect", c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.seq = 0
	c.authCh = make(chan error, 1)
	c.mu.Unlock()

	c.session.Transition(rcon.StateConnected)
	c.session.Transition(rcon.StateAuthenticating)

	go c.readLoop(conn)

	if c.cfg.Debug {
		c.logger.Trace().Msg("sending login")
	}
	if _, err := conn.Write(buildLogin(c.cfg.Password)); err != nil {
		c.teardown(true)
		return rcon.NewError(rcon.KindSocket, "connect", c.addr, err)
	}

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case err := <-c.authCh:
		if err != nil {
			c.teardown(true)
			return err
		}
		c.session.Transition(rcon.StateAuthenticated)
		c.session.Events().EmitAuthenticated()
		c.logger.Info().Msg("authenticated")

		c.mu.Lock()
		c.stopHeartbeat = make(chan struct{})
		stop := c.stopHeartbeat
		c.mu.Unlock()
		go c.heartbeatLoop(stop)
		return nil

	case <-timer.C:
		c.teardown(true)
		return rcon.Errorf(rcon.KindTimeout, "connect", c.addr,
			"no login response within %s", c.cfg.ConnectTimeout)

	case <-ctx.Done():
		c.teardown(true)
		return rcon.NewError(rcon.KindConnectionFailed, "connect", c.addr, ctx.Err())
	}
}

// Execute sends a sequenced command and waits for the matching response. A
// caller landing on a sequence slot that is still occupied (the counter
// wrapped within 256 outstanding commands) waits for the slot to free; the
// only backpressure signal is the timeout.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if !c.session.Is(rcon.StateAuthenticated) {
		return "", rcon.Errorf(rcon.KindNotAuthenticated, "execute", c.addr,
			"session is %s", c.session.State())
	}

	deadline := time.NewTimer(c.cfg.ConnectTimeout)
	defer deadline.Stop()

	var entry *inflight
	var conn net.Conn
	var seq byte
	for {
		c.mu.Lock()
		if c.conn == nil {
			c.mu.Unlock()
			return "", rcon.Errorf(rcon.KindNotAuthenticated, "execute", c.addr, "no active connection")
		}
		seq = c.seq
		if prior, busy := c.pending[seq]; busy {
			released := prior.released
			c.mu.Unlock()
			select {
			case <-released:
				continue
			case <-deadline.C:
				return "", rcon.Errorf(rcon.KindTimeout, "execute", c.addr,
					"sequence window full for %s", c.cfg.ConnectTimeout)
			case <-ctx.Done():
				return "", rcon.NewError(rcon.KindCommandFailed, "execute", c.addr, ctx.Err())
			}
		}
		c.seq++
		entry = &inflight{
			seq:      seq,
			done:     make(chan result, 1),
			released: make(chan struct{}),
		}
		entry.timer = time.AfterFunc(c.cfg.ConnectTimeout, func() { c.expire(seq) })
		c.pending[seq] = entry
		conn = c.conn
		c.mu.Unlock()
		break
	}

	if c.cfg.Debug {
		c.logger.Trace().Uint8("seq", seq).Str("command", command).Msg("sending command")
	}
	if _, err := conn.Write(buildCommand(seq, command)); err != nil {
		c.remove(seq)
		return "", rcon.NewError(rcon.KindCommandFailed, "execute", c.addr,
			rcon.NewError(rcon.KindSocket, "write", c.addr, err))
	}

	select {
	case res := <-entry.done:
		return res.body, res.err
	case <-ctx.Done():
		c.remove(seq)
		return "", rcon.NewError(rcon.KindCommandFailed, "execute", c.addr, ctx.Err())
	}
}

// Disconnect tears the session down. It never fails and is safe to call in
// any state.
func (c *Client) Disconnect() error {
	if c.session.Is(rcon.StateDisconnected) {
		return nil
	}
	c.teardown(false)
	return nil
}

// readLoop receives datagrams and dispatches valid ones. Parse failures are
// dropped: unrelated traffic on a shared UDP port is expected, not an error.
func (c *Client) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			c.handleConnClosed(err)
			return
		}

		payload, perr := parse(buf[:n])
		if perr != nil {
			if c.cfg.Debug {
				c.logger.Debug().Err(perr).Int("len", n).Msg("dropping invalid datagram")
			}
			continue
		}
		c.handlePayload(conn, payload)
	}
}

// handlePayload routes one validated payload by its type byte.
func (c *Client) handlePayload(conn net.Conn, payload []byte) {
	if len(payload) < 1 {
		return
	}

	switch payload[0] {
	case typeLogin:
		if len(payload) < 2 {
			return
		}
		if payload[1] == loginSuccess {
			c.deliverAuthResult(nil)
		} else {
			c.deliverAuthResult(rcon.Errorf(rcon.KindAuthFailed, "connect", c.addr,
				"server rejected password"))
		}

	case typeCommand:
		if len(payload) < 2 {
			return
		}
		seq := payload[1]
		body := string(payload[2:])
		c.mu.Lock()
		entry, ok := c.pending[seq]
		if ok {
			delete(c.pending, seq)
			close(entry.released)
		}
		c.mu.Unlock()
		if !ok {
			// Heartbeat echoes and duplicate replies land here.
			if c.cfg.Debug {
				c.logger.Trace().Uint8("seq", seq).Msg("unsolicited command response")
			}
			return
		}
		entry.timer.Stop()
		entry.done <- result{body: body}

	case typeServerMessage:
		if len(payload) < 2 {
			return
		}
		seq := payload[1]
		text := string(payload[2:])
		// Ack first, unconditionally: the server resends the message until
		// it sees the ack, and acking a duplicate is harmless.
		if _, err := conn.Write(buildAck(seq)); err != nil {
			c.logger.Warn().Err(err).Uint8("seq", seq).Msg("failed to ack server message")
		}
		if c.cfg.Debug {
			c.logger.Trace().Uint8("seq", seq).Str("text", text).Msg("server message")
		}
		c.session.Events().EmitServerMessage(text)

	default:
		if c.cfg.Debug {
			c.logger.Debug().Uint8("type", payload[0]).Msg("dropping unknown payload type")
		}
	}
}

// deliverAuthResult hands the login outcome to the waiting Connect call.
func (c *Client) deliverAuthResult(err error) {
	c.mu.Lock()
	ch := c.authCh
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// heartbeatLoop keeps the authenticated session alive with an empty command
// every 45 seconds. Heartbeats are fire and forget: registering them in the
// correlation table would leak entries whenever the empty reply is dropped,
// so they get a sequence number and nothing else. Send errors are logged
// and never escalate.
func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.session.Is(rcon.StateAuthenticated) {
				return
			}
			c.mu.Lock()
			conn := c.conn
			if conn == nil {
				c.mu.Unlock()
				return
			}
			seq := c.seq
			if _, busy := c.pending[seq]; busy {
				// A command is in flight on this slot; it already
				// satisfies the liveness window, skip this tick.
				c.mu.Unlock()
				continue
			}
			c.seq++
			c.mu.Unlock()

			if _, err := conn.Write(buildCommand(seq, "")); err != nil {
				c.logger.Warn().Err(err).Msg("heartbeat send failed")
				continue
			}
			if c.cfg.Debug {
				c.logger.Trace().Uint8("seq", seq).Msg("heartbeat sent")
			}
		}
	}
}

// handleConnClosed reacts to the socket failing underneath the session.
func (c *Client) handleConnClosed(err error) {
	c.mu.Lock()
	ignorable := c.tearingDown || c.conn == nil
	c.mu.Unlock()
	if ignorable || c.session.Is(rcon.StateDisconnected) {
		return
	}

	rerr := rcon.NewError(rcon.KindSocket, "read", c.addr, err)
	c.logger.Warn().Err(err).Msg("socket error")
	c.session.Events().EmitError(rerr)
	c.deliverAuthResult(rcon.NewError(rcon.KindConnectionFailed, "connect", c.addr, err))
	c.teardown(true)
}

// expire fails one in-flight entry when its round-trip timer fires. UDP
// loses datagrams as a matter of course, so a single lost exchange fails
// only its own entry; the session stays up.
func (c *Client) expire(seq byte) {
	c.mu.Lock()
	entry, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
		close(entry.released)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	err := rcon.Errorf(rcon.KindTimeout, "execute", c.addr,
		"no response within %s", c.cfg.ConnectTimeout)
	entry.done <- result{err: err}
}

// remove drops an entry nobody waits for any more: its request failed to
// send, or the caller's context ended.
func (c *Client) remove(seq byte) {
	c.mu.Lock()
	entry, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
		close(entry.released)
	}
	c.mu.Unlock()
	if ok {
		entry.timer.Stop()
	}
}

// teardown stops the heartbeat, fails every in-flight entry, closes the
// socket, and walks the session to Disconnected. Repeat calls are no-ops.
func (c *Client) teardown(hadError bool) {
	c.mu.Lock()
	if c.tearingDown {
		c.mu.Unlock()
		return
	}
	c.tearingDown = true
	conn := c.conn
	c.conn = nil
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
	entries := make([]*inflight, 0, len(c.pending))
	for _, e := range c.pending {
		entries = append(entries, e)
	}
	c.pending = make(map[byte]*inflight)
	authCh := c.authCh
	c.authCh = nil
	c.mu.Unlock()

	closed := rcon.Errorf(rcon.KindConnectionFailed, "execute", c.addr, "connection closed")
	for _, e := range entries {
		e.timer.Stop()
		close(e.released)
		select {
		case e.done <- result{err: closed}:
		default:
		}
	}
	if authCh != nil {
		select {
		case authCh <- rcon.NewError(rcon.KindConnectionFailed, "connect", c.addr,
			errors.New("connection closed")):
		default:
		}
	}

	if conn != nil {
		conn.Close()
	}

	if hadError && !c.session.Is(rcon.StateError) && !c.session.Is(rcon.StateDisconnected) {
		c.session.Transition(rcon.StateError)
	}
	if !c.session.Is(rcon.StateDisconnected) {
		c.session.Transition(rcon.StateDisconnected)
	}

	if conn != nil {
		c.session.Events().EmitClose(hadError)
	}
	c.session.Events().EmitDisconnected()
	c.logger.Info().Msg("disconnected")

	c.mu.Lock()
	c.tearingDown = false
	c.mu.Unlock()
}

// pendingCount reports the number of in-flight commands.
func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
