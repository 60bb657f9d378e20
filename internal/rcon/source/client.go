package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rconsole-project/rconsole/internal/rcon"
)

// idWrapLimit bounds the request ID counter. On reaching this value the
// counter restarts at 1, so IDs never collide with 0 or the server's -1 auth
// failure sentinel.
const idWrapLimit = 1_000_000

// result carries the outcome of one command exchange.
type result struct {
	body string
	err  error
}

// inflight is one outstanding command: the two request IDs, the response
// fragments collected so far, the waiter's channel, and the round-trip
// timer.
type inflight struct {
	commandID    int32
	terminatorID int32
	fragments    [][]byte
	done         chan result
	timer        *time.Timer
}

// Client is the Source RCON protocol engine. It owns exactly one TCP stream
// per connect/disconnect cycle, the correlation table of in-flight commands,
// and the receive framer.
//
// Execute calls serialise naturally when the caller awaits each one.
// Concurrent Execute calls are routed correctly by the correlation table,
// but the protocol itself gives no ordering promise for them.
type Client struct {
	cfg    rcon.ClientConfig
	addr   string
	logger zerolog.Logger

	session *rcon.Session

	mu           sync.Mutex
	conn         net.Conn
	framer       *framer
	pending      map[int32]*inflight // command ID -> entry
	byTerminator map[int32]int32     // terminator ID -> command ID
	lastID       int32
	authID       int32
	authCh       chan error
	tearingDown  bool
}

// New creates a Source RCON client from cfg, applying protocol defaults for
// any zero-valued field. The configuration is immutable afterwards.
func New(cfg rcon.ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = rcon.DefaultSourcePort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = rcon.DefaultConnectTimeout
	}
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = rcon.DefaultIOTimeout
	}
	if cfg.Encoding == "" {
		cfg.Encoding = rcon.EncodingASCII
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	l := logger.With().Str("component", "source_rcon").Str("addr", addr).Logger()

	return &Client{
		cfg:          cfg,
		addr:         addr,
		logger:       l,
		session:      rcon.NewSession(l),
		framer:       newFramer(l),
		pending:      make(map[int32]*inflight),
		byTerminator: make(map[int32]int32),
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

// Connect dials the server, performs the authentication handshake, and
// leaves the session Authenticated. It is rejected unless the session is
// Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if !c.session.Is(rcon.StateDisconnected) {
		return rcon.Errorf(rcon.KindConnectionFailed, "connect", c.addr,
			"session is %s, connect requires disconnected", c.session.State())
	}
	c.session.Transition(rcon.StateConnecting)

	network := "tcp4"
	if c.cfg.AllowIPv6 {
		network = "tcp"
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, network, c.addr)
	if err != nil {
		c.session.Transition(rcon.StateDisconnected)
		c.session.Events().EmitDisconnected()
		kind := rcon.KindConnectionFailed
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			kind = rcon.KindTimeout
		}
		return rcon.NewError(kind, "connect", c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.framer.reset()
	c.authCh = make(chan error, 1)
	c.authID = c.allocateIDLocked()
	authID := c.authID
	c.mu.Unlock()

	c.session.Transition(rcon.StateConnected)
	c.session.Transition(rcon.StateAuthenticating)

	go c.readLoop(conn)

	authPkt, err := encode(Packet{ID: authID, Type: typeAuth, Body: []byte(c.cfg.Password)})
	if err != nil {
		c.teardown(true)
		return rcon.NewError(rcon.KindConnectionFailed, "connect", c.addr, err)
	}
	c.logPacket("send", Packet{ID: authID, Type: typeAuth})

	if _, err := conn.Write(authPkt); err != nil {
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
		return nil

	case <-timer.C:
		c.teardown(true)
		return rcon.Errorf(rcon.KindTimeout, "connect", c.addr,
			"no authentication response within %s", c.cfg.ConnectTimeout)

	case <-ctx.Done():
		c.teardown(true)
		return rcon.NewError(rcon.KindConnectionFailed, "connect", c.addr, ctx.Err())
	}
}

// Execute sends a command and waits for its complete, possibly fragmented
// response. The end of the response is detected with a terminator request:
// a second, empty RESPONSE_VALUE packet sent immediately after the command.
// The server answers requests in order, so once the terminator's echo
// arrives no fragment of the command's reply can still be outstanding.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	if !c.session.Is(rcon.StateAuthenticated) {
		return "", rcon.Errorf(rcon.KindNotAuthenticated, "execute", c.addr,
			"session is %s", c.session.State())
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return "", rcon.Errorf(rcon.KindNotAuthenticated, "execute", c.addr, "no active connection")
	}
	cmdID := c.allocateIDLocked()
	termID := c.allocateIDLocked()
	entry := &inflight{
		commandID:    cmdID,
		terminatorID: termID,
		done:         make(chan result, 1),
	}
	entry.timer = time.AfterFunc(c.cfg.IOTimeout, func() { c.expire(cmdID) })
	c.pending[cmdID] = entry
	c.byTerminator[termID] = cmdID
	c.mu.Unlock()

	cmdPkt, err := encode(Packet{ID: cmdID, Type: typeExecCommand, Body: []byte(command)})
	if err != nil {
		c.abandon(cmdID)
		return "", rcon.NewError(rcon.KindCommandFailed, "execute", c.addr, err)
	}
	termPkt, _ := encode(Packet{ID: termID, Type: typeResponseValue})

	c.logPacket("send", Packet{ID: cmdID, Type: typeExecCommand, Body: []byte(command)})
	c.logPacket("send", Packet{ID: termID, Type: typeResponseValue})

	// Both packets go out back to back in one write.
	if _, err := conn.Write(append(cmdPkt, termPkt...)); err != nil {
		c.abandon(cmdID)
		return "", rcon.NewError(rcon.KindCommandFailed, "execute", c.addr,
			rcon.NewError(rcon.KindSocket, "write", c.addr, err))
	}

	select {
	case res := <-entry.done:
		return res.body, res.err
	case <-ctx.Done():
		c.abandon(cmdID)
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

// readLoop pumps the stream through the framer and dispatches every framed
// packet. It exits when the connection closes or errors.
func (c *Client) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.mu.Lock()
			packets := c.framer.feed(buf[:n])
			c.mu.Unlock()
			for _, p := range packets {
				c.handlePacket(p)
			}
		}
		if err != nil {
			c.handleConnClosed(err)
			return
		}
	}
}

// handlePacket routes one inbound packet: auth responses while
// authenticating, then fragment accumulation and terminator completion.
func (c *Client) handlePacket(p Packet) {
	c.logPacket("recv", p)

	if c.session.Is(rcon.StateAuthenticating) {
		if p.ID == authFailedID {
			c.deliverAuthResult(rcon.Errorf(rcon.KindAuthFailed, "connect", c.addr,
				"server rejected password"))
			return
		}
		c.mu.Lock()
		authID := c.authID
		c.mu.Unlock()
		if p.ID == authID && p.Type == typeAuthResponse {
			c.deliverAuthResult(nil)
		}
		// Some servers precede the auth response with an empty
		// RESPONSE_VALUE carrying the same ID; it is ignored.
		return
	}

	c.mu.Lock()
	if cmdID, ok := c.byTerminator[p.ID]; ok {
		entry := c.pending[cmdID]
		delete(c.pending, cmdID)
		delete(c.byTerminator, p.ID)
		c.mu.Unlock()
		if entry != nil {
			entry.timer.Stop()
			body := bytes.Join(entry.fragments, nil)
			entry.done <- result{body: string(body)}
		}
		return
	}
	if entry, ok := c.pending[p.ID]; ok {
		entry.fragments = append(entry.fragments, p.Body)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Debug().Int32("id", p.ID).Int32("type", p.Type).
		Msg("dropping response with no matching request")
}

// deliverAuthResult hands the handshake outcome to the waiting Connect call.
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

// handleConnClosed reacts to the stream closing underneath the session.
func (c *Client) handleConnClosed(err error) {
	c.mu.Lock()
	ignorable := c.tearingDown || c.conn == nil
	c.mu.Unlock()
	if ignorable || c.session.Is(rcon.StateDisconnected) {
		return
	}

	kind := rcon.KindSocket
	if errors.Is(err, io.EOF) {
		kind = rcon.KindConnectionFailed
	}
	rerr := rcon.NewError(kind, "read", c.addr, err)
	c.logger.Warn().Err(err).Msg("connection lost")
	c.session.Events().EmitError(rerr)

	// A handshake still waiting must observe the failure too.
	c.deliverAuthResult(rcon.NewError(rcon.KindConnectionFailed, "connect", c.addr, err))

	c.teardown(true)
}

// expire fails one in-flight entry when its round-trip timer fires, then
// tears the session down: with the response stream now misaligned, later
// replies could complete the wrong waiter.
func (c *Client) expire(cmdID int32) {
	c.mu.Lock()
	entry, ok := c.pending[cmdID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, cmdID)
	delete(c.byTerminator, entry.terminatorID)
	c.mu.Unlock()

	err := rcon.Errorf(rcon.KindTimeout, "execute", c.addr,
		"no response within %s", c.cfg.IOTimeout)
	entry.done <- result{err: err}

	c.logger.Warn().Int32("command_id", cmdID).Msg("command timed out, closing session")
	c.session.Events().EmitError(err)
	c.teardown(true)
}

// abandon removes an entry nobody waits for any more: its request failed to
// encode or send, or the caller's context ended.
func (c *Client) abandon(cmdID int32) {
	c.mu.Lock()
	entry, ok := c.pending[cmdID]
	if ok {
		delete(c.pending, cmdID)
		delete(c.byTerminator, entry.terminatorID)
	}
	c.mu.Unlock()
	if ok {
		entry.timer.Stop()
	}
}

// teardown fails every in-flight entry, empties the correlation table,
// closes the stream, and walks the session to Disconnected. Safe to call
// from any goroutine; repeat calls are no-ops.
func (c *Client) teardown(hadError bool) {
	c.mu.Lock()
	if c.tearingDown {
		c.mu.Unlock()
		return
	}
	c.tearingDown = true
	conn := c.conn
	c.conn = nil
	entries := make([]*inflight, 0, len(c.pending))
	for _, e := range c.pending {
		entries = append(entries, e)
	}
	c.pending = make(map[int32]*inflight)
	c.byTerminator = make(map[int32]int32)
	c.framer.reset()
	authCh := c.authCh
	c.authCh = nil
	c.mu.Unlock()

	closed := rcon.Errorf(rcon.KindConnectionFailed, "execute", c.addr, "connection closed")
	for _, e := range entries {
		e.timer.Stop()
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

// allocateIDLocked returns the next request ID. The counter wraps back to 1
// before reaching idWrapLimit, so an ID is never 0 and never collides with
// the -1 auth failure sentinel. Callers hold c.mu.
func (c *Client) allocateIDLocked() int32 {
	c.lastID++
	if c.lastID >= idWrapLimit {
		c.lastID = 1
	}
	return c.lastID
}

// pendingCount reports the number of in-flight commands.
func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// logPacket traces one packet when debug logging is enabled. Auth request
// bodies are scrubbed so passwords never reach the log.
func (c *Client) logPacket(dir string, p Packet) {
	if !c.cfg.Debug {
		return
	}
	body := p.Body
	if p.Type == typeAuth && dir == "send" {
		body = []byte("*****")
	}
	c.logger.Trace().
		Str("dir", dir).
		Int32("id", p.ID).
		Int32("type", p.Type).
		Int("body_len", len(p.Body)).
		Str("body", string(body)).
		Msg("packet")
}
