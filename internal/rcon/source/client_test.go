package source

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rconsole-project/rconsole/internal/rcon"
)

// fakeServer is a scripted Source RCON server on a loopback listener.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T, handler func(t *testing.T, conn net.Conn)) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(t, conn)
	}()

	t.Cleanup(func() { ln.Close() })
	return &fakeServer{ln: ln}
}

func (s *fakeServer) port() uint16 {
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

// readWirePacket reads one full packet off the server side of the stream.
func readWirePacket(conn net.Conn) (Packet, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(conn, head); err != nil {
		return Packet{}, err
	}
	size := int32(binary.LittleEndian.Uint32(head))
	rest := make([]byte, size)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return Packet{}, err
	}
	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(rest[0:4])),
		Type: int32(binary.LittleEndian.Uint32(rest[4:8])),
		Body: rest[8 : len(rest)-2],
	}, nil
}

func writeWirePacket(conn net.Conn, p Packet) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

func testClient(srv *fakeServer) *Client {
	return New(rcon.ClientConfig{
		Host:           "127.0.0.1",
		Port:           srv.port(),
		Password:       "test_password",
		ConnectTimeout: 2 * time.Second,
		IOTimeout:      2 * time.Second,
	}, zerolog.Nop())
}

// serveAuth performs the server side of a successful handshake.
func serveAuth(t *testing.T, conn net.Conn) Packet {
	t.Helper()
	auth, err := readWirePacket(conn)
	if err != nil {
		t.Errorf("server failed to read auth: %v", err)
		return Packet{}
	}
	if auth.Type != typeAuth || string(auth.Body) != "test_password" {
		t.Errorf("unexpected auth packet: type=%d body=%q", auth.Type, auth.Body)
	}
	// Some servers send an empty RESPONSE_VALUE before the auth response.
	writeWirePacket(conn, Packet{ID: auth.ID, Type: typeResponseValue})
	writeWirePacket(conn, Packet{ID: auth.ID, Type: typeAuthResponse})
	return auth
}

func TestClientHappyPath(t *testing.T) {
	const listing = "There are 3 players online: Alice, Bob, Charlie"

	srv := newFakeServer(t, func(t *testing.T, conn net.Conn) {
		serveAuth(t, conn)

		cmd, err := readWirePacket(conn)
		if err != nil {
			t.Errorf("server failed to read command: %v", err)
			return
		}
		if cmd.Type != typeExecCommand || string(cmd.Body) != "list" {
			t.Errorf("unexpected command packet: type=%d body=%q", cmd.Type, cmd.Body)
		}
		term, err := readWirePacket(conn)
		if err != nil {
			t.Errorf("server failed to read terminator: %v", err)
			return
		}

		writeWirePacket(conn, Packet{ID: cmd.ID, Type: typeResponseValue, Body: []byte(listing)})
		writeWirePacket(conn, Packet{ID: term.ID, Type: typeResponseValue})

		// Hold the connection open until the client disconnects.
		io.Copy(io.Discard, conn)
	})

	c := testClient(srv)
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !c.IsAuthenticated() {
		t.Fatal("client not authenticated after connect")
	}

	got, err := c.Execute(ctx, "list")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got != listing {
		t.Errorf("execute = %q, want %q", got, listing)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if c.State() != rcon.StateDisconnected {
		t.Errorf("state after disconnect = %s", c.State())
	}
	if c.pendingCount() != 0 {
		t.Errorf("pending entries after disconnect = %d", c.pendingCount())
	}
}

func TestClientWrongPassword(t *testing.T) {
	srv := newFakeServer(t, func(t *testing.T, conn net.Conn) {
		auth, err := readWirePacket(conn)
		if err != nil {
			return
		}
		_ = auth
		writeWirePacket(conn, Packet{ID: -1, Type: typeAuthResponse})
		io.Copy(io.Discard, conn)
	})

	c := testClient(srv)
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("connect succeeded with rejected password")
	}
	if !errors.Is(err, rcon.ErrAuthFailed) {
		t.Errorf("error = %v, want auth failure", err)
	}
	if c.State() != rcon.StateDisconnected {
		t.Errorf("state after failed auth = %s", c.State())
	}
}

func TestClientMultiFragmentResponse(t *testing.T) {
	srv := newFakeServer(t, func(t *testing.T, conn net.Conn) {
		serveAuth(t, conn)

		cmd, err := readWirePacket(conn)
		if err != nil {
			return
		}
		term, err := readWirePacket(conn)
		if err != nil {
			return
		}

		writeWirePacket(conn, Packet{ID: cmd.ID, Type: typeResponseValue, Body: []byte("foo")})
		writeWirePacket(conn, Packet{ID: cmd.ID, Type: typeResponseValue, Body: []byte("bar")})
		writeWirePacket(conn, Packet{ID: term.ID, Type: typeResponseValue})
		io.Copy(io.Discard, conn)
	})

	c := testClient(srv)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Disconnect()

	got, err := c.Execute(ctx, "whatever")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got != "foobar" {
		t.Errorf("execute = %q, want %q", got, "foobar")
	}
}

func TestClientEmptyResponse(t *testing.T) {
	srv := newFakeServer(t, func(t *testing.T, conn net.Conn) {
		serveAuth(t, conn)

		if _, err := readWirePacket(conn); err != nil {
			return
		}
		term, err := readWirePacket(conn)
		if err != nil {
			return
		}

		// Only the terminator echo: the command produced no output.
		writeWirePacket(conn, Packet{ID: term.ID, Type: typeResponseValue})
		io.Copy(io.Discard, conn)
	})

	c := testClient(srv)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Disconnect()

	got, err := c.Execute(ctx, "silent")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got != "" {
		t.Errorf("execute = %q, want empty", got)
	}
}

func TestClientExecuteRequiresAuthentication(t *testing.T) {
	c := New(rcon.ClientConfig{Host: "127.0.0.1", Port: 1}, zerolog.Nop())

	_, err := c.Execute(context.Background(), "list")
	if err == nil {
		t.Fatal("execute succeeded while disconnected")
	}
	if !errors.Is(err, rcon.ErrNotAuthenticated) {
		t.Errorf("error = %v, want not authenticated", err)
	}
}

func TestClientConnectRequiresDisconnected(t *testing.T) {
	srv := newFakeServer(t, func(t *testing.T, conn net.Conn) {
		serveAuth(t, conn)
		io.Copy(io.Discard, conn)
	})

	c := testClient(srv)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("second connect succeeded on a live session")
	}
}

func TestClientDisconnectFailsInflight(t *testing.T) {
	release := make(chan struct{})
	srv := newFakeServer(t, func(t *testing.T, conn net.Conn) {
		serveAuth(t, conn)
		// Swallow the command and never answer.
		readWirePacket(conn)
		readWirePacket(conn)
		<-release
	})
	defer close(release)

	c := testClient(srv)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	execDone := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, "hang")
		execDone <- err
	}()

	// Give the command time to register, then tear down underneath it.
	time.Sleep(100 * time.Millisecond)
	c.Disconnect()

	select {
	case err := <-execDone:
		if !errors.Is(err, rcon.ErrConnectionFailed) {
			t.Errorf("execute error = %v, want connection failed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not fail after disconnect")
	}

	if c.pendingCount() != 0 {
		t.Errorf("pending entries after disconnect = %d", c.pendingCount())
	}
	if c.State() != rcon.StateDisconnected {
		t.Errorf("state after disconnect = %s", c.State())
	}
}

func TestClientExecuteTimeoutClosesSession(t *testing.T) {
	release := make(chan struct{})
	srv := newFakeServer(t, func(t *testing.T, conn net.Conn) {
		serveAuth(t, conn)
		readWirePacket(conn)
		readWirePacket(conn)
		<-release
	})
	defer close(release)

	c := New(rcon.ClientConfig{
		Host:           "127.0.0.1",
		Port:           srv.port(),
		Password:       "test_password",
		ConnectTimeout: 2 * time.Second,
		IOTimeout:      150 * time.Millisecond,
	}, zerolog.Nop())

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	_, err := c.Execute(ctx, "slow")
	if !errors.Is(err, rcon.ErrTimeout) {
		t.Fatalf("execute error = %v, want timeout", err)
	}

	// The response stream is now misaligned; the engine drops the session.
	deadline := time.After(2 * time.Second)
	for c.State() != rcon.StateDisconnected {
		select {
		case <-deadline:
			t.Fatalf("state = %s, want disconnected", c.State())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClientIDAllocatorSkipsZeroAndWraps(t *testing.T) {
	c := New(rcon.ClientConfig{Host: "127.0.0.1", Port: 1}, zerolog.Nop())

	first := c.allocateIDLocked()
	if first != 1 {
		t.Errorf("first id = %d, want 1", first)
	}

	c.lastID = idWrapLimit - 1
	if id := c.allocateIDLocked(); id != 1 {
		t.Errorf("id after wrap = %d, want 1", id)
	}
	if id := c.allocateIDLocked(); id != 2 {
		t.Errorf("id after wrap+1 = %d, want 2", id)
	}
}
