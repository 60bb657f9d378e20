package rcon

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestErrorKindMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel *Error
	}{
		{"connection failed", NewError(KindConnectionFailed, "connect", "host:25575", io.EOF), ErrConnectionFailed},
		{"auth failed", Errorf(KindAuthFailed, "connect", "host:25575", "server rejected password"), ErrAuthFailed},
		{"timeout", Errorf(KindTimeout, "execute", "host:2305", "no response"), ErrTimeout},
		{"not authenticated", Errorf(KindNotAuthenticated, "execute", "", "session is disconnected"), ErrNotAuthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			// A kind only matches itself.
			for _, other := range []*Error{ErrConnectionFailed, ErrAuthFailed, ErrTimeout, ErrNotAuthenticated} {
				if other.Kind != tt.sentinel.Kind && errors.Is(tt.err, other) {
					t.Errorf("errors.Is(%v, %v) = true", tt.err, other)
				}
			}
		})
	}
}

func TestCommandFailedPreservesCause(t *testing.T) {
	cause := NewError(KindSocket, "write", "host:25575", io.ErrClosedPipe)
	wrapped := NewError(KindCommandFailed, "execute", "host:25575", cause)

	if !errors.Is(wrapped, ErrCommandFailed) {
		t.Error("wrapped error does not match command failed")
	}
	if !errors.Is(wrapped, ErrSocket) {
		t.Error("wrapped error lost its socket cause")
	}
	if !errors.Is(wrapped, io.ErrClosedPipe) {
		t.Error("wrapped error lost the transport cause")
	}

	var inner *Error
	if !errors.As(wrapped, &inner) {
		t.Fatal("errors.As failed on wrapped error")
	}
	if inner.Kind != KindCommandFailed {
		t.Errorf("outermost kind = %v, want command failed", inner.Kind)
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := NewError(KindTimeout, "connect", "host:25575", errors.New("deadline exceeded"))

	msg := err.Error()
	for _, part := range []string{"rcon", "connect", "host:25575", "timeout", "deadline exceeded"} {
		if !strings.Contains(msg, part) {
			t.Errorf("error message %q missing %q", msg, part)
		}
	}

	bare := &Error{Kind: KindAuthFailed}
	if got := bare.Error(); got != "rcon: authentication failed" {
		t.Errorf("bare message = %q", got)
	}
}
