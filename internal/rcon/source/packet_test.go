package source

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rconsole-project/rconsole/internal/rcon"
)

func TestEncodeLayout(t *testing.T) {
	pkt := Packet{ID: 7, Type: typeExecCommand, Body: []byte("list")}

	data, err := encode(pkt)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	wantSize := int32(10 + 4)
	if got := int32(binary.LittleEndian.Uint32(data[0:4])); got != wantSize {
		t.Errorf("size field = %d, want %d", got, wantSize)
	}
	if got := int32(binary.LittleEndian.Uint32(data[4:8])); got != 7 {
		t.Errorf("id field = %d, want 7", got)
	}
	if got := int32(binary.LittleEndian.Uint32(data[8:12])); got != typeExecCommand {
		t.Errorf("type field = %d, want %d", got, typeExecCommand)
	}
	if !bytes.Equal(data[12:16], []byte("list")) {
		t.Errorf("body = %q, want %q", data[12:16], "list")
	}
	if data[16] != 0 || data[17] != 0 {
		t.Errorf("trailer = %v, want two null bytes", data[16:18])
	}
	if len(data) != int(wantSize)+4 {
		t.Errorf("total length = %d, want %d", len(data), wantSize+4)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{"empty body", Packet{ID: 1, Type: typeResponseValue}},
		{"auth request", Packet{ID: 2, Type: typeAuth, Body: []byte("password")}},
		{"command", Packet{ID: 3, Type: typeExecCommand, Body: []byte("status")}},
		{"auth failure id", Packet{ID: -1, Type: typeAuthResponse}},
		{"largest body", Packet{ID: 4, Type: typeResponseValue, Body: bytes.Repeat([]byte{'x'}, maxBodySize)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encode(tt.pkt)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}

			f := newFramer(zerolog.Nop())
			packets := f.feed(data)
			if len(packets) != 1 {
				t.Fatalf("framer yielded %d packets, want 1", len(packets))
			}

			got := packets[0]
			if got.ID != tt.pkt.ID || got.Type != tt.pkt.Type {
				t.Errorf("decoded header = (%d, %d), want (%d, %d)",
					got.ID, got.Type, tt.pkt.ID, tt.pkt.Type)
			}
			if !bytes.Equal(got.Body, tt.pkt.Body) {
				t.Errorf("decoded body length %d, want %d", len(got.Body), len(tt.pkt.Body))
			}
			if f.buffered() != 0 {
				t.Errorf("framer kept %d bytes after a complete packet", f.buffered())
			}
		})
	}
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	pkt := Packet{ID: 1, Type: typeExecCommand, Body: bytes.Repeat([]byte{'x'}, maxBodySize+1)}

	_, err := encode(pkt)
	if err == nil {
		t.Fatal("encode accepted a packet above the maximum size")
	}
	if !errors.Is(err, rcon.ErrInvalidPacket) {
		t.Errorf("error kind = %v, want invalid packet", err)
	}
}
