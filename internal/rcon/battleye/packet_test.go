package battleye

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestChecksumKnownValues(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    uint32
	}{
		// CRC32 of the single 0xFF separator byte.
		{"empty payload", nil, 0xFF000000},
		{"login with password", append([]byte{typeLogin}, []byte("testpassword")...), 0x082D2499},
		{"successful login response", []byte{typeLogin, 0x01}, 0x36DEDD69},
		{"command players", append([]byte{typeCommand, 0x00}, []byte("players")...), 0xAE9437F9},
		{"server message ack", []byte{typeServerMessage, 42}, 0xA85446AB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checksum(tt.payload); got != tt.want {
				t.Errorf("checksum = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestBuildLayout(t *testing.T) {
	payload := []byte{typeCommand, 0x05, 'h', 'e', 'l', 'l', 'o'}
	data := build(payload)

	if len(data) != headerSize+len(payload) {
		t.Fatalf("packet length = %d, want %d", len(data), headerSize+len(payload))
	}
	if data[0] != 'B' || data[1] != 'E' {
		t.Errorf("prefix = %q, want BE", data[0:2])
	}
	if got := binary.LittleEndian.Uint32(data[2:6]); got != 0x45E11213 {
		t.Errorf("crc = 0x%08X, want 0x45E11213", got)
	}
	if data[6] != 0xFF {
		t.Errorf("separator = 0x%02X, want 0xFF", data[6])
	}
	if !bytes.Equal(data[7:], payload) {
		t.Errorf("payload = %v, want %v", data[7:], payload)
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"login", append([]byte{typeLogin}, []byte("secret")...)},
		{"empty command", []byte{typeCommand, 0x00}},
		{"command with body", append([]byte{typeCommand, 0x7F}, []byte("say hi")...)},
		{"server message", append([]byte{typeServerMessage, 0xFF}, []byte("restart in 5")...)},
		{"max sequence", []byte{typeCommand, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parse(build(tt.payload))
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("round trip = %v, want %v", got, tt.payload)
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	valid := build([]byte{typeCommand, 0x01, 'o', 'k'})

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"too short", func(d []byte) []byte { return d[:6] }},
		{"wrong prefix", func(d []byte) []byte { d[0] = 'X'; return d }},
		{"wrong second prefix byte", func(d []byte) []byte { d[1] = 'X'; return d }},
		{"wrong separator", func(d []byte) []byte { d[6] = 0x00; return d }},
		{"corrupted checksum", func(d []byte) []byte { d[2] ^= 0xFF; return d }},
		{"corrupted payload type", func(d []byte) []byte { d[7] ^= 0x01; return d }},
		{"corrupted sequence", func(d []byte) []byte { d[8] ^= 0x01; return d }},
		{"corrupted body", func(d []byte) []byte { d[9] ^= 0x01; return d }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, len(valid))
			copy(data, valid)
			if _, err := parse(tt.mutate(data)); err == nil {
				t.Error("parse accepted a malformed packet")
			}
		})
	}
}

func TestParseCatchesEveryBitFlip(t *testing.T) {
	// Flipping any byte of the checksummed region must invalidate the
	// packet.
	data := build(append([]byte{typeCommand, 0x09}, []byte("players")...))
	for i := 6; i < len(data); i++ {
		mutated := make([]byte, len(data))
		copy(mutated, data)
		mutated[i] ^= 0x40
		if _, err := parse(mutated); err == nil {
			t.Errorf("parse accepted packet with byte %d flipped", i)
		}
	}
}

func TestBuilders(t *testing.T) {
	login, err := parse(buildLogin("testpassword"))
	if err != nil {
		t.Fatalf("parse(login) failed: %v", err)
	}
	if login[0] != typeLogin || string(login[1:]) != "testpassword" {
		t.Errorf("login payload = %v", login)
	}

	cmd, err := parse(buildCommand(7, "players"))
	if err != nil {
		t.Fatalf("parse(command) failed: %v", err)
	}
	if cmd[0] != typeCommand || cmd[1] != 7 || string(cmd[2:]) != "players" {
		t.Errorf("command payload = %v", cmd)
	}

	heartbeat, err := parse(buildCommand(0, ""))
	if err != nil {
		t.Fatalf("parse(heartbeat) failed: %v", err)
	}
	if len(heartbeat) != 2 || heartbeat[0] != typeCommand || heartbeat[1] != 0 {
		t.Errorf("heartbeat payload = %v", heartbeat)
	}

	ack, err := parse(buildAck(42))
	if err != nil {
		t.Fatalf("parse(ack) failed: %v", err)
	}
	if len(ack) != 2 || ack[0] != typeServerMessage || ack[1] != 42 {
		t.Errorf("ack payload = %v", ack)
	}
}
