// Package battleye implements the BattlEye RCON protocol engine: the
// checksummed datagram codec and the UDP client with sequence correlation,
// server-message acknowledgement, and the keep-alive heartbeat.
package battleye

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Payload type bytes. Every payload starts with one of these.
const (
	typeLogin         = 0x00
	typeCommand       = 0x01
	typeServerMessage = 0x02
)

// loginSuccess is the result byte the server returns for an accepted
// password.
const loginSuccess = 0x01

// headerSize is the fixed packet prefix: "BE", the 4-byte checksum, and the
// 0xFF separator.
const headerSize = 7

var packetPrefix = []byte{'B', 'E'}

var (
	errTooShort    = errors.New("battleye: packet shorter than header")
	errBadPrefix   = errors.New("battleye: missing BE prefix")
	errBadChecksum = errors.New("battleye: checksum mismatch")
)

// checksum computes the packet CRC32. The input deliberately includes the
// 0xFF separator byte that also appears on the wire: the checksum range and
// the packet body overlap at that byte. hash/crc32's IEEE table is the
// reflected 0xEDB88320 polynomial with 0xFFFFFFFF init and final XOR, which
// is exactly the algorithm the protocol expects.
func checksum(payload []byte) uint32 {
	crc := crc32.NewIEEE()
	crc.Write([]byte{0xFF})
	crc.Write(payload)
	return crc.Sum32()
}

// build wraps a typed payload into a wire datagram:
// 'B' 'E' | crc32 LE | 0xFF | payload.
func build(payload []byte) []byte {
	data := make([]byte, headerSize+len(payload))
	data[0] = 'B'
	data[1] = 'E'
	binary.LittleEndian.PutUint32(data[2:6], checksum(payload))
	data[6] = 0xFF
	copy(data[7:], payload)
	return data
}

// parse validates a datagram and returns its payload. UDP peers sharing the
// port may deliver unrelated traffic, so every shape violation is an error
// for the caller to drop rather than surface.
func parse(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, errTooShort
	}
	if !bytes.Equal(data[0:2], packetPrefix) {
		return nil, errBadPrefix
	}
	if data[6] != 0xFF {
		return nil, errBadPrefix
	}
	payload := data[headerSize:]
	if binary.LittleEndian.Uint32(data[2:6]) != checksum(payload) {
		return nil, errBadChecksum
	}
	return payload, nil
}

// buildLogin builds the login payload: type byte then the password.
func buildLogin(password string) []byte {
	return build(append([]byte{typeLogin}, []byte(password)...))
}

// buildCommand builds a sequenced command payload. An empty command is the
// keep-alive heartbeat.
func buildCommand(seq byte, command string) []byte {
	payload := append([]byte{typeCommand, seq}, []byte(command)...)
	return build(payload)
}

// buildAck builds the acknowledgement for a server-pushed message.
func buildAck(seq byte) []byte {
	return build([]byte{typeServerMessage, seq})
}
