// Package source implements the Source RCON protocol engine: the packet
// codec, the incremental stream framer, and the TCP client.
package source

import (
	"encoding/binary"

	"github.com/rconsole-project/rconsole/internal/rcon"
)

// Packet type values defined by the protocol. Note that auth responses and
// command requests share the value 2; direction disambiguates them.
const (
	typeResponseValue = 0
	typeAuthResponse  = 2
	typeExecCommand   = 2
	typeAuth          = 3
)

const (
	// headerSize covers the ID and type fields.
	headerSize = 8

	// trailerSize covers the body null terminator and the padding null.
	trailerSize = 2

	// minPacketSize is the smallest legal value of the size field: an empty
	// body still carries ID, type, and the two-byte trailer.
	minPacketSize = headerSize + trailerSize

	// maxPacketSize is the largest legal value of the size field, allowing
	// a body of up to 4100 bytes.
	maxPacketSize = 4110

	// maxBodySize is the largest body accepted for encoding.
	maxBodySize = maxPacketSize - minPacketSize
)

// authFailedID is the packet ID servers substitute into the auth response
// when the password was rejected.
const authFailedID int32 = -1

// Packet is one Source RCON protocol packet, request or response.
type Packet struct {
	ID   int32
	Type int32
	Body []byte
}

// encode converts a packet to its wire representation: little-endian size,
// ID, type, body, and the double null trailer. The size field counts
// everything after itself.
func encode(p Packet) ([]byte, error) {
	size := headerSize + len(p.Body) + trailerSize
	if size > maxPacketSize {
		return nil, rcon.Errorf(rcon.KindInvalidPacket, "encode", "",
			"packet size %d exceeds maximum %d", size, maxPacketSize)
	}

	buf := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(size)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Type))
	copy(buf[12:], p.Body)
	// The final two bytes stay zero: body terminator plus padding.
	return buf, nil
}
