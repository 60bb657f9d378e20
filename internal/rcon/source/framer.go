package source

import (
	"encoding/binary"

	"github.com/rs/zerolog"
)

// framer reassembles Source RCON packets from an arbitrary byte stream. TCP
// makes no promise that one read delivers one packet; servers legitimately
// coalesce a command response and the following terminator echo into a
// single segment, and large responses arrive split across reads.
type framer struct {
	buf    []byte
	logger zerolog.Logger
}

func newFramer(logger zerolog.Logger) *framer {
	return &framer{logger: logger}
}

// feed appends data to the receive buffer and returns every complete packet
// that can be framed. A size field outside the legal range means the stream
// is desynchronised: the buffer is discarded and framing stops until fresh
// data arrives.
func (f *framer) feed(data []byte) []Packet {
	f.buf = append(f.buf, data...)

	var packets []Packet
	for len(f.buf) >= 4 {
		size := int32(binary.LittleEndian.Uint32(f.buf[0:4]))
		if size < minPacketSize || size > maxPacketSize {
			f.logger.Warn().
				Int32("size", size).
				Int("buffered", len(f.buf)).
				Msg("stream desynchronised, dropping receive buffer")
			f.buf = nil
			break
		}

		total := int(size) + 4
		if len(f.buf) < total {
			break
		}

		p := Packet{
			ID:   int32(binary.LittleEndian.Uint32(f.buf[4:8])),
			Type: int32(binary.LittleEndian.Uint32(f.buf[8:12])),
		}
		bodyLen := int(size) - minPacketSize
		if bodyLen > 0 {
			p.Body = make([]byte, bodyLen)
			copy(p.Body, f.buf[12:12+bodyLen])
		}
		// The remaining two bytes are the null trailer; discard them.
		packets = append(packets, p)

		rest := len(f.buf) - total
		if rest == 0 {
			f.buf = nil
		} else {
			remaining := make([]byte, rest)
			copy(remaining, f.buf[total:])
			f.buf = remaining
		}
	}

	return packets
}

// reset discards any partially buffered packet.
func (f *framer) reset() {
	f.buf = nil
}

// buffered returns the number of bytes awaiting more data.
func (f *framer) buffered() int {
	return len(f.buf)
}
