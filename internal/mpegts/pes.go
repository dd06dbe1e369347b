package mpegts

import (
	"errors"
	"fmt"
)

// ErrNotPES is returned when a payload does not start with the PES prefix.
var ErrNotPES = errors.New("mpegts: missing PES start code")

// HasPESPrefix reports whether data starts with the 0x000001 start code.
func HasPESPrefix(data []byte) bool {
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

// streamIDHasHeader reports whether PES units of this stream carry the
// optional header with flags and timestamps.
func streamIDHasHeader(id uint8) bool {
	switch id {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// ParsePES parses one PES unit. A zero PES_packet_length means the unit runs
// to the end of payload, which is how video is usually carried in TS. The
// returned Data aliases payload.
func ParsePES(payload []byte) (*PES, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES unit of %d bytes is too short", len(payload))
	}
	if !HasPESPrefix(payload) {
		return nil, ErrNotPES
	}

	pes := &PES{StreamID: payload[3]}
	end := len(payload)
	if n := int(payload[4])<<8 | int(payload[5]); n > 0 && 6+n < end {
		end = 6 + n
	}

	if !streamIDHasHeader(pes.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES header truncated")
	}

	flags := payload[7] >> 6
	dataStart := min(9+int(payload[8]), end)

	if flags&0x2 != 0 && len(payload) >= 14 {
		pes.PTS = readTimestamp(payload[9:14])
		pes.HasPTS = true
	}
	if flags == 0x3 && len(payload) >= 19 {
		pes.DTS = readTimestamp(payload[14:19])
		pes.HasDTS = true
	}

	pes.Data = payload[dataStart:end]
	return pes, nil
}

// readTimestamp decodes a 33-bit PTS/DTS split across five bytes with
// marker bits.
func readTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
