package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47
)

// pidOf reads the PID from a raw packet without parsing the rest.
func pidOf(buf []byte) uint16 {
	return uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
}

func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet is %d bytes, want %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: bad sync byte 0x%02X", buf[0])
	}

	h := PacketHeader{
		PID:                       pidOf(buf),
		TransportErrorIndicator:   buf[1]&0x80 != 0,
		PayloadUnitStartIndicator: buf[1]&0x40 != 0,
		HasAdaptationField:        buf[3]&0x20 != 0,
		HasPayload:                buf[3]&0x10 != 0,
		ContinuityCounter:         buf[3] & 0x0F,
	}

	start := 4
	if h.HasAdaptationField {
		afLen := int(buf[4])
		if afLen > 0 {
			h.DiscontinuityIndicator = buf[5]&0x80 != 0
		}
		start = min(5+afLen, packetSize)
	}

	p := &Packet{Header: h}
	if h.HasPayload && start < packetSize {
		p.Payload = append([]byte(nil), buf[start:]...)
	}
	return p, nil
}
