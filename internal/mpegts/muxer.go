package mpegts

import (
	"encoding/binary"
	"io"
)

// Muxer writes PAT, PMT and PES units as 188-byte transport stream packets.
// Continuity counters are kept per PID. It is the write side of Demuxer and
// exists for generating streams; it does not emit PCR.
type Muxer struct {
	w  io.Writer
	cc map[uint16]uint8
}

// NewMuxer returns a muxer writing to w.
func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w, cc: make(map[uint16]uint8)}
}

// WritePAT writes a PAT mapping program numbers to PMT PIDs.
func (m *Muxer) WritePAT(programs []PATProgram) error {
	body := make([]byte, 0, 5+4*len(programs))
	body = append(body, 0x00, 0x01, 0xC1, 0x00, 0x00) // transport_stream_id 1, version 0
	for _, p := range programs {
		body = append(body, byte(p.Number>>8), byte(p.Number), 0xE0|byte(p.PMTPID>>8)&0x1F, byte(p.PMTPID))
	}
	return m.writeSection(0x0000, tableIDPAT, body)
}

// WritePMT writes the PMT of one program on pid.
func (m *Muxer) WritePMT(pid uint16, pmt PMT) error {
	body := make([]byte, 0, 9+5*len(pmt.Streams))
	body = append(body,
		byte(pmt.ProgramNumber>>8), byte(pmt.ProgramNumber), 0xC1, 0x00, 0x00,
		0xE0|byte(pmt.PCRPID>>8)&0x1F, byte(pmt.PCRPID),
		0xF0, 0x00, // program_info_length 0
	)
	for _, s := range pmt.Streams {
		body = append(body, s.StreamType, 0xE0|byte(s.PID>>8)&0x1F, byte(s.PID), 0xF0, 0x00)
	}
	return m.writeSection(pid, tableIDPMT, body)
}

func (m *Muxer) writeSection(pid uint16, tableID byte, body []byte) error {
	n := len(body) + 4
	sec := make([]byte, 0, 3+n+1)
	sec = append(sec, 0x00, tableID, 0xB0|byte(n>>8)&0x0F, byte(n)) // pointer field first
	sec = append(sec, body...)
	sec = binary.BigEndian.AppendUint32(sec, computeCRC32(sec[1:]))
	return m.writePayload(pid, sec)
}

// WritePES writes one PES unit. Video stream ids get an unbounded
// PES_packet_length. dts is written only when it differs from pts.
func (m *Muxer) WritePES(pid uint16, pes PES) error {
	var opt []byte
	flags := byte(0)
	switch {
	case pes.HasPTS && pes.HasDTS && pes.DTS != pes.PTS:
		flags = 0x03
		opt = appendTimestamp(opt, 0x03, pes.PTS)
		opt = appendTimestamp(opt, 0x01, pes.DTS)
	case pes.HasPTS:
		flags = 0x02
		opt = appendTimestamp(opt, 0x02, pes.PTS)
	}
	length := 3 + len(opt) + len(pes.Data)
	if pes.StreamID&0xF0 == 0xE0 || length > 0xFFFF {
		length = 0
	}
	buf := make([]byte, 0, 9+len(opt)+len(pes.Data))
	buf = append(buf, 0x00, 0x00, 0x01, pes.StreamID, byte(length>>8), byte(length))
	buf = append(buf, 0x80, flags<<6, byte(len(opt)))
	buf = append(buf, opt...)
	buf = append(buf, pes.Data...)
	return m.writePayload(pid, buf)
}

func appendTimestamp(b []byte, prefix byte, ts int64) []byte {
	return append(b,
		prefix<<4|byte(ts>>29)&0x0E|0x01,
		byte(ts>>22),
		byte(ts>>14)|0x01,
		byte(ts>>7),
		byte(ts<<1)|0x01,
	)
}

// writePayload splits payload over packets of pid. The last packet is
// padded with adaptation field stuffing.
func (m *Muxer) writePayload(pid uint16, payload []byte) error {
	pkt := make([]byte, packetSize)
	first := true
	for len(payload) > 0 {
		pkt[0] = syncByte
		pkt[1] = byte(pid>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid)
		cc := m.cc[pid]
		m.cc[pid] = (cc + 1) & 0x0F

		room := packetSize - 4
		if len(payload) >= room {
			pkt[3] = 0x10 | cc
			copy(pkt[4:], payload[:room])
			payload = payload[room:]
		} else {
			pkt[3] = 0x30 | cc
			af := room - 1 - len(payload)
			pkt[4] = byte(af)
			if af > 0 {
				pkt[5] = 0x00
				for i := 6; i < 5+af; i++ {
					pkt[i] = 0xFF
				}
			}
			copy(pkt[5+af:], payload)
			payload = nil
		}
		if _, err := m.w.Write(pkt); err != nil {
			return err
		}
		first = false
	}
	return nil
}
