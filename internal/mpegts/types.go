// Package mpegts parses MPEG transport streams into PSI tables and
// reassembled PES units. It tracks PAT/PMT program structure, extracts
// PTS/DTS timestamps, and can drop whole PIDs before reassembly so callers
// never buffer elementary streams they do not read.
package mpegts

// Stream types carried in PMT entries.
const (
	StreamTypeMPEG1Video = 0x01
	StreamTypeMPEG2Video = 0x02
	StreamTypeMPEG1Audio = 0x03
	StreamTypeMPEG2Audio = 0x04
	StreamTypePrivatePES = 0x06
	StreamTypeAAC        = 0x0F
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
	StreamTypeAC3        = 0x81
)

// Packet is one parsed transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader holds the 4-byte TS header plus the discontinuity flag from
// the adaptation field.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
}

// Unit is one logical item produced by the demuxer. Exactly one of PAT, PMT
// or PES is set.
type Unit struct {
	PID uint16
	PAT *PAT
	PMT *PMT
	PES *PES
}

// PAT is the Program Association Table.
type PAT struct {
	TransportStreamID uint16
	Programs          []PATProgram
}

// PATProgram maps a program number to the PID carrying its PMT.
type PATProgram struct {
	Number uint16
	PMTPID uint16
}

// PMT is the Program Map Table of one program.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

// PES is a reassembled Packetized Elementary Stream unit. Timestamps are
// 33-bit values on the 90 kHz clock.
type PES struct {
	StreamID uint8
	PTS      int64
	DTS      int64
	HasPTS   bool
	HasDTS   bool
	Data     []byte
}

// DecodeTime returns the DTS when present, else the PTS.
func (p *PES) DecodeTime() int64 {
	if p.HasDTS {
		return p.DTS
	}
	return p.PTS
}
