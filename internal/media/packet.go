// Package media defines the core types that flow through the framesrc decode
// pipeline, from container demuxing through decoding and reordering.
package media

// FrameType classifies a compressed packet by its decode dependencies.
type FrameType int

// Frame types. Unknown packets get their type inferred from the payload where
// the codec allows it.
const (
	FrameUnknown FrameType = iota
	FrameKey
	FrameInter
)

func (t FrameType) String() string {
	switch t {
	case FrameKey:
		return "key"
	case FrameInter:
		return "inter"
	default:
		return "unknown"
	}
}

// Packet is one compressed access unit of a single track. Data is borrowed
// from the demuxer and stays valid for the packet's lifetime. Timestamps are
// expressed in Timescale units. The reorder stages patch Duration and
// FrameType; every other field is set once by the demuxer.
type Packet struct {
	Data      []byte
	PTS       int64
	DTS       int64
	Duration  int64
	Timescale int
	FrameType FrameType
	FrameNo   int64
}

// Seconds converts a timestamp in the packet's timescale to seconds.
func (p *Packet) Seconds(ts int64) float64 {
	if p.Timescale == 0 {
		return 0
	}
	return float64(ts) / float64(p.Timescale)
}

// TrackSelection identifies a resolved track: the transport-stream program
// (0 for every other container), the index among tracks of the same type, and
// the codec that will be decoded.
type TrackSelection struct {
	Program int
	Track   int
	Codec   Codec
}
