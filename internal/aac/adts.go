// Package aac parses the AAC framing the demuxers meet: ADTS headers in
// transport and program streams, and AudioSpecificConfig in MP4 and Matroska
// codec private data.
package aac

import "errors"

// SamplesPerFrame is the PCM sample count of one AAC-LC frame.
const SamplesPerFrame = 1024

var (
	// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
	ErrInvalidADTS = errors.New("aac: invalid ADTS header")
	// ErrInvalidConfig is returned for a malformed AudioSpecificConfig.
	ErrInvalidConfig = errors.New("aac: invalid AudioSpecificConfig")
)

var sampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// Header is a parsed ADTS header.
type Header struct {
	Profile    int // audio object type minus one
	SampleRate int
	Channels   int
	HeaderSize int
	FrameSize  int // header included
}

// Frame is one ADTS frame.
type Frame struct {
	Header
	Data []byte // header and payload
}

// IsADTS reports whether b starts with an ADTS sync word.
func IsADTS(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xF6 == 0xF0
}

// ParseHeader parses the ADTS header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 7 || !IsADTS(b) {
		return Header{}, ErrInvalidADTS
	}
	idx := int(b[2]>>2) & 0x0F
	if idx >= len(sampleRates) {
		return Header{}, ErrInvalidADTS
	}
	h := Header{
		Profile:    int(b[2] >> 6),
		SampleRate: sampleRates[idx],
		Channels:   int(b[2]&0x01)<<2 | int(b[3]>>6),
		HeaderSize: 7,
		FrameSize:  int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5),
	}
	if b[1]&0x01 == 0 {
		h.HeaderSize = 9 // CRC present
	}
	if h.FrameSize < h.HeaderSize {
		return Header{}, ErrInvalidADTS
	}
	return h, nil
}

// ParseADTS splits an ADTS byte stream into frames. Bytes that are not part
// of a frame are skipped while hunting for the next sync word; a truncated
// trailing frame is dropped.
func ParseADTS(data []byte) ([]Frame, error) {
	var frames []Frame
	for pos := 0; len(data)-pos >= 7; {
		if !IsADTS(data[pos:]) {
			pos++
			continue
		}
		h, err := ParseHeader(data[pos:])
		if err != nil {
			return frames, err
		}
		if pos+h.FrameSize > len(data) {
			break
		}
		frames = append(frames, Frame{Header: h, Data: data[pos : pos+h.FrameSize]})
		pos += h.FrameSize
	}
	return frames, nil
}

// Config is the subset of an AudioSpecificConfig the pipeline needs.
type Config struct {
	ObjectType int
	SampleRate int
	Channels   int
}

// ParseConfig parses the leading fields of an AudioSpecificConfig.
func ParseConfig(b []byte) (Config, error) {
	if len(b) < 2 {
		return Config{}, ErrInvalidConfig
	}
	c := Config{ObjectType: int(b[0] >> 3)}
	idx := int(b[0]&0x07)<<1 | int(b[1]>>7)
	switch {
	case idx == 0x0F:
		if len(b) < 5 {
			return Config{}, ErrInvalidConfig
		}
		c.SampleRate = int(b[1]&0x7F)<<17 | int(b[2])<<9 | int(b[3])<<1 | int(b[4]>>7)
		c.Channels = int(b[4]>>3) & 0x0F
	case idx < len(sampleRates):
		c.SampleRate = sampleRates[idx]
		c.Channels = int(b[1]>>3) & 0x0F
	default:
		return Config{}, ErrInvalidConfig
	}
	return c, nil
}
