package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/riff"

	"github.com/zsiec/framesrc/internal/media"
)

// wavPacketSamples is the number of sample frames per emitted packet.
const wavPacketSamples = 2048

var (
	fourccWAVE = riff.FourCC{'W', 'A', 'V', 'E'}
	fourccFmt  = riff.FourCC{'f', 'm', 't', ' '}
	fourccData = riff.FourCC{'d', 'a', 't', 'a'}
	fourccBext = riff.FourCC{'b', 'e', 'x', 't'}
)

const (
	wavFormatPCM        = 0x0001
	wavFormatExtensible = 0xFFFE
)

// Bext is the Broadcast Wave Format extension chunk.
type Bext struct {
	Description         string
	Originator          string
	OriginatorReference string
	OriginationDate     string
	OriginationTime     string
	TimeReference       uint64 // samples since midnight
}

// WAV demuxes RIFF WAVE files. It has one audio track and is that track.
type WAV struct {
	format    media.AudioFormat
	codec     media.Codec
	bext      *Bext
	data      io.Reader
	dataLen   uint32
	samples   int64
	frameNo   int64
	frameSize int
}

// NewWAV reads chunks up to the start of the sample data. The fmt chunk may
// be larger than the 16 bytes of plain PCM; extra bytes are skipped.
func NewWAV(r io.Reader) (*WAV, error) {
	form, chunks, err := riff.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("container: wav: %w", err)
	}
	if form != fourccWAVE {
		return nil, fmt.Errorf("%w: riff form %q is not WAVE", ErrMalformed, form[:])
	}

	w := &WAV{codec: media.CodecUnknown}
	haveFmt := false
	for {
		id, n, chunk, err := chunks.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: wav has no data chunk", ErrMalformed)
			}
			return nil, fmt.Errorf("container: wav: %w", err)
		}
		switch id {
		case fourccFmt:
			if err := w.parseFmt(chunk, n); err != nil {
				return nil, err
			}
			haveFmt = true
		case fourccBext:
			b, err := parseBext(chunk, n)
			if err != nil {
				return nil, err
			}
			w.bext = b
		case fourccData:
			if !haveFmt {
				return nil, fmt.Errorf("%w: wav data before fmt", ErrMalformed)
			}
			w.data = chunk
			w.dataLen = n
			return w, nil
		}
	}
}

func (w *WAV) parseFmt(r io.Reader, n uint32) error {
	if n < 16 {
		return fmt.Errorf("%w: wav fmt chunk of %d bytes", ErrMalformed, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("container: wav fmt: %w", err)
	}
	tag := binary.LittleEndian.Uint16(buf[0:2])
	w.format = media.AudioFormat{
		Channels:       int(binary.LittleEndian.Uint16(buf[2:4])),
		SampleRate:     int(binary.LittleEndian.Uint32(buf[4:8])),
		SampleSizeBits: int(binary.LittleEndian.Uint16(buf[14:16])),
	}
	// WAVE_FORMAT_EXTENSIBLE keeps the real tag in the first two bytes of
	// the sub-format GUID.
	if tag == wavFormatExtensible && n >= 26 {
		tag = binary.LittleEndian.Uint16(buf[24:26])
	}
	if tag == wavFormatPCM {
		w.codec = media.CodecPCM
	}
	w.frameSize = w.format.FrameSize()
	if w.frameSize == 0 {
		return fmt.Errorf("%w: wav fmt has zero block size", ErrMalformed)
	}
	return nil
}

func parseBext(r io.Reader, n uint32) (*Bext, error) {
	const fixed = 256 + 32 + 32 + 10 + 8 + 8
	if n < fixed {
		return nil, fmt.Errorf("%w: bext chunk of %d bytes", ErrMalformed, n)
	}
	buf := make([]byte, fixed)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("container: wav bext: %w", err)
	}
	field := func(off, size int) string {
		return string(bytes.TrimRight(buf[off:off+size], "\x00"))
	}
	return &Bext{
		Description:         field(0, 256),
		Originator:          field(256, 32),
		OriginatorReference: field(288, 32),
		OriginationDate:     field(320, 10),
		OriginationTime:     field(330, 8),
		TimeReference:       binary.LittleEndian.Uint64(buf[338:346]),
	}, nil
}

// Format returns the sample format of the fmt chunk.
func (w *WAV) Format() media.AudioFormat { return w.format }

// Bext returns the broadcast extension, or nil when the file has none.
func (w *WAV) Bext() *Bext { return w.bext }

func (w *WAV) VideoTracks() []Track { return nil }
func (w *WAV) AudioTracks() []Track { return []Track{w} }

func (w *WAV) Meta() *TrackMeta {
	f := w.format
	return &TrackMeta{
		Type:        media.TrackAudio,
		Codec:       w.codec,
		Audio:       &media.AudioCodecMeta{Codec: w.codec, Format: &f},
		Timescale:   w.format.SampleRate,
		TotalFrames: int64(w.dataLen) / int64(w.frameSize),
	}
}

func (w *WAV) NextPacket() (*media.Packet, error) {
	buf := make([]byte, wavPacketSamples*w.frameSize)
	n, err := io.ReadFull(w.data, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("container: wav data: %w", err)
	}
	n -= n % w.frameSize
	if n == 0 {
		return nil, io.EOF
	}
	count := int64(n / w.frameSize)
	p := &media.Packet{
		Data:      buf[:n],
		PTS:       w.samples,
		DTS:       w.samples,
		Duration:  count,
		Timescale: w.format.SampleRate,
		FrameType: media.FrameKey,
		FrameNo:   w.frameNo,
	}
	w.samples += count
	w.frameNo++
	return p, nil
}
