package container

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/media"
	"github.com/zsiec/framesrc/internal/mpegts"
)

// psProbeBytes bounds the scan for elementary streams at open.
const psProbeBytes = 4 << 20

// Start codes of MPEG-2 program stream system layer units.
const (
	psPackHeader   = 0xBA
	psSystemHeader = 0xBB
	psEndCode      = 0xB9
	psPrivate1     = 0xBD
)

// psStream is one elementary stream of a program stream. Substream is the
// first payload byte of private stream 1 units, -1 otherwise.
type psStream struct {
	streamTrack
	id        uint8
	substream int
	video     bool
	pending   []byte
	pts, dts  int64
	hasTime   bool
	clock     tsClock
}

func (s *psStream) Ignore() { s.ignore() }

// PS demuxes MPEG-2 program streams. Video PES units are collected into one
// packet per presentation timestamp. Audio is MPEG audio, AC-3 or DVD LPCM.
type PS struct {
	log     *slog.Logger
	r       *bufio.Reader
	streams map[int]*psStream
	video   []Track
	audio   []Track
	eof     bool
}

// NewPS scans the start of r for elementary streams and rewinds.
func NewPS(r io.ReadSeeker, log *slog.Logger) (*PS, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &PS{
		log:     log.With("component", "ps-demux"),
		r:       bufio.NewReaderSize(io.LimitReader(r, psProbeBytes), 64<<10),
		streams: make(map[int]*psStream),
	}

	// First pass: discover streams from their first payloads.
	for {
		pes, err := d.nextPES()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		id, sub, payload := splitPrivate(pes)
		k := int(id)<<8 | (sub & 0xFF)
		if _, ok := d.streams[k]; ok {
			continue
		}
		s := d.newStream(id, sub, payload)
		if s == nil {
			continue
		}
		d.streams[k] = s
		if s.video {
			d.video = append(d.video, s)
		} else {
			d.audio = append(d.audio, s)
		}
	}
	if len(d.streams) == 0 {
		return nil, fmt.Errorf("%w: no elementary streams in program stream", ErrMalformed)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("container: ps rewind: %w", err)
	}
	d.r = bufio.NewReaderSize(r, 64<<10)
	d.eof = false
	return d, nil
}

func (d *PS) newStream(id uint8, sub int, payload []byte) *psStream {
	s := &psStream{id: id, substream: sub}
	s.pull = d.pull
	s.meta.Timescale = 90000

	switch {
	case id >= 0xE0 && id <= 0xEF:
		s.video = true
		c := codec.Detect(payload)
		s.meta.Type = media.TrackVideo
		s.meta.Codec = c
		s.meta.Video = codec.ProbeVideo(c, payload)
	case id >= 0xC0 && id <= 0xDF:
		s.meta.Type = media.TrackAudio
		s.meta.Codec = mpegAudioCodec(payload)
	case id == psPrivate1 && sub >= 0x80 && sub <= 0x87:
		s.meta.Type = media.TrackAudio
		s.meta.Codec = media.CodecAC3
	case id == psPrivate1 && sub >= 0xA0 && sub <= 0xA7:
		s.meta.Type = media.TrackAudio
		s.meta.Codec = media.CodecPCM
		if f := dvdLPCMFormat(payload); f != nil {
			s.meta.Audio = &media.AudioCodecMeta{Codec: media.CodecPCM, Format: f}
		}
	default:
		return nil
	}
	return s
}

// mpegAudioCodec tells Layer III apart from the other MPEG audio layers.
func mpegAudioCodec(b []byte) media.Codec {
	if len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0 && (b[1]>>1)&0x03 == 1 {
		return media.CodecMP3
	}
	return media.CodecUnknown
}

// splitPrivate separates the substream id of private stream 1 units.
func splitPrivate(pes *mpegts.PES) (uint8, int, []byte) {
	if pes.StreamID != psPrivate1 || len(pes.Data) == 0 {
		return pes.StreamID, -1, pes.Data
	}
	return pes.StreamID, int(pes.Data[0]), pes.Data
}

// dvdLPCMFormat reads the 7-byte DVD LPCM header that leads private
// stream 1 LPCM payloads. Samples are big-endian.
func dvdLPCMFormat(b []byte) *media.AudioFormat {
	if len(b) < 7 {
		return nil
	}
	bits := [...]int{16, 20, 24, 0}[b[5]>>6]
	rate := [...]int{48000, 96000, 44100, 32000}[(b[5]>>4)&0x03]
	if bits == 0 {
		return nil
	}
	return &media.AudioFormat{
		SampleRate:     rate,
		Channels:       int(b[5]&0x07) + 1,
		SampleSizeBits: bits,
		BigEndian:      true,
	}
}

func (d *PS) VideoTracks() []Track { return d.video }
func (d *PS) AudioTracks() []Track { return d.audio }

// nextPES returns the next PES unit, skipping pack and system headers.
func (d *PS) nextPES() (*mpegts.PES, error) {
	for {
		if err := d.syncStartCode(); err != nil {
			return nil, err
		}
		hdr, err := d.r.Peek(6)
		if err != nil {
			return nil, io.EOF
		}
		id := hdr[3]
		switch {
		case id == psEndCode:
			_, _ = d.r.Discard(4)
			return nil, io.EOF
		case id == psPackHeader:
			if err := d.skipPack(); err != nil {
				return nil, err
			}
			continue
		case id < psPackHeader:
			// Stray elementary stream start code; resync past it.
			_, _ = d.r.Discard(4)
			continue
		}

		n := int(hdr[4])<<8 | int(hdr[5])
		unit := make([]byte, 6+n)
		if _, err := io.ReadFull(d.r, unit); err != nil {
			return nil, io.EOF
		}
		if id == psSystemHeader || n == 0 {
			continue
		}
		pes, err := mpegts.ParsePES(unit)
		if err != nil {
			d.log.Debug("skipping malformed PES", "stream_id", id, "error", err)
			continue
		}
		return pes, nil
	}
}

// syncStartCode advances to the next 0x000001 prefix.
func (d *PS) syncStartCode() error {
	for {
		b, _ := d.r.Peek(4)
		if len(b) < 4 {
			return io.EOF
		}
		if b[0] == 0 && b[1] == 0 && b[2] == 1 {
			return nil
		}
		_, _ = d.r.Discard(1)
	}
}

func (d *PS) skipPack() error {
	b, err := d.r.Peek(14)
	if err != nil {
		return io.EOF
	}
	if b[4]>>6 != 0x01 {
		// MPEG-1 pack header.
		_, err = d.r.Discard(12)
		return err
	}
	_, err = d.r.Discard(14 + int(b[13]&0x07))
	return err
}

// pull reads one PES unit and routes it to its stream. At end of input the
// held-back video units are flushed once, then io.EOF is returned.
func (d *PS) pull() error {
	if d.eof {
		return io.EOF
	}
	pes, err := d.nextPES()
	if errors.Is(err, io.EOF) {
		d.eof = true
		for _, t := range d.video {
			t.(*psStream).flush()
		}
		return nil
	}
	if err != nil {
		return err
	}
	id, sub, payload := splitPrivate(pes)
	s, ok := d.streams[int(id)<<8|(sub&0xFF)]
	if !ok || s.ignored {
		return nil
	}
	s.add(pes, payload)
	return nil
}

// add turns a PES unit into packets. Video payloads accumulate until the
// next unit carrying a timestamp.
func (s *psStream) add(pes *mpegts.PES, payload []byte) {
	if s.video {
		if pes.HasPTS {
			s.flush()
			s.pts = s.clock.unwrap(pes.PTS)
			s.dts = s.pts
			if pes.HasDTS {
				s.dts = pes.DTS + (s.pts - pes.PTS)
			}
			s.hasTime = true
		}
		s.pending = append(s.pending, payload...)
		return
	}

	data := payload
	switch {
	case s.substream >= 0xA0 && s.substream <= 0xA7 && len(data) >= 7:
		data = data[7:]
	case s.substream >= 0x80 && s.substream <= 0x87 && len(data) >= 4:
		data = data[4:]
	}
	pts := s.pts
	if pes.HasPTS {
		pts = s.clock.unwrap(pes.PTS)
	}
	s.push(&media.Packet{
		Data:      bytes.Clone(data),
		PTS:       pts,
		DTS:       pts,
		FrameType: media.FrameKey,
	})
	s.pts = pts
}

func (s *psStream) flush() {
	if len(s.pending) == 0 || !s.hasTime {
		s.pending = s.pending[:0]
		return
	}
	data := s.pending
	s.pending = nil
	s.push(&media.Packet{
		Data:      data,
		PTS:       s.pts,
		DTS:       s.dts,
		FrameType: mpeg2FrameType(s.meta.Codec, data),
	})
}

// mpeg2FrameType reads picture_coding_type from the first picture header.
// Other codecs are left for the pipeline to classify.
func mpeg2FrameType(c media.Codec, data []byte) media.FrameType {
	if c != media.CodecMPEG2 {
		return media.FrameUnknown
	}
	i := bytes.Index(data, []byte{0, 0, 1, 0})
	if i < 0 || i+6 > len(data) {
		return media.FrameUnknown
	}
	if (data[i+5]>>3)&0x07 == 1 {
		return media.FrameKey
	}
	return media.FrameInter
}
