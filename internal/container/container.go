// Package container holds the demuxers that turn files into per-track
// packet streams: MP4/MOV, Matroska, MPEG program and transport streams,
// Y4M, WAV, WebP, raw H.264 elementary streams, and image sequences.
//
// Every demuxer exposes its tracks through the Demuxer interface. Tracks
// yield packets in decode order and return io.EOF at the end of the stream.
package container

import (
	"errors"
	"io"

	"github.com/zsiec/framesrc/internal/media"
)

var (
	// ErrUnsupportedFormat is returned when no demuxer handles a format.
	ErrUnsupportedFormat = errors.New("container: unsupported format")
	// ErrMalformed is returned when a container structure cannot be parsed.
	ErrMalformed = errors.New("container: malformed input")
)

// TrackMeta describes a track as the container sees it. Video or Audio may
// be nil, and their Size or Format fields may be nil, when the container
// does not carry that information.
type TrackMeta struct {
	Type         media.TrackType
	Codec        media.Codec
	Video        *media.VideoCodecMeta
	Audio        *media.AudioCodecMeta
	Timescale    int
	TotalFrames  int64 // 0 when unknown
	CodecPrivate []byte
}

// Track is a packet source for one elementary stream.
type Track interface {
	// NextPacket returns the next packet in decode order, or io.EOF.
	NextPacket() (*media.Packet, error)
	// Meta returns the track description, or nil when nothing is known.
	Meta() *TrackMeta
}

// SeekableTrack is a track with random access to sync samples.
type SeekableTrack interface {
	Track
	// SeekToSync positions the track on the last key frame at or before
	// frame and returns that key frame's index.
	SeekToSync(frame int64) (int64, error)
	// CurrentFrame returns the index of the frame NextPacket returns next.
	CurrentFrame() int64
}

// Ignorer is implemented by tracks of multiplexed streams. An ignored
// track stops buffering data and returns io.EOF.
type Ignorer interface {
	Ignore()
}

// Demuxer lists the tracks of a container.
type Demuxer interface {
	VideoTracks() []Track
	AudioTracks() []Track
}

// Tracks returns the tracks of d with the given type.
func Tracks(d Demuxer, t media.TrackType) []Track {
	if t == media.TrackAudio {
		return d.AudioTracks()
	}
	return d.VideoTracks()
}

// Closer is implemented by demuxers holding resources beyond the reader
// they were given.
type Closer interface {
	Close() error
}

// streamTrack is a queue-backed track of a multiplexed container. The
// owning demuxer fills the queue from pull.
type streamTrack struct {
	meta    TrackMeta
	queue   []*media.Packet
	ignored bool
	frameNo int64
	pull    func() error
}

func (t *streamTrack) NextPacket() (*media.Packet, error) {
	for len(t.queue) == 0 {
		if t.ignored {
			return nil, io.EOF
		}
		if err := t.pull(); err != nil {
			return nil, err
		}
	}
	p := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	return p, nil
}

func (t *streamTrack) Meta() *TrackMeta {
	m := t.meta
	return &m
}

// push numbers p and queues it unless the track is ignored.
func (t *streamTrack) push(p *media.Packet) {
	if t.ignored {
		return
	}
	p.FrameNo = t.frameNo
	t.frameNo++
	if p.Timescale == 0 {
		p.Timescale = t.meta.Timescale
	}
	t.queue = append(t.queue, p)
}

func (t *streamTrack) ignore() {
	t.ignored = true
	t.queue = nil
}

// tsClock unwraps 33-bit MPEG timestamps into a monotonic 64-bit timeline.
type tsClock struct {
	last   int64
	offset int64
	init   bool
}

const wrap33 = int64(1) << 33

func (c *tsClock) unwrap(ts int64) int64 {
	if c.init {
		switch d := ts - c.last; {
		case d < -wrap33/2:
			c.offset += wrap33
		case d > wrap33/2 && c.offset > 0:
			c.offset -= wrap33
		}
	}
	c.last = ts
	c.init = true
	return ts + c.offset
}
