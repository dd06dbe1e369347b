package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/container"
	"github.com/zsiec/framesrc/internal/h264"
	"github.com/zsiec/framesrc/internal/media"
	"github.com/zsiec/framesrc/internal/metrics"
	"github.com/zsiec/framesrc/internal/pixstore"
)

var errNoPicture = errors.New("source: decoder returned no picture")

// videoState is the decode state of the video track. The decoder is
// created from the first packet pulled; err holds a creation failure so
// every later call reports it.
type videoState struct {
	packets *reorderBuffer[*media.Packet]
	frames  *reorderBuffer[*DecodedFrame]

	dec       codec.VideoDecoder
	codec     media.Codec
	downscale int
	meta      *media.VideoCodecMeta
	err       error

	demuxDone bool
	pool      PixelStore
}

// flush drops every buffered packet and returns every buffered frame to
// the store it was acquired from.
func (v *videoState) flush() {
	if v.packets != nil {
		v.packets.drain(func(*media.Packet) {})
	}
	if v.frames != nil {
		v.frames.drain(func(f *DecodedFrame) {
			if v.pool != nil {
				v.pool.Release(f.Loaner)
			}
		})
	}
}

type audioState struct {
	dec  codec.AudioDecoder
	meta *media.AudioCodecMeta
	err  error
}

// NextVideoFrame returns the next video frame in presentation order, or
// io.EOF once the track is exhausted. The frame's loaner must be released
// to pool. Every call on a source must pass the same pool.
//
// Packets reach the decoder in the order the demuxer delivers them; only
// decoded frames are reordered. Packets the decoder rejects are dropped.
// An error other than io.EOF means no further frame can be produced.
func (s *Source) NextVideoFrame(pool PixelStore) (*DecodedFrame, error) {
	if s.h == nil || s.h.video == nil {
		return nil, io.EOF
	}
	v := &s.video
	v.pool = pool

	for !v.frames.full() {
		p, err := s.readVideoPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if v.dec == nil {
			if err := s.openVideoDecoder(p.Data); err != nil {
				return nil, err
			}
		}
		if f := s.decode(p, pool); f != nil {
			v.frames.push(f)
		}
	}
	if v.frames.len() == 0 {
		return nil, io.EOF
	}

	f := popFrame(v.frames)
	metrics.FramesDecodedTotal.WithLabelValues(media.TrackVideo.String()).Inc()
	if s.captions != nil {
		s.pending = append(s.pending, s.captions.Feed(f.Packet.Data, f.Packet.PTS)...)
	}
	return f, nil
}

// NextVideoPacket returns the next compressed video packet in
// presentation order, or io.EOF once the track is exhausted. Packets pass
// through the packet reorder stage, which fills in their durations.
//
// NextVideoPacket and NextVideoFrame read the same track; a caller uses
// one or the other.
func (s *Source) NextVideoPacket() (*media.Packet, error) {
	if s.h == nil || s.h.video == nil {
		return nil, io.EOF
	}
	v := &s.video
	for !v.packets.full() {
		p, err := s.readVideoPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		v.packets.push(p)
	}
	if v.packets.len() == 0 {
		return nil, io.EOF
	}
	return popPacket(v.packets), nil
}

// readVideoPacket pulls the next packet from the demuxer in decode order
// and fills in an unknown H.264 frame type.
func (s *Source) readVideoPacket() (*media.Packet, error) {
	v := &s.video
	if v.demuxDone {
		return nil, io.EOF
	}
	p, err := s.h.video.NextPacket()
	if errors.Is(err, io.EOF) {
		v.demuxDone = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("source: video packet: %w", err)
	}
	if p.FrameType == media.FrameUnknown && s.isH264(p.Data) {
		p.FrameType = media.FrameInter
		if h264.IsIDR(p.Data) {
			p.FrameType = media.FrameKey
		}
	}
	return p, nil
}

func (s *Source) isH264(payload []byte) bool {
	if s.video.dec != nil {
		return s.video.codec == media.CodecH264
	}
	c := s.videoCodec(s.TrackVideoMeta())
	if c == media.CodecUnknown {
		c = codec.Detect(payload)
	}
	return c == media.CodecH264
}

// videoCodec returns the codec to decode the video track with, or
// CodecUnknown when only the payload can tell.
func (s *Source) videoCodec(tm *container.TrackMeta) media.Codec {
	if s.videoSel != nil && s.videoSel.Codec != media.CodecUnknown {
		return s.videoSel.Codec
	}
	if tm != nil {
		return tm.Codec
	}
	return media.CodecUnknown
}

func (s *Source) openVideoDecoder(first []byte) error {
	v := &s.video
	if v.err != nil {
		return v.err
	}
	tm := s.TrackVideoMeta()
	c := s.videoCodec(tm)
	if c == media.CodecUnknown {
		c = codec.Detect(first)
	}

	var track *media.VideoCodecMeta
	private := first
	if tm != nil {
		track = tm.Video
		if len(tm.CodecPrivate) > 0 {
			private = tm.CodecPrivate
		}
	}
	params := codec.VideoParams{
		Downscale:    s.downscale,
		CodecPrivate: private,
		Meta:         mergeVideoMeta(c, s.downscale, track, nil),
	}
	dec, err := s.registry.NewVideoDecoder(c, params)
	if err != nil {
		v.err = fmt.Errorf("source: video decoder: %w", err)
		return v.err
	}

	dm, err := dec.CodecMeta(first)
	if err != nil {
		s.log.Debug("codec meta unavailable from first packet", "codec", c, "error", err)
		dm = nil
	}
	v.dec, v.codec, v.downscale = dec, c, s.downscale
	v.meta = mergeVideoMeta(c, s.downscale, track, dm)
	s.log.Debug("video decoder created", "codec", c, "downscale", s.downscale, "size", v.meta.Size)
	return nil
}

// mergeVideoMeta combines the container's and the decoder's view of a
// stream. The decoder reports output dimensions; container dimensions are
// scaled for codecs that decode downscaled.
func mergeVideoMeta(c media.Codec, downscale int, track, dec *media.VideoCodecMeta) *media.VideoCodecMeta {
	out := &media.VideoCodecMeta{Codec: c}
	if track != nil {
		out.Color = track.Color
		if track.Size != nil {
			sz := *track.Size
			if codec.Downscalable(c) {
				sz = codec.ScaleSize(sz, downscale)
			}
			out.Size = &sz
		}
	}
	if dec != nil {
		if dec.Size != nil {
			sz := *dec.Size
			out.Size = &sz
		}
		if dec.Color != media.ColorUnknown {
			out.Color = dec.Color
		}
	}
	return out
}

// decode decodes p into a picture acquired from pool. On failure the
// picture goes straight back and nil is returned.
func (s *Source) decode(p *media.Packet, pool PixelStore) *DecodedFrame {
	v := &s.video
	if v.meta.Size == nil {
		if dm, err := v.dec.CodecMeta(p.Data); err == nil && dm != nil && dm.Size != nil {
			v.meta = mergeVideoMeta(v.codec, v.downscale, v.meta, dm)
		}
	}
	if v.meta.Size == nil {
		s.decodeFailed(p, codec.ErrUnknownDimensions)
		return nil
	}

	color := v.meta.Color
	if color == media.ColorUnknown {
		color = media.ColorYUV420
	}
	l := pool.Acquire(pixstore.Align(v.meta.Size.Width), pixstore.Align(v.meta.Size.Height), color)
	pic, err := v.dec.Decode(p.Data, l.Picture())
	if err == nil && pic == nil {
		err = errNoPicture
	}
	if err != nil {
		pool.Release(l)
		s.decodeFailed(p, err)
		return nil
	}
	return &DecodedFrame{Packet: p, Loaner: l, pic: pic}
}

func (s *Source) decodeFailed(p *media.Packet, err error) {
	metrics.DecodeFailuresTotal.WithLabelValues(s.video.codec.String()).Inc()
	s.log.Debug("dropped undecodable packet", "frame", p.FrameNo, "pts", p.PTS, "error", err)
}

// NextAudioPacket returns the next compressed audio packet in demuxer
// order, or io.EOF once the track is exhausted. It reads the same track as
// NextAudioFrame.
func (s *Source) NextAudioPacket() (*media.Packet, error) {
	if s.h == nil || s.h.audio == nil {
		return nil, io.EOF
	}
	p, err := s.h.audio.NextPacket()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("source: audio packet: %w", err)
	}
	return p, nil
}

// NextAudioFrame returns the next decoded audio in pull order, or io.EOF
// once the track is exhausted. Packets the decoder rejects are dropped.
func (s *Source) NextAudioFrame() (*AudioFrame, error) {
	a := &s.audio
	for {
		p, err := s.NextAudioPacket()
		if err != nil {
			return nil, err
		}
		if a.dec == nil {
			if err := s.openAudioDecoder(p.Data); err != nil {
				return nil, err
			}
		}

		buf, err := a.dec.Decode(p.Data)
		if err == nil && buf == nil {
			err = errNoPicture
		}
		if err != nil {
			metrics.DecodeFailuresTotal.WithLabelValues(a.meta.Codec.String()).Inc()
			s.log.Debug("dropped undecodable audio packet", "pts", p.PTS, "error", err)
			continue
		}
		metrics.FramesDecodedTotal.WithLabelValues(media.TrackAudio.String()).Inc()
		return &AudioFrame{Buffer: buf, Packet: p}, nil
	}
}

func (s *Source) openAudioDecoder(first []byte) error {
	a := &s.audio
	if a.err != nil {
		return a.err
	}
	tm := s.TrackAudioMeta()
	c := media.CodecUnknown
	if s.audioSel != nil {
		c = s.audioSel.Codec
	}
	meta := &media.AudioCodecMeta{}
	private := first
	if tm != nil {
		if c == media.CodecUnknown {
			c = tm.Codec
		}
		if tm.Audio != nil {
			*meta = *tm.Audio
		}
		if len(tm.CodecPrivate) > 0 {
			private = tm.CodecPrivate
		}
	}
	if c == media.CodecUnknown {
		c = codec.Detect(first)
	}
	meta.Codec = c

	dec, err := s.registry.NewAudioDecoder(c, codec.AudioParams{CodecPrivate: private, Meta: meta})
	if err != nil {
		a.err = fmt.Errorf("source: audio decoder: %w", err)
		return a.err
	}
	if dm, err := dec.CodecMeta(first); err == nil && dm != nil && dm.Format != nil {
		f := *dm.Format
		meta.Format = &f
	}
	a.dec, a.meta = dec, meta
	s.log.Debug("audio decoder created", "codec", c, "format", meta.Format)
	return nil
}
