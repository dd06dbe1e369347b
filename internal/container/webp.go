package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"golang.org/x/image/riff"
	"golang.org/x/image/webp"

	"github.com/zsiec/framesrc/internal/media"
)

var (
	fourccWEBP = riff.FourCC{'W', 'E', 'B', 'P'}
	fourccVP8  = riff.FourCC{'V', 'P', '8', ' '}
	fourccVP8L = riff.FourCC{'V', 'P', '8', 'L'}
)

// WebP demuxes a still WebP image into a single packet. Lossy images carry
// a VP8 key frame; lossless (VP8L) images are reported with an unknown
// codec.
type WebP struct {
	codec media.Codec
	size  *media.Size
	frame []byte
	done  bool
}

// NewWebP reads the whole image from r.
func NewWebP(r io.Reader) (*WebP, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("container: webp: %w", err)
	}
	form, chunks, err := riff.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("container: webp: %w", err)
	}
	if form != fourccWEBP {
		return nil, fmt.Errorf("%w: riff form %q is not WEBP", ErrMalformed, form[:])
	}

	w := &WebP{codec: media.CodecUnknown}
	for {
		id, n, chunk, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("container: webp: %w", err)
		}
		switch id {
		case fourccVP8:
			w.frame = make([]byte, n)
			if _, err := io.ReadFull(chunk, w.frame); err != nil {
				return nil, fmt.Errorf("container: webp VP8 chunk: %w", err)
			}
			w.codec = media.CodecVP8
		case fourccVP8L:
			w.frame = make([]byte, n)
			if _, err := io.ReadFull(chunk, w.frame); err != nil {
				return nil, fmt.Errorf("container: webp VP8L chunk: %w", err)
			}
		}
		if w.frame != nil {
			break
		}
	}
	if w.frame == nil {
		return nil, fmt.Errorf("%w: webp has no image chunk", ErrMalformed)
	}
	if cfg, err := webp.DecodeConfig(bytes.NewReader(data)); err == nil {
		w.size = &media.Size{Width: cfg.Width, Height: cfg.Height}
	}
	return w, nil
}

func (w *WebP) VideoTracks() []Track { return []Track{w} }
func (w *WebP) AudioTracks() []Track { return nil }

func (w *WebP) Meta() *TrackMeta {
	m := &TrackMeta{Type: media.TrackVideo, Codec: w.codec, Timescale: 1, TotalFrames: 1}
	if w.codec == media.CodecVP8 {
		m.Video = &media.VideoCodecMeta{Codec: w.codec, Size: w.size, Color: media.ColorYUV420}
	}
	return m
}

func (w *WebP) NextPacket() (*media.Packet, error) {
	if w.done {
		return nil, io.EOF
	}
	w.done = true
	return &media.Packet{
		Data:      w.frame,
		Duration:  1,
		Timescale: 1,
		FrameType: media.FrameKey,
	}, nil
}
