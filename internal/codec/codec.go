// Package codec maps codec identifiers to decoder factories. It owns the
// process-wide allow-list of decodable codecs, payload sniffing, metadata
// probes that work without a decoder, and the built-in decoders for PNG,
// JPEG, VP8, raw video and PCM. Decoders for H.264, MPEG-2, ProRes and AAC
// are supplied by the caller through registry options.
package codec

import (
	"errors"
	"fmt"
	"slices"

	"github.com/zsiec/framesrc/internal/media"
)

var (
	// ErrNoDecoder is returned when no factory is registered for a codec.
	ErrNoDecoder = errors.New("codec: no decoder for codec")
	// ErrUnknownDimensions is returned when a decoder needs picture
	// dimensions that neither the container nor the bitstream provides.
	ErrUnknownDimensions = errors.New("codec: unknown picture dimensions")
	// ErrTargetTooSmall is returned when the decode target cannot hold the
	// decoded picture.
	ErrTargetTooSmall = errors.New("codec: decode target too small")
	// ErrUnsupportedFrame is returned for frames a built-in decoder cannot
	// handle, such as VP8 inter frames.
	ErrUnsupportedFrame = errors.New("codec: unsupported frame")
)

var supported = []media.Codec{
	media.CodecAAC,
	media.CodecH264,
	media.CodecJPEG,
	media.CodecMPEG2,
	media.CodecPCM,
	media.CodecPNG,
	media.CodecProRes,
	media.CodecRAW,
	media.CodecVP8,
}

// Supported reports whether c is on the decodable allow-list. Track
// selection only ever picks supported codecs.
func Supported(c media.Codec) bool {
	return slices.Contains(supported, c)
}

// SupportedCodecs returns a copy of the allow-list.
func SupportedCodecs() []media.Codec {
	return slices.Clone(supported)
}

// VideoDecoder decodes compressed pictures into caller-provided buffers.
// Decode writes into target when target is large enough and returns the
// picture holding the frame, typically a cropped view of target.
type VideoDecoder interface {
	Decode(payload []byte, target *media.Picture) (*media.Picture, error)
	CodecMeta(payload []byte) (*media.VideoCodecMeta, error)
}

// AudioDecoder decodes compressed audio into interleaved PCM.
type AudioDecoder interface {
	Decode(payload []byte) (*media.AudioBuffer, error)
	CodecMeta(payload []byte) (*media.AudioCodecMeta, error)
}

// VideoParams configures a video decoder at creation.
type VideoParams struct {
	// Downscale is a power-of-two reduction applied while decoding by codecs
	// that support it. Values below 2 mean full size.
	Downscale int
	// CodecPrivate is the first packet's payload, or container codec private
	// data when the container carries it.
	CodecPrivate []byte
	// Meta is the container's view of the stream, possibly nil.
	Meta *media.VideoCodecMeta
}

// AudioParams configures an audio decoder at creation.
type AudioParams struct {
	CodecPrivate []byte
	Meta         *media.AudioCodecMeta
}

// VideoFactory creates a video decoder.
type VideoFactory func(VideoParams) (VideoDecoder, error)

// AudioFactory creates an audio decoder.
type AudioFactory func(AudioParams) (AudioDecoder, error)

// Registry is an immutable codec → factory table.
type Registry struct {
	video map[media.Codec]VideoFactory
	audio map[media.Codec]AudioFactory
}

// Option configures a Registry.
type Option func(*Registry)

// WithVideoDecoder installs or replaces the factory for a video codec.
func WithVideoDecoder(c media.Codec, f VideoFactory) Option {
	return func(r *Registry) {
		r.video[c] = f
	}
}

// WithAudioDecoder installs or replaces the factory for an audio codec.
func WithAudioDecoder(c media.Codec, f AudioFactory) Option {
	return func(r *Registry) {
		r.audio[c] = f
	}
}

// NewRegistry returns a registry holding the built-in decoders plus any
// installed by opts.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		video: map[media.Codec]VideoFactory{
			media.CodecPNG:  newImageDecoder(media.CodecPNG),
			media.CodecJPEG: newImageDecoder(media.CodecJPEG),
			media.CodecVP8:  newVP8Decoder,
			media.CodecRAW:  newRawDecoder,
		},
		audio: map[media.Codec]AudioFactory{
			media.CodecPCM: newPCMDecoder,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasVideoDecoder reports whether a factory is registered for c.
func (r *Registry) HasVideoDecoder(c media.Codec) bool {
	_, ok := r.video[c]
	return ok
}

// HasAudioDecoder reports whether a factory is registered for c.
func (r *Registry) HasAudioDecoder(c media.Codec) bool {
	_, ok := r.audio[c]
	return ok
}

// NewVideoDecoder creates a decoder for c.
func (r *Registry) NewVideoDecoder(c media.Codec, p VideoParams) (VideoDecoder, error) {
	f, ok := r.video[c]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoDecoder, c)
	}
	if p.Downscale < 1 {
		p.Downscale = 1
	}
	return f(p)
}

// NewAudioDecoder creates a decoder for c.
func (r *Registry) NewAudioDecoder(c media.Codec, p AudioParams) (AudioDecoder, error) {
	f, ok := r.audio[c]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoDecoder, c)
	}
	return f(p)
}

// Downscalable reports whether decoders of c honour VideoParams.Downscale.
func Downscalable(c media.Codec) bool {
	switch c {
	case media.CodecMPEG2, media.CodecProRes, media.CodecJPEG:
		return true
	}
	return false
}

// ScaleSize divides s by downscale, rounding up.
func ScaleSize(s media.Size, downscale int) media.Size {
	if downscale < 2 {
		return s
	}
	return media.Size{
		Width:  (s.Width + downscale - 1) / downscale,
		Height: (s.Height + downscale - 1) / downscale,
	}
}
