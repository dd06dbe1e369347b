// Package source turns a media file into presentation-ordered decoded
// frames. A Source resolves the tracks of a file, demuxes them and decodes
// video lazily into pooled pictures, in decode order, before a reorder
// stage puts the frames in presentation order. Compressed packets can be
// pulled instead through a packet reorder stage that derives durations.
//
// A Source is not safe for concurrent use. The PixelStore it decodes into
// may be shared between sources.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zsiec/framesrc/internal/caption"
	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/container"
	"github.com/zsiec/framesrc/internal/media"
	"github.com/zsiec/framesrc/internal/pixstore"
)

var (
	// ErrNoTracks is returned by Open when a file has no track with a
	// supported codec.
	ErrNoTracks = errors.New("source: no supported track")
	// ErrUnknownOption is returned by SetOption for unrecognised keys.
	ErrUnknownOption = errors.New("source: unknown option")
	// ErrDecoderStarted is returned by SetOption for a setting that
	// cannot change once the video decoder exists.
	ErrDecoderStarted = errors.New("source: video decoder already created")
)

// PixelStore lends out decode-target pictures. *pixstore.Pool satisfies it.
type PixelStore interface {
	Acquire(width, height int, color media.ColorSpace) *pixstore.Loaner
	Release(l *pixstore.Loaner)
}

// DecodedFrame is a decoded picture and the packet it came from. The
// loaner's buffer belongs to the caller until it is released to the
// PixelStore passed to NextVideoFrame.
type DecodedFrame struct {
	Packet *media.Packet
	Loaner *pixstore.Loaner
	pic    *media.Picture
}

// Picture returns the decoded picture, a cropped view of the loaner's
// buffer. It panics once the loaner has been released.
func (f *DecodedFrame) Picture() *media.Picture {
	f.Loaner.Picture()
	return f.pic
}

// AudioFrame is a run of decoded samples and the packet it came from.
type AudioFrame struct {
	Buffer *media.AudioBuffer
	Packet *media.Packet
}

// OptionKey names a setting changeable through SetOption.
type OptionKey int

const (
	// OptionDownscale is the power-of-two reduction applied by decoders
	// that support it. It can only change before the first video frame
	// is decoded.
	OptionDownscale OptionKey = iota
)

type options struct {
	ctx          context.Context
	log          *slog.Logger
	registry     *codec.Registry
	downscale    int
	reorderDepth int
	captions     bool
	maxImages    int
}

// Option configures a Source.
type Option func(*options)

// WithContext sets the context transport stream demuxing runs under.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegistry sets the codec registry. The default holds only the
// built-in decoders.
func WithRegistry(r *codec.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithDownscale sets the initial downscale factor.
func WithDownscale(n int) Option {
	return func(o *options) { o.downscale = n }
}

// WithReorderDepth sets the number of packets and frames each reorder
// stage holds before it emits one.
func WithReorderDepth(depth int) Option {
	return func(o *options) { o.reorderDepth = depth }
}

// WithCaptions enables CEA-608/708 caption extraction from H.264 video.
func WithCaptions() Option {
	return func(o *options) { o.captions = true }
}

// WithMaxImageFrames caps the number of files read from an image sequence.
func WithMaxImageFrames(n int) Option {
	return func(o *options) { o.maxImages = n }
}

func buildOptions(opts []Option) options {
	o := options{
		ctx:          context.Background(),
		downscale:    1,
		reorderDepth: DefaultReorderDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.registry == nil {
		o.registry = codec.NewRegistry()
	}
	if o.reorderDepth < 0 {
		o.reorderDepth = 0
	}
	return o
}

// Source decodes the selected video and audio tracks of one file.
type Source struct {
	log       *slog.Logger
	path      string
	format    media.Format
	registry  *codec.Registry
	downscale int

	h        *handles
	videoSel *media.TrackSelection
	audioSel *media.TrackSelection

	video videoState
	audio audioState

	captions *caption.Extractor
	pending  []*caption.Frame
}

// Open detects the format of path, resolves its best video and audio
// tracks and opens them.
func Open(path string, opts ...Option) (*Source, error) {
	o := buildOptions(opts)
	format, err := container.DetectFormat(path)
	if err != nil {
		return nil, err
	}

	var video, audio *media.TrackSelection
	if format.IsVideo() {
		if video, err = resolve(o.ctx, path, format, media.TrackVideo, o.maxImages, o.log); err != nil {
			return nil, err
		}
	}
	if format.IsAudio() {
		if audio, err = resolve(o.ctx, path, format, media.TrackAudio, o.maxImages, o.log); err != nil {
			return nil, err
		}
	}
	if video == nil && audio == nil {
		return nil, fmt.Errorf("%w in %s (%s)", ErrNoTracks, path, format)
	}
	return New(path, format, video, audio, opts...)
}

// New opens path as format and decodes the given selections. Either
// selection may be nil.
func New(path string, format media.Format, video, audio *media.TrackSelection, opts ...Option) (*Source, error) {
	o := buildOptions(opts)
	h, err := openHandles(o.ctx, path, format, video, audio, o.maxImages, o.log)
	if err != nil {
		return nil, err
	}
	if video != nil && h.video == nil {
		_ = h.finish()
		return nil, fmt.Errorf("source: no video track %d in program %d", video.Track, video.Program)
	}
	if audio != nil && h.audio == nil {
		_ = h.finish()
		return nil, fmt.Errorf("source: no audio track %d in program %d", audio.Track, audio.Program)
	}
	return newSource(path, format, h, video, audio, o), nil
}

func newSource(path string, format media.Format, h *handles, video, audio *media.TrackSelection, o options) *Source {
	s := &Source{
		log:       o.log.With("component", "source", "source", uuid.NewString()),
		path:      path,
		format:    format,
		registry:  o.registry,
		downscale: o.downscale,
		h:         h,
		videoSel:  video,
		audioSel:  audio,
	}
	s.video.packets = newReorderBuffer(o.reorderDepth, packetPTS)
	s.video.frames = newReorderBuffer(o.reorderDepth, framePTS)
	if o.captions && video != nil && video.Codec == media.CodecH264 {
		s.captions = caption.NewExtractor(s.log)
	}
	s.log.Info("source opened", "path", path, "format", format,
		"video", selString(video), "audio", selString(audio))
	return s
}

func selString(sel *media.TrackSelection) string {
	if sel == nil {
		return "none"
	}
	return fmt.Sprintf("%d/%d:%s", sel.Program, sel.Track, sel.Codec)
}

// Format returns the container format.
func (s *Source) Format() media.Format { return s.format }

// IsVideo reports whether the container format can carry video.
func (s *Source) IsVideo() bool { return s.format.IsVideo() }

// IsAudio reports whether the container format can carry audio.
func (s *Source) IsAudio() bool { return s.format.IsAudio() }

// HasVideo reports whether a video track is selected.
func (s *Source) HasVideo() bool { return s.videoSel != nil }

// HasAudio reports whether an audio track is selected.
func (s *Source) HasAudio() bool { return s.audioSel != nil }

// VideoSelection returns the selected video track, or nil.
func (s *Source) VideoSelection() *media.TrackSelection { return s.videoSel }

// AudioSelection returns the selected audio track, or nil.
func (s *Source) AudioSelection() *media.TrackSelection { return s.audioSel }

// TrackVideoMeta returns the container's description of the video track,
// or nil.
func (s *Source) TrackVideoMeta() *container.TrackMeta {
	if s.h == nil || s.h.video == nil {
		return nil
	}
	return s.h.video.Meta()
}

// TrackAudioMeta returns the container's description of the audio track,
// or nil.
func (s *Source) TrackAudioMeta() *container.TrackMeta {
	if s.h == nil || s.h.audio == nil {
		return nil
	}
	return s.h.audio.Meta()
}

// VideoCodecMeta returns what is known of the video bitstream: the
// decoder's view once the first packet has been decoded, the container's
// before that. It returns nil when neither knows anything.
func (s *Source) VideoCodecMeta() *media.VideoCodecMeta {
	if s.video.meta != nil {
		m := *s.video.meta
		return &m
	}
	if tm := s.TrackVideoMeta(); tm != nil && tm.Video != nil {
		m := *tm.Video
		if m.Codec == media.CodecUnknown {
			m.Codec = s.videoCodec(tm)
		}
		return &m
	}
	return nil
}

// AudioCodecMeta returns what is known of the audio bitstream, or nil.
func (s *Source) AudioCodecMeta() *media.AudioCodecMeta {
	if s.audio.meta != nil {
		m := *s.audio.meta
		return &m
	}
	if tm := s.TrackAudioMeta(); tm != nil && tm.Audio != nil {
		m := *tm.Audio
		if m.Codec == media.CodecUnknown && s.audioSel != nil {
			m.Codec = s.audioSel.Codec
		}
		return &m
	}
	return nil
}

// VideoCodecMetaSafe is VideoCodecMeta with a placeholder in place of nil.
// The placeholder carries the selected codec and no size, so callers
// cannot tell metadata that is not known yet from metadata that never
// will be.
func (s *Source) VideoCodecMetaSafe() *media.VideoCodecMeta {
	if m := s.VideoCodecMeta(); m != nil {
		return m
	}
	m := &media.VideoCodecMeta{}
	if s.videoSel != nil {
		m.Codec = s.videoSel.Codec
	}
	return m
}

// AudioCodecMetaSafe is AudioCodecMeta with a placeholder in place of nil.
func (s *Source) AudioCodecMetaSafe() *media.AudioCodecMeta {
	if m := s.AudioCodecMeta(); m != nil {
		return m
	}
	m := &media.AudioCodecMeta{}
	if s.audioSel != nil {
		m.Codec = s.audioSel.Codec
	}
	return m
}

// SetOption changes a setting of the source.
func (s *Source) SetOption(key OptionKey, value int) error {
	switch key {
	case OptionDownscale:
		if value < 1 || value&(value-1) != 0 {
			return fmt.Errorf("source: downscale %d is not a power of two", value)
		}
		if s.video.dec != nil && value != s.video.downscale {
			return fmt.Errorf("%w: downscale stays %d", ErrDecoderStarted, s.video.downscale)
		}
		s.downscale = value
		return nil
	}
	return fmt.Errorf("%w %d", ErrUnknownOption, key)
}

// Captions returns the caption updates decoded since the last call.
func (s *Source) Captions() []*caption.Frame {
	out := s.pending
	s.pending = nil
	return out
}

// Close releases the frames still held by the frame reorder stage and
// closes the file. It is safe to call more than once.
func (s *Source) Close() error {
	s.video.flush()
	s.pending = nil
	return s.h.finish()
}
