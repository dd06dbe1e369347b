// Package pipeline drives one decode pass over a source, handing video,
// audio and caption frames to a Sink in presentation order while
// collecting counters.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/zsiec/framesrc/internal/caption"
	"github.com/zsiec/framesrc/internal/source"
)

// Sink consumes the frames of a decode pass. Video frames stay valid only
// until Video returns; the pipeline releases their buffers afterwards.
type Sink interface {
	Video(f *source.DecodedFrame) error
	Audio(f *source.AudioFrame) error
	Captions(c *caption.Frame)
}

// Stats is a snapshot of a pass's counters.
type Stats struct {
	VideoFrames  int64
	AudioFrames  int64
	Captions     int64
	LastVideoPTS int64
	LastAudioPTS int64
	Elapsed      time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithSeek starts the pass at the given video frame.
func WithSeek(frame int64) Option {
	return func(p *Pipeline) { p.seek = frame }
}

// WithMaxFrames stops the pass after n video frames. Zero means no limit.
func WithMaxFrames(n int64) Option {
	return func(p *Pipeline) { p.maxFrames = n }
}

// Pipeline bridges a Source and a Sink for a single input.
type Pipeline struct {
	log       *slog.Logger
	key       string
	src       *source.Source
	pool      source.PixelStore
	sink      Sink
	seek      int64
	maxFrames int64
	startTime time.Time

	pendingAudio *source.AudioFrame
	audioDone    bool

	videoForwarded  atomic.Int64
	audioForwarded  atomic.Int64
	captionFwd      atomic.Int64
	lastVideoFwdPTS atomic.Int64
	lastAudioFwdPTS atomic.Int64
}

// New creates a Pipeline that decodes src into buffers from pool and
// forwards the frames to sink.
func New(key string, src *source.Source, pool source.PixelStore, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		key:  key,
		src:  src,
		pool: pool,
		sink: sink,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("component", "pipeline", "input", key)
	return p
}

// Stats returns the pass's counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		VideoFrames:  p.videoForwarded.Load(),
		AudioFrames:  p.audioForwarded.Load(),
		Captions:     p.captionFwd.Load(),
		LastVideoPTS: p.lastVideoFwdPTS.Load(),
		LastAudioPTS: p.lastAudioFwdPTS.Load(),
	}
	if !p.startTime.IsZero() {
		s.Elapsed = time.Since(p.startTime)
	}
	return s
}

// Run decodes until the source is exhausted, the frame limit is reached or
// ctx is cancelled. Audio is forwarded up to the end time of each video
// frame so both tracks advance together.
func (p *Pipeline) Run(ctx context.Context) error {
	p.startTime = time.Now()

	if p.seek > 0 && p.src.HasVideo() {
		key, err := p.src.Seek(p.seek, p.pool)
		if err != nil {
			return fmt.Errorf("pipeline: seek: %w", err)
		}
		p.log.Info("seeked", "frame", p.seek, "key_frame", key)
	}

	for p.src.HasVideo() {
		if ctx.Err() != nil {
			return nil
		}
		if p.maxFrames > 0 && p.videoForwarded.Load() >= p.maxFrames {
			p.log.Info("frame limit reached", "frames", p.maxFrames)
			return nil
		}

		f, err := p.src.NextVideoFrame(p.pool)
		if errors.Is(err, io.EOF) {
			p.log.Info("video finished", "frames", p.videoForwarded.Load())
			break
		}
		if err != nil {
			return fmt.Errorf("pipeline: video: %w", err)
		}
		end := f.Packet.Seconds(f.Packet.PTS + f.Packet.Duration)
		if err := p.forwardVideo(f); err != nil {
			return err
		}
		for _, c := range p.src.Captions() {
			p.sink.Captions(c)
			p.captionFwd.Add(1)
		}
		if err := p.forwardAudio(ctx, end); err != nil {
			return err
		}
	}

	return p.forwardAudio(ctx, math.Inf(1))
}

// forwardVideo hands the frame to the sink and returns its buffer.
func (p *Pipeline) forwardVideo(f *source.DecodedFrame) error {
	defer p.pool.Release(f.Loaner)
	if err := p.sink.Video(f); err != nil {
		return fmt.Errorf("pipeline: video sink: %w", err)
	}
	p.videoForwarded.Add(1)
	p.lastVideoFwdPTS.Store(f.Packet.PTS)
	return nil
}

// forwardAudio forwards audio frames starting before until seconds. The
// first later frame is kept for the next call.
func (p *Pipeline) forwardAudio(ctx context.Context, until float64) error {
	if !p.src.HasAudio() {
		return nil
	}
	for !p.audioDone && ctx.Err() == nil {
		if p.pendingAudio == nil {
			a, err := p.src.NextAudioFrame()
			if errors.Is(err, io.EOF) {
				p.audioDone = true
				p.log.Info("audio finished", "frames", p.audioForwarded.Load())
				return nil
			}
			if err != nil {
				return fmt.Errorf("pipeline: audio: %w", err)
			}
			p.pendingAudio = a
		}
		a := p.pendingAudio
		if a.Packet.Seconds(a.Packet.PTS) >= until {
			return nil
		}
		p.pendingAudio = nil
		if err := p.sink.Audio(a); err != nil {
			return fmt.Errorf("pipeline: audio sink: %w", err)
		}
		p.audioForwarded.Add(1)
		p.lastAudioFwdPTS.Store(a.Packet.PTS)
	}
	return nil
}
