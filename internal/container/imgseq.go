package container

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/media"
)

// ImageSequenceRate is the frame rate assigned to image sequences.
const ImageSequenceRate = 25

// ImageSequence demuxes numbered still images (for example frame%04d.png)
// into a video track, one file per packet. A path without a frame verb is
// a single image.
type ImageSequence struct {
	pattern string
	first   int
	total   int64
	frameNo int64
	meta    TrackMeta
}

// NewImageSequence probes the first file of pattern. Numbering starts at 0
// or 1, whichever exists. At most maxFrames files are read; zero or less
// means no limit.
func NewImageSequence(pattern string, maxFrames int) (*ImageSequence, error) {
	s := &ImageSequence{pattern: pattern}
	if IsImageSequence(pattern) {
		if _, err := os.Stat(fmt.Sprintf(pattern, 0)); err != nil {
			s.first = 1
		}
	}

	for maxFrames <= 0 || s.total < int64(maxFrames) {
		if _, err := os.Stat(s.path(s.total)); err != nil {
			break
		}
		s.total++
		if !IsImageSequence(pattern) {
			break
		}
	}
	if s.total == 0 {
		return nil, fmt.Errorf("container: no images match %s: %w", pattern, fs.ErrNotExist)
	}

	first, err := os.ReadFile(s.path(0))
	if err != nil {
		return nil, fmt.Errorf("container: %w", err)
	}
	c := codec.Detect(first)
	s.meta = TrackMeta{
		Type:        media.TrackVideo,
		Codec:       c,
		Video:       codec.ProbeVideo(c, first),
		Timescale:   ImageSequenceRate,
		TotalFrames: s.total,
	}
	return s, nil
}

func (s *ImageSequence) path(i int64) string {
	if !IsImageSequence(s.pattern) {
		return s.pattern
	}
	return fmt.Sprintf(s.pattern, int64(s.first)+i)
}

func (s *ImageSequence) VideoTracks() []Track { return []Track{s} }
func (s *ImageSequence) AudioTracks() []Track { return nil }

func (s *ImageSequence) Meta() *TrackMeta {
	m := s.meta
	return &m
}

func (s *ImageSequence) NextPacket() (*media.Packet, error) {
	if s.frameNo >= s.total {
		return nil, io.EOF
	}
	data, err := os.ReadFile(s.path(s.frameNo))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("container: %w", err)
	}
	p := &media.Packet{
		Data:      data,
		PTS:       s.frameNo,
		DTS:       s.frameNo,
		Duration:  1,
		Timescale: ImageSequenceRate,
		FrameType: media.FrameKey,
		FrameNo:   s.frameNo,
	}
	s.frameNo++
	return p, nil
}

// SeekToSync positions on frame; every image is a key frame.
func (s *ImageSequence) SeekToSync(frame int64) (int64, error) {
	s.frameNo = max(0, min(frame, s.total-1))
	return s.frameNo, nil
}

func (s *ImageSequence) CurrentFrame() int64 { return s.frameNo }
