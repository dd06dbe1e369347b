package source

import (
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/framesrc/internal/container"
	"github.com/zsiec/framesrc/internal/metrics"
)

// Seek positions the video track so that the next NextVideoFrame returns
// frame. It returns the index of the key frame decoding restarted from.
//
// On a seekable track both reorder stages are emptied, the track jumps to
// the last key frame at or before frame, and the frames between the two
// are decoded and released. Other tracks are not repositioned: Seek
// reports key frame 0 and decodes frame frames forward from the current
// position.
func (s *Source) Seek(frame int64, pool PixelStore) (int64, error) {
	if s.h == nil || s.h.video == nil {
		return 0, fmt.Errorf("source: seek without a video track")
	}
	if frame <= 0 {
		return 0, nil
	}

	var key int64
	st, ok := s.h.video.(container.SeekableTrack)
	if ok {
		v := &s.video
		v.flush()
		v.demuxDone = false
		k, err := st.SeekToSync(frame)
		if err != nil {
			return 0, fmt.Errorf("source: seek to %d: %w", frame, err)
		}
		key = k
	} else {
		s.log.Warn("video track is not seekable, decoding forward", "frame", frame)
	}

	warmup := frame - key
	for i := int64(0); i < warmup; i++ {
		f, err := s.NextVideoFrame(pool)
		if errors.Is(err, io.EOF) {
			s.log.Warn("seek past end of video", "frame", frame, "decoded", i)
			break
		}
		if err != nil {
			return key, err
		}
		pool.Release(f.Loaner)
		metrics.WarmupFramesTotal.Inc()
	}
	s.pending = nil

	s.log.Debug("seek complete", "frame", frame, "key_frame", key, "warmup", warmup)
	return key, nil
}
