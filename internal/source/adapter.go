package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/zsiec/framesrc/internal/container"
	"github.com/zsiec/framesrc/internal/media"
)

// handles holds the demuxer state of an open source: the file, the
// demuxers serving each track type, and the selected tracks.
type handles struct {
	file   *os.File
	closed bool

	demuxVideo container.Demuxer
	demuxAudio container.Demuxer
	ts         *container.TSDemuxer

	video container.Track
	audio container.Track
}

// openDemuxer opens the container demuxer for every format but MPEG-TS,
// whose programs are handled by openHandles and probePrograms.
func openDemuxer(f *os.File, path string, format media.Format, maxImages int, log *slog.Logger) (container.Demuxer, error) {
	switch format {
	case media.FormatMOV:
		return container.NewMP4(f, log)
	case media.FormatMKV:
		return container.NewMKV(f, log)
	case media.FormatIMG:
		return container.NewImageSequence(path, maxImages)
	case media.FormatWebP:
		return container.NewWebP(f)
	case media.FormatMPEGPS:
		return container.NewPS(f, log)
	case media.FormatY4M:
		return container.NewY4M(f)
	case media.FormatH264:
		return container.NewH264ES(f)
	case media.FormatWAV:
		return container.NewWAV(f)
	}
	return nil, fmt.Errorf("%w: %s", container.ErrUnsupportedFormat, format)
}

// openFile opens path unless the format reads its own files.
func openFile(path string, format media.Format) (*os.File, error) {
	if format == media.FormatIMG {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return f, nil
}

// openHandles opens the demuxers for format and picks the selected tracks.
// In a transport stream every program not selected is closed and every
// unselected track of a selected program is ignored.
func openHandles(ctx context.Context, path string, format media.Format, video, audio *media.TrackSelection, maxImages int, log *slog.Logger) (*handles, error) {
	f, err := openFile(path, format)
	if err != nil {
		return nil, err
	}
	h := &handles{file: f}

	if format == media.FormatMPEGTS {
		err = h.openTS(ctx, video, audio, log)
	} else {
		err = h.openContainer(path, format, video, audio, maxImages, log)
	}
	if err != nil {
		_ = h.finish()
		return nil, err
	}
	return h, nil
}

func (h *handles) openContainer(path string, format media.Format, video, audio *media.TrackSelection, maxImages int, log *slog.Logger) error {
	d, err := openDemuxer(h.file, path, format, maxImages, log)
	if err != nil {
		return err
	}
	if format.IsVideo() {
		h.demuxVideo = d
	}
	if format.IsAudio() {
		h.demuxAudio = d
	}
	if video != nil && h.demuxVideo != nil {
		h.video = pick(h.demuxVideo.VideoTracks(), video.Track)
	}
	if audio != nil && h.demuxAudio != nil {
		h.audio = pick(h.demuxAudio.AudioTracks(), audio.Track)
	}
	return nil
}

func (h *handles) openTS(ctx context.Context, video, audio *media.TrackSelection, log *slog.Logger) error {
	ts, err := container.NewTSDemuxer(ctx, h.file, log)
	if err != nil {
		return err
	}
	h.ts = ts

	var vp, ap *container.TSProgram
	if video != nil {
		if vp = ts.Program(video.Program); vp == nil {
			return fmt.Errorf("source: video program %d not in transport stream", video.Program)
		}
		h.demuxVideo = vp
		h.video = pick(vp.VideoTracks(), video.Track)
	}
	if audio != nil {
		if ap = ts.Program(audio.Program); ap == nil {
			return fmt.Errorf("source: audio program %d not in transport stream", audio.Program)
		}
		h.demuxAudio = ap
		h.audio = pick(ap.AudioTracks(), audio.Track)
	}

	for _, p := range ts.Programs() {
		if p == vp || p == ap {
			ignoreExcept(p, h.video, h.audio)
			continue
		}
		log.Info("unused program", "program", p.Number)
		if err := p.Close(); err != nil {
			return fmt.Errorf("source: closing program %d: %w", p.Number, err)
		}
	}
	return nil
}

// ignoreExcept marks every track of d other than keep as ignored.
func ignoreExcept(d container.Demuxer, keep ...container.Track) {
	for _, t := range slices.Concat(d.VideoTracks(), d.AudioTracks()) {
		if slices.Contains(keep, t) {
			continue
		}
		if ig, ok := t.(container.Ignorer); ok {
			ig.Ignore()
		}
	}
}

func pick(tracks []container.Track, i int) container.Track {
	if i < 0 || i >= len(tracks) {
		return nil
	}
	return tracks[i]
}

// finish closes the file once. It is safe on handles that never opened a
// file and on handles already finished.
func (h *handles) finish() error {
	if h == nil || h.closed {
		return nil
	}
	h.closed = true
	if h.file == nil {
		return nil
	}
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("source: close: %w", err)
	}
	return nil
}
