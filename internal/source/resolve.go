package source

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/container"
	"github.com/zsiec/framesrc/internal/media"
)

// Resolve picks the first track of the given type in path whose codec is
// supported. It returns nil, nil when there is none.
func Resolve(path string, format media.Format, t media.TrackType) (*media.TrackSelection, error) {
	return resolve(context.Background(), path, format, t, 0, slog.Default())
}

func resolve(ctx context.Context, path string, format media.Format, t media.TrackType, maxImages int, log *slog.Logger) (*media.TrackSelection, error) {
	f, err := openFile(path, format)
	if err != nil {
		return nil, err
	}
	h := &handles{file: f}
	defer h.finish()

	// Transport streams are the only containers with programs; everything
	// else is program 0.
	var programs []*container.TSProgram
	var demuxers []container.Demuxer
	if format == media.FormatMPEGTS {
		ts, err := container.NewTSDemuxer(ctx, f, log)
		if err != nil {
			return nil, err
		}
		programs = ts.Programs()
		for _, p := range programs {
			demuxers = append(demuxers, p)
		}
	} else {
		d, err := openDemuxer(f, path, format, maxImages, log)
		if err != nil {
			return nil, err
		}
		demuxers = []container.Demuxer{d}
	}

	for i, d := range demuxers {
		program := 0
		if programs != nil {
			program = programs[i].Number
		}
		for idx, track := range container.Tracks(d, t) {
			c, err := trackCodec(track)
			if err != nil {
				return nil, err
			}
			if !codec.Supported(c) {
				log.Debug("skipping track", "type", t, "program", program, "track", idx, "codec", c)
				continue
			}
			return &media.TrackSelection{Program: program, Track: idx, Codec: c}, nil
		}
	}
	return nil, nil
}

// trackCodec returns the codec named by the track's metadata, or sniffs
// its first packet.
func trackCodec(t container.Track) (media.Codec, error) {
	if m := t.Meta(); m != nil && m.Codec != media.CodecUnknown {
		return m.Codec, nil
	}
	p, err := t.NextPacket()
	if errors.Is(err, io.EOF) {
		return media.CodecUnknown, nil
	}
	if err != nil {
		return media.CodecUnknown, err
	}
	return codec.Detect(p.Data), nil
}
