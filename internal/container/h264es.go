package container

import (
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/framesrc/internal/h264"
	"github.com/zsiec/framesrc/internal/media"
)

// H264ES demuxes a raw Annex B elementary stream into access units. Timing
// comes from the SPS VUI when present and is 25 frames per second
// otherwise. Packets are numbered in decode order.
type H264ES struct {
	aus      *h264.AccessUnitReader
	peeked   []byte
	num, den int
	meta     TrackMeta
	frameNo  int64
}

// NewH264ES reads the first access unit of r to pick up the stream's SPS.
func NewH264ES(r io.Reader) (*H264ES, error) {
	e := &H264ES{
		aus: h264.NewAccessUnitReader(r),
		num: 25,
		den: 1,
	}
	au, err := e.aus.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty H.264 stream", ErrMalformed)
		}
		return nil, fmt.Errorf("container: h264: %w", err)
	}
	e.peeked = au

	e.meta = TrackMeta{Type: media.TrackVideo, Codec: media.CodecH264}
	if sps := h264.FindSPS(au); sps != nil {
		if info, err := h264.ParseSPS(sps); err == nil {
			if num, den, ok := info.FrameRate(); ok {
				e.num, e.den = num, den
			}
			e.meta.Video = &media.VideoCodecMeta{
				Codec: media.CodecH264,
				Size:  &media.Size{Width: info.Width, Height: info.Height},
				Color: chromaColor(info.ChromaFormatIDC),
			}
		}
	}
	e.meta.Timescale = e.num
	return e, nil
}

func chromaColor(idc int) media.ColorSpace {
	switch idc {
	case 0:
		return media.ColorMono
	case 2:
		return media.ColorYUV422
	case 3:
		return media.ColorYUV444
	}
	return media.ColorYUV420
}

func (e *H264ES) VideoTracks() []Track { return []Track{e} }
func (e *H264ES) AudioTracks() []Track { return nil }

func (e *H264ES) Meta() *TrackMeta {
	m := e.meta
	return &m
}

func (e *H264ES) NextPacket() (*media.Packet, error) {
	au := e.peeked
	e.peeked = nil
	if au == nil {
		var err error
		if au, err = e.aus.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("container: h264: %w", err)
		}
	}
	ft := media.FrameInter
	if h264.IsIDR(au) {
		ft = media.FrameKey
	}
	p := &media.Packet{
		Data:      au,
		PTS:       e.frameNo * int64(e.den),
		Duration:  int64(e.den),
		Timescale: e.num,
		FrameType: ft,
		FrameNo:   e.frameNo,
	}
	p.DTS = p.PTS
	e.frameNo++
	return p, nil
}
