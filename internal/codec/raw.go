package codec

import (
	"fmt"

	"github.com/zsiec/framesrc/internal/media"
)

// rawDecoder copies uncompressed, tightly packed planar pictures. The
// dimensions must come from the container.
type rawDecoder struct {
	size  media.Size
	color media.ColorSpace
}

func newRawDecoder(p VideoParams) (VideoDecoder, error) {
	if p.Meta == nil || p.Meta.Size == nil {
		return nil, ErrUnknownDimensions
	}
	d := &rawDecoder{size: *p.Meta.Size, color: p.Meta.Color}
	if d.color == media.ColorUnknown {
		d.color = media.ColorYUV420
	}
	return d, nil
}

func (d *rawDecoder) Decode(payload []byte, target *media.Picture) (*media.Picture, error) {
	w, h := d.size.Width, d.size.Height
	if want := d.color.FrameSize(w, h); len(payload) < want {
		return nil, fmt.Errorf("codec: raw frame is %d bytes, want %d", len(payload), want)
	}
	if target == nil || !target.CompatibleWith(w, h, d.color) {
		return nil, ErrTargetTooSmall
	}
	off := 0
	for i, s := range d.color.PlaneShapes(w, h) {
		copyPlane(target.Planes[i], target.Stride(i), payload[off:], s.Width, s.Width, s.Height)
		off += s.Width * s.Height
	}
	return target.WithCrop(w, h), nil
}

func (d *rawDecoder) CodecMeta([]byte) (*media.VideoCodecMeta, error) {
	s := d.size
	return &media.VideoCodecMeta{Codec: media.CodecRAW, Size: &s, Color: d.color}, nil
}
