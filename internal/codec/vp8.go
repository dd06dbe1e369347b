package codec

import (
	"bytes"
	"fmt"

	"golang.org/x/image/vp8"

	"github.com/zsiec/framesrc/internal/media"
)

// vp8Decoder decodes VP8 key frames. Inter frames need reference state
// the decoder does not keep and fail with ErrUnsupportedFrame.
type vp8Decoder struct {
	dec *vp8.Decoder
}

func newVP8Decoder(VideoParams) (VideoDecoder, error) {
	return &vp8Decoder{dec: vp8.NewDecoder()}, nil
}

func (d *vp8Decoder) header(payload []byte) (vp8.FrameHeader, error) {
	d.dec.Init(bytes.NewReader(payload), len(payload))
	fh, err := d.dec.DecodeFrameHeader()
	if err != nil {
		return fh, fmt.Errorf("codec: vp8 frame header: %w", err)
	}
	return fh, nil
}

func (d *vp8Decoder) Decode(payload []byte, target *media.Picture) (*media.Picture, error) {
	fh, err := d.header(payload)
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return nil, ErrUnsupportedFrame
	}
	if target == nil || !target.CompatibleWith(fh.Width, fh.Height, media.ColorYUV420) {
		return nil, ErrTargetTooSmall
	}
	img, err := d.dec.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("codec: vp8 decode: %w", err)
	}

	w, h := fh.Width, fh.Height
	cw, ch := (w+1)/2, (h+1)/2
	copyPlane(target.Planes[0], target.Stride(0), img.Y, img.YStride, w, h)
	copyPlane(target.Planes[1], target.Stride(1), img.Cb, img.CStride, cw, ch)
	copyPlane(target.Planes[2], target.Stride(2), img.Cr, img.CStride, cw, ch)
	return target.WithCrop(w, h), nil
}

func (d *vp8Decoder) CodecMeta(payload []byte) (*media.VideoCodecMeta, error) {
	fh, err := d.header(payload)
	if err != nil {
		return nil, err
	}
	if !fh.KeyFrame {
		return &media.VideoCodecMeta{Codec: media.CodecVP8, Color: media.ColorYUV420}, nil
	}
	return &media.VideoCodecMeta{
		Codec: media.CodecVP8,
		Size:  &media.Size{Width: fh.Width, Height: fh.Height},
		Color: media.ColorYUV420,
	}, nil
}

// copyPlane copies a w x h region between planes of differing strides.
func copyPlane(dst []byte, dstStride int, src []byte, srcStride, w, h int) {
	for y := range h {
		copy(dst[y*dstStride:y*dstStride+w], src[y*srcStride:y*srcStride+w])
	}
}
