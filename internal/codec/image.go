package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"

	"github.com/zsiec/framesrc/internal/media"
)

// imageDecoder decodes still-image codecs (PNG, JPEG) into packed RGB.
type imageDecoder struct {
	codec     media.Codec
	downscale int
}

func newImageDecoder(c media.Codec) VideoFactory {
	return func(p VideoParams) (VideoDecoder, error) {
		d := &imageDecoder{codec: c, downscale: 1}
		if Downscalable(c) {
			d.downscale = p.Downscale
		}
		return d, nil
	}
}

func (d *imageDecoder) Decode(payload []byte, target *media.Picture) (*media.Picture, error) {
	img, err := imaging.Decode(bytes.NewReader(payload), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("codec: %s decode: %w", d.codec, err)
	}
	if d.downscale > 1 {
		s := ScaleSize(media.Size{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}, d.downscale)
		img = imaging.Resize(img, s.Width, s.Height, imaging.Box)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if target == nil || !target.CompatibleWith(w, h, media.ColorRGB) {
		return nil, ErrTargetTooSmall
	}

	// imaging returns *image.NRGBA for every decode and resize path.
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), img, img.Bounds().Min, draw.Src)
	}
	stride := target.Stride(0)
	for y := range h {
		src := nrgba.Pix[y*nrgba.Stride:]
		dst := target.Planes[0][y*stride:]
		for x := range w {
			copy(dst[x*3:x*3+3], src[x*4:x*4+3])
		}
	}
	return target.WithCrop(w, h), nil
}

func (d *imageDecoder) CodecMeta(payload []byte) (*media.VideoCodecMeta, error) {
	meta := ProbeVideo(d.codec, payload)
	if meta == nil {
		return nil, fmt.Errorf("codec: %s header unreadable", d.codec)
	}
	s := ScaleSize(*meta.Size, d.downscale)
	meta.Size = &s
	return meta, nil
}
