package codec

import (
	"fmt"

	"github.com/zsiec/framesrc/internal/media"
)

// pcmDecoder passes interleaved samples through unchanged.
type pcmDecoder struct {
	format media.AudioFormat
}

func newPCMDecoder(p AudioParams) (AudioDecoder, error) {
	if p.Meta == nil || p.Meta.Format == nil {
		return nil, fmt.Errorf("codec: pcm decoder needs a sample format")
	}
	if p.Meta.Format.FrameSize() == 0 {
		return nil, fmt.Errorf("codec: pcm format %+v has zero frame size", *p.Meta.Format)
	}
	return &pcmDecoder{format: *p.Meta.Format}, nil
}

func (d *pcmDecoder) Decode(payload []byte) (*media.AudioBuffer, error) {
	return &media.AudioBuffer{
		Data:       payload,
		Format:     d.format,
		NumSamples: len(payload) / d.format.FrameSize(),
	}, nil
}

func (d *pcmDecoder) CodecMeta([]byte) (*media.AudioCodecMeta, error) {
	f := d.format
	return &media.AudioCodecMeta{Codec: media.CodecPCM, Format: &f}, nil
}
