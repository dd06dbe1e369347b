package codec

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/zsiec/framesrc/internal/aac"
	"github.com/zsiec/framesrc/internal/h264"
	"github.com/zsiec/framesrc/internal/media"
)

var (
	jpegMagic     = []byte{0xFF, 0xD8, 0xFF}
	pngMagic      = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	mpeg2SeqStart = []byte{0x00, 0x00, 0x01, 0xB3}
	vp8StartCode  = []byte{0x9D, 0x01, 0x2A}
)

// Detect identifies the codec of a compressed sample by its content.
func Detect(payload []byte) media.Codec {
	switch {
	case bytes.HasPrefix(payload, jpegMagic):
		return media.CodecJPEG
	case bytes.HasPrefix(payload, pngMagic):
		return media.CodecPNG
	case len(payload) >= 8 && string(payload[4:8]) == "icpf":
		return media.CodecProRes
	case bytes.HasPrefix(payload, mpeg2SeqStart):
		return media.CodecMPEG2
	case isH264(payload):
		return media.CodecH264
	case isVP8KeyFrame(payload):
		return media.CodecVP8
	case aac.IsADTS(payload):
		if _, err := aac.ParseHeader(payload); err == nil {
			return media.CodecAAC
		}
	}
	return media.CodecUnknown
}

func isH264(payload []byte) bool {
	units := h264.Units(payload)
	if len(units) == 0 {
		return false
	}
	first := units[0].Data[0]
	if first&0x80 != 0 {
		return false // forbidden_zero_bit
	}
	switch units[0].Type {
	case h264.NALTypeSlice, h264.NALTypeIDR, h264.NALTypeSEI,
		h264.NALTypeSPS, h264.NALTypePPS, h264.NALTypeAUD:
		return true
	}
	return false
}

func isVP8KeyFrame(b []byte) bool {
	return len(b) >= 10 && b[0]&0x01 == 0 && bytes.Equal(b[3:6], vp8StartCode)
}

// ProbeVideo reads picture metadata straight from a sample without a
// decoder. It returns nil when the sample carries nothing usable.
func ProbeVideo(c media.Codec, payload []byte) *media.VideoCodecMeta {
	switch c {
	case media.CodecH264:
		return probeH264(payload)
	case media.CodecMPEG2:
		return probeMPEG2(payload)
	case media.CodecProRes:
		return probeProRes(payload)
	case media.CodecJPEG:
		return probeImage(c, payload, jpeg.DecodeConfig)
	case media.CodecPNG:
		return probeImage(c, payload, png.DecodeConfig)
	case media.CodecVP8:
		return probeVP8(payload)
	}
	return nil
}

// ProbeAudio reads audio metadata from a sample without a decoder.
func ProbeAudio(c media.Codec, payload []byte) *media.AudioCodecMeta {
	if c != media.CodecAAC {
		return nil
	}
	h, err := aac.ParseHeader(payload)
	if err != nil {
		return nil
	}
	return &media.AudioCodecMeta{
		Codec: c,
		Format: &media.AudioFormat{
			SampleRate:     h.SampleRate,
			Channels:       h.Channels,
			SampleSizeBits: 16,
		},
	}
}

func probeH264(payload []byte) *media.VideoCodecMeta {
	sps := h264.FindSPS(payload)
	if sps == nil {
		if cfg, err := h264.ParseDecoderConfig(payload); err == nil && len(cfg.SPS) > 0 {
			sps = cfg.SPS[0]
		}
	}
	if sps == nil {
		return nil
	}
	info, err := h264.ParseSPS(sps)
	if err != nil {
		return nil
	}
	color := media.ColorYUV420
	switch info.ChromaFormatIDC {
	case 0:
		color = media.ColorMono
	case 2:
		color = media.ColorYUV422
	case 3:
		color = media.ColorYUV444
	}
	return &media.VideoCodecMeta{
		Codec: media.CodecH264,
		Size:  &media.Size{Width: info.Width, Height: info.Height},
		Color: color,
	}
}

// probeMPEG2 reads the 12-bit dimensions of a sequence header and the
// chroma format of a following sequence extension when present.
func probeMPEG2(payload []byte) *media.VideoCodecMeta {
	i := bytes.Index(payload, mpeg2SeqStart)
	if i < 0 || i+8 > len(payload) {
		return nil
	}
	h := payload[i+4:]
	meta := &media.VideoCodecMeta{
		Codec: media.CodecMPEG2,
		Size: &media.Size{
			Width:  int(h[0])<<4 | int(h[1]>>4),
			Height: int(h[1]&0x0F)<<8 | int(h[2]),
		},
		Color: media.ColorYUV420,
	}
	// sequence_extension: start code 0xB5, extension id 1 in the high nibble.
	if j := bytes.Index(payload[i:], []byte{0x00, 0x00, 0x01, 0xB5}); j >= 0 {
		ext := payload[i+j+4:]
		if len(ext) >= 2 && ext[0]>>4 == 1 {
			switch (ext[1] >> 1) & 0x03 {
			case 2:
				meta.Color = media.ColorYUV422
			case 3:
				meta.Color = media.ColorYUV444
			}
		}
	}
	return meta
}

// probeProRes reads the frame header that follows the 8-byte frame atom
// header (size and 'icpf').
func probeProRes(payload []byte) *media.VideoCodecMeta {
	if len(payload) < 8+13 || string(payload[4:8]) != "icpf" {
		return nil
	}
	h := payload[8:]
	meta := &media.VideoCodecMeta{
		Codec: media.CodecProRes,
		Size: &media.Size{
			Width:  int(binary.BigEndian.Uint16(h[8:10])),
			Height: int(binary.BigEndian.Uint16(h[10:12])),
		},
		Color: media.ColorYUV422,
	}
	if h[12]>>6 == 3 {
		meta.Color = media.ColorYUV444
	}
	return meta
}

func probeImage(c media.Codec, payload []byte, decodeConfig func(r io.Reader) (image.Config, error)) *media.VideoCodecMeta {
	cfg, err := decodeConfig(bytes.NewReader(payload))
	if err != nil {
		return nil
	}
	return &media.VideoCodecMeta{
		Codec: c,
		Size:  &media.Size{Width: cfg.Width, Height: cfg.Height},
		Color: media.ColorRGB,
	}
}

func probeVP8(payload []byte) *media.VideoCodecMeta {
	if !isVP8KeyFrame(payload) {
		return nil
	}
	return &media.VideoCodecMeta{
		Codec: media.CodecVP8,
		Size: &media.Size{
			Width:  int(binary.LittleEndian.Uint16(payload[6:8]) & 0x3FFF),
			Height: int(binary.LittleEndian.Uint16(payload[8:10]) & 0x3FFF),
		},
		Color: media.ColorYUV420,
	}
}
