package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/framesrc/internal/media"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestSupported(t *testing.T) {
	t.Parallel()
	require.True(t, Supported(media.CodecH264))
	require.True(t, Supported(media.CodecPCM))
	require.False(t, Supported(media.CodecVP9))
	require.False(t, Supported(media.CodecOpus))

	list := SupportedCodecs()
	list[0] = media.CodecUnknown
	require.True(t, Supported(media.CodecAAC), "SupportedCodecs must return a copy")
}

func TestDetect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want media.Codec
	}{
		{"png", encodePNG(t, 2, 2), media.CodecPNG},
		{"jpeg", encodeJPEG(t, 8, 8), media.CodecJPEG},
		{"mpeg2", []byte{0, 0, 1, 0xB3, 0x2D, 0x01, 0xE0, 0x24}, media.CodecMPEG2},
		{"prores", []byte{0, 0, 0, 64, 'i', 'c', 'p', 'f'}, media.CodecProRes},
		{"h264_annexb", []byte{0, 0, 0, 1, 0x09, 0xF0, 0, 0, 0, 1, 0x65, 0x88}, media.CodecH264},
		{"vp8_key", []byte{0x50, 0x01, 0x00, 0x9D, 0x01, 0x2A, 0x10, 0x00, 0x10, 0x00}, media.CodecVP8},
		{"adts", []byte{0xFF, 0xF1, 0x4C, 0x80, 0x01, 0x7F, 0xFC}, media.CodecAAC},
		{"garbage", []byte{0x12, 0x34, 0x56}, media.CodecUnknown},
		{"empty", nil, media.CodecUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Detect(tc.data))
		})
	}
}

func TestProbeVideo(t *testing.T) {
	t.Parallel()

	meta := ProbeVideo(media.CodecPNG, encodePNG(t, 5, 3))
	require.NotNil(t, meta)
	require.Equal(t, media.Size{Width: 5, Height: 3}, *meta.Size)
	require.Equal(t, media.ColorRGB, meta.Color)

	// 720x576 sequence header followed by a 4:2:2 sequence extension.
	mpeg2 := []byte{
		0, 0, 1, 0xB3, 0x2D, 0x02, 0x40, 0x33, 0, 0, 0, 0,
		0, 0, 1, 0xB5, 0x14, 0x84,
	}
	meta = ProbeVideo(media.CodecMPEG2, mpeg2)
	require.NotNil(t, meta)
	require.Equal(t, media.Size{Width: 720, Height: 576}, *meta.Size)
	require.Equal(t, media.ColorYUV422, meta.Color)

	prores := make([]byte, 8+20)
	copy(prores[4:8], "icpf")
	prores[8+8], prores[8+9] = 0x07, 0x80 // 1920
	prores[8+10], prores[8+11] = 0x04, 0x38 // 1080
	meta = ProbeVideo(media.CodecProRes, prores)
	require.NotNil(t, meta)
	require.Equal(t, media.Size{Width: 1920, Height: 1080}, *meta.Size)
	require.Equal(t, media.ColorYUV422, meta.Color)

	require.Nil(t, ProbeVideo(media.CodecH264, []byte{0, 0, 0, 1, 0x65}))
	require.Nil(t, ProbeVideo(media.CodecRAW, []byte{1, 2, 3}))
}

func TestProbeAudio(t *testing.T) {
	t.Parallel()
	meta := ProbeAudio(media.CodecAAC, []byte{0xFF, 0xF1, 0x4C, 0x80, 0x01, 0x7F, 0xFC})
	require.NotNil(t, meta)
	require.Equal(t, 48000, meta.Format.SampleRate)
	require.Equal(t, 2, meta.Format.Channels)
	require.Nil(t, ProbeAudio(media.CodecPCM, []byte{1, 2}))
}

func TestRegistryNoDecoder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.False(t, r.HasVideoDecoder(media.CodecH264))
	_, err := r.NewVideoDecoder(media.CodecH264, VideoParams{})
	require.ErrorIs(t, err, ErrNoDecoder)
	_, err = r.NewAudioDecoder(media.CodecAAC, AudioParams{})
	require.ErrorIs(t, err, ErrNoDecoder)
}

type stubDecoder struct{ VideoDecoder }

func TestRegistryWithVideoDecoder(t *testing.T) {
	t.Parallel()
	var got VideoParams
	r := NewRegistry(WithVideoDecoder(media.CodecH264, func(p VideoParams) (VideoDecoder, error) {
		got = p
		return stubDecoder{}, nil
	}))
	require.True(t, r.HasVideoDecoder(media.CodecH264))
	_, err := r.NewVideoDecoder(media.CodecH264, VideoParams{Downscale: 0})
	require.NoError(t, err)
	require.Equal(t, 1, got.Downscale)
}

func TestPNGDecode(t *testing.T) {
	t.Parallel()
	payload := encodePNG(t, 5, 3)
	dec, err := NewRegistry().NewVideoDecoder(media.CodecPNG, VideoParams{})
	require.NoError(t, err)

	meta, err := dec.CodecMeta(payload)
	require.NoError(t, err)
	require.Equal(t, media.Size{Width: 5, Height: 3}, *meta.Size)

	target := media.NewPicture(16, 16, media.ColorRGB)
	pic, err := dec.Decode(payload, target)
	require.NoError(t, err)
	require.Equal(t, media.Size{Width: 5, Height: 3}, pic.DisplaySize())

	stride := target.Stride(0)
	px := pic.Planes[0][2*stride+4*3:]
	require.Equal(t, []byte{4, 2, 200}, px[:3])

	_, err = dec.Decode(payload, media.NewPicture(4, 4, media.ColorRGB))
	require.ErrorIs(t, err, ErrTargetTooSmall)
	_, err = dec.Decode(payload, media.NewPicture(16, 16, media.ColorYUV420))
	require.ErrorIs(t, err, ErrTargetTooSmall)
}

func TestJPEGDownscale(t *testing.T) {
	t.Parallel()
	payload := encodeJPEG(t, 64, 48)
	dec, err := NewRegistry().NewVideoDecoder(media.CodecJPEG, VideoParams{Downscale: 4})
	require.NoError(t, err)

	meta, err := dec.CodecMeta(payload)
	require.NoError(t, err)
	require.Equal(t, media.Size{Width: 16, Height: 12}, *meta.Size)

	pic, err := dec.Decode(payload, media.NewPicture(16, 16, media.ColorRGB))
	require.NoError(t, err)
	require.Equal(t, media.Size{Width: 16, Height: 12}, pic.DisplaySize())
}

func TestPNGIgnoresDownscale(t *testing.T) {
	t.Parallel()
	payload := encodePNG(t, 8, 8)
	dec, err := NewRegistry().NewVideoDecoder(media.CodecPNG, VideoParams{Downscale: 2})
	require.NoError(t, err)
	meta, err := dec.CodecMeta(payload)
	require.NoError(t, err)
	require.Equal(t, media.Size{Width: 8, Height: 8}, *meta.Size)
}

func TestRawDecode(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	_, err := r.NewVideoDecoder(media.CodecRAW, VideoParams{})
	require.ErrorIs(t, err, ErrUnknownDimensions)

	meta := &media.VideoCodecMeta{Codec: media.CodecRAW, Size: &media.Size{Width: 4, Height: 2}}
	dec, err := r.NewVideoDecoder(media.CodecRAW, VideoParams{Meta: meta})
	require.NoError(t, err)

	// 4x2 luma, then 2x1 for each chroma plane.
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	target := media.NewPicture(16, 16, media.ColorYUV420)
	pic, err := dec.Decode(payload, target)
	require.NoError(t, err)
	require.Equal(t, media.Size{Width: 4, Height: 2}, pic.DisplaySize())
	require.Equal(t, []byte{1, 2, 3, 4}, pic.Planes[0][:4])
	require.Equal(t, []byte{5, 6, 7, 8}, pic.Planes[0][16:20])
	require.Equal(t, []byte{9, 10}, pic.Planes[1][:2])
	require.Equal(t, []byte{11, 12}, pic.Planes[2][:2])

	_, err = dec.Decode(payload[:5], target)
	require.Error(t, err)
}

func TestPCMDecode(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.NewAudioDecoder(media.CodecPCM, AudioParams{})
	require.Error(t, err)

	format := &media.AudioFormat{SampleRate: 48000, Channels: 2, SampleSizeBits: 16}
	dec, err := r.NewAudioDecoder(media.CodecPCM, AudioParams{Meta: &media.AudioCodecMeta{Codec: media.CodecPCM, Format: format}})
	require.NoError(t, err)

	buf, err := dec.Decode(make([]byte, 4*100))
	require.NoError(t, err)
	require.Equal(t, 100, buf.NumSamples)
	require.Equal(t, 48000, buf.Format.SampleRate)
}

func TestVP8RejectsInterFrame(t *testing.T) {
	t.Parallel()
	dec, err := NewRegistry().NewVideoDecoder(media.CodecVP8, VideoParams{})
	require.NoError(t, err)
	// frame tag with the key-frame bit clear: inter frame, first partition 0.
	_, err = dec.Decode([]byte{0x01, 0x00, 0x00, 0xAA}, media.NewPicture(16, 16, media.ColorYUV420))
	require.ErrorIs(t, err, ErrUnsupportedFrame)
}

func TestScaleSize(t *testing.T) {
	t.Parallel()
	require.Equal(t, media.Size{Width: 960, Height: 540}, ScaleSize(media.Size{Width: 1920, Height: 1080}, 2))
	require.Equal(t, media.Size{Width: 3, Height: 2}, ScaleSize(media.Size{Width: 9, Height: 5}, 4))
	require.Equal(t, media.Size{Width: 9, Height: 5}, ScaleSize(media.Size{Width: 9, Height: 5}, 1))
}
