package h264

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

var (
	sps720p = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	sps256x192 = []byte{
		0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
		0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
		0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
		0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
		0x3a, 0x8e, 0x18, 0xc9,
	}
	spsVUITiming = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0x01, 0x6a, 0x04, 0x04, 0x0a, 0x80,
		0x00, 0x00, 0x03, 0x00, 0x80, 0x00, 0x00, 0x1e,
		0x30, 0x20, 0x00, 0x16, 0xe3, 0x60, 0x00, 0x2d,
		0xc6, 0xd2, 0x49, 0x80, 0x7c, 0x60, 0xc6, 0x58,
	}
)

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF, 0xFE,
	}

	nalus := ParseAnnexB(data)
	if len(nalus) != 3 {
		t.Fatalf("expected 3 NAL units, got %d", len(nalus))
	}
	want := []byte{NALTypeSPS, NALTypePPS, NALTypeIDR}
	for i, w := range want {
		if nalus[i].Type != w {
			t.Errorf("NALU[%d]: got type %d, want %d", i, nalus[i].Type, w)
		}
	}
}

func TestParseAnnexBTrailingZeroAbsorbedByStartCode(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x06, 0xAA, 0xBB, 0x00,
		0x00, 0x00, 0x01, 0x41, 0x9A,
	}

	nalus := ParseAnnexB(data)
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nalus))
	}
	if nalus[0].Type != NALTypeSEI || len(nalus[0].Data) != 3 {
		t.Errorf("SEI: got type %d len %d, want 6 and 3", nalus[0].Type, len(nalus[0].Data))
	}
	if nalus[1].Type != NALTypeSlice {
		t.Errorf("expected slice, got %d", nalus[1].Type)
	}
}

func TestParseAnnexBShortInput(t *testing.T) {
	t.Parallel()
	if nalus := ParseAnnexB([]byte{0x00, 0x01}); nalus != nil {
		t.Errorf("expected nil, got %d units", len(nalus))
	}
}

func TestParseAVCC(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x02, 0x09, 0xF0,
		0x00, 0x00, 0x00, 0x03, 0x65, 0x88, 0x84,
	}
	nalus := ParseAVCC(data, 4)
	if len(nalus) != 2 {
		t.Fatalf("expected 2 NAL units, got %d", len(nalus))
	}
	if nalus[0].Type != NALTypeAUD || nalus[1].Type != NALTypeIDR {
		t.Errorf("types = %d, %d, want 9, 5", nalus[0].Type, nalus[1].Type)
	}

	if ParseAVCC(data[:len(data)-1], 4) != nil {
		t.Error("truncated AVCC sample should not parse")
	}
}

func TestIsIDR(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"annexb_idr", []byte{0x00, 0x00, 0x01, 0x09, 0xF0, 0x00, 0x00, 0x01, 0x65, 0x88}, true},
		{"annexb_slice", []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A}, false},
		{"avcc_idr", []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x88}, true},
		{"avcc_slice", []byte{0x00, 0x00, 0x00, 0x02, 0x41, 0x9A}, false},
		{"garbage", []byte{0xFF, 0xD8, 0xFF}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsIDR(tc.data); got != tc.want {
				t.Errorf("IsIDR: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseSPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		nal           []byte
		width, height int
		rateNum       int
		rateDen       int
	}{
		{"720p", sps720p, 1280, 720, 48000, 2002},
		{"256x192", sps256x192, 256, 192, 48000, 2002},
		{"vui_timing", spsVUITiming, 1280, 720, 60, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			info, err := ParseSPS(tc.nal)
			if err != nil {
				t.Fatalf("ParseSPS error: %v", err)
			}
			if info.Width != tc.width || info.Height != tc.height {
				t.Errorf("size: got %dx%d, want %dx%d", info.Width, info.Height, tc.width, tc.height)
			}
			if info.ChromaFormatIDC != 1 {
				t.Errorf("chroma format: got %d, want 1", info.ChromaFormatIDC)
			}
			num, den, ok := info.FrameRate()
			if !ok || num != tc.rateNum || den != tc.rateDen {
				t.Errorf("frame rate: got %d/%d (%v), want %d/%d", num, den, ok, tc.rateNum, tc.rateDen)
			}
		})
	}
}

func TestParseSPSCodecString(t *testing.T) {
	t.Parallel()
	info, err := ParseSPS(sps720p)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.CodecString(); got != "avc1.64001F" {
		t.Errorf("codec string: got %s, want avc1.64001F", got)
	}
}

func TestParseSPSTooShort(t *testing.T) {
	t.Parallel()
	for _, in := range [][]byte{nil, {}, {0x67, 0x64, 0x00}, {0x67, 0x64, 0x00, 0x1f}} {
		if _, err := ParseSPS(in); err == nil {
			t.Errorf("ParseSPS(% x): expected error", in)
		}
	}
}

func buildAVCC(sps, pps []byte) []byte {
	rec := []byte{0x01, sps[1], sps[2], sps[3], 0xFF, 0xE1}
	rec = append(rec, byte(len(sps)>>8), byte(len(sps)))
	rec = append(rec, sps...)
	rec = append(rec, 0x01, byte(len(pps)>>8), byte(len(pps)))
	return append(rec, pps...)
}

func TestParseDecoderConfig(t *testing.T) {
	t.Parallel()
	pps := []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}
	cfg, err := ParseDecoderConfig(buildAVCC(sps720p, pps))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LengthSize != 4 {
		t.Errorf("length size: got %d, want 4", cfg.LengthSize)
	}
	if len(cfg.SPS) != 1 || len(cfg.PPS) != 1 {
		t.Fatalf("parameter sets: got %d SPS %d PPS, want 1 and 1", len(cfg.SPS), len(cfg.PPS))
	}
	info, err := cfg.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 1280 || info.Height != 720 {
		t.Errorf("size: got %dx%d, want 1280x720", info.Width, info.Height)
	}

	annexB := cfg.AnnexB()
	nalus := ParseAnnexB(annexB)
	if len(nalus) != 2 || nalus[0].Type != NALTypeSPS || nalus[1].Type != NALTypePPS {
		t.Errorf("AnnexB parameter sets not recovered: %d units", len(nalus))
	}
	if !bytes.Equal(FindSPS(annexB), sps720p) {
		t.Error("FindSPS did not return the SPS")
	}
}

func TestParseDecoderConfigMalformed(t *testing.T) {
	t.Parallel()
	rec := buildAVCC(sps720p, []byte{0x68, 0xEB})
	for _, in := range [][]byte{nil, {0x00, 0, 0, 0, 0, 0, 0}, rec[:10], rec[:len(rec)-1]} {
		if _, err := ParseDecoderConfig(in); !errors.Is(err, ErrBadConfigRecord) {
			t.Errorf("len %d: got %v, want ErrBadConfigRecord", len(in), err)
		}
	}
}

func TestAccessUnitReader(t *testing.T) {
	t.Parallel()
	var stream []byte
	sc := []byte{0x00, 0x00, 0x00, 0x01}
	add := func(nal ...byte) {
		stream = append(stream, sc...)
		stream = append(stream, nal...)
	}
	add(0x09, 0xF0)             // AUD
	add(sps720p...)             // SPS
	add(0x68, 0xEB, 0xE3)       // PPS
	add(0x65, 0x88, 0x84)       // IDR, first_mb 0
	add(0x65, 0x08, 0x11)       // IDR, first_mb != 0 (same picture)
	add(0x41, 0x9A, 0x01)       // slice, first_mb 0: new unit
	add(0x06, 0x05, 0x01, 0x80) // SEI after slice: new unit
	add(0x41, 0x9A, 0x02)

	r := NewAccessUnitReader(bytes.NewReader(stream))
	var units [][]NALUnit
	for {
		au, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		units = append(units, ParseAnnexB(au))
	}

	if len(units) != 3 {
		t.Fatalf("access units = %d, want 3", len(units))
	}
	if len(units[0]) != 5 || !IsIDR(append(append([]byte{}, sc...), units[0][3].Data...)) {
		t.Errorf("first unit has %d NAL units, want 5 with an IDR", len(units[0]))
	}
	if len(units[1]) != 1 || units[1][0].Type != NALTypeSlice {
		t.Errorf("second unit = %d NAL units, want a single slice", len(units[1]))
	}
	if len(units[2]) != 2 || units[2][0].Type != NALTypeSEI {
		t.Errorf("third unit = %d NAL units, want SEI + slice", len(units[2]))
	}
}

func TestAccessUnitReaderSkipsLeadingGarbage(t *testing.T) {
	t.Parallel()
	stream := []byte{0xAB, 0xCD, 0x00, 0x00, 0x01, 0x65, 0x88, 0x00, 0x00, 0x01, 0x65, 0x88}
	r := NewAccessUnitReader(bytes.NewReader(stream))

	var n int
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("access units = %d, want 2", n)
	}
}
