package aac

import (
	"errors"
	"testing"
)

// buildADTS returns one AAC-LC frame at sample rate index idx with the
// given channel count and payload.
func buildADTS(idx, channels int, payload []byte) []byte {
	n := 7 + len(payload)
	h := []byte{
		0xFF,
		0xF1, // MPEG-4, no CRC
		byte(1<<6 | idx<<2 | channels>>2),
		byte(channels&0x03<<6 | n>>11&0x03),
		byte(n >> 3),
		byte(n&0x07<<5 | 0x1F),
		0xFC,
	}
	return append(h, payload...)
}

func TestParseADTS(t *testing.T) {
	t.Parallel()
	frame := buildADTS(3, 2, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE})

	frames, err := ParseADTS(frame)
	if err != nil {
		t.Fatalf("ParseADTS failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.SampleRate != 48000 || f.Channels != 2 {
		t.Errorf("got %d Hz %d ch, want 48000 Hz 2 ch", f.SampleRate, f.Channels)
	}
	if len(f.Data) != 13 || f.FrameSize != 13 {
		t.Errorf("frame length: got %d (header says %d), want 13", len(f.Data), f.FrameSize)
	}
	if f.Profile != 1 {
		t.Errorf("profile: got %d, want 1", f.Profile)
	}
}

func TestParseADTSMultipleWithJunk(t *testing.T) {
	t.Parallel()
	var data []byte
	data = append(data, 0x00, 0x12)
	data = append(data, buildADTS(4, 1, []byte{1, 2, 3})...)
	data = append(data, buildADTS(4, 1, []byte{4, 5})...)
	data = append(data, buildADTS(4, 1, []byte{6, 7, 8, 9})[:8]...) // truncated

	frames, err := ParseADTS(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].SampleRate != 44100 || frames[1].Channels != 1 {
		t.Errorf("unexpected frame params: %+v", frames[0].Header)
	}
}

func TestParseADTSEmpty(t *testing.T) {
	t.Parallel()
	frames, err := ParseADTS(nil)
	if err != nil || len(frames) != 0 {
		t.Errorf("got %d frames, err %v; want none", len(frames), err)
	}
}

func TestParseHeaderInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{0xFF, 0xF1}},
		{"no_sync", []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"bad_rate", []byte{0xFF, 0xF1, 0x3C, 0x80, 0x01, 0xFF, 0xFC}},
		{"tiny_frame", []byte{0xFF, 0xF1, 0x4C, 0x80, 0x00, 0x1F, 0xFC}},
	}
	for _, tc := range tests {
		if _, err := ParseHeader(tc.data); !errors.Is(err, ErrInvalidADTS) {
			t.Errorf("%s: got %v, want ErrInvalidADTS", tc.name, err)
		}
	}
}

func TestParseConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		data     []byte
		rate, ch int
	}{
		{"lc_44100_stereo", []byte{0x12, 0x10}, 44100, 2},
		{"lc_48000_mono", []byte{0x11, 0x88}, 48000, 1},
	}
	for _, tc := range tests {
		c, err := ParseConfig(tc.data)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if c.ObjectType != 2 || c.SampleRate != tc.rate || c.Channels != tc.ch {
			t.Errorf("%s: got %+v, want LC %d Hz %d ch", tc.name, c, tc.rate, tc.ch)
		}
	}

	if _, err := ParseConfig([]byte{0x12}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("short config: got %v, want ErrInvalidConfig", err)
	}
}
