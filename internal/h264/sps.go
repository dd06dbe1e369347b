package h264

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

var errSPSTooShort = errors.New("h264: SPS data too short")

// SPSInfo holds the sequence parameters the pipeline uses to size decode
// buffers and derive a frame rate for streams without container timing.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
	// ChromaFormatIDC is 0 for monochrome, 1 for 4:2:0, 2 for 4:2:2 and 3
	// for 4:4:4.
	ChromaFormatIDC int
	NumUnitsInTick  uint32
	TimeScale       uint32
}

// CodecString returns the RFC 6381 codec string, e.g. "avc1.64001F".
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// FrameRate returns the frame rate as a fraction from VUI timing. ok is false
// when the stream carries no timing information.
func (s SPSInfo) FrameRate() (num, den int, ok bool) {
	if s.NumUnitsInTick == 0 || s.TimeScale == 0 {
		return 0, 0, false
	}
	// One frame spans two field ticks.
	return int(s.TimeScale), 2 * int(s.NumUnitsInTick), true
}

// expGolomb wraps a bitio reader with the exp-Golomb codes used by H.264.
// Errors stick in r.TryError so parsing code can read straight through and
// check once.
type expGolomb struct {
	*bitio.Reader
}

func (g expGolomb) bits(n uint8) uint64 {
	if n == 0 {
		return 0
	}
	return g.TryReadBits(n)
}

func (g expGolomb) flag() bool {
	return g.TryReadBool()
}

func (g expGolomb) ue() uint64 {
	zeros := uint8(0)
	for !g.TryReadBool() {
		if g.TryError != nil || zeros >= 32 {
			if g.TryError == nil {
				g.TryError = errSPSTooShort
			}
			return 0
		}
		zeros++
	}
	return 1<<zeros - 1 + g.bits(zeros)
}

func (g expGolomb) se() int64 {
	v := g.ue()
	if v%2 == 0 {
		return -int64(v / 2)
	}
	return int64(v+1) / 2
}

func (g expGolomb) skipScalingList(size int) {
	last, next := int64(8), int64(8)
	for range size {
		if next != 0 {
			next = (last + g.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

func hasChromaInfo(profile uint64) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an SPS NAL unit, header byte included and start code
// excluded. Fields past the VUI timing info are not read.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}
	g := expGolomb{bitio.NewReader(bytes.NewReader(removeEmulationPrevention(nalu[1:])))}

	info := SPSInfo{
		ProfileIDC:      byte(g.bits(8)),
		ConstraintFlags: byte(g.bits(8)),
		LevelIDC:        byte(g.bits(8)),
		ChromaFormatIDC: 1,
	}
	g.ue() // seq_parameter_set_id

	separatePlanes := false
	if hasChromaInfo(uint64(info.ProfileIDC)) {
		info.ChromaFormatIDC = int(g.ue())
		if info.ChromaFormatIDC == 3 {
			separatePlanes = g.flag()
		}
		g.ue()   // bit_depth_luma_minus8
		g.ue()   // bit_depth_chroma_minus8
		g.flag() // qpprime_y_zero_transform_bypass_flag
		if g.flag() {
			lists := 8
			if info.ChromaFormatIDC == 3 {
				lists = 12
			}
			for i := range lists {
				if g.flag() {
					if i < 6 {
						g.skipScalingList(16)
					} else {
						g.skipScalingList(64)
					}
				}
			}
		}
	}

	g.ue() // log2_max_frame_num_minus4
	switch g.ue() {
	case 0:
		g.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		g.flag()
		g.se()
		g.se()
		for n := g.ue(); n > 0 && g.TryError == nil; n-- {
			g.se()
		}
	}
	g.ue()   // max_num_ref_frames
	g.flag() // gaps_in_frame_num_value_allowed_flag

	widthMbs := g.ue() + 1
	heightUnits := g.ue() + 1
	frameMbsOnly := uint64(0)
	if g.flag() {
		frameMbsOnly = 1
	} else {
		g.flag() // mb_adaptive_frame_field_flag
	}
	g.flag() // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint64
	if g.flag() {
		cropL, cropR, cropT, cropB = g.ue(), g.ue(), g.ue(), g.ue()
	}
	if g.TryError != nil {
		return SPSInfo{}, errSPSTooShort
	}

	subW, subH := uint64(2), uint64(2)
	switch {
	case separatePlanes || info.ChromaFormatIDC == 0 || info.ChromaFormatIDC == 3:
		subW, subH = 1, 1
	case info.ChromaFormatIDC == 2:
		subH = 1
	}
	cropY := subH * (2 - frameMbsOnly)
	info.Width = int(widthMbs*16 - subW*(cropL+cropR))
	info.Height = int(heightUnits*16*(2-frameMbsOnly) - cropY*(cropT+cropB))

	if !g.flag() {
		return info, nil
	}
	readVUITiming(g, &info)
	return info, nil
}

// readVUITiming skips the VUI fields ahead of timing_info and records the
// tick and time scale. A truncated VUI leaves the timing zero.
func readVUITiming(g expGolomb, info *SPSInfo) {
	if g.flag() && g.bits(8) == 255 { // aspect_ratio_idc == Extended_SAR
		g.bits(32)
	}
	if g.flag() {
		g.flag() // overscan_appropriate_flag
	}
	if g.flag() {
		g.bits(4) // video_format, video_full_range_flag
		if g.flag() {
			g.bits(24)
		}
	}
	if g.flag() {
		g.ue()
		g.ue()
	}
	if !g.flag() {
		return
	}
	units, scale := g.bits(32), g.bits(32)
	if g.TryError == nil {
		info.NumUnitsInTick, info.TimeScale = uint32(units), uint32(scale)
	}
}
