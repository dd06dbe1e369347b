// Package h264 provides the H.264 bitstream helpers the decode pipeline needs
// without a full decoder: NAL unit framing in Annex B and length-prefixed
// (AVCC) form, IDR detection, SPS dimension parsing, decoder configuration
// records, and access-unit splitting for raw elementary streams.
package h264

import "encoding/binary"

// NAL unit types from ITU-T H.264 Table 7-1.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// NALUnit is one NAL unit including its header byte, without start code or
// length prefix.
type NALUnit struct {
	Type byte
	Data []byte
}

func nalType(b byte) byte { return b & 0x1F }

// IsVCL reports whether the NAL type carries slice data.
func IsVCL(t byte) bool { return t >= NALTypeSlice && t <= NALTypeIDR }

// ParseAnnexB splits an Annex B byte stream on 3- and 4-byte start codes.
// Zeros directly before a start code belong to the start code.
func ParseAnnexB(data []byte) []NALUnit {
	if len(data) < 4 {
		return nil
	}

	type span struct{ sc, start int }
	var spans []span
	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		switch {
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			spans = append(spans, span{i, i + 4})
			i += 4
		case data[i+2] == 1:
			spans = append(spans, span{i, i + 3})
			i += 3
		default:
			i++
		}
	}

	var units []NALUnit
	for k, s := range spans {
		end := len(data)
		if k+1 < len(spans) {
			end = spans[k+1].sc
		}
		if s.start >= end {
			continue
		}
		nal := data[s.start:end]
		units = append(units, NALUnit{Type: nalType(nal[0]), Data: nal})
	}
	return units
}

// ParseAVCC splits length-prefixed NAL units. lengthSize is 1, 2 or 4. It
// returns nil when the prefixes do not tile the buffer exactly.
func ParseAVCC(data []byte, lengthSize int) []NALUnit {
	var units []NALUnit
	for pos := 0; pos < len(data); {
		if pos+lengthSize > len(data) {
			return nil
		}
		var n int
		switch lengthSize {
		case 1:
			n = int(data[pos])
		case 2:
			n = int(binary.BigEndian.Uint16(data[pos:]))
		case 4:
			n = int(binary.BigEndian.Uint32(data[pos:]))
		default:
			return nil
		}
		pos += lengthSize
		if n == 0 || pos+n > len(data) {
			return nil
		}
		units = append(units, NALUnit{Type: nalType(data[pos]), Data: data[pos : pos+n]})
		pos += n
	}
	return units
}

// HasStartCode reports whether data begins with an Annex B start code.
func HasStartCode(data []byte) bool {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

// Units splits a sample in either framing. Annex B is tried first, then
// 4-byte AVCC.
func Units(data []byte) []NALUnit {
	if HasStartCode(data) {
		return ParseAnnexB(data)
	}
	return ParseAVCC(data, 4)
}

// IsIDR reports whether a sample contains an IDR slice.
func IsIDR(data []byte) bool {
	for _, u := range Units(data) {
		if u.Type == NALTypeIDR {
			return true
		}
	}
	return false
}

// FindSPS returns the first SPS NAL unit in a sample, or nil.
func FindSPS(data []byte) []byte {
	for _, u := range Units(data) {
		if u.Type == NALTypeSPS {
			return u.Data
		}
	}
	return nil
}

// removeEmulationPrevention strips the 0x03 bytes inserted after two zeros
// so the result is raw RBSP.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
