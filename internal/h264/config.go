package h264

import "errors"

// ErrBadConfigRecord is returned for a malformed AVCDecoderConfigurationRecord.
var ErrBadConfigRecord = errors.New("h264: malformed decoder configuration record")

// DecoderConfig is the parsed AVCDecoderConfigurationRecord carried in MP4
// avcC boxes and Matroska CodecPrivate.
type DecoderConfig struct {
	ProfileIDC byte
	LevelIDC   byte
	LengthSize int
	SPS        [][]byte
	PPS        [][]byte
}

// ParseDecoderConfig parses an avcC record.
func ParseDecoderConfig(rec []byte) (*DecoderConfig, error) {
	if len(rec) < 7 || rec[0] != 1 {
		return nil, ErrBadConfigRecord
	}
	cfg := &DecoderConfig{
		ProfileIDC: rec[1],
		LevelIDC:   rec[3],
		LengthSize: int(rec[4]&0x03) + 1,
	}

	pos := 5
	readSets := func(count int) ([][]byte, bool) {
		var sets [][]byte
		for range count {
			if pos+2 > len(rec) {
				return nil, false
			}
			n := int(rec[pos])<<8 | int(rec[pos+1])
			pos += 2
			if pos+n > len(rec) {
				return nil, false
			}
			sets = append(sets, rec[pos:pos+n])
			pos += n
		}
		return sets, true
	}

	numSPS := int(rec[pos] & 0x1F)
	pos++
	var ok bool
	if cfg.SPS, ok = readSets(numSPS); !ok || pos >= len(rec) {
		return nil, ErrBadConfigRecord
	}
	numPPS := int(rec[pos])
	pos++
	if cfg.PPS, ok = readSets(numPPS); !ok {
		return nil, ErrBadConfigRecord
	}
	return cfg, nil
}

// AnnexB returns the parameter sets as an Annex B byte stream, ready to be
// prepended to the first access unit.
func (c *DecoderConfig) AnnexB() []byte {
	var out []byte
	for _, set := range append(append([][]byte{}, c.SPS...), c.PPS...) {
		out = append(out, 0, 0, 0, 1)
		out = append(out, set...)
	}
	return out
}

// Info parses the first SPS of the record.
func (c *DecoderConfig) Info() (SPSInfo, error) {
	if len(c.SPS) == 0 {
		return SPSInfo{}, errSPSTooShort
	}
	return ParseSPS(c.SPS[0])
}
