package h264

import (
	"bytes"
	"errors"
	"io"
)

const readChunk = 64 << 10

// AccessUnitReader reads an Annex B elementary stream and returns one access
// unit per call, start codes included. A new access unit begins at an access
// unit delimiter, at an SPS, PPS or SEI that follows slice data, or at a
// slice whose first_mb_in_slice is zero when the current unit already holds a
// slice.
type AccessUnitReader struct {
	r       io.Reader
	pending []byte
	cur     []byte
	hasVCL  bool
	eof     bool
}

// NewAccessUnitReader returns a reader over r.
func NewAccessUnitReader(r io.Reader) *AccessUnitReader {
	return &AccessUnitReader{r: r}
}

// startsUnit reports whether nal opens a new access unit given the state of
// the unit being built.
func (a *AccessUnitReader) startsUnit(nal []byte) bool {
	if len(a.cur) == 0 {
		return false
	}
	t := nalType(nal[0])
	switch {
	case t == NALTypeAUD:
		return true
	case t == NALTypeSPS || t == NALTypePPS || t == NALTypeSEI:
		return a.hasVCL
	case IsVCL(t):
		// first_mb_in_slice is ue(v); a leading 1 bit encodes zero.
		return a.hasVCL && len(nal) > 1 && nal[1]&0x80 != 0
	}
	return false
}

func (a *AccessUnitReader) appendNAL(nal []byte) {
	a.cur = append(a.cur, 0, 0, 0, 1)
	a.cur = append(a.cur, nal...)
	if IsVCL(nalType(nal[0])) {
		a.hasVCL = true
	}
}

// nextNAL returns the next NAL unit from the stream without its start code.
// Bytes ahead of the first start code are discarded.
func (a *AccessUnitReader) nextNAL() ([]byte, error) {
	for {
		if s := skipStartCode(a.pending); s > 0 {
			if i := nextStartCode(a.pending, s); i >= 0 {
				nal := trimTrailingZeros(a.pending[s:i])
				a.pending = a.pending[i:]
				if len(nal) > 0 {
					return append([]byte(nil), nal...), nil
				}
				continue
			}
			if a.eof {
				nal := trimTrailingZeros(a.pending[s:])
				a.pending = nil
				if len(nal) == 0 {
					return nil, io.EOF
				}
				return nal, nil
			}
		} else if i := nextStartCode(a.pending, 0); i > 0 {
			a.pending = a.pending[i:]
			continue
		} else if a.eof {
			a.pending = nil
			return nil, io.EOF
		}
		if err := a.fill(); err != nil {
			return nil, err
		}
	}
}

func (a *AccessUnitReader) fill() error {
	buf := make([]byte, readChunk)
	n, err := a.r.Read(buf)
	a.pending = append(a.pending, buf[:n]...)
	if errors.Is(err, io.EOF) {
		a.eof = true
		return nil
	}
	return err
}

// Next returns the next access unit, or io.EOF after the last one.
func (a *AccessUnitReader) Next() ([]byte, error) {
	for {
		nal, err := a.nextNAL()
		if errors.Is(err, io.EOF) {
			if len(a.cur) == 0 {
				return nil, io.EOF
			}
			au := a.cur
			a.cur, a.hasVCL = nil, false
			return au, nil
		}
		if err != nil {
			return nil, err
		}
		if a.startsUnit(nal) {
			au := a.cur
			a.cur, a.hasVCL = nil, false
			a.appendNAL(nal)
			return au, nil
		}
		a.appendNAL(nal)
	}
}

// nextStartCode finds the first 3-byte start code at or after from.
func nextStartCode(b []byte, from int) int {
	if from >= len(b) {
		return -1
	}
	i := bytes.Index(b[from:], []byte{0, 0, 1})
	if i < 0 {
		return -1
	}
	return from + i
}

// skipStartCode returns the offset just past a leading start code, or 0.
func skipStartCode(b []byte) int {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	if i >= 2 && i < len(b) && b[i] == 1 {
		return i + 1
	}
	return 0
}

func trimTrailingZeros(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}
