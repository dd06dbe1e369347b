// Package fixture builds small synthetic media files for tests: transport
// streams, Y4M, WAV, still images and H.264 access units. Payloads are
// structurally valid but carry no real picture data unless noted.
package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/zsiec/framesrc/internal/mpegts"
)

// SPS is a 256x192 4:2:0 H.264 sequence parameter set at 24000/1001 fps.
var SPS = []byte{
	0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
	0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
	0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
	0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
	0x3a, 0x8e, 0x18, 0xc9,
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// AccessUnit returns an Annex B access unit. Key units carry the SPS, a PPS
// and an IDR slice; others a single non-IDR slice. tag is stored in the
// slice so units can be told apart.
func AccessUnit(key bool, tag byte) []byte {
	var b bytes.Buffer
	b.Write(startCode)
	b.Write([]byte{0x09, 0xF0})
	if key {
		b.Write(startCode)
		b.Write(SPS)
		b.Write(startCode)
		b.Write([]byte{0x68, 0xCE, 0x38, 0x80})
		b.Write(startCode)
		b.Write([]byte{0x65, 0x88, 0x84, tag, 0x10})
	} else {
		b.Write(startCode)
		b.Write([]byte{0x41, 0x9A, 0x02, tag, 0x10})
	}
	return b.Bytes()
}

// Tag returns the tag AccessUnit stored in au, or -1.
func Tag(au []byte) int {
	i := bytes.LastIndex(au, startCode)
	if i < 0 || i+8 > len(au) {
		return -1
	}
	return int(au[i+7])
}

// TSUnit is one PES unit of a transport stream track. A zero DTS means the
// DTS equals the PTS.
type TSUnit struct {
	PTS  int64
	DTS  int64
	Data []byte
}

// TSTrack is one elementary stream of a program.
type TSTrack struct {
	PID        uint16
	StreamType uint8
	Units      []TSUnit
}

// TSProgram is one program of a transport stream.
type TSProgram struct {
	Number uint16
	PMTPID uint16
	Tracks []TSTrack
}

// TS muxes programs into a transport stream. PES units of all tracks are
// interleaved round-robin after the tables.
func TS(programs ...TSProgram) []byte {
	var buf bytes.Buffer
	m := mpegts.NewMuxer(&buf)

	pat := make([]mpegts.PATProgram, 0, len(programs))
	for _, p := range programs {
		pat = append(pat, mpegts.PATProgram{Number: p.Number, PMTPID: p.PMTPID})
	}
	must(m.WritePAT(pat))

	var tracks []TSTrack
	for _, p := range programs {
		pmt := mpegts.PMT{ProgramNumber: p.Number}
		for _, t := range p.Tracks {
			if pmt.PCRPID == 0 {
				pmt.PCRPID = t.PID
			}
			pmt.Streams = append(pmt.Streams, mpegts.ElementaryStream{PID: t.PID, StreamType: t.StreamType})
			tracks = append(tracks, t)
		}
		must(m.WritePMT(p.PMTPID, pmt))
	}

	for i := 0; ; i++ {
		wrote := false
		for _, t := range tracks {
			if i >= len(t.Units) {
				continue
			}
			u := t.Units[i]
			pes := mpegts.PES{
				StreamID: streamID(t.StreamType),
				PTS:      u.PTS,
				DTS:      u.DTS,
				HasPTS:   true,
				HasDTS:   u.DTS != 0,
				Data:     u.Data,
			}
			must(m.WritePES(t.PID, pes))
			wrote = true
		}
		if !wrote {
			return buf.Bytes()
		}
	}
}

func streamID(streamType uint8) byte {
	switch streamType {
	case mpegts.StreamTypeH264, mpegts.StreamTypeH265,
		mpegts.StreamTypeMPEG1Video, mpegts.StreamTypeMPEG2Video:
		return 0xE0
	case mpegts.StreamTypeAC3, mpegts.StreamTypePrivatePES:
		return 0xBD
	}
	return 0xC0
}

// ADTS returns one AAC-LC ADTS frame at 48 kHz stereo.
func ADTS(payload []byte) []byte {
	n := 7 + len(payload)
	h := []byte{0xFF, 0xF1, 0x4C, 0x80 | byte(n>>11)&0x03, byte(n >> 3), byte(n&0x07<<5) | 0x1F, 0xFC}
	return append(h, payload...)
}

// Y4M returns a 4:2:0 YUV4MPEG2 stream at 25 fps. Every byte of frame i's
// luma plane is i.
func Y4M(width, height, frames int) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "YUV4MPEG2 W%d H%d F25:1 Ip A1:1 C420jpeg\n", width, height)
	cw, ch := (width+1)/2, (height+1)/2
	for i := range frames {
		b.WriteString("FRAME\n")
		b.Write(bytes.Repeat([]byte{byte(i)}, width*height))
		b.Write(bytes.Repeat([]byte{128}, 2*cw*ch))
	}
	return b.Bytes()
}

// WAVParams describes a WAV fixture.
type WAVParams struct {
	SampleRate int
	Channels   int
	Bits       int
	Samples    int
	FmtSize    int    // 16 when zero; larger sizes are zero padded
	BextDesc   string // adds a bext chunk when set
}

// WAV returns a PCM RIFF WAVE file.
func WAV(p WAVParams) []byte {
	if p.FmtSize < 16 {
		p.FmtSize = 16
	}
	block := p.Channels * p.Bits / 8
	fmtChunk := make([]byte, p.FmtSize)
	binary.LittleEndian.PutUint16(fmtChunk[0:], 1)
	binary.LittleEndian.PutUint16(fmtChunk[2:], uint16(p.Channels))
	binary.LittleEndian.PutUint32(fmtChunk[4:], uint32(p.SampleRate))
	binary.LittleEndian.PutUint32(fmtChunk[8:], uint32(p.SampleRate*block))
	binary.LittleEndian.PutUint16(fmtChunk[12:], uint16(block))
	binary.LittleEndian.PutUint16(fmtChunk[14:], uint16(p.Bits))

	var body bytes.Buffer
	body.WriteString("WAVE")
	writeChunk(&body, "fmt ", fmtChunk)
	if p.BextDesc != "" {
		bext := make([]byte, 602)
		copy(bext, p.BextDesc)
		copy(bext[256:], "framesrc")
		copy(bext[320:], "2024-01-02")
		copy(bext[330:], "10:20:30")
		binary.LittleEndian.PutUint64(bext[338:], 48000*3600)
		writeChunk(&body, "bext", bext)
	}
	data := make([]byte, p.Samples*block)
	for i := range data {
		data[i] = byte(i)
	}
	writeChunk(&body, "data", data)

	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(body.Len()))
	b.Write(body.Bytes())
	return b.Bytes()
}

func writeChunk(b *bytes.Buffer, id string, data []byte) {
	b.WriteString(id)
	_ = binary.Write(b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	if len(data)%2 == 1 {
		b.WriteByte(0)
	}
}

// Image returns an encoded picture whose pixel (x, y) is (x, y, 200).
// format is imaging.PNG or imaging.JPEG.
func Image(width, height int, format imaging.Format) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var b bytes.Buffer
	must(imaging.Encode(&b, img, format))
	return b.Bytes()
}

// ImageSequence writes n PNG files named frame%03d.png into dir, numbered
// from first, and returns the printf pattern.
func ImageSequence(dir string, first, n, width, height int) (string, error) {
	pattern := filepath.Join(dir, "frame%03d.png")
	data := Image(width, height, imaging.PNG)
	for i := first; i < first+n; i++ {
		if err := os.WriteFile(fmt.Sprintf(pattern, i), data, 0o644); err != nil {
			return "", err
		}
	}
	return pattern, nil
}

// WriteFile writes data into dir under name and returns the path.
func WriteFile(dir, name string, data []byte) (string, error) {
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, data, 0o644)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
