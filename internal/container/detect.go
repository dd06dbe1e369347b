package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/h264"
	"github.com/zsiec/framesrc/internal/media"
)

const sniffSize = 1024

var (
	frameVerb = regexp.MustCompile(`%0?\d*d`)

	mp4Boxes = [][]byte{
		[]byte("ftyp"), []byte("moov"), []byte("mdat"), []byte("free"),
		[]byte("wide"), []byte("skip"), []byte("pnot"),
	}
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	packStart = []byte{0x00, 0x00, 0x01, 0xBA}
	y4mMagic  = []byte("YUV4MPEG2 ")
)

// IsImageSequence reports whether path holds a printf frame-number verb
// such as %d or %05d.
func IsImageSequence(path string) bool {
	return frameVerb.MatchString(path)
}

// DetectFormat identifies the container of the file at path from its
// content. Paths with a frame-number verb are image sequences.
func DetectFormat(path string) (media.Format, error) {
	if IsImageSequence(path) {
		return media.FormatIMG, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return media.FormatUnknown, fmt.Errorf("container: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return media.FormatUnknown, fmt.Errorf("container: reading %s: %w", path, err)
	}
	return DetectFormatBytes(head[:n]), nil
}

// DetectFormatBytes identifies a container from the first bytes of a file.
func DetectFormatBytes(b []byte) media.Format {
	switch {
	case len(b) >= 8 && isMP4Box(b[4:8]):
		return media.FormatMOV
	case bytes.HasPrefix(b, ebmlMagic):
		return media.FormatMKV
	case bytes.HasPrefix(b, y4mMagic):
		return media.FormatY4M
	case len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WAVE":
		return media.FormatWAV
	case len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WEBP":
		return media.FormatWebP
	case tsPacketSize(b) > 0:
		return media.FormatMPEGTS
	case bytes.HasPrefix(b, packStart):
		return media.FormatMPEGPS
	}
	switch codec.Detect(b) {
	case media.CodecH264:
		if h264.HasStartCode(b) {
			return media.FormatH264
		}
	case media.CodecJPEG, media.CodecPNG:
		return media.FormatIMG
	}
	return media.FormatUnknown
}

func isMP4Box(t []byte) bool {
	for _, box := range mp4Boxes {
		if bytes.Equal(t, box) {
			return true
		}
	}
	return false
}

// tsPacketSize returns the packet size of a transport stream whose first
// bytes are head: 188 for plain TS, 192 for M2TS, 204 with parity. It
// returns 0 when head does not look like a transport stream. Two
// consecutive sync bytes are required.
func tsPacketSize(head []byte) int {
	for _, c := range []struct{ size, sync int }{{188, 0}, {192, 4}, {204, 0}} {
		if len(head) >= c.sync+c.size+1 && head[c.sync] == 0x47 && head[c.sync+c.size] == 0x47 {
			return c.size
		}
	}
	return 0
}
