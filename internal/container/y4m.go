package container

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zsiec/framesrc/internal/media"
)

const y4mFrameTag = "FRAME"

// Y4M demuxes YUV4MPEG2 files. A Y4M file has exactly one video track and
// the demuxer is that track.
type Y4M struct {
	r         io.ReadSeeker
	br        *bufio.Reader
	width     int
	height    int
	color     media.ColorSpace
	fpsNum    int
	fpsDen    int
	frameSize int
	dataStart int64
	total     int64
	frameNo   int64
}

// NewY4M parses the stream header of r.
func NewY4M(r io.ReadSeeker) (*Y4M, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("container: y4m header: %w", err)
	}
	if !strings.HasPrefix(line, string(y4mMagic)) {
		return nil, fmt.Errorf("%w: missing YUV4MPEG2 signature", ErrMalformed)
	}

	y := &Y4M{
		r:         r,
		br:        br,
		color:     media.ColorYUV420,
		fpsNum:    25,
		fpsDen:    1,
		dataStart: int64(len(line)),
	}
	for _, tok := range strings.Fields(line)[1:] {
		val := tok[1:]
		switch tok[0] {
		case 'W':
			y.width, _ = strconv.Atoi(val)
		case 'H':
			y.height, _ = strconv.Atoi(val)
		case 'F':
			if num, den, ok := strings.Cut(val, ":"); ok {
				n, _ := strconv.Atoi(num)
				d, _ := strconv.Atoi(den)
				if n > 0 && d > 0 {
					y.fpsNum, y.fpsDen = n, d
				}
			}
		case 'C':
			switch {
			case strings.HasPrefix(val, "420"):
				y.color = media.ColorYUV420
			case strings.HasPrefix(val, "422"):
				y.color = media.ColorYUV422
			case strings.HasPrefix(val, "444"):
				y.color = media.ColorYUV444
			case strings.HasPrefix(val, "mono"):
				y.color = media.ColorMono
			default:
				return nil, fmt.Errorf("%w: y4m colorspace %q", ErrMalformed, val)
			}
		}
	}
	if y.width <= 0 || y.height <= 0 {
		return nil, fmt.Errorf("%w: y4m dimensions %dx%d", ErrMalformed, y.width, y.height)
	}
	y.frameSize = y.color.FrameSize(y.width, y.height)

	if end, err := r.Seek(0, io.SeekEnd); err == nil {
		y.total = (end - y.dataStart) / int64(len(y4mFrameTag)+1+y.frameSize)
		if _, err := r.Seek(y.dataStart, io.SeekStart); err != nil {
			return nil, fmt.Errorf("container: y4m seek: %w", err)
		}
		y.br.Reset(r)
	}
	return y, nil
}

func (y *Y4M) VideoTracks() []Track { return []Track{y} }
func (y *Y4M) AudioTracks() []Track { return nil }

func (y *Y4M) Meta() *TrackMeta {
	s := media.Size{Width: y.width, Height: y.height}
	return &TrackMeta{
		Type:        media.TrackVideo,
		Codec:       media.CodecRAW,
		Video:       &media.VideoCodecMeta{Codec: media.CodecRAW, Size: &s, Color: y.color},
		Timescale:   y.fpsNum,
		TotalFrames: y.total,
	}
}

func (y *Y4M) NextPacket() (*media.Packet, error) {
	line, err := y.br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("container: y4m frame header: %w", err)
	}
	if !bytes.HasPrefix(line, []byte(y4mFrameTag)) {
		return nil, fmt.Errorf("%w: y4m frame %d has no FRAME tag", ErrMalformed, y.frameNo)
	}

	data := make([]byte, y.frameSize)
	if _, err := io.ReadFull(y.br, data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("container: y4m frame %d: %w", y.frameNo, err)
	}
	p := &media.Packet{
		Data:      data,
		PTS:       y.frameNo * int64(y.fpsDen),
		Duration:  int64(y.fpsDen),
		Timescale: y.fpsNum,
		FrameType: media.FrameKey,
		FrameNo:   y.frameNo,
	}
	p.DTS = p.PTS
	y.frameNo++
	return p, nil
}

// SeekToSync jumps to frame. Every Y4M frame is a key frame; frames are
// assumed to carry no FRAME parameters.
func (y *Y4M) SeekToSync(frame int64) (int64, error) {
	if frame < 0 {
		frame = 0
	}
	if y.total > 0 && frame >= y.total {
		frame = y.total - 1
	}
	off := y.dataStart + frame*int64(len(y4mFrameTag)+1+y.frameSize)
	if _, err := y.r.Seek(off, io.SeekStart); err != nil {
		return y.frameNo, fmt.Errorf("container: y4m seek: %w", err)
	}
	y.br.Reset(y.r)
	y.frameNo = frame
	return frame, nil
}

func (y *Y4M) CurrentFrame() int64 { return y.frameNo }
