package container

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/at-wat/ebml-go"

	"github.com/zsiec/framesrc/internal/aac"
	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/media"
)

// Matroska element layout. Only the elements the demuxer reads are mapped;
// ebml-go skips the rest.
type mkvFile struct {
	Header  mkvHeader  `ebml:"EBML"`
	Segment mkvSegment `ebml:"Segment"`
}

type mkvHeader struct {
	EBMLVersion        uint64 `ebml:"EBMLVersion"`
	EBMLReadVersion    uint64 `ebml:"EBMLReadVersion"`
	EBMLMaxIDLength    uint64 `ebml:"EBMLMaxIDLength"`
	EBMLMaxSizeLength  uint64 `ebml:"EBMLMaxSizeLength"`
	DocType            string `ebml:"DocType"`
	DocTypeVersion     uint64 `ebml:"DocTypeVersion"`
	DocTypeReadVersion uint64 `ebml:"DocTypeReadVersion"`
}

type mkvSegment struct {
	Info    mkvInfo      `ebml:"Info"`
	Tracks  mkvTracks    `ebml:"Tracks"`
	Cluster []mkvCluster `ebml:"Cluster"`
}

type mkvInfo struct {
	TimecodeScale uint64 `ebml:"TimecodeScale"`
}

type mkvTracks struct {
	TrackEntry []mkvTrackEntry `ebml:"TrackEntry"`
}

type mkvTrackEntry struct {
	TrackNumber     uint64   `ebml:"TrackNumber"`
	TrackType       uint64   `ebml:"TrackType"`
	CodecID         string   `ebml:"CodecID"`
	CodecPrivate    []byte   `ebml:"CodecPrivate,omitempty"`
	DefaultDuration uint64   `ebml:"DefaultDuration,omitempty"`
	Video           mkvVideo `ebml:"Video,omitempty"`
	Audio           mkvAudio `ebml:"Audio,omitempty"`
}

type mkvVideo struct {
	PixelWidth  uint64 `ebml:"PixelWidth"`
	PixelHeight uint64 `ebml:"PixelHeight"`
	ColourSpace []byte `ebml:"ColourSpace,omitempty"`
}

type mkvAudio struct {
	SamplingFrequency float64 `ebml:"SamplingFrequency"`
	Channels          uint64  `ebml:"Channels"`
	BitDepth          uint64  `ebml:"BitDepth,omitempty"`
}

type mkvCluster struct {
	Timecode    uint64          `ebml:"Timecode"`
	SimpleBlock []ebml.Block    `ebml:"SimpleBlock,omitempty"`
	BlockGroup  []mkvBlockGroup `ebml:"BlockGroup,omitempty"`
}

type mkvBlockGroup struct {
	Block          ebml.Block `ebml:"Block"`
	ReferenceBlock []int64    `ebml:"ReferenceBlock,omitempty"`
}

// Matroska TrackType values.
const (
	mkvTrackVideo = 1
	mkvTrackAudio = 2
)

const defaultTimecodeScale = 1000000

// memTrack serves packets held in memory.
type memTrack struct {
	meta    TrackMeta
	packets []*media.Packet
	pos     int
}

func (t *memTrack) Meta() *TrackMeta {
	m := t.meta
	return &m
}

func (t *memTrack) NextPacket() (*media.Packet, error) {
	if t.pos >= len(t.packets) {
		return nil, io.EOF
	}
	p := *t.packets[t.pos]
	t.pos++
	return &p, nil
}

func (t *memTrack) SeekToSync(frame int64) (int64, error) {
	if len(t.packets) == 0 {
		return 0, io.EOF
	}
	i := int(min(max(frame, 0), int64(len(t.packets)-1)))
	for i > 0 && t.packets[i].FrameType != media.FrameKey {
		i--
	}
	t.pos = i
	return int64(i), nil
}

func (t *memTrack) CurrentFrame() int64 { return int64(t.pos) }

func (t *memTrack) add(p *media.Packet) {
	p.FrameNo = int64(len(t.packets))
	p.Timescale = t.meta.Timescale
	t.packets = append(t.packets, p)
}

// MKV demuxes Matroska and WebM files. The whole file is decoded into
// memory at open. Timestamps count TimecodeScale units.
type MKV struct {
	log   *slog.Logger
	video []Track
	audio []Track
}

// NewMKV parses r and groups its blocks by track.
func NewMKV(r io.Reader, log *slog.Logger) (*MKV, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &MKV{log: log.With("component", "mkv-demux")}

	var f mkvFile
	if err := ebml.Unmarshal(r, &f); err != nil {
		return nil, fmt.Errorf("%w: matroska: %v", ErrMalformed, err)
	}
	scale := f.Segment.Info.TimecodeScale
	if scale == 0 {
		scale = defaultTimecodeScale
	}
	timescale := int(1000000000 / scale)

	tracks := make(map[uint64]*memTrack)
	durations := make(map[uint64]int64)
	for _, e := range f.Segment.Tracks.TrackEntry {
		meta, ok := d.trackMeta(e)
		if !ok {
			continue
		}
		meta.Timescale = timescale
		t := &memTrack{meta: meta}
		tracks[e.TrackNumber] = t
		durations[e.TrackNumber] = int64(e.DefaultDuration / scale)
		if meta.Type == media.TrackVideo {
			d.video = append(d.video, t)
		} else {
			d.audio = append(d.audio, t)
		}
	}

	addBlock := func(cluster uint64, b ebml.Block, key bool) {
		t, ok := tracks[b.TrackNumber]
		if !ok {
			return
		}
		pts := int64(cluster) + int64(b.Timecode)
		ft := media.FrameInter
		if key {
			ft = media.FrameKey
		}
		for i, data := range b.Data {
			ts := pts + int64(i)*durations[b.TrackNumber]
			t.add(&media.Packet{
				Data:      data,
				PTS:       ts,
				DTS:       ts,
				Duration:  durations[b.TrackNumber],
				FrameType: ft,
			})
		}
	}
	for _, c := range f.Segment.Cluster {
		for _, b := range c.SimpleBlock {
			addBlock(c.Timecode, b, b.Keyframe)
		}
		for _, g := range c.BlockGroup {
			addBlock(c.Timecode, g.Block, len(g.ReferenceBlock) == 0)
		}
	}
	for _, t := range tracks {
		t.meta.TotalFrames = int64(len(t.packets))
	}
	d.log.Debug("matroska parsed", "doc_type", f.Header.DocType,
		"video_tracks", len(d.video), "audio_tracks", len(d.audio))
	return d, nil
}

func (d *MKV) VideoTracks() []Track { return d.video }
func (d *MKV) AudioTracks() []Track { return d.audio }

func (d *MKV) trackMeta(e mkvTrackEntry) (TrackMeta, bool) {
	m := TrackMeta{CodecPrivate: e.CodecPrivate}
	switch e.TrackType {
	case mkvTrackVideo:
		m.Type = media.TrackVideo
		m.Codec = mkvVideoCodecs[e.CodecID]
		v := &media.VideoCodecMeta{Codec: m.Codec}
		if e.Video.PixelWidth > 0 && e.Video.PixelHeight > 0 {
			v.Size = &media.Size{Width: int(e.Video.PixelWidth), Height: int(e.Video.PixelHeight)}
		}
		switch m.Codec {
		case media.CodecH264:
			if p := codec.ProbeVideo(media.CodecH264, e.CodecPrivate); p != nil {
				v = p
			}
		case media.CodecJPEG, media.CodecPNG:
			v.Color = media.ColorRGB
		case media.CodecVP8, media.CodecMPEG2:
			v.Color = media.ColorYUV420
		case media.CodecProRes:
			v.Color = media.ColorYUV422
		case media.CodecRAW:
			v.Color = fourccColor(string(e.Video.ColourSpace))
		}
		m.Video = v
	case mkvTrackAudio:
		m.Type = media.TrackAudio
		m.Codec = mkvAudioCodecs[e.CodecID]
		f := &media.AudioFormat{
			SampleRate:     int(e.Audio.SamplingFrequency),
			Channels:       int(e.Audio.Channels),
			SampleSizeBits: int(e.Audio.BitDepth),
			BigEndian:      e.CodecID == "A_PCM/INT/BIG",
		}
		if f.Channels == 0 {
			f.Channels = 1
		}
		switch m.Codec {
		case media.CodecAAC:
			if cfg, err := aac.ParseConfig(e.CodecPrivate); err == nil {
				f.SampleRate = cfg.SampleRate
				if cfg.Channels > 0 {
					f.Channels = cfg.Channels
				}
			}
			f.SampleSizeBits = 16
		case media.CodecPCM:
		default:
			f = nil
		}
		m.Audio = &media.AudioCodecMeta{Codec: m.Codec, Format: f}
	default:
		d.log.Debug("skipping track", "track", e.TrackNumber, "type", e.TrackType, "codec_id", e.CodecID)
		return m, false
	}
	return m, true
}

var mkvVideoCodecs = map[string]media.Codec{
	"V_MPEG4/ISO/AVC":  media.CodecH264,
	"V_MPEGH/ISO/HEVC": media.CodecH265,
	"V_MPEG2":          media.CodecMPEG2,
	"V_MPEG1":          media.CodecMPEG2,
	"V_PRORES":         media.CodecProRes,
	"V_MJPEG":          media.CodecJPEG,
	"V_VP8":            media.CodecVP8,
	"V_VP9":            media.CodecVP9,
	"V_AV1":            media.CodecAV1,
	"V_UNCOMPRESSED":   media.CodecRAW,
}

var mkvAudioCodecs = map[string]media.Codec{
	"A_AAC":          media.CodecAAC,
	"A_AAC/MPEG4/LC": media.CodecAAC,
	"A_AAC/MPEG2/LC": media.CodecAAC,
	"A_PCM/INT/LIT":  media.CodecPCM,
	"A_PCM/INT/BIG":  media.CodecPCM,
	"A_AC3":          media.CodecAC3,
	"A_OPUS":         media.CodecOpus,
	"A_MPEG/L3":      media.CodecMP3,
}

// fourccColor maps the ColourSpace FourCC of uncompressed video.
func fourccColor(fourcc string) media.ColorSpace {
	switch fourcc {
	case "I420", "IYUV":
		return media.ColorYUV420
	case "Y42B":
		return media.ColorYUV422
	case "Y444":
		return media.ColorYUV444
	case "Y800", "GREY":
		return media.ColorMono
	}
	return media.ColorRGB
}
