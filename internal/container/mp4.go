package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/abema/go-mp4"

	"github.com/zsiec/framesrc/internal/aac"
	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/media"
)

var (
	stblPath = mp4.BoxPath{mp4.BoxTypeMdia(), mp4.BoxTypeMinf(), mp4.BoxTypeStbl()}
	stsdPath = under(stblPath, mp4.BoxTypeStsd())
)

func under(base mp4.BoxPath, types ...mp4.BoxType) mp4.BoxPath {
	p := make(mp4.BoxPath, 0, len(base)+len(types))
	p = append(p, base...)
	return append(p, types...)
}

// mp4Sample locates one sample in the file.
type mp4Sample struct {
	offset int64
	size   int
	dts    int64
	pts    int64
	key    bool
}

// mp4Track reads samples of one trak through the shared reader.
type mp4Track struct {
	r       io.ReadSeeker
	meta    TrackMeta
	samples []mp4Sample
	pos     int
}

func (t *mp4Track) Meta() *TrackMeta {
	m := t.meta
	return &m
}

func (t *mp4Track) NextPacket() (*media.Packet, error) {
	if t.pos >= len(t.samples) {
		return nil, io.EOF
	}
	s := t.samples[t.pos]
	if _, err := t.r.Seek(s.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("container: mp4 seek to sample %d: %w", t.pos, err)
	}
	data := make([]byte, s.size)
	if _, err := io.ReadFull(t.r, data); err != nil {
		return nil, fmt.Errorf("container: mp4 read sample %d: %w", t.pos, err)
	}
	ft := media.FrameInter
	if s.key {
		ft = media.FrameKey
	}
	p := &media.Packet{
		Data:      data,
		PTS:       s.pts,
		DTS:       s.dts,
		Timescale: t.meta.Timescale,
		FrameType: ft,
		FrameNo:   int64(t.pos),
	}
	if t.pos+1 < len(t.samples) {
		p.Duration = t.samples[t.pos+1].dts - s.dts
	}
	t.pos++
	return p, nil
}

func (t *mp4Track) SeekToSync(frame int64) (int64, error) {
	if len(t.samples) == 0 {
		return 0, io.EOF
	}
	i := int(min(max(frame, 0), int64(len(t.samples)-1)))
	for i > 0 && !t.samples[i].key {
		i--
	}
	t.pos = i
	return int64(i), nil
}

func (t *mp4Track) CurrentFrame() int64 { return int64(t.pos) }

// MP4 demuxes ISO BMFF and QuickTime files with a sample table in moov.
type MP4 struct {
	log   *slog.Logger
	video []Track
	audio []Track
}

// NewMP4 reads the movie box of r and builds per-track sample tables.
// Tracks with an unrecognised handler are skipped.
func NewMP4(r io.ReadSeeker, log *slog.Logger) (*MP4, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &MP4{log: log.With("component", "mp4-demux")}

	info, err := mp4.Probe(r)
	if err != nil {
		return nil, fmt.Errorf("%w: mp4 probe: %v", ErrMalformed, err)
	}
	byID := make(map[uint32]*mp4.Track, len(info.Tracks))
	for _, tr := range info.Tracks {
		byID[tr.TrackID] = tr
	}

	traks, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeTrak()})
	if err != nil {
		return nil, fmt.Errorf("%w: mp4 trak: %v", ErrMalformed, err)
	}
	for _, trak := range traks {
		t, err := d.openTrak(r, trak, byID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		if t.meta.Type == media.TrackVideo {
			d.video = append(d.video, t)
		} else {
			d.audio = append(d.audio, t)
		}
	}
	return d, nil
}

func (d *MP4) VideoTracks() []Track { return d.video }
func (d *MP4) AudioTracks() []Track { return d.audio }

// trakBoxes holds what openTrak needs from one trak beyond the probe.
type trakBoxes struct {
	trackID uint32
	handler string
	stss    []uint32
	hasStss bool
	// sampleSize is the constant stsz sample size, 0 when sizes vary.
	sampleSize uint32
	entry   *mp4.BoxInfo
	avcC    *mp4.BoxInfo
	esds    *mp4.Esds
}

func extractTrak(r io.ReadSeeker, trak *mp4.BoxInfo) (*trakBoxes, error) {
	tb := &trakBoxes{}
	boxes, err := mp4.ExtractBoxesWithPayload(r, trak, []mp4.BoxPath{
		{mp4.BoxTypeTkhd()},
		{mp4.BoxTypeMdia(), mp4.BoxTypeHdlr()},
		under(stblPath, mp4.BoxTypeStss()),
		under(stblPath, mp4.BoxTypeStsz()),
		under(stsdPath, mp4.BoxTypeMp4a(), mp4.BoxTypeEsds()),
		under(stsdPath, mp4.BoxTypeMp4v(), mp4.BoxTypeEsds()),
	})
	if err != nil {
		return nil, err
	}
	for _, b := range boxes {
		switch p := b.Payload.(type) {
		case *mp4.Tkhd:
			tb.trackID = p.TrackID
		case *mp4.Hdlr:
			tb.handler = string(p.HandlerType[:])
		case *mp4.Stss:
			tb.stss = p.SampleNumber
			tb.hasStss = true
		case *mp4.Stsz:
			tb.sampleSize = p.SampleSize
		case *mp4.Esds:
			tb.esds = p
		}
	}

	raw, err := mp4.ExtractBoxes(r, trak, []mp4.BoxPath{
		under(stsdPath, mp4.BoxTypeAny()),
		under(stsdPath, mp4.BoxTypeAvc1(), mp4.BoxTypeAvcC()),
	})
	if err != nil {
		return nil, err
	}
	for _, b := range raw {
		switch {
		case b.Type == mp4.BoxTypeAvcC():
			tb.avcC = b
		case tb.entry == nil:
			tb.entry = b
		}
	}
	return tb, nil
}

func readPayload(r io.ReadSeeker, b *mp4.BoxInfo) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	if _, err := b.SeekToPayload(r); err != nil {
		return nil, err
	}
	buf := make([]byte, b.Size-b.HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *MP4) openTrak(r io.ReadSeeker, trak *mp4.BoxInfo, byID map[uint32]*mp4.Track) (*mp4Track, error) {
	tb, err := extractTrak(r, trak)
	if err != nil {
		return nil, fmt.Errorf("%w: mp4 trak at %d: %v", ErrMalformed, trak.Offset, err)
	}
	var typ media.TrackType
	switch tb.handler {
	case "vide":
		typ = media.TrackVideo
	case "soun":
		typ = media.TrackAudio
	default:
		d.log.Debug("skipping track", "track_id", tb.trackID, "handler", tb.handler)
		return nil, nil
	}
	probe := byID[tb.trackID]
	if probe == nil || tb.entry == nil {
		d.log.Warn("track without sample table", "track_id", tb.trackID)
		return nil, nil
	}

	entry, err := readPayload(r, tb.entry)
	if err != nil {
		return nil, fmt.Errorf("container: mp4 sample entry: %w", err)
	}
	t := &mp4Track{
		r: r,
		meta: TrackMeta{
			Type:        typ,
			Timescale:   int(probe.Timescale),
			TotalFrames: int64(len(probe.Samples)),
		},
		samples: sampleTable(probe, tb),
	}
	fourcc := string(tb.entry.Type[:])
	if typ == media.TrackVideo {
		err = d.videoMeta(r, &t.meta, fourcc, entry, tb, probe)
	} else {
		d.audioMeta(&t.meta, fourcc, entry, tb)
	}
	if err != nil {
		return nil, err
	}
	if t.meta.Codec == media.CodecPCM && tb.sampleSize > 0 {
		// Constant-size PCM tables list one sample per audio frame; read
		// whole chunks instead.
		t.samples = mergeChunks(probe, t.samples)
		t.meta.TotalFrames = int64(len(t.samples))
	}
	d.log.Debug("track opened", "track_id", tb.trackID, "type", typ, "codec", t.meta.Codec,
		"sample_entry", fourcc, "samples", len(t.samples))
	return t, nil
}

// sampleTable flattens chunk offsets, sizes and timing into samples.
func sampleTable(probe *mp4.Track, tb *trakBoxes) []mp4Sample {
	samples := make([]mp4Sample, 0, len(probe.Samples))
	var dts int64
	i := 0
	for _, c := range probe.Chunks {
		off := int64(c.DataOffset)
		for range c.SamplesPerChunk {
			if i >= len(probe.Samples) {
				break
			}
			s := probe.Samples[i]
			size := int64(s.Size)
			if size == 0 {
				size = int64(tb.sampleSize)
			}
			samples = append(samples, mp4Sample{
				offset: off,
				size:   int(size),
				dts:    dts,
				pts:    dts + s.CompositionTimeOffset,
				key:    !tb.hasStss,
			})
			off += size
			dts += int64(s.TimeDelta)
			i++
		}
	}
	for _, n := range tb.stss {
		if n >= 1 && int(n) <= len(samples) {
			samples[n-1].key = true
		}
	}
	return samples
}

// mergeChunks joins the samples of each chunk into one sample.
func mergeChunks(probe *mp4.Track, samples []mp4Sample) []mp4Sample {
	out := make([]mp4Sample, 0, len(probe.Chunks))
	i := 0
	for _, c := range probe.Chunks {
		n := min(int(c.SamplesPerChunk), len(samples)-i)
		if n <= 0 {
			break
		}
		m := samples[i]
		for _, s := range samples[i+1 : i+n] {
			m.size += s.size
		}
		m.key = true
		out = append(out, m)
		i += n
	}
	return out
}

func (d *MP4) videoMeta(r io.ReadSeeker, m *TrackMeta, fourcc string, entry []byte, tb *trakBoxes, probe *mp4.Track) error {
	v := &media.VideoCodecMeta{}
	if len(entry) >= 28 {
		w := int(binary.BigEndian.Uint16(entry[24:26]))
		h := int(binary.BigEndian.Uint16(entry[26:28]))
		if w > 0 && h > 0 {
			v.Size = &media.Size{Width: w, Height: h}
		}
	}

	switch fourcc {
	case "avc1", "avc3":
		m.Codec = media.CodecH264
		avcC, err := readPayload(r, tb.avcC)
		if err != nil {
			return fmt.Errorf("container: mp4 avcC: %w", err)
		}
		m.CodecPrivate = avcC
		if p := codec.ProbeVideo(media.CodecH264, avcC); p != nil {
			v = p
		} else if probe.AVC != nil && v.Size == nil {
			v.Size = &media.Size{Width: int(probe.AVC.Width), Height: int(probe.AVC.Height)}
		}
	case "hvc1", "hev1":
		m.Codec = media.CodecH265
	case "vp08":
		m.Codec = media.CodecVP8
		v.Color = media.ColorYUV420
	case "vp09":
		m.Codec = media.CodecVP9
	case "av01":
		m.Codec = media.CodecAV1
	case "jpeg", "mjpa":
		m.Codec = media.CodecJPEG
		v.Color = media.ColorRGB
	case "png ":
		m.Codec = media.CodecPNG
		v.Color = media.ColorRGB
	case "apch", "apcn", "apcs", "apco":
		m.Codec = media.CodecProRes
		v.Color = media.ColorYUV422
	case "ap4h", "ap4x":
		m.Codec = media.CodecProRes
		v.Color = media.ColorYUV444
	case "raw ":
		m.Codec = media.CodecRAW
		v.Color = media.ColorRGB
	case "mp4v", "m2v1", "mx5p", "xdv2":
		m.Codec = mpeg4VisualCodec(fourcc, tb.esds)
		if m.Codec == media.CodecMPEG2 {
			v.Color = media.ColorYUV420
		}
	}
	v.Codec = m.Codec
	m.Video = v
	return nil
}

// mpeg4VisualCodec maps the esds object type of an mp4v entry.
func mpeg4VisualCodec(fourcc string, esds *mp4.Esds) media.Codec {
	if fourcc != "mp4v" {
		return media.CodecMPEG2
	}
	if esds == nil {
		return media.CodecUnknown
	}
	for _, desc := range esds.Descriptors {
		if desc.Tag != mp4.DecoderConfigDescrTag || desc.DecoderConfigDescriptor == nil {
			continue
		}
		switch oti := desc.DecoderConfigDescriptor.ObjectTypeIndication; {
		case oti >= 0x60 && oti <= 0x65:
			return media.CodecMPEG2
		case oti == 0x6C:
			return media.CodecJPEG
		}
	}
	return media.CodecUnknown
}

// decoderSpecificInfo returns the DecoderSpecificInfo bytes of an esds.
func decoderSpecificInfo(esds *mp4.Esds) []byte {
	if esds == nil {
		return nil
	}
	for _, desc := range esds.Descriptors {
		if desc.Tag == mp4.DecSpecificInfoTag {
			return desc.Data
		}
	}
	return nil
}

func (d *MP4) audioMeta(m *TrackMeta, fourcc string, entry []byte, tb *trakBoxes) {
	var f *media.AudioFormat
	if len(entry) >= 28 {
		f = &media.AudioFormat{
			Channels:       int(binary.BigEndian.Uint16(entry[16:18])),
			SampleSizeBits: int(binary.BigEndian.Uint16(entry[18:20])),
			SampleRate:     int(binary.BigEndian.Uint32(entry[24:28]) >> 16),
		}
	}

	switch fourcc {
	case "mp4a":
		m.Codec = media.CodecAAC
		m.CodecPrivate = decoderSpecificInfo(tb.esds)
		if cfg, err := aac.ParseConfig(m.CodecPrivate); err == nil && f != nil {
			f.SampleRate = cfg.SampleRate
			if cfg.Channels > 0 {
				f.Channels = cfg.Channels
			}
			f.SampleSizeBits = 16
		}
	case "sowt":
		m.Codec = media.CodecPCM
	case "twos":
		m.Codec = media.CodecPCM
		if f != nil {
			f.BigEndian = f.SampleSizeBits > 8
		}
	case "in24":
		m.Codec = media.CodecPCM
		if f != nil {
			f.SampleSizeBits = 24
			f.BigEndian = true
		}
	case "lpcm":
		m.Codec = media.CodecPCM
		f = lpcmFormat(entry)
	case "ac-3":
		m.Codec = media.CodecAC3
	case "Opus":
		m.Codec = media.CodecOpus
	case ".mp3":
		m.Codec = media.CodecMP3
	}
	if m.Codec != media.CodecPCM && m.Codec != media.CodecAAC {
		f = nil
	}
	m.Audio = &media.AudioCodecMeta{Codec: m.Codec, Format: f}
}

// lpcmFormat reads a version 2 QuickTime sound description.
func lpcmFormat(entry []byte) *media.AudioFormat {
	if len(entry) < 56 || binary.BigEndian.Uint16(entry[8:10]) != 2 {
		return nil
	}
	const flagBigEndian = 1 << 1
	return &media.AudioFormat{
		SampleRate:     int(math.Float64frombits(binary.BigEndian.Uint64(entry[32:40]))),
		Channels:       int(binary.BigEndian.Uint32(entry[40:44])),
		SampleSizeBits: int(binary.BigEndian.Uint32(entry[48:52])),
		BigEndian:      binary.BigEndian.Uint32(entry[52:56])&flagBigEndian != 0,
	}
}
