package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/zsiec/framesrc/internal/aac"
	"github.com/zsiec/framesrc/internal/codec"
	"github.com/zsiec/framesrc/internal/media"
	"github.com/zsiec/framesrc/internal/mpegts"
)

// Bounds on the units read at open: in total, and once the program tables
// are complete.
const (
	tsProbeUnits            = 20000
	tsProbeUnitsAfterTables = 512
)

const tsTimescale = 90000

// tsStream is one elementary stream of a transport stream program.
type tsStream struct {
	streamTrack
	pid        uint16
	streamType uint8
	clock      tsClock
	lastPTS    int64
	lastDTS    int64
	demux      *TSDemuxer
}

// Ignore stops reassembly of the stream's PID.
func (s *tsStream) Ignore() {
	s.ignore()
	s.demux.mp.Ignore(s.pid)
}

// TSProgram is one program of a transport stream. It exposes the program's
// elementary streams as tracks.
type TSProgram struct {
	Number int
	video  []Track
	audio  []Track
	demux  *TSDemuxer
}

func (p *TSProgram) VideoTracks() []Track { return p.video }
func (p *TSProgram) AudioTracks() []Track { return p.audio }

// Close stops demuxing every stream of the program.
func (p *TSProgram) Close() error {
	for _, t := range slices.Concat(p.video, p.audio) {
		t.(*tsStream).Ignore()
	}
	p.demux.log.Debug("program closed", "program", p.Number)
	return nil
}

// TSDemuxer demuxes MPEG transport streams. Programs are discovered from
// the PAT and PMTs at open; units read before the tables are complete are
// kept and delivered later.
type TSDemuxer struct {
	log      *slog.Logger
	mp       *mpegts.Demuxer
	programs []*TSProgram
	streams  map[uint16]*tsStream
	backlog  []*mpegts.Unit
	eof      bool
}

// NewTSDemuxer detects the packet size of r and reads it until the program
// tables are known.
func NewTSDemuxer(ctx context.Context, r io.ReadSeeker, log *slog.Logger) (*TSDemuxer, error) {
	if log == nil {
		log = slog.Default()
	}
	head := make([]byte, sniffSize)
	n, _ := io.ReadFull(r, head)
	packetSize := tsPacketSize(head[:n])
	if packetSize == 0 {
		return nil, fmt.Errorf("%w: no transport stream sync", ErrMalformed)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("container: ts rewind: %w", err)
	}
	d := &TSDemuxer{
		log:     log.With("component", "ts-demux"),
		mp:      mpegts.NewDemuxer(ctx, r, mpegts.DemuxerOptPacketSize(packetSize)),
		streams: make(map[uint16]*tsStream),
	}
	if err := d.probe(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *TSDemuxer) probe() error {
	var pat *mpegts.PAT
	pmts := make(map[uint16]*mpegts.PMT)
	want := 0
	tables := func() bool { return pat != nil && len(pmts) >= want }

	// Read until the tables are complete, then on until every stream has
	// shown its first PES so its metadata can be probed.
	seen := make(map[uint16]bool)
	pending := func() bool {
		for _, pmt := range pmts {
			for _, es := range pmt.Streams {
				if !seen[es.PID] {
					return true
				}
			}
		}
		return false
	}
	after := 0
	for n := 0; n < tsProbeUnits && after < tsProbeUnitsAfterTables; n++ {
		u, err := d.mp.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("container: ts probe: %w", err)
		}
		switch {
		case u.PAT != nil && pat == nil:
			pat = u.PAT
			for _, p := range pat.Programs {
				if p.Number != 0 {
					want++
				}
			}
		case u.PMT != nil:
			if _, ok := pmts[u.PMT.ProgramNumber]; !ok && u.PMT.ProgramNumber != 0 {
				pmts[u.PMT.ProgramNumber] = u.PMT
			}
		case u.PES != nil:
			d.backlog = append(d.backlog, u)
			seen[u.PID] = true
		}
		if tables() {
			if !pending() {
				break
			}
			after++
		}
	}
	if pat == nil || len(pmts) == 0 {
		return fmt.Errorf("%w: transport stream without program tables", ErrMalformed)
	}

	for _, p := range pat.Programs {
		pmt, ok := pmts[p.Number]
		if !ok {
			continue
		}
		d.programs = append(d.programs, d.newProgram(pmt))
	}
	return nil
}

func (d *TSDemuxer) newProgram(pmt *mpegts.PMT) *TSProgram {
	p := &TSProgram{Number: int(pmt.ProgramNumber), demux: d}
	for _, es := range pmt.Streams {
		if _, dup := d.streams[es.PID]; dup {
			continue
		}
		s := &tsStream{pid: es.PID, streamType: es.StreamType, demux: d}
		s.pull = d.pull
		s.meta = d.streamMeta(es)
		switch {
		case s.meta.Type == media.TrackVideo && s.meta.Codec != media.CodecUnknown:
			p.video = append(p.video, s)
		case s.meta.Type == media.TrackAudio:
			p.audio = append(p.audio, s)
		default:
			d.mp.Ignore(es.PID)
			continue
		}
		d.streams[es.PID] = s
	}
	d.log.Debug("program found", "program", p.Number,
		"video_tracks", len(p.video), "audio_tracks", len(p.audio))
	return p
}

// streamMeta maps a PMT stream type and fills in what the first buffered
// payload of the stream reveals.
func (d *TSDemuxer) streamMeta(es mpegts.ElementaryStream) TrackMeta {
	m := TrackMeta{Timescale: tsTimescale}
	switch es.StreamType {
	case mpegts.StreamTypeH264:
		m.Type, m.Codec = media.TrackVideo, media.CodecH264
	case mpegts.StreamTypeH265:
		m.Type, m.Codec = media.TrackVideo, media.CodecH265
	case mpegts.StreamTypeMPEG1Video, mpegts.StreamTypeMPEG2Video:
		m.Type, m.Codec = media.TrackVideo, media.CodecMPEG2
	case mpegts.StreamTypeAAC:
		m.Type, m.Codec = media.TrackAudio, media.CodecAAC
	case mpegts.StreamTypeMPEG1Audio, mpegts.StreamTypeMPEG2Audio:
		m.Type, m.Codec = media.TrackAudio, media.CodecMP3
	case mpegts.StreamTypeAC3:
		m.Type, m.Codec = media.TrackAudio, media.CodecAC3
	case mpegts.StreamTypePrivatePES:
		m.Type, m.Codec = media.TrackAudio, media.CodecUnknown
	default:
		m.Type = media.TrackVideo
		return m
	}

	var first []byte
	for _, u := range d.backlog {
		if u.PID == es.PID && len(u.PES.Data) > 0 {
			first = u.PES.Data
			break
		}
	}
	if m.Type == media.TrackVideo {
		m.Video = codec.ProbeVideo(m.Codec, first)
	} else {
		m.Audio = codec.ProbeAudio(m.Codec, first)
	}
	return m
}

// Programs returns the programs in PAT order.
func (d *TSDemuxer) Programs() []*TSProgram { return d.programs }

// Program returns the program with the given number, or nil.
func (d *TSDemuxer) Program(number int) *TSProgram {
	for _, p := range d.programs {
		if p.Number == number {
			return p
		}
	}
	return nil
}

// pull routes one PES unit to its stream.
func (d *TSDemuxer) pull() error {
	var u *mpegts.Unit
	if len(d.backlog) > 0 {
		u = d.backlog[0]
		d.backlog[0] = nil
		d.backlog = d.backlog[1:]
	} else {
		if d.eof {
			return io.EOF
		}
		var err error
		u, err = d.mp.NextData()
		if errors.Is(err, io.EOF) {
			d.eof = true
			return io.EOF
		}
		if err != nil {
			return fmt.Errorf("container: ts: %w", err)
		}
	}
	if u.PES == nil {
		return nil
	}
	s, ok := d.streams[u.PID]
	if !ok || s.ignored {
		return nil
	}
	s.add(u.PES)
	return nil
}

func (s *tsStream) add(pes *mpegts.PES) {
	pts, dts := s.lastPTS, s.lastDTS
	if pes.HasPTS {
		pts = s.clock.unwrap(pes.PTS)
		dts = pts
		if pes.HasDTS {
			dts = pts - (pes.PTS - pes.DTS)
		}
		s.lastPTS, s.lastDTS = pts, dts
	}

	if s.meta.Codec == media.CodecAAC {
		frames, _ := aac.ParseADTS(pes.Data)
		for i, f := range frames {
			off := int64(i) * aac.SamplesPerFrame * tsTimescale / int64(f.SampleRate)
			s.push(&media.Packet{
				Data:      bytes.Clone(f.Data),
				PTS:       pts + off,
				DTS:       dts + off,
				Duration:  aac.SamplesPerFrame * tsTimescale / int64(f.SampleRate),
				FrameType: media.FrameKey,
			})
		}
		return
	}

	ft := media.FrameUnknown
	switch {
	case s.meta.Type == media.TrackAudio:
		ft = media.FrameKey
	case s.meta.Codec == media.CodecMPEG2:
		ft = mpeg2FrameType(s.meta.Codec, pes.Data)
	}
	s.push(&media.Packet{
		Data:      bytes.Clone(pes.Data),
		PTS:       pts,
		DTS:       dts,
		FrameType: ft,
	})
}
