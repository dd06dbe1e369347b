// Package caption extracts CEA-608 and CEA-708 closed captions carried in
// the SEI messages of H.264 access units.
package caption

import (
	"log/slog"
	"strconv"

	"github.com/zsiec/ccx"

	"github.com/zsiec/framesrc/internal/h264"
	"github.com/zsiec/framesrc/internal/metrics"
)

// Frame is one caption update. Channels 1-4 are CEA-608 CC1-CC4; channels
// 7-12 are CEA-708 services 1-6.
type Frame = ccx.CaptionFrame

// Extractor decodes captions from a single video track. Access units must be
// fed in presentation order.
type Extractor struct {
	log    *slog.Logger
	cea608 map[int]*ccx.CEA608Decoder
	cea708 map[int]*ccx.CEA708Service
	dtvcc  []byte
	frames int64

	lastCtrl      [2][2]byte
	lastWasCtrl   [2]bool
	lastCtrlFrame [2]int64
}

// NewExtractor returns an extractor with decoders for CC1-CC4 and DTVCC
// services 1-6. If log is nil, slog.Default() is used.
func NewExtractor(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	e := &Extractor{
		log:    log.With("component", "caption"),
		cea608: make(map[int]*ccx.CEA608Decoder, 4),
		cea708: make(map[int]*ccx.CEA708Service, 6),
	}
	for ch := 1; ch <= 4; ch++ {
		e.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		e.cea708[svc] = ccx.NewCEA708Service()
	}
	return e
}

// Feed scans one access unit, Annex B or 4-byte length prefixed, and
// returns the caption updates it completes.
func (e *Extractor) Feed(au []byte, pts int64) []*Frame {
	e.frames++
	var out []*Frame
	for _, nal := range h264.Units(au) {
		if nal.Type != h264.NALTypeSEI {
			continue
		}
		out = e.handleSEI(nal.Data, pts, out)
	}
	return out
}

func (e *Extractor) handleSEI(sei []byte, pts int64, out []*Frame) []*Frame {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return out
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]

		// Control codes are sent twice; drop the repeat.
		f := pair.Field
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			if e.lastWasCtrl[f] && e.lastCtrl[f] == cp && e.frames-e.lastCtrlFrame[f] <= 2 {
				e.lastWasCtrl[f] = false
				continue
			}
			e.lastCtrl[f] = cp
			e.lastWasCtrl[f] = true
			e.lastCtrlFrame[f] = e.frames
		} else {
			e.lastWasCtrl[f] = false
		}

		dec := e.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			out = append(out, e.emit(&Frame{
				PTS:     pts,
				Text:    text,
				Channel: pair.Channel,
				Regions: dec.StyledRegions(),
			}))
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			out = e.drainDTVCC(pts, out)
			e.dtvcc = e.dtvcc[:0]
		}
		e.dtvcc = append(e.dtvcc, t.Data[0], t.Data[1])
	}
	return out
}

// drainDTVCC decodes the buffered DTVCC packet once it is complete.
func (e *Extractor) drainDTVCC(pts int64, out []*Frame) []*Frame {
	if len(e.dtvcc) < 1 {
		return out
	}
	n := ccx.DTVCCPacketSize(e.dtvcc[0])
	if len(e.dtvcc) < n {
		return out
	}
	for _, block := range ccx.ParseDTVCCPacket(e.dtvcc[:n]) {
		svc := e.cea708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			out = append(out, e.emit(&Frame{
				PTS:     pts,
				Text:    text,
				Channel: block.ServiceNum + 6,
				Regions: svc.StyledRegions(),
			}))
		}
	}
	e.dtvcc = e.dtvcc[n:]
	return out
}

func (e *Extractor) emit(f *Frame) *Frame {
	metrics.CaptionsTotal.WithLabelValues(strconv.Itoa(f.Channel)).Inc()
	e.log.Debug("caption", "channel", f.Channel, "pts", f.PTS, "text", f.Text)
	return f
}
