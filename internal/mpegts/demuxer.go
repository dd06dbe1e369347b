package mpegts

import (
	"context"
	"errors"
	"io"
)

// Demuxer reads transport stream packets and yields PAT, PMT and PES units
// in stream order.
type Demuxer struct {
	ctx     context.Context
	r       io.Reader
	buf     []byte
	pktSize int
	accs    *accumulatorSet
	ignored map[uint16]bool
	keep    func(pid uint16) bool
	queue   []*Unit
	eof     bool
}

// NewDemuxer creates a demuxer reading from r. Cancelling ctx makes the next
// NextData call fail with the context error.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...func(*Demuxer)) *Demuxer {
	d := &Demuxer{
		ctx:     ctx,
		r:       r,
		pktSize: packetSize,
		accs:    newAccumulatorSet(),
		ignored: make(map[uint16]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.buf = make([]byte, d.pktSize)
	return d
}

// DemuxerOptPacketSize sets the on-disk packet size: 188 for plain TS, 192
// for M2TS with a 4-byte timecode prefix, 204 for packets with trailing
// Reed-Solomon parity.
func DemuxerOptPacketSize(size int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.pktSize = size
	}
}

// DemuxerOptPIDFilter installs a predicate deciding which non-PSI PIDs are
// reassembled. Packets of rejected PIDs are discarded unparsed.
func DemuxerOptPIDFilter(keep func(pid uint16) bool) func(*Demuxer) {
	return func(d *Demuxer) {
		d.keep = keep
	}
}

// Ignore stops reassembly of pid and discards anything already buffered for
// it. PSI PIDs cannot be ignored.
func (d *Demuxer) Ignore(pid uint16) {
	if d.accs.isPSI(pid) {
		return
	}
	d.ignored[pid] = true
	d.accs.drop(pid)
}

func (d *Demuxer) wanted(pid uint16) bool {
	if d.accs.isPSI(pid) {
		return true
	}
	if d.ignored[pid] {
		return false
	}
	return d.keep == nil || d.keep(pid)
}

// tsBytes strips the M2TS prefix or parity trailer from a raw packet.
func (d *Demuxer) tsBytes() []byte {
	switch {
	case d.pktSize == packetSize+4:
		return d.buf[4:]
	case d.pktSize > packetSize:
		return d.buf[:packetSize]
	default:
		return d.buf
	}
}

// NextData returns the next unit. Corrupt packets and sections are skipped.
// At end of input the partial units still buffered are flushed, then io.EOF
// is returned.
func (d *Demuxer) NextData() (*Unit, error) {
	for {
		if len(d.queue) > 0 {
			u := d.queue[0]
			d.queue = d.queue[1:]
			return u, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := io.ReadFull(d.r, d.buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				for _, ps := range d.accs.flushAll() {
					d.enqueue(ps)
				}
				continue
			}
			return nil, err
		}

		raw := d.tsBytes()
		if len(raw) != packetSize || raw[0] != syncByte || !d.wanted(pidOf(raw)) {
			continue
		}
		pkt, err := parsePacket(raw)
		if err != nil {
			continue
		}
		if done := d.accs.add(pkt); done != nil {
			d.enqueue(done)
		}
	}
}

// enqueue parses a completed unit and queues the results. PAT results
// register their PMT PIDs immediately so the following packets are routed
// as PSI.
func (d *Demuxer) enqueue(packets []*Packet) {
	pid := packets[0].Header.PID
	if !d.wanted(pid) {
		return
	}
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return
	}

	if d.accs.isPSI(pid) {
		units, _ := parseSections(payload, pid)
		for _, u := range units {
			if u.PAT != nil {
				for _, p := range u.PAT.Programs {
					d.accs.markPMT(p.PMTPID)
				}
			}
		}
		d.queue = append(d.queue, units...)
		return
	}

	if !HasPESPrefix(payload) {
		return
	}
	pes, err := ParsePES(payload)
	if err != nil {
		return
	}
	d.queue = append(d.queue, &Unit{PID: pid, PES: pes})
}
