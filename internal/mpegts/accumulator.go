package mpegts

import "slices"

const pidPAT = 0x0000

// pidAccumulator collects the packets of one PID until a unit boundary.
type pidAccumulator struct {
	pid     uint16
	psi     bool
	packets []*Packet
}

// add buffers p and returns the packets of a completed unit, if any. A new
// payload unit start flushes the previous unit; PSI units also flush as soon
// as their sections are complete.
func (a *pidAccumulator) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		a.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if n := len(a.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := a.packets[n-1].Header.ContinuityCounter
		switch p.Header.ContinuityCounter {
		case (prev + 1) & 0x0F:
		case prev:
			return nil // duplicate
		default:
			a.packets = nil // unsignalled gap: the partial unit is lost
		}
	}

	var done []*Packet
	if p.Header.PayloadUnitStartIndicator && len(a.packets) > 0 {
		done = a.packets
		a.packets = nil
	}
	a.packets = append(a.packets, p)

	if done == nil && a.psi && sectionsComplete(joinPayloads(a.packets)) {
		done = a.packets
		a.packets = nil
	}
	return done
}

func (a *pidAccumulator) flush() []*Packet {
	done := a.packets
	a.packets = nil
	return done
}

func joinPayloads(packets []*Packet) []byte {
	var n int
	for _, p := range packets {
		n += len(p.Payload)
	}
	out := make([]byte, 0, n)
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	return out
}

// sectionsComplete reports whether payload holds only whole PSI sections,
// optionally followed by stuffing.
func sectionsComplete(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	pos := 1 + int(payload[0])
	if pos >= len(payload) {
		return false
	}
	for pos < len(payload) {
		if payload[pos] == 0xFF {
			return true
		}
		if pos+3 > len(payload) {
			return false
		}
		if payload[pos+1]&0x80 == 0 {
			return true
		}
		pos += 3 + (int(payload[pos+1]&0x0F)<<8 | int(payload[pos+2]))
		if pos > len(payload) {
			return false
		}
	}
	return true
}

// accumulatorSet owns one accumulator per PID and knows which PIDs carry PSI.
type accumulatorSet struct {
	accs    map[uint16]*pidAccumulator
	pmtPIDs map[uint16]bool
}

func newAccumulatorSet() *accumulatorSet {
	return &accumulatorSet{
		accs:    make(map[uint16]*pidAccumulator),
		pmtPIDs: make(map[uint16]bool),
	}
}

func (s *accumulatorSet) isPSI(pid uint16) bool {
	return pid == pidPAT || s.pmtPIDs[pid]
}

// markPMT records pid as a PMT PID. Packets already buffered for it are
// treated as PSI from now on.
func (s *accumulatorSet) markPMT(pid uint16) {
	s.pmtPIDs[pid] = true
	if a, ok := s.accs[pid]; ok {
		a.psi = true
	}
}

func (s *accumulatorSet) add(p *Packet) []*Packet {
	pid := p.Header.PID
	a, ok := s.accs[pid]
	if !ok {
		a = &pidAccumulator{pid: pid, psi: s.isPSI(pid)}
		s.accs[pid] = a
	}
	return a.add(p)
}

// drop discards the buffered packets of pid.
func (s *accumulatorSet) drop(pid uint16) {
	delete(s.accs, pid)
}

// flushAll returns every partial unit, PAT first and then by ascending PID so
// program structure is known before the units that depend on it.
func (s *accumulatorSet) flushAll() [][]*Packet {
	pids := make([]uint16, 0, len(s.accs))
	for pid := range s.accs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var out [][]*Packet
	for _, pid := range pids {
		if ps := s.accs[pid].flush(); len(ps) > 0 {
			out = append(out, ps)
		}
	}
	return out
}
