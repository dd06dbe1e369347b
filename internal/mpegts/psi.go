package mpegts

import "fmt"

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// parseSections walks the PSI sections in a reassembled payload starting at
// the pointer field. Unknown table ids are skipped.
func parseSections(payload []byte, pid uint16) ([]*Unit, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("mpegts: empty PSI payload")
	}
	pos := 1 + int(payload[0])
	if pos >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field %d out of range", payload[0])
	}

	var units []*Unit
	for pos+3 <= len(payload) {
		tableID := payload[pos]
		// 0xFF is stuffing; a clear syntax bit means zero padding.
		if tableID == 0xFF || payload[pos+1]&0x80 == 0 {
			break
		}
		end := pos + 3 + (int(payload[pos+1]&0x0F)<<8 | int(payload[pos+2]))
		if end > len(payload) {
			break
		}
		section := payload[pos:end]
		pos = end

		switch tableID {
		case tableIDPAT:
			pat, err := parsePAT(section)
			if err != nil {
				return units, err
			}
			units = append(units, &Unit{PID: pid, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return units, err
			}
			units = append(units, &Unit{PID: pid, PMT: pmt})
		}
	}
	return units, nil
}

// parsePAT decodes a PAT section including its CRC. Program number 0 points
// at the NIT and is left out.
func parsePAT(section []byte) (*PAT, error) {
	if len(section) < 12 {
		return nil, fmt.Errorf("mpegts: PAT section of %d bytes is too short", len(section))
	}
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}

	pat := &PAT{TransportStreamID: uint16(section[3])<<8 | uint16(section[4])}
	for i := 8; i+4 <= len(section)-4; i += 4 {
		num := uint16(section[i])<<8 | uint16(section[i+1])
		if num == 0 {
			continue
		}
		pat.Programs = append(pat.Programs, PATProgram{
			Number: num,
			PMTPID: uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3]),
		})
	}
	return pat, nil
}

// parsePMT decodes a PMT section including its CRC. Descriptors are skipped.
func parsePMT(section []byte) (*PMT, error) {
	if len(section) < 16 {
		return nil, fmt.Errorf("mpegts: PMT section of %d bytes is too short", len(section))
	}
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}

	pmt := &PMT{
		ProgramNumber: uint16(section[3])<<8 | uint16(section[4]),
		PCRPID:        uint16(section[8]&0x1F)<<8 | uint16(section[9]),
	}
	pos := 12 + (int(section[10]&0x0F)<<8 | int(section[11]))
	limit := len(section) - 4
	for pos+5 <= limit {
		pmt.Streams = append(pmt.Streams, ElementaryStream{
			StreamType: section[pos],
			PID:        uint16(section[pos+1]&0x1F)<<8 | uint16(section[pos+2]),
		})
		pos += 5 + (int(section[pos+3]&0x0F)<<8 | int(section[pos+4]))
	}
	return pmt, nil
}
