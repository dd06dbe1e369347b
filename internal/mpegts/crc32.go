package mpegts

import "errors"

var errCRCMismatch = errors.New("CRC32 mismatch")

// crcTable is the MPEG-2 CRC32 table for polynomial 0x04C11DB7 (no
// reflection, initial value 0xFFFFFFFF).
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

func computeCRC32(data []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, b := range data {
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}

// verifyCRC32 checks a section whose last four bytes are its CRC. Running
// the CRC over the whole section yields zero when it is intact.
func verifyCRC32(section []byte) error {
	if len(section) < 4 || computeCRC32(section) != 0 {
		return errCRCMismatch
	}
	return nil
}
