package caption

import (
	"math/bits"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/framesrc/internal/fixture"
)

// odd sets the CEA-608 odd parity bit.
func odd(b byte) byte {
	if bits.OnesCount8(b)%2 == 0 {
		return b | 0x80
	}
	return b
}

// captionAU is an access unit whose SEI carries ATSC A/53 cc_data with the
// given field 1 byte pairs.
func captionAU(pairs ...[2]byte) []byte {
	cc := []byte{
		0xB5, 0x00, 0x31, // ITU-T T.35 United States, ATSC
		'G', 'A', '9', '4',
		0x03,                    // cc_data
		0x40 | byte(len(pairs)), // process_cc_data_flag, cc_count
		0xFF,
	}
	for _, p := range pairs {
		cc = append(cc, 0xFC, odd(p[0]), odd(p[1]))
	}
	cc = append(cc, 0xFF)

	sei := []byte{0x00, 0x00, 0x00, 0x01, 0x06, 0x04, byte(len(cc))}
	sei = append(sei, cc...)
	sei = append(sei, 0x80)
	return append(sei, fixture.AccessUnit(false, 0)...)
}

func TestExtractorPopOn(t *testing.T) {
	t.Parallel()
	e := NewExtractor(nil)

	var got []*Frame
	got = append(got, e.Feed(captionAU([2]byte{0x14, 0x20}), 0)...) // resume caption loading
	got = append(got, e.Feed(captionAU([2]byte{'H', 'I'}), 3003)...)
	got = append(got, e.Feed(captionAU([2]byte{0x14, 0x2F}), 6006)...) // end of caption
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	require.Equal(t, 1, last.Channel)
	require.True(t, strings.Contains(last.Text, "HI"), "text %q", last.Text)
	require.Equal(t, int64(6006), last.PTS)
}

func TestExtractorNoSEI(t *testing.T) {
	t.Parallel()
	e := NewExtractor(nil)
	require.Empty(t, e.Feed(fixture.AccessUnit(true, 1), 0))
	require.Empty(t, e.Feed(nil, 0))
}
