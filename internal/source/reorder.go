package source

import (
	"cmp"
	"slices"

	"github.com/zsiec/framesrc/internal/media"
)

// DefaultReorderDepth is the number of elements a reorder stage holds
// before it must emit one.
const DefaultReorderDepth = 7

// reorderBuffer holds up to depth+1 elements and hands back the one with
// the lowest presentation timestamp. Ties leave in insertion order.
type reorderBuffer[T any] struct {
	depth int
	items []T
	pts   func(T) int64
}

func newReorderBuffer[T any](depth int, pts func(T) int64) *reorderBuffer[T] {
	return &reorderBuffer[T]{depth: depth, items: make([]T, 0, depth+1), pts: pts}
}

func (b *reorderBuffer[T]) push(v T) { b.items = append(b.items, v) }

func (b *reorderBuffer[T]) len() int { return len(b.items) }

// full reports whether the buffer has passed its depth and must drain one
// element.
func (b *reorderBuffer[T]) full() bool { return len(b.items) > b.depth }

// popMin sorts the buffer and removes its first element.
func (b *reorderBuffer[T]) popMin() T {
	slices.SortStableFunc(b.items, func(x, y T) int {
		return cmp.Compare(b.pts(x), b.pts(y))
	})
	v := b.items[0]
	var zero T
	b.items[0] = zero
	b.items = b.items[1:]
	return v
}

// drain empties the buffer, handing each element to fn in insertion order.
func (b *reorderBuffer[T]) drain(fn func(T)) {
	for i, v := range b.items {
		fn(v)
		var zero T
		b.items[i] = zero
	}
	b.items = b.items[:0]
}

func packetPTS(p *media.Packet) int64 { return p.PTS }

func framePTS(f *DecodedFrame) int64 { return f.Packet.PTS }

// popPacket emits the earliest buffered packet. Its duration becomes the
// smallest positive gap to another buffered packet below a sixth of a
// second; without such a gap the demuxer's duration stays.
func popPacket(b *reorderBuffer[*media.Packet]) *media.Packet {
	out := b.popMin()
	limit := int64(out.Timescale / 6)
	best := int64(-1)
	for _, p := range b.items {
		d := p.PTS - out.PTS
		if d > 0 && d < limit && (best < 0 || d < best) {
			best = d
		}
	}
	if best > 0 {
		out.Duration = best
	}
	return out
}

// popFrame emits the earliest decoded frame and sets its duration to the
// gap to the next one, when there is a next one.
func popFrame(b *reorderBuffer[*DecodedFrame]) *DecodedFrame {
	out := b.popMin()
	if b.len() > 0 {
		out.Packet.Duration = b.items[0].Packet.PTS - out.Packet.PTS
	}
	return out
}
