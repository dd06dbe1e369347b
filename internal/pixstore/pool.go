// Package pixstore is a pool of reusable decode-target pictures. Callers
// borrow a picture with Acquire and hand it back with Release; a released
// picture goes onto a free list keyed by its shape and is handed out again
// to the next Acquire of the same shape.
package pixstore

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/framesrc/internal/media"
	"github.com/zsiec/framesrc/internal/metrics"
)

// Align rounds n up to the next multiple of 16, the block alignment every
// decode target is allocated with.
func Align(n int) int {
	return (n + 15) &^ 15
}

type shape struct {
	width, height int
	color         media.ColorSpace
}

// Loaner is a picture on loan from a Pool. It holds exactly one reference
// from Acquire until Release.
type Loaner struct {
	pool  *Pool
	key   shape
	pic   *media.Picture
	refs  atomic.Int32
	index uint64
}

// Picture returns the borrowed picture. It panics once the loaner has been
// released.
func (l *Loaner) Picture() *media.Picture {
	if l.refs.Load() != 1 {
		panic(fmt.Sprintf("pixstore: loaner %d used after release", l.index))
	}
	return l.pic
}

// Width returns the allocated width.
func (l *Loaner) Width() int { return l.key.width }

// Height returns the allocated height.
func (l *Loaner) Height() int { return l.key.height }

// Stats is a snapshot of pool counters.
type Stats struct {
	Acquired  int64
	Released  int64
	Allocated int64
	Free      int
}

// InFlight returns the number of loaners not yet released.
func (s Stats) InFlight() int64 {
	return s.Acquired - s.Released
}

// Pool hands out pictures keyed by (width, height, color). It is safe for
// concurrent use.
type Pool struct {
	log *slog.Logger

	mu    sync.Mutex
	free  map[shape][]*media.Picture
	nfree int

	next      atomic.Uint64
	acquired  atomic.Int64
	released  atomic.Int64
	allocated atomic.Int64
}

// New creates an empty pool. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		log:  log.With("component", "pixstore"),
		free: make(map[shape][]*media.Picture),
	}
}

// Acquire lends out a picture of the given shape, reusing a released one
// when available. Width and height are expected to be multiples of 16.
func (p *Pool) Acquire(width, height int, color media.ColorSpace) *Loaner {
	key := shape{width, height, color}

	p.mu.Lock()
	var pic *media.Picture
	if list := p.free[key]; len(list) > 0 {
		pic = list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		p.nfree--
	}
	p.mu.Unlock()

	if pic == nil {
		pic = media.NewPicture(width, height, color)
		p.allocated.Add(1)
		metrics.PoolAllocatedTotal.Inc()
		p.log.Debug("allocated picture", "width", width, "height", height, "color", color)
	}
	pic.Crop = image.Rectangle{}

	l := &Loaner{pool: p, key: key, pic: pic, index: p.next.Add(1)}
	l.refs.Store(1)
	p.acquired.Add(1)
	metrics.PoolAcquiredTotal.Inc()
	metrics.PoolInFlight.Inc()
	return l
}

// Release returns a loaner to the pool. Releasing a loaner twice, or one
// from another pool, panics.
func (p *Pool) Release(l *Loaner) {
	if l == nil {
		return
	}
	if l.pool != p {
		panic("pixstore: loaner released to a foreign pool")
	}
	if !l.refs.CompareAndSwap(1, 0) {
		panic(fmt.Sprintf("pixstore: loaner %d released twice", l.index))
	}
	pic := l.pic
	l.pic = nil

	p.mu.Lock()
	p.free[l.key] = append(p.free[l.key], pic)
	p.nfree++
	p.mu.Unlock()

	p.released.Add(1)
	metrics.PoolReleasedTotal.Inc()
	metrics.PoolInFlight.Dec()
}

// Stats returns the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	free := p.nfree
	p.mu.Unlock()
	return Stats{
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Allocated: p.allocated.Load(),
		Free:      free,
	}
}
