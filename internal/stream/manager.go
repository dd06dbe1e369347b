// Package stream tracks the decode passes running in the process, one per
// input, providing create/remove/list operations used by the CLI.
package stream

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stream is one running decode pass.
type Stream struct {
	Key       string
	StartedAt time.Time
	frames    atomic.Int64
	done      chan struct{}
}

// AddFrames counts n more frames decoded by the pass.
func (s *Stream) AddFrames(n int64) { s.frames.Add(n) }

// Frames returns the number of frames decoded so far.
func (s *Stream) Frames() int64 { return s.frames.Load() }

// Done is closed once the pass is removed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Manager manages the lifecycle of decode passes.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a pass for key. It returns nil and false if a pass
// for key is already running.
func (m *Manager) Create(key string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("input already being decoded, rejecting duplicate", "key", key)
		return nil, false
	}

	s := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.streams[key] = s
	m.log.Debug("pass created", "key", key)
	return s, true
}

// Remove removes a pass from the manager.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		m.log.Debug("pass removed", "key", key, "frames", s.Frames())
	}
}

// List returns all running passes ordered by key.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(streams, func(a, b *Stream) int { return strings.Compare(a.Key, b.Key) })
	return streams
}
