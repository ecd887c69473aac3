package sink

import (
	"context"
	"sync"

	"topicseg/internal/domain"
)

// Memory keeps segments in process; safe for concurrent readers.
type Memory struct {
	mu       sync.RWMutex
	segments []domain.Segment
}

// NewMemory creates an empty in-process sink.
func NewMemory() *Memory { return &Memory{} }

// Write appends seg.
func (m *Memory) Write(_ context.Context, seg domain.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = append(m.segments, seg)
	return nil
}

// Segments returns a copy of everything written so far.
func (m *Memory) Segments() []domain.Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// Close is a no-op; segments stay readable.
func (m *Memory) Close() error { return nil }
