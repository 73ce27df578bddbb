package testutil

import (
	"context"
	"io"
	"sync"
)

// MockSource delivers a fixed list of frames, then EndErr (io.EOF by
// default). It records how often and how concurrently Next was called so
// tests can check flow control.
type MockSource struct {
	mu sync.Mutex

	frames [][]byte
	pos    int

	// EndErr is returned once every frame has been delivered.
	EndErr error

	// BeforeNext, if set, runs at the start of every Next call with the
	// 1-based request number. Tests use it to assert stage state.
	BeforeNext func(request int)

	requests    int
	inFlight    int
	maxInFlight int
}

// NewMockSource creates a source delivering frames in order.
func NewMockSource(frames ...[]byte) *MockSource {
	return &MockSource{frames: frames, EndErr: io.EOF}
}

// Next returns the next frame.
func (m *MockSource) Next(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	m.requests++
	request := m.requests
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	hook := m.BeforeNext
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if hook != nil {
		hook(request)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos >= len(m.frames) {
		return nil, m.EndErr
	}
	frame := m.frames[m.pos]
	m.pos++
	return frame, nil
}

// Requests returns the number of Next calls.
func (m *MockSource) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// MaxInFlight returns the highest number of concurrent Next calls seen.
func (m *MockSource) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Remaining returns the number of frames not yet delivered.
func (m *MockSource) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames) - m.pos
}

// MockSink collects emitted items. Setting Err makes every Emit fail.
type MockSink[T any] struct {
	mu    sync.Mutex
	items []T

	// Err is returned by Emit when set; the item is not recorded.
	Err error
}

// NewMockSink creates an empty sink.
func NewMockSink[T any]() *MockSink[T] {
	return &MockSink[T]{}
}

// Emit records item.
func (m *MockSink[T]) Emit(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	m.items = append(m.items, item)
	return nil
}

// Items returns a copy of the collected items.
func (m *MockSink[T]) Items() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]T, len(m.items))
	copy(out, m.items)
	return out
}

// Len returns the number of collected items.
func (m *MockSink[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
