package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// MockNATSClient is an in-memory stand-in for the publishing side of
// natsclient.Client. Connect and Publish fail with the configured errors.
// Thread-safe for concurrent use from multiple goroutines.
type MockNATSClient struct {
	mu         sync.RWMutex
	messages   map[string][][]byte
	streamed   map[string][][]byte
	streams    []jetstream.StreamConfig
	connected  bool
	closed     bool
	connects   int
	ConnectErr error
	PublishErr error
	StreamErr  error
}

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages: make(map[string][][]byte),
		streamed: make(map[string][][]byte),
	}
}

// Connect marks the client connected unless ConnectErr is set.
func (c *MockNATSClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	c.closed = false
	return nil
}

// Publish records a message on a subject (matches natsclient.Client signature).
func (c *MockNATSClient) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return c.PublishErr
	}
	if !c.connected {
		return fmt.Errorf("client is not connected")
	}

	// Copy so the caller may reuse its buffer
	msg := make([]byte, len(data))
	copy(msg, data)
	c.messages[subject] = append(c.messages[subject], msg)
	return nil
}

// EnsureStream records the stream configuration unless StreamErr is set.
// The returned stream is always nil.
func (c *MockNATSClient) EnsureStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.StreamErr != nil {
		return nil, c.StreamErr
	}
	if !c.connected {
		return nil, fmt.Errorf("client is not connected")
	}
	c.streams = append(c.streams, cfg)
	return nil, nil
}

// PublishToStream records an acknowledged publish, kept apart from plain
// publishes.
func (c *MockNATSClient) PublishToStream(_ context.Context, subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PublishErr != nil {
		return c.PublishErr
	}
	if !c.connected {
		return fmt.Errorf("client is not connected")
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	c.streamed[subject] = append(c.streamed[subject], msg)
	return nil
}

// Streams returns the stream configurations passed to EnsureStream.
func (c *MockNATSClient) Streams() []jetstream.StreamConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]jetstream.StreamConfig(nil), c.streams...)
}

// GetStreamMessages returns all acknowledged publishes for a subject.
func (c *MockNATSClient) GetStreamMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([][]byte(nil), c.streamed[subject]...)
}

// Flush is a no-op; publishes are recorded synchronously.
func (c *MockNATSClient) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close closes the mock client.
func (c *MockNATSClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.closed = true
	return nil
}

// IsHealthy reports whether the client is connected.
func (c *MockNATSClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Connects returns the number of Connect calls.
func (c *MockNATSClient) Connects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connects
}

// GetMessages returns all messages for a subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}
