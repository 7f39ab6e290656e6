package nats

import (
	"context"
	"sync"

	"github.com/brojonat/candymint/service/minter"
)

// MockPublisher is a mock implementation of minter.Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*minter.Event
	publishError    error
	closed          bool
}

var _ minter.Publisher = (*MockPublisher)(nil)

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*minter.Event, 0),
	}
}

// Publish records the event and returns any configured error.
func (m *MockPublisher) Publish(ctx context.Context, event *minter.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	if err := event.Validate(); err != nil {
		return err
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*minter.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*minter.Event, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsOfType returns events of one type, in publish order.
func (m *MockPublisher) GetPublishedEventsOfType(t minter.EventType) []*minter.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*minter.Event, 0)
	for _, event := range m.publishedEvents {
		if event.Type == t {
			events = append(events, event)
		}
	}
	return events
}

// GetPublishedEventsForWallet returns events published for a specific wallet.
func (m *MockPublisher) GetPublishedEventsForWallet(address string) []*minter.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*minter.Event, 0)
	for _, event := range m.publishedEvents {
		if event.Wallet == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on Publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*minter.Event, 0)
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
