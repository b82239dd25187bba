package events

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
)

// ErrBusClosed is returned when publishing on a closed Bus.
var ErrBusClosed = errors.New("event bus is closed")

// DefaultBufferSize is the subscriber channel capacity.
const DefaultBufferSize = 256

type subscriber struct {
	ch        chan domain.Event
	sessionID string
}

// Bus fans events out to in-process subscribers.
// A slow subscriber loses events instead of blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	bufferSize  int
	closed      bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the subscriber channel capacity.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		b.bufferSize = size
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[*subscriber]struct{}),
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements ports.EventPublisher.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for sub := range b.subscribers {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Full buffer: drop for this subscriber only.
		}
	}
	return nil
}

// Subscribe returns a channel receiving every event, or only the events of sessionID
// when it is not empty. The cleanup function must be called to unsubscribe.
func (b *Bus) Subscribe(sessionID string) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan domain.Event, b.bufferSize), sessionID: sessionID}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subscribers[sub] = struct{}{}

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(sub.ch)
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later publishes fail with ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
	return nil
}

var _ ports.EventPublisher = (*Bus)(nil)
