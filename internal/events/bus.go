// Package events fans out domain events to in-process consumers.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const subscriberBuffer = 100

// Bus delivers every published event to all subscribers without blocking.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
	log         logrus.FieldLogger
}

// NewBus creates an empty bus.
func NewBus(log logrus.FieldLogger) *Bus {
	return &Bus{log: log}
}

// Subscribe creates a new event channel for a consumer.
// The channel is closed when the bus is closed.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, ch := range b.subscribers {
		if ch == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends e to every subscriber, dropping it for subscribers whose buffer is full.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.log.WithField("event", e.Type()).Warn("subscriber event channel full, dropping event")
		}
	}
}

// Close closes all subscriber channels. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
