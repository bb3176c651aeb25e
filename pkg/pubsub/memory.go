package pubsub

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("pubsub closed")

// MemoryPubSub is an in-process PubSub used for single-node deployments and tests.
type MemoryPubSub struct {
	mu     sync.RWMutex
	subs   map[string]*memorySubscription
	closed bool
}

type memorySubscription struct {
	ch     chan *Event
	cancel context.CancelFunc
	once   sync.Once
}

func (s *memorySubscription) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}

// NewMemoryPubSub creates an in-process PubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string]*memorySubscription)}
}

// Publish delivers the event to the channel's subscriber, dropping it when
// the subscriber's buffer is full.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	if sub, ok := m.subs[channel]; ok {
		select {
		case sub.ch <- event:
		default:
			// Channel full, skip message
		}
	}
	return nil
}

// Subscribe subscribes to a channel, replacing any earlier subscription to it.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySubscription{
		ch:     make(chan *Event, subscriptionBuffer),
		cancel: cancel,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	if existing, ok := m.subs[channel]; ok {
		existing.close()
	}
	m.subs[channel] = sub
	m.mu.Unlock()

	go func() {
		<-subCtx.Done()
		m.mu.Lock()
		if m.subs[channel] == sub {
			delete(m.subs, channel)
		}
		sub.close()
		m.mu.Unlock()
	}()

	return sub.ch, nil
}

// Unsubscribe ends the subscription for a channel.
func (m *MemoryPubSub) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[channel]; ok {
		delete(m.subs, channel)
		sub.close()
	}
	return nil
}

// Close closes all subscriptions.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, sub := range m.subs {
		delete(m.subs, key)
		sub.close()
	}
	m.closed = true
	return nil
}

var _ PubSub = (*MemoryPubSub)(nil)
