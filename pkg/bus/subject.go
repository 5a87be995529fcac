package bus

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/relay/pkg/metrics"
	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/google/uuid"
)

// Subject is a hot in-process broadcast of notifications.
//
// Publish never blocks: each subscriber has a buffered channel and a
// notification that finds the buffer full is dropped for that subscriber
// only. Ordering is FIFO per producer; cross-producer order is arrival
// order. The subject does not deduplicate.
type Subject struct {
	capacity int
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	subs   map[string]*subjectSub
	closed bool
	done   chan struct{}
}

type subjectSub struct {
	tags []string
	ch   chan notification.Notification
}

// NewSubject creates a subject whose subscriber channels buffer up to
// capacity notifications.
func NewSubject(capacity int, m *metrics.Metrics) *Subject {
	return &Subject{
		capacity: capacity,
		metrics:  m,
		subs:     make(map[string]*subjectSub),
		done:     make(chan struct{}),
	}
}

// Publish broadcasts n to every subscriber whose tag filter matches.
// Sends are non-blocking; a full subscriber buffer drops the notification
// for that subscriber. Publishing to a closed subject is a no-op.
func (s *Subject) Publish(n notification.Notification) {
	env := n.Env()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	for _, sub := range s.subs {
		if !env.HasAnyTag(sub.tags) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			s.metrics.IncSubscriberDrop()
		}
	}
}

// Subscribe registers a new subscriber with an optional tag filter
// (any-match). The returned channel is closed when ctx is cancelled or the
// subject is closed.
func (s *Subject) Subscribe(ctx context.Context, tags ...string) (<-chan notification.Notification, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.New().String()
	sub := &subjectSub{
		tags: append([]string(nil), tags...),
		ch:   make(chan notification.Notification, s.capacity),
	}
	s.subs[id] = sub
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.unsubscribe(id)
	}()
	return sub.ch, nil
}

// unsubscribe removes a subscriber and closes its channel. Closing under
// the write lock excludes concurrent Publish sends, which hold the read
// lock.
func (s *Subject) unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	close(sub.ch)
}

// Close drops all subscribers and closes their channels. Idempotent.
func (s *Subject) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// subscriberCount is a test helper.
func (s *Subject) subscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
