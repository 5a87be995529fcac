package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectDeliversToMatchingSubscribers(t *testing.T) {
	s := NewSubject(16, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	matching, err := s.Subscribe(ctx, "orders")
	require.NoError(t, err)
	other, err := s.Subscribe(ctx, "inventory")
	require.NoError(t, err)

	s.Publish(newTestNote("n-1", "orders", "billing"))

	got := recvTimeout(t, matching, time.Second)
	assert.Equal(t, "n-1", got.Env().NotificationID)
	expectNone(t, other, 100*time.Millisecond)
}

func TestSubjectEmptyFilterReceivesEverything(t *testing.T) {
	s := NewSubject(16, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := s.Subscribe(ctx)
	require.NoError(t, err)

	s.Publish(newTestNote("n-1", "orders"))
	s.Publish(newTestNote("n-2"))

	assert.Equal(t, "n-1", recvTimeout(t, all, time.Second).Env().NotificationID)
	assert.Equal(t, "n-2", recvTimeout(t, all, time.Second).Env().NotificationID)
}

func TestSubjectPerProducerOrdering(t *testing.T) {
	s := NewSubject(64, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s.Publish(newTestNote(fmt.Sprintf("n-%d", i)))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("n-%d", i), recvTimeout(t, ch, time.Second).Env().NotificationID)
	}
}

func TestSubjectDropsWhenSubscriberFull(t *testing.T) {
	s := NewSubject(1, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	// Capacity 1: the first publish fills the buffer, the rest are dropped
	// without blocking the producer.
	s.Publish(newTestNote("kept"))
	s.Publish(newTestNote("dropped-1"))
	s.Publish(newTestNote("dropped-2"))

	assert.Equal(t, "kept", recvTimeout(t, ch, time.Second).Env().NotificationID)
	expectNone(t, ch, 100*time.Millisecond)
}

func TestSubjectUnsubscribesOnContextCancel(t *testing.T) {
	s := NewSubject(16, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, s.subscriberCount())

	cancel()
	require.Eventually(t, func() bool {
		return s.subscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestSubjectClose(t *testing.T) {
	s := NewSubject(16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	s.Close()
	s.Close() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Publish after close is a no-op, subscribe fails.
	s.Publish(newTestNote("late"))
	_, err = s.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
