package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeEmitterAssignsIdentity(t *testing.T) {
	t1 := newFakeTransport("alpha")
	t2 := newFakeTransport("beta")
	e := NewCompositeEmitter(nil, t1, t2)

	n := &testNote{}
	n.Type = "test.note"
	require.NoError(t, e.Notify(context.Background(), n))

	_, err := uuid.Parse(n.NotificationID)
	assert.NoError(t, err, "missing id should be assigned a UUID")
	assert.False(t, n.Timestamp.IsZero())
	assert.Equal(t, time.UTC, n.Timestamp.Location())

	assert.Equal(t, 1, t1.notifiedCount())
	assert.Equal(t, 1, t2.notifiedCount())
}

func TestCompositeEmitterKeepsProvidedIdentity(t *testing.T) {
	tr := newFakeTransport("alpha")
	e := NewCompositeEmitter(nil, tr)

	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := newTestNote("caller-chose-this")
	n.Timestamp = stamp

	require.NoError(t, e.Notify(context.Background(), n))
	assert.Equal(t, "caller-chose-this", n.NotificationID)
	assert.True(t, stamp.Equal(n.Timestamp))
}

func TestCompositeEmitterJoinsFailures(t *testing.T) {
	boom := errors.New("wire down")
	t1 := newFakeTransport("alpha")
	t2 := newFakeTransport("beta")
	t2.notifyErr = boom
	e := NewCompositeEmitter(nil, t1, t2)

	err := e.Notify(context.Background(), newTestNote("n-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "transport beta")

	// The healthy transport still got the notification.
	assert.Equal(t, 1, t1.notifiedCount())
	assert.Equal(t, 0, t2.notifiedCount())
}

func TestCompositeEmitterAllTransportsFail(t *testing.T) {
	err1 := errors.New("alpha down")
	err2 := errors.New("beta down")
	t1 := newFakeTransport("alpha")
	t1.notifyErr = err1
	t2 := newFakeTransport("beta")
	t2.notifyErr = err2
	e := NewCompositeEmitter(nil, t1, t2)

	err := e.Notify(context.Background(), newTestNote("n-1"))
	assert.ErrorIs(t, err, err1)
	assert.ErrorIs(t, err, err2)
}

func TestCompositeEmitterCancelledContext(t *testing.T) {
	tr := newFakeTransport("alpha")
	e := NewCompositeEmitter(nil, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Notify(ctx, newTestNote("n-1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tr.notifiedCount())
}
