package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/stretchr/testify/require"
)

// testNote is the notification type used across the bus tests.
type testNote struct {
	notification.Envelope
	Value string `json:"value,omitempty"`
}

func newTestNote(id string, tags ...string) *testNote {
	return &testNote{
		Envelope: notification.Envelope{
			NotificationID: id,
			Timestamp:      time.Now().UTC(),
			Type:           "test.note",
			Tags:           tags,
		},
	}
}

// fakeTransport is an in-memory bus.Transport double. Notifications pushed
// with deliver simulate inbound traffic from the wire.
type fakeTransport struct {
	name       string
	subject    *Subject
	notifyErr  error
	receiveErr error

	mu       sync.Mutex
	notified []notification.Notification
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{
		name:    name,
		subject: NewSubject(64, nil),
	}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Notify(ctx context.Context, n notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.mu.Lock()
	f.notified = append(f.notified, n)
	f.mu.Unlock()
	f.subject.Publish(n)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, tags ...string) (<-chan notification.Notification, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return f.subject.Subscribe(ctx, tags...)
}

// deliver simulates a notification arriving from the transport's wire side.
func (f *fakeTransport) deliver(n notification.Notification) {
	f.subject.Publish(n)
}

func (f *fakeTransport) notifiedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notified)
}

// recvTimeout reads one notification or fails the test.
func recvTimeout(t *testing.T, ch <-chan notification.Notification, timeout time.Duration) notification.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed before a notification arrived")
		return n
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a notification")
		return nil
	}
}

// expectNone asserts that no notification arrives within the window.
func expectNone(t *testing.T, ch <-chan notification.Notification, window time.Duration) {
	t.Helper()
	select {
	case n, ok := <-ch:
		if ok {
			t.Fatalf("unexpected notification %q", n.Env().NotificationID)
		}
	case <-time.After(window):
	}
}
