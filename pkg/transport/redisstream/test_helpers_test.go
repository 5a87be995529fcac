package redisstream

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	testDefaultStream = "notifications:stream:default"
	testNumberStream  = "notifications:stream:numbers"
	testOrderStream   = "notifications:stream:orders"
)

// orderStatus is an updateable test type: latest state per order id, gated
// by sequence.
type orderStatus struct {
	notification.Envelope
	OrderID  string `json:"orderId"`
	Sequence int64  `json:"sequence"`
	State    string `json:"state"`
}

// randomNumber is a stream-only test type.
type randomNumber struct {
	notification.Envelope
	Value int `json:"value"`
}

// plainEvent uses default storage.
type plainEvent struct {
	notification.Envelope
	Detail string `json:"detail,omitempty"`
}

func newTestRegistry(t *testing.T) *notification.Registry {
	t.Helper()
	r := notification.NewRegistry(notification.RegistryOptions{
		DefaultStream: testDefaultStream,
		TypeToStream: map[string]string{
			"test.random-number": testNumberStream,
			"test.order-status":  testOrderStream,
		},
		StreamOnlyTypes: []string{"test.random-number"},
	})
	require.NoError(t, r.Register("test.event", notification.DecodeJSON[plainEvent]()))
	require.NoError(t, r.Register("test.random-number", notification.DecodeJSON[randomNumber]()))
	require.NoError(t, r.RegisterUpdateable("test.order-status", notification.DecodeJSON[orderStatus](),
		notification.UpdateableConfig{
			UpdateKey: func(n notification.Notification) string {
				if id := n.(*orderStatus).OrderID; id != "" {
					return "orders:" + id
				}
				return ""
			},
			Sequence: func(n notification.Notification) (int64, bool) {
				return n.(*orderStatus).Sequence, true
			},
		}))
	return r
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// testOptions keeps the loops and retries fast enough for unit tests.
// Trimming is approximate because miniredis rejects the exact MAXLEN
// syntax; exact trimming is covered against a real Redis.
func testOptions() Options {
	return Options{
		ConsumerGroup:       "test:group",
		ConsumerName:        "test-consumer",
		Block:               50 * time.Millisecond,
		ErrorRecoveryDelay:  50 * time.Millisecond,
		RetryDelay:          20 * time.Millisecond,
		MaxInitRetries:      3,
		ApproximateTrimming: true,
	}
}

func newOrder(id, orderID string, seq int64, state string) *orderStatus {
	return &orderStatus{
		Envelope: notification.Envelope{
			NotificationID: id,
			Timestamp:      time.Now().UTC(),
			Type:           "test.order-status",
			Tags:           []string{"orders"},
		},
		OrderID:  orderID,
		Sequence: seq,
		State:    state,
	}
}

func newNumber(id string, value int) *randomNumber {
	return &randomNumber{
		Envelope: notification.Envelope{
			NotificationID: id,
			Timestamp:      time.Now().UTC(),
			Type:           "test.random-number",
			Tags:           []string{"numbers"},
		},
		Value: value,
	}
}

func newEvent(id, detail string) *plainEvent {
	return &plainEvent{
		Envelope: notification.Envelope{
			NotificationID: id,
			Timestamp:      time.Now().UTC(),
			Type:           "test.event",
			Tags:           []string{"events"},
		},
		Detail: detail,
	}
}
