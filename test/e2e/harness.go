//go:build integration

// Package e2e exercises the full notification bus against a real Redis:
// composite emitter and receiver over both transports, stream storage
// modes, and cross-transport deduplication.
package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/relay/pkg/bus"
	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/codeready-toolchain/relay/pkg/transport/memory"
	"github.com/codeready-toolchain/relay/pkg/transport/redisstream"
	"github.com/codeready-toolchain/relay/test/redisutil"
)

const (
	orderStatusType = "e2e.order-status"
	metricType      = "e2e.metric"
	eventType       = "e2e.event"
)

type orderStatus struct {
	notification.Envelope
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	Sequence int64  `json:"sequence"`
}

type metricSample struct {
	notification.Envelope
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type plainEvent struct {
	notification.Envelope
	Detail string `json:"detail"`
}

// testBus is a fully wired bus instance over one Redis database.
type testBus struct {
	client   *redis.Client
	registry *notification.Registry
	mem      *memory.Transport
	redis    *redisstream.Transport
	emitter  *bus.CompositeEmitter
	receiver *bus.CompositeReceiver
}

type busOptions struct {
	maxStreamLength int64
	approximate     bool
}

func newTestBus(t *testing.T, opts busOptions) *testBus {
	t.Helper()
	ctx := context.Background()

	client := redisutil.NewTestClient(t)

	defaultStream := fmt.Sprintf("e2e:%s:default", t.Name())
	orderStream := fmt.Sprintf("e2e:%s:orders", t.Name())
	metricStream := fmt.Sprintf("e2e:%s:metrics", t.Name())

	registry := notification.NewRegistry(notification.RegistryOptions{
		DefaultStream: defaultStream,
		TypeToStream: map[string]string{
			orderStatusType: orderStream,
			metricType:      metricStream,
		},
		StreamOnlyTypes: []string{metricType},
	})
	require.NoError(t, registry.RegisterUpdateable(orderStatusType,
		notification.DecodeJSON[orderStatus](),
		notification.UpdateableConfig{
			UpdateKey: func(n notification.Notification) string {
				return "e2e:orders:" + n.(*orderStatus).OrderID
			},
			Sequence: func(n notification.Notification) (int64, bool) {
				return n.(*orderStatus).Sequence, true
			},
		}))
	require.NoError(t, registry.Register(metricType, notification.DecodeJSON[metricSample]()))
	require.NoError(t, registry.Register(eventType, notification.DecodeJSON[plainEvent]()))

	maxLen := opts.maxStreamLength
	if maxLen <= 0 {
		maxLen = 10000
	}

	rt := redisstream.New(client, registry, redisstream.Options{
		ConsumerGroup:       "e2e:processors",
		ConsumerName:        "e2e-consumer",
		Block:               100 * time.Millisecond,
		MaxStreamLength:     maxLen,
		ApproximateTrimming: opts.approximate,
	}, nil)
	require.NoError(t, rt.Start(ctx))
	t.Cleanup(rt.Stop)

	mem := memory.New(1024, nil)
	t.Cleanup(mem.Close)

	receiver := bus.NewCompositeReceiver(bus.CompositeReceiverOptions{
		ChannelCapacity: 1024,
	}, nil, mem, rt)
	t.Cleanup(receiver.Close)

	return &testBus{
		client:   client,
		registry: registry,
		mem:      mem,
		redis:    rt,
		emitter:  bus.NewCompositeEmitter(nil, mem, rt),
		receiver: receiver,
	}
}

// collect drains notifications into a slice until the timeout elapses with
// no new arrivals or want notifications have arrived.
func collect(t *testing.T, ch <-chan notification.Notification, want int, timeout time.Duration) []notification.Notification {
	t.Helper()
	var got []notification.Notification
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, n)
			if len(got) >= want {
				return got
			}
		case <-time.After(timeout):
			return got
		}
	}
}
