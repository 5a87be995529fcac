package redisstream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTransport(t *testing.T) (*Transport, *redis.Client) {
	t.Helper()
	_, client := setupRedis(t)
	tr := New(client, newTestRegistry(t), testOptions(), nil)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(tr.Stop)
	return tr, client
}

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

func TestTransportRoundTripDefaultStorage(t *testing.T) {
	tr, _ := startTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.Receive(ctx, "events")
	require.NoError(t, err)

	sent := newEvent("evt-1", "round trip")
	require.NoError(t, tr.Notify(ctx, sent))

	got := recvTimeout(t, ch, 5*time.Second)
	evt, ok := got.(*plainEvent)
	require.True(t, ok, "decoded entity has the registered concrete type")
	assert.Equal(t, "evt-1", evt.NotificationID)
	assert.Equal(t, "test.event", evt.Type)
	assert.Equal(t, "round trip", evt.Detail)
	assert.Equal(t, []string{"events"}, evt.Tags)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestTransportRoundTripStreamOnly(t *testing.T) {
	tr, _ := startTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Notify(ctx, newNumber("num-1", 9)))

	got := recvTimeout(t, ch, 5*time.Second)
	num, ok := got.(*randomNumber)
	require.True(t, ok)
	assert.Equal(t, 9, num.Value)
}

func TestTransportPerStreamOrdering(t *testing.T) {
	tr, _ := startTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.Receive(ctx)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Notify(ctx, newNumber(fmt.Sprintf("num-%d", i), i)))
	}
	for i := 0; i < 5; i++ {
		got := recvTimeout(t, ch, 5*time.Second)
		assert.Equal(t, fmt.Sprintf("num-%d", i), got.Env().NotificationID)
	}
}

func TestTransportUnknownTypeDecodesToGeneric(t *testing.T) {
	tr, client := startTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.Receive(ctx)
	require.NoError(t, err)

	payload := `{"notificationId":"gen-1","notificationType":"unknown.type","custom":"value"}`
	_, err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: testDefaultStream,
		Values: map[string]interface{}{
			fieldType:           "unknown.type",
			fieldNotificationID: "gen-1",
			fieldPayload:        payload,
		},
	}).Result()
	require.NoError(t, err)

	got := recvTimeout(t, ch, 5*time.Second)
	gen, ok := got.(*notification.Generic)
	require.True(t, ok, "unresolvable types fall back to the generic notification")
	assert.Equal(t, "gen-1", gen.NotificationID)
	assert.JSONEq(t, payload, string(gen.Data))
}

func TestTransportSurvivesDecodeFailures(t *testing.T) {
	tr, client := startTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.Receive(ctx)
	require.NoError(t, err)

	// Registered type, unparseable payload: logged, acked, skipped.
	_, err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: testDefaultStream,
		Values: map[string]interface{}{
			fieldType:    "test.event",
			fieldPayload: "{not json",
		},
	}).Result()
	require.NoError(t, err)

	// Marker referencing a companion key that never existed.
	_, err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: testDefaultStream,
		Values: map[string]interface{}{
			fieldType:      "test.event",
			fieldUpdateKey: "missing:key",
		},
	}).Result()
	require.NoError(t, err)

	// The loop keeps consuming.
	require.NoError(t, tr.Notify(ctx, newEvent("evt-ok", "")))
	got := recvTimeout(t, ch, 5*time.Second)
	assert.Equal(t, "evt-ok", got.Env().NotificationID)
	expectNone(t, ch, 200*time.Millisecond)
}

func TestTransportUpdateableMarkerKeepsEntryIdentity(t *testing.T) {
	tr, _ := startTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tr.Receive(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, tr.Notify(ctx, newOrder("n1", "42", 1, "New")))
	require.NoError(t, tr.Notify(ctx, newOrder("n2", "42", 3, "Paid")))
	require.NoError(t, tr.Notify(ctx, newOrder("n3", "42", 2, "Pending")))

	// Three distinct notifications arrive even though the stale write
	// never touched the companion key.
	var ids []string
	states := map[string]string{}
	for i := 0; i < 3; i++ {
		got := recvTimeout(t, ch, 5*time.Second)
		order, ok := got.(*orderStatus)
		require.True(t, ok)
		ids = append(ids, order.NotificationID)
		states[order.NotificationID] = order.State
	}
	assert.ElementsMatch(t, []string{"n1", "n2", "n3"}, ids)
	// The stale marker resolves to the newest stored state.
	assert.Equal(t, "Paid", states["n3"])
}

func TestTransportSentinelEntriesAreNotDelivered(t *testing.T) {
	_, client := setupRedis(t)
	registry := newTestRegistry(t)

	// First transport created the streams (sentinel entries at position 0).
	first := New(client, registry, testOptions(), nil)
	require.NoError(t, first.Start(context.Background()))
	first.Stop()

	// A fresh group on an existing stream starts past the sentinel, but a
	// redelivered sentinel must still be swallowed.
	opts := testOptions()
	opts.ConsumerGroup = "test:group-2"
	second := New(client, registry, opts, nil)
	require.NoError(t, second.Start(context.Background()))
	t.Cleanup(second.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := second.Receive(ctx)
	require.NoError(t, err)

	_, err = client.XAdd(ctx, &redis.XAddArgs{
		Stream: testDefaultStream,
		Values: map[string]interface{}{fieldInit: "true"},
	}).Result()
	require.NoError(t, err)

	expectNone(t, ch, 300*time.Millisecond)
}

func TestAckAfterShutdownUsesBackgroundDeadline(t *testing.T) {
	_, client := setupRedis(t)
	tr := New(client, newTestRegistry(t), testOptions(), nil)

	ctx := context.Background()
	require.NoError(t, client.XGroupCreateMkStream(ctx, testDefaultStream, tr.opts.ConsumerGroup, "$").Err())

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: testDefaultStream,
		Values: map[string]interface{}{fieldType: "test.event", fieldPayload: "{}"},
	}).Result()
	require.NoError(t, err)

	res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    tr.opts.ConsumerGroup,
		Consumer: tr.opts.ConsumerName,
		Streams:  []string{testDefaultStream, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, res, 1)

	// A shutdown mid-batch cancels the loop context before the handled
	// entry is acked; the ack must still go through.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, tr.ack(cancelled, testDefaultStream, id))

	pending, err := client.XPending(ctx, testDefaultStream, tr.opts.ConsumerGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestTransportStartIsExclusiveAndStopIdempotent(t *testing.T) {
	_, client := setupRedis(t)
	tr := New(client, newTestRegistry(t), testOptions(), nil)

	require.NoError(t, tr.Start(context.Background()))
	require.Error(t, tr.Start(context.Background()), "second start must be rejected")

	tr.Stop()
	tr.Stop() // idempotent
}

func TestTransportPing(t *testing.T) {
	mr, client := setupRedis(t)
	tr := New(client, newTestRegistry(t), testOptions(), nil)

	latency, err := tr.Ping(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, time.Duration(0))

	mr.Close()
	_, err = tr.Ping(context.Background())
	require.Error(t, err)
}
