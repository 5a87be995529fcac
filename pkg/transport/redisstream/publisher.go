package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/codeready-toolchain/relay/pkg/metrics"
	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/redis/go-redis/v9"
)

// sequenceGatedSet writes the companion key only when the new sequence is
// greater than the last observed one for that key, so out-of-order updates
// never overwrite newer state. The sequence lives next to the payload under
// the same TTL. ARGV[3] is the TTL in milliseconds, 0 meaning no expiry.
var sequenceGatedSet = redis.NewScript(`
local last = redis.call('GET', KEYS[2])
if last and tonumber(last) >= tonumber(ARGV[2]) then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// Publisher writes notifications to Redis. Storage mode depends on the
// registry entry for the notification's type:
//
//   - updateable: the payload overwrites a stable companion key (gated by
//     sequence when the type configures one) and the stream carries a
//     marker entry referencing the key;
//   - stream-only: the payload travels in the stream entry itself;
//   - default: a fresh companion key per notification plus a marker entry.
type Publisher struct {
	client   *redis.Client
	registry *notification.Registry
	opts     Options
	retry    *RetryPolicy
	metrics  *metrics.Metrics
}

// NewPublisher creates a publisher using the transport options.
func NewPublisher(client *redis.Client, registry *notification.Registry, opts Options, m *metrics.Metrics) *Publisher {
	opts = opts.withDefaults()
	return &Publisher{
		client:   client,
		registry: registry,
		opts:     opts,
		retry:    NewRetryPolicy(opts.RetryDelay, m.IncPublishRetry),
		metrics:  m,
	}
}

// Publish stores n and appends its stream entry, bounded by the publish
// timeout. Transient connection errors are retried once; persistent errors
// surface to the caller.
func (p *Publisher) Publish(ctx context.Context, n notification.Notification) error {
	start := time.Now()
	defer func() {
		p.metrics.ObservePublish(time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, p.opts.PublishTimeout)
	defer cancel()

	env := n.Env()
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to serialize notification %s: %w", env.NotificationID, err)
	}
	stream := p.registry.StreamFor(env.Type)

	fields := map[string]interface{}{
		fieldType:           env.Type,
		fieldNotificationID: env.NotificationID,
		fieldTimestamp:      env.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	return p.retry.Execute(ctx, "publish", func(ctx context.Context) error {
		if err := p.store(ctx, stream, n, payload, fields); err != nil {
			return err
		}
		return p.append(ctx, stream, fields)
	})
}

// store performs the storage-mode write and fills the mode-dependent
// stream entry fields.
func (p *Publisher) store(ctx context.Context, stream string, n notification.Notification, payload []byte, fields map[string]interface{}) error {
	env := n.Env()

	if cfg, ok := p.registry.Updateable(env.Type); ok {
		if key := cfg.UpdateKey(n); key != "" {
			fields[fieldUpdateKey] = key
			if cfg.Sequence != nil {
				if seq, ok := cfg.Sequence(n); ok {
					fields[fieldSequence] = strconv.FormatInt(seq, 10)
					return p.writeSequenced(ctx, key, payload, seq)
				}
			}
			return p.writeKey(ctx, key, payload)
		}
		// An empty update key falls back to default storage.
	}

	if p.registry.StreamOnly(env.Type) {
		fields[fieldPayload] = string(payload)
		return nil
	}

	key := stream + ":msg:" + env.NotificationID
	fields[fieldUpdateKey] = key
	return p.writeKey(ctx, key, payload)
}

func (p *Publisher) writeKey(ctx context.Context, key string, payload []byte) error {
	if err := p.client.Set(ctx, key, payload, p.opts.MessageTTL).Err(); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// writeSequenced drops writes whose sequence is not newer than the last
// one observed for the key. The dropped write still gets its stream marker
// so subscribers observe the notification.
func (p *Publisher) writeSequenced(ctx context.Context, key string, payload []byte, seq int64) error {
	written, err := sequenceGatedSet.Run(ctx, p.client,
		[]string{key, key + ":seq"},
		payload, seq, p.opts.MessageTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to write sequenced key %q: %w", key, err)
	}
	if written == 0 {
		slog.Debug("Dropped stale sequenced write",
			"key", key,
			"sequence", seq)
	}
	return nil
}

// append adds the stream entry with MAXLEN trimming and refreshes the
// stream TTL.
func (p *Publisher) append(ctx context.Context, stream string, fields map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.opts.MaxStreamLength,
		Approx: p.opts.ApproximateTrimming,
		Values: fields,
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to stream %q: %w", stream, err)
	}
	if p.opts.StreamTTL > 0 {
		if err := p.client.Expire(ctx, stream, p.opts.StreamTTL).Err(); err != nil {
			return fmt.Errorf("failed to refresh TTL on stream %q: %w", stream, err)
		}
	}
	return nil
}
