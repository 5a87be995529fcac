package redisstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Initializer ensures streams and their consumer group exist before the
// read loops start. All attempts share one overall deadline; exhausting the
// retry budget is fatal to startup.
type Initializer struct {
	client *redis.Client
	opts   Options
}

// NewInitializer creates an initializer using the transport options.
func NewInitializer(client *redis.Client, opts Options) *Initializer {
	return &Initializer{client: client, opts: opts.withDefaults()}
}

// EnsureAll ensures the consumer group on every stream and applies the
// configured stream TTL.
func (i *Initializer) EnsureAll(ctx context.Context, streams []string) error {
	ctx, cancel := context.WithTimeout(ctx, i.opts.InitializationTimeout)
	defer cancel()

	for _, stream := range streams {
		if err := i.EnsureConsumerGroup(ctx, stream, i.opts.ConsumerGroup); err != nil {
			return err
		}
		if err := i.SetStreamTTL(ctx, stream, i.opts.StreamTTL); err != nil {
			return err
		}
	}
	return nil
}

// EnsureConsumerGroup creates the stream (via a sentinel entry) and the
// consumer group at the new-messages position. A group that already exists
// is success. Connection and unexpected errors are retried with linear
// backoff up to MaxInitRetries; cancellation aborts immediately.
func (i *Initializer) EnsureConsumerGroup(ctx context.Context, stream, group string) error {
	var lastErr error
	for attempt := 1; attempt <= i.opts.MaxInitRetries; attempt++ {
		lastErr = i.ensureOnce(ctx, stream, group)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &InitError{Stream: stream, Group: group, Err: ctx.Err()}
		}
		if attempt == i.opts.MaxInitRetries {
			// No point sleeping after the last attempt.
			break
		}

		backoff := time.Duration(attempt) * i.opts.RetryDelay
		slog.Warn("Stream initialization failed, retrying",
			"stream", stream,
			"group", group,
			"attempt", attempt,
			"max_retries", i.opts.MaxInitRetries,
			"backoff", backoff,
			"error", lastErr)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &InitError{Stream: stream, Group: group, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return &InitError{Stream: stream, Group: group, Err: lastErr}
}

func (i *Initializer) ensureOnce(ctx context.Context, stream, group string) error {
	exists, err := i.client.Exists(ctx, stream).Result()
	if err != nil {
		return fmt.Errorf("failed to check stream %q: %w", stream, err)
	}
	if exists == 0 {
		// A sentinel entry materializes the stream so the group can attach
		// at the new-messages position. Consumers ack it silently.
		if err := i.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{fieldInit: "true"},
		}).Err(); err != nil {
			return fmt.Errorf("failed to create stream %q: %w", stream, err)
		}
		slog.Debug("Created stream with sentinel entry", "stream", stream)
	}

	err = i.client.XGroupCreate(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %q on %q: %w", group, stream, err)
	}
	return nil
}

// SetStreamTTL applies a key expiry on the stream. No-op when ttl is zero
// or negative.
func (i *Initializer) SetStreamTTL(ctx context.Context, stream string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := i.client.Expire(ctx, stream, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set TTL on stream %q: %w", stream, err)
	}
	return nil
}
