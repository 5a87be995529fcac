package redisstream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// readLoop consumes one stream on behalf of the consumer group until the
// transport stops. Every fetched entry is acked, decode failures included;
// duplicates produced by redelivery are collapsed by the bus dedup layer.
func (t *Transport) readLoop(ctx context.Context, stream string) {
	defer t.wg.Done()
	log := slog.With("stream", stream, "group", t.opts.ConsumerGroup, "consumer", t.opts.ConsumerName)
	log.Debug("Read loop started")

	for {
		select {
		case <-t.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		res, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.opts.ConsumerGroup,
			Consumer: t.opts.ConsumerName,
			Streams:  []string{stream, ">"},
			Count:    t.opts.BatchSize,
			Block:    t.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // empty poll
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("Stream read failed, recovering",
				"recovery_delay", t.opts.ErrorRecoveryDelay,
				"error", err)
			t.metrics.IncReconnect()
			select {
			case <-t.quit:
				return
			case <-ctx.Done():
				return
			case <-time.After(t.opts.ErrorRecoveryDelay):
			}
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				t.handleEntry(ctx, stream, msg)
				if err := t.ack(ctx, stream, msg.ID); err != nil {
					log.Warn("Failed to ack stream entry", "entry_id", msg.ID, "error", err)
				}
			}
		}
	}
}

// ack acknowledges one fetched entry. A shutdown mid-batch still acks what
// was handled: the loop context is already cancelled then, so the ack runs
// on a short background deadline instead.
func (t *Transport) ack(ctx context.Context, stream, id string) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	return t.client.XAck(ctx, stream, t.opts.ConsumerGroup, id).Err()
}

// handleEntry decodes one stream record and publishes the resulting entity
// to the local subject. Failures are logged with the raw field values for
// operator inspection and never crash the loop; the caller acks regardless.
func (t *Transport) handleEntry(ctx context.Context, stream string, msg redis.XMessage) {
	log := slog.With("stream", stream, "entry_id", msg.ID)

	e, err := parseEntry(msg.Values)
	if err != nil {
		log.Error("Discarding undecodable stream entry", "values", msg.Values, "error", err)
		t.metrics.IncDecodeFailure()
		return
	}
	if e.Init {
		return // stream creation sentinel
	}

	payload := e.Payload
	if len(payload) == 0 && e.UpdateKey != "" {
		payload, err = t.client.Get(ctx, e.UpdateKey).Bytes()
		if err != nil {
			// A missing companion key (expired or never written) is a
			// decode failure; the entry is still acked.
			log.Error("Failed to fetch companion key for stream entry",
				"update_key", e.UpdateKey,
				"values", msg.Values,
				"error", err)
			t.metrics.IncDecodeFailure()
			return
		}
	}

	n, err := t.registry.Resolve(e.Type)(payload)
	if err != nil {
		log.Error("Discarding undecodable payload",
			"type", e.Type,
			"payload", string(payload),
			"error", err)
		t.metrics.IncDecodeFailure()
		return
	}

	// The entry identifies the logical event. For updateable types the
	// companion key may already hold a newer payload than the entry that
	// referenced it, so the entry's id and timestamp win over the
	// payload's; each appended entry surfaces as its own notification.
	env := n.Env()
	if e.NotificationID != "" {
		env.NotificationID = e.NotificationID
	}
	if !e.Timestamp.IsZero() {
		env.Timestamp = e.Timestamp
	}
	if env.Type == "" {
		env.Type = e.Type
	}

	t.subject.Publish(n)
}
