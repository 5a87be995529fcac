// Package redisstream implements the durable bus transport on Redis
// Streams: per-type stream routing with updateable (key-overwriting) and
// stream-only storage modes on the publish side, and consumer-group read
// loops with ack and error recovery on the receive side.
package redisstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/relay/pkg/bus"
	"github.com/codeready-toolchain/relay/pkg/metrics"
	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBatchSize             = 64
	defaultBlock                 = 5 * time.Second
	defaultErrorRecoveryDelay    = 3 * time.Second
	defaultRetryDelay            = 5 * time.Second
	defaultMaxInitRetries        = 5
	defaultInitializationTimeout = 30 * time.Second
	defaultMessageTTL            = time.Hour
	defaultMaxStreamLength       = 10_000
	defaultPublishTimeout        = 5 * time.Second
	defaultChannelCapacity       = 20_000
)

// Options configures the Redis Streams transport. Zero values take the
// defaults above.
type Options struct {
	// ConsumerGroup is the shared cursor name; each entry is delivered to
	// exactly one consumer within the group.
	ConsumerGroup string

	// ConsumerName identifies this process within the group.
	ConsumerName string

	// BatchSize is the maximum entries fetched per XREADGROUP.
	BatchSize int64

	// Block is the XREADGROUP blocking timeout.
	Block time.Duration

	// ErrorRecoveryDelay is the wait before a read loop reconnects after
	// an error.
	ErrorRecoveryDelay time.Duration

	// RetryDelay is the single-retry delay of the publish retry policy and
	// the base of the initializer's linear backoff.
	RetryDelay time.Duration

	// MaxInitRetries bounds stream/consumer-group initialization attempts.
	MaxInitRetries int

	// InitializationTimeout is the overall deadline for EnsureAll.
	InitializationTimeout time.Duration

	// MessageTTL is the expiry of companion payload keys.
	MessageTTL time.Duration

	// StreamTTL is the expiry refreshed on the stream key after every
	// append. Zero or negative disables it.
	StreamTTL time.Duration

	// MaxStreamLength is the MAXLEN trim target applied on append.
	MaxStreamLength int64

	// ApproximateTrimming uses MAXLEN ~ instead of exact trimming.
	ApproximateTrimming bool

	// PublishTimeout bounds a single Publish call.
	PublishTimeout time.Duration

	// ChannelCapacity is the buffer of the local subscriber channels.
	ChannelCapacity int
}

func (o Options) withDefaults() Options {
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = "notifications:processors"
	}
	if o.ConsumerName == "" {
		o.ConsumerName = "consumer-local"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Block <= 0 {
		o.Block = defaultBlock
	}
	if o.ErrorRecoveryDelay <= 0 {
		o.ErrorRecoveryDelay = defaultErrorRecoveryDelay
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.MaxInitRetries <= 0 {
		o.MaxInitRetries = defaultMaxInitRetries
	}
	if o.InitializationTimeout <= 0 {
		o.InitializationTimeout = defaultInitializationTimeout
	}
	if o.MessageTTL <= 0 {
		o.MessageTTL = defaultMessageTTL
	}
	if o.MaxStreamLength <= 0 {
		o.MaxStreamLength = defaultMaxStreamLength
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = defaultPublishTimeout
	}
	if o.ChannelCapacity <= 0 {
		o.ChannelCapacity = defaultChannelCapacity
	}
	return o
}

// Transport is the durable bus transport. Notify publishes to Redis
// Streams; Receive subscribes to the local subject fed by the consumer
// read loops, one per configured stream.
type Transport struct {
	client    *redis.Client
	registry  *notification.Registry
	opts      Options
	publisher *Publisher
	init      *Initializer
	subject   *bus.Subject
	metrics   *metrics.Metrics

	running atomic.Bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates the transport. The redis client is shared and multiplexed;
// it is owned by the caller and must outlive the transport.
func New(client *redis.Client, registry *notification.Registry, opts Options, m *metrics.Metrics) *Transport {
	opts = opts.withDefaults()
	return &Transport{
		client:    client,
		registry:  registry,
		opts:      opts,
		publisher: NewPublisher(client, registry, opts, m),
		init:      NewInitializer(client, opts),
		subject:   bus.NewSubject(opts.ChannelCapacity, m),
		metrics:   m,
		quit:      make(chan struct{}),
	}
}

// Name implements bus.Transport.
func (t *Transport) Name() string { return "redis" }

// Notify implements bus.Emitter by publishing to the stream that stores
// the notification's type.
func (t *Transport) Notify(ctx context.Context, n notification.Notification) error {
	return t.publisher.Publish(ctx, n)
}

// Receive implements bus.Receiver with a cold subscription to the local
// subject. Entities appear once the read loops are started.
func (t *Transport) Receive(ctx context.Context, tags ...string) (<-chan notification.Notification, error) {
	return t.subject.Subscribe(ctx, tags...)
}

// Start initializes every configured stream and consumer group, then
// launches one read loop per stream. It fails fast when initialization
// exhausts its retries.
func (t *Transport) Start(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("redisstream: transport already started")
	}
	t.quit = make(chan struct{})

	streams := t.registry.Streams()
	if err := t.init.EnsureAll(ctx, streams); err != nil {
		t.running.Store(false)
		return err
	}

	for _, stream := range streams {
		t.wg.Add(1)
		go t.readLoop(ctx, stream)
	}
	slog.Info("Redis stream transport started",
		"streams", streams,
		"group", t.opts.ConsumerGroup,
		"consumer", t.opts.ConsumerName)
	return nil
}

// Stop terminates the read loops and closes the local subject. Idempotent.
func (t *Transport) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}
	close(t.quit)
	t.wg.Wait()
	t.subject.Close()
	slog.Info("Redis stream transport stopped")
}

// Ping measures storage round-trip latency for health probes.
func (t *Transport) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := t.client.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
