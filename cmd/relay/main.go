// Relay notification bus host. Publishes and consumes notifications over
// the in-process and Redis Streams transports and serves the ops HTTP
// endpoints.
//
// Subcommands:
//
//	relay serve   run the full bus with the ops server (default)
//	relay emit    publish sample notifications at a fixed cadence
//	relay listen  subscribe with a tag filter and log notifications
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/relay/pkg/api"
	"github.com/codeready-toolchain/relay/pkg/bus"
	"github.com/codeready-toolchain/relay/pkg/config"
	"github.com/codeready-toolchain/relay/pkg/metrics"
	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/codeready-toolchain/relay/pkg/pipeline"
	"github.com/codeready-toolchain/relay/pkg/transport/memory"
	"github.com/codeready-toolchain/relay/pkg/transport/redisstream"
	"github.com/codeready-toolchain/relay/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveConsumerName determines this process's name within the consumer
// group. Priority: POD_ID env > HOSTNAME env > random suffix.
func resolveConsumerName() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "consumer-" + uuid.NewString()[:8]
}

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "emit":
		err = runEmit(args)
	case "listen":
		err = runListen(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q; expected serve, emit, or listen\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// stack is the shared wiring of every subcommand: configuration, the redis
// client, the type registry with sample and status types, and the two
// transports.
type stack struct {
	cfg      *config.Config
	client   *redis.Client
	registry *notification.Registry
	mem      *memory.Transport
	redis    *redisstream.Transport
	metrics  *metrics.Metrics
}

func buildStack(ctx context.Context, configPath string) (*stack, error) {
	cfg, err := config.Initialize(ctx, configPath)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Addr,
		Password: cfg.Storage.Password,
		DB:       cfg.Storage.DB,
	})

	registry := notification.NewRegistry(cfg.Routing.RegistryOptions(cfg.Storage.DefaultStream))
	if err := registerSampleTypes(registry); err != nil {
		return nil, err
	}
	if err := pipeline.RegisterStatusNotifications(registry); err != nil {
		return nil, err
	}
	if err := cfg.CheckRegistrations(registry); err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	rt := redisstream.New(client, registry, redisstream.Options{
		ConsumerGroup:         cfg.Storage.ConsumerGroup,
		ConsumerName:          resolveConsumerName(),
		BatchSize:             cfg.Performance.BatchSize,
		Block:                 cfg.Performance.XReadGroupBlock,
		ErrorRecoveryDelay:    cfg.Resilience.ErrorRecoveryDelay,
		RetryDelay:            cfg.Resilience.RetryDelay,
		MaxInitRetries:        cfg.Resilience.MaxInitRetries,
		InitializationTimeout: cfg.Performance.InitializationTimeout,
		MessageTTL:            cfg.Storage.MessageTTL,
		StreamTTL:             cfg.Storage.StreamTTL,
		MaxStreamLength:       cfg.Storage.MaxStreamLength,
		ApproximateTrimming:   cfg.Storage.UseApproximateTrimming,
		PublishTimeout:        cfg.Performance.PublishTimeout,
		ChannelCapacity:       cfg.Performance.ChannelCapacity,
	}, m)

	return &stack{
		cfg:      cfg,
		client:   client,
		registry: registry,
		mem:      memory.New(cfg.Performance.ChannelCapacity, m),
		redis:    rt,
		metrics:  m,
	}, nil
}

func (s *stack) receiverOptions() bus.CompositeReceiverOptions {
	return bus.CompositeReceiverOptions{
		ChannelCapacity: s.cfg.Performance.ChannelCapacity,
		Dedup: bus.DedupOptions{
			TTL:                  s.cfg.Bus.DeduplicationTTL,
			MaxEntries:           s.cfg.Bus.MaxDedupCacheSize,
			CompactionPercentage: s.cfg.Bus.CacheCompactionPercentage,
			ScanInterval:         s.cfg.Bus.CacheScanInterval,
		},
	}
}

func (s *stack) close() {
	s.mem.Close()
	if err := s.client.Close(); err != nil {
		slog.Error("Error closing redis client", "error", err)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", getEnv("CONFIG_FILE", ""), "Path to relay.yaml (empty for defaults)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	slog.Info("Starting relay", "version", version.Full())
	ctx := context.Background()

	s, err := buildStack(ctx, *configPath)
	if err != nil {
		return err
	}
	defer s.close()

	// Initialization failure (streams, consumer groups) aborts startup.
	if err := s.redis.Start(ctx); err != nil {
		return fmt.Errorf("failed to start redis transport: %w", err)
	}

	receiver := bus.NewCompositeReceiver(s.receiverOptions(), s.metrics, s.mem, s.redis)

	server := api.NewServer(api.Options{
		Addr:     s.cfg.Server.Addr,
		Pinger:   s.redis,
		Receiver: receiver,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Relay started",
		"addr", s.cfg.Server.Addr,
		"streams", s.registry.Streams())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Ops server error triggered shutdown", "error", err)
	}

	// Staged shutdown: stop accepting HTTP first, then the read loops,
	// then the multicast groups.
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ops server shutdown error", "error", err)
	}

	s.redis.Stop()
	receiver.Close()

	slog.Info("Shutdown complete")
	return nil
}

func runEmit(args []string) error {
	fs := flag.NewFlagSet("emit", flag.ExitOnError)
	configPath := fs.String("config", getEnv("CONFIG_FILE", ""), "Path to relay.yaml (empty for defaults)")
	interval := fs.Duration("interval", 2*time.Second, "Delay between sample notifications")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s, err := buildStack(ctx, *configPath)
	if err != nil {
		return err
	}
	defer s.close()

	emitter := bus.NewCompositeEmitter(s.metrics, s.mem, s.redis)
	slog.Info("Emitting sample notifications", "interval", *interval)

	orderStatuses := []string{"Created", "Paid", "Shipped", "Delivered"}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			slog.Info("Emit stopped")
			return nil
		case <-ticker.C:
		}

		var n notification.Notification
		switch i % 4 {
		case 0:
			n = &OrderStatusNotification{
				Envelope: notification.Envelope{
					Type:    orderStatusType,
					Level:   notification.LevelInfo,
					Message: "order status changed",
					Tags:    []string{"orders"},
				},
				OrderID:  fmt.Sprintf("order-%d", i/16+1),
				Status:   orderStatuses[(i/4)%len(orderStatuses)],
				Sequence: int64(i),
			}
		case 1:
			n = &MetricNotification{
				Envelope: notification.Envelope{
					Type:  metricType,
					Level: notification.LevelDebug,
					Tags:  []string{"metrics"},
				},
				Name:  "queue_depth",
				Value: rand.Float64() * 100,
			}
		case 2:
			n = &LogLineNotification{
				Envelope: notification.Envelope{
					Type:    logLineType,
					Level:   notification.LevelInfo,
					Message: "sample log line",
					Tags:    []string{"logs"},
				},
				Source: "relay-emit",
				Line:   fmt.Sprintf("heartbeat %d", i),
			}
		default:
			// Every fourth tick drives a short sequence through the status
			// notifier instead of emitting a single notification.
			runDemoPipeline(ctx, emitter, i)
			continue
		}

		if err := emitter.Notify(ctx, n); err != nil {
			slog.Error("Failed to emit notification", "type", n.Env().Type, "error", err)
			continue
		}
		slog.Info("Emitted notification",
			"type", n.Env().Type,
			"id", n.Env().NotificationID)
	}
}

// runDemoPipeline executes a short fulfillment sequence whose status
// transitions are published as updateable execution-status notifications,
// so listeners see the snapshot tree advance run by run.
func runDemoPipeline(ctx context.Context, emitter bus.Emitter, run int) {
	type fulfillment struct {
		OrderID string
		Total   float64
	}

	seq := pipeline.NewSequence[fulfillment](fmt.Sprintf("fulfillment-%d", run)).
		Add("reserve-stock", func(_ context.Context, f fulfillment) (fulfillment, error) {
			return f, nil
		}).
		Add("charge", func(_ context.Context, f fulfillment) (fulfillment, error) {
			f.Total = 42.50
			return f, nil
		}).
		Add("dispatch", func(_ context.Context, f fulfillment) (fulfillment, error) {
			return f, nil
		})

	pipeline.NewStatusNotifier(emitter, "pipelines").Watch(ctx, seq.Status())

	if _, err := seq.Execute(ctx, fulfillment{OrderID: fmt.Sprintf("order-%d", run)}); err != nil {
		slog.Warn("Demo pipeline failed", "run", run, "error", err)
	}
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	configPath := fs.String("config", getEnv("CONFIG_FILE", ""), "Path to relay.yaml (empty for defaults)")
	tagsFlag := fs.String("tags", "", "Comma-separated tag filter (any-match; empty receives everything)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var tags []string
	for _, tag := range strings.Split(*tagsFlag, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	s, err := buildStack(ctx, *configPath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.redis.Start(ctx); err != nil {
		return fmt.Errorf("failed to start redis transport: %w", err)
	}
	defer s.redis.Stop()

	receiver := bus.NewCompositeReceiver(s.receiverOptions(), s.metrics, s.mem, s.redis)
	defer receiver.Close()

	notifications, err := receiver.Receive(ctx, tags...)
	if err != nil {
		return err
	}

	slog.Info("Listening for notifications", "tags", tags)
	for n := range notifications {
		env := n.Env()
		slog.Info("Notification received",
			"type", env.Type,
			"id", env.NotificationID,
			"level", env.Level,
			"message", env.Message,
			"tags", env.Tags)
	}
	return nil
}
