// Package config loads and validates the relay configuration: a single
// YAML file with environment expansion, merged over built-in defaults.
package config

import (
	"time"

	"github.com/codeready-toolchain/relay/pkg/notification"
)

// Config is the complete relay configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Performance PerformanceConfig `yaml:"performance"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Bus         BusConfig         `yaml:"bus"`
	Routing     RoutingConfig     `yaml:"routing"`
	Server      ServerConfig      `yaml:"server"`
}

// StorageConfig holds Redis connection and stream-storage settings.
type StorageConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	DefaultStream string `yaml:"default_stream"`
	ConsumerGroup string `yaml:"consumer_group"`

	// MessageTTL bounds companion keys holding notification payloads.
	MessageTTL time.Duration `yaml:"message_ttl"`

	// StreamTTL expires whole streams after inactivity; zero disables.
	StreamTTL time.Duration `yaml:"stream_ttl"`

	// MaxStreamLength caps each stream via MAXLEN trimming.
	MaxStreamLength int64 `yaml:"max_stream_length"`

	// UseApproximateTrimming trades exact MAXLEN for cheaper ~MAXLEN.
	UseApproximateTrimming bool `yaml:"use_approximate_trimming"`
}

// PerformanceConfig holds throughput and latency tunables.
type PerformanceConfig struct {
	ChannelCapacity       int           `yaml:"channel_capacity"`
	XReadGroupBlock       time.Duration `yaml:"xreadgroup_block"`
	InitializationTimeout time.Duration `yaml:"initialization_timeout"`
	BatchSize             int64         `yaml:"batch_size"`
	PublishTimeout        time.Duration `yaml:"publish_timeout"`
}

// ResilienceConfig holds retry and recovery behavior.
type ResilienceConfig struct {
	ErrorRecoveryDelay time.Duration `yaml:"error_recovery_delay"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	MaxInitRetries     int           `yaml:"max_init_retries"`
}

// BusConfig holds receiver-side deduplication settings.
type BusConfig struct {
	DeduplicationTTL          time.Duration `yaml:"deduplication_ttl"`
	MaxDedupCacheSize         int           `yaml:"max_dedup_cache_size"`
	CacheCompactionPercentage float64       `yaml:"cache_compaction_percentage"`
	CacheScanInterval         time.Duration `yaml:"cache_scan_interval"`
}

// RoutingConfig maps notification types to streams and storage modes.
// Decoders and updateable extractors are registered in code; the type
// lists here exist so validation can fail fast on a type nobody
// registered.
type RoutingConfig struct {
	TypeToStream    map[string]string `yaml:"type_to_stream"`
	StreamOnlyTypes []string          `yaml:"stream_only_types"`
	UpdateableTypes []string          `yaml:"updateable_types"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration. User YAML is merged on top
// of these values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Addr:            "localhost:6379",
			DefaultStream:   "notifications:stream:default",
			ConsumerGroup:   "notifications:processors",
			MessageTTL:      time.Hour,
			StreamTTL:       24 * time.Hour,
			MaxStreamLength: 10000,
		},
		Performance: PerformanceConfig{
			ChannelCapacity:       20000,
			XReadGroupBlock:       5 * time.Second,
			InitializationTimeout: 30 * time.Second,
			BatchSize:             64,
			PublishTimeout:        5 * time.Second,
		},
		Resilience: ResilienceConfig{
			ErrorRecoveryDelay: 3 * time.Second,
			RetryDelay:         5 * time.Second,
			MaxInitRetries:     5,
		},
		Bus: BusConfig{
			DeduplicationTTL:          10 * time.Minute,
			MaxDedupCacheSize:         10000,
			CacheCompactionPercentage: 0.25,
			CacheScanInterval:         time.Minute,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// RegistryOptions converts the routing section into registry construction
// options.
func (r RoutingConfig) RegistryOptions(defaultStream string) notification.RegistryOptions {
	return notification.RegistryOptions{
		DefaultStream:   defaultStream,
		TypeToStream:    r.TypeToStream,
		StreamOnlyTypes: r.StreamOnlyTypes,
	}
}
