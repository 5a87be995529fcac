package config

import (
	"fmt"

	"github.com/codeready-toolchain/relay/pkg/notification"
)

// validate performs structural validation on loaded configuration.
func validate(cfg *Config) error {
	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := validatePerformance(&cfg.Performance); err != nil {
		return err
	}
	if err := validateResilience(&cfg.Resilience); err != nil {
		return err
	}
	if err := validateBus(&cfg.Bus); err != nil {
		return err
	}
	return validateRouting(&cfg.Routing)
}

func validateStorage(s *StorageConfig) error {
	if s.Addr == "" {
		return NewValidationError("storage", "addr", ErrMissingRequiredField)
	}
	if s.DefaultStream == "" {
		return NewValidationError("storage", "default_stream", ErrMissingRequiredField)
	}
	if s.ConsumerGroup == "" {
		return NewValidationError("storage", "consumer_group", ErrMissingRequiredField)
	}
	if s.MessageTTL <= 0 {
		return NewValidationError("storage", "message_ttl", fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, s.MessageTTL))
	}
	if s.StreamTTL < 0 {
		return NewValidationError("storage", "stream_ttl", fmt.Errorf("%w: must not be negative, got %s", ErrInvalidValue, s.StreamTTL))
	}
	if s.MaxStreamLength <= 0 {
		return NewValidationError("storage", "max_stream_length", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, s.MaxStreamLength))
	}
	return nil
}

func validatePerformance(p *PerformanceConfig) error {
	if p.ChannelCapacity <= 0 {
		return NewValidationError("performance", "channel_capacity", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, p.ChannelCapacity))
	}
	if p.XReadGroupBlock <= 0 {
		return NewValidationError("performance", "xreadgroup_block", fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, p.XReadGroupBlock))
	}
	if p.InitializationTimeout <= 0 {
		return NewValidationError("performance", "initialization_timeout", fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, p.InitializationTimeout))
	}
	if p.BatchSize <= 0 {
		return NewValidationError("performance", "batch_size", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, p.BatchSize))
	}
	if p.PublishTimeout <= 0 {
		return NewValidationError("performance", "publish_timeout", fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, p.PublishTimeout))
	}
	return nil
}

func validateResilience(r *ResilienceConfig) error {
	if r.ErrorRecoveryDelay <= 0 {
		return NewValidationError("resilience", "error_recovery_delay", fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, r.ErrorRecoveryDelay))
	}
	if r.RetryDelay <= 0 {
		return NewValidationError("resilience", "retry_delay", fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, r.RetryDelay))
	}
	if r.MaxInitRetries < 1 {
		return NewValidationError("resilience", "max_init_retries", fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, r.MaxInitRetries))
	}
	return nil
}

func validateBus(b *BusConfig) error {
	if b.DeduplicationTTL <= 0 {
		return NewValidationError("bus", "deduplication_ttl", fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, b.DeduplicationTTL))
	}
	if b.MaxDedupCacheSize <= 0 {
		return NewValidationError("bus", "max_dedup_cache_size", fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, b.MaxDedupCacheSize))
	}
	if b.CacheCompactionPercentage <= 0 || b.CacheCompactionPercentage > 1 {
		return NewValidationError("bus", "cache_compaction_percentage", fmt.Errorf("%w: must be in (0, 1], got %g", ErrInvalidValue, b.CacheCompactionPercentage))
	}
	if b.CacheScanInterval <= 0 {
		return NewValidationError("bus", "cache_scan_interval", fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, b.CacheScanInterval))
	}
	return nil
}

func validateRouting(r *RoutingConfig) error {
	for tag, stream := range r.TypeToStream {
		if tag == "" {
			return NewValidationError("routing", "type_to_stream", fmt.Errorf("%w: empty type tag", ErrInvalidValue))
		}
		if stream == "" {
			return NewValidationError("routing", "type_to_stream", fmt.Errorf("%w: type %q maps to an empty stream", ErrInvalidValue, tag))
		}
	}

	streamOnly := make(map[string]bool, len(r.StreamOnlyTypes))
	for _, tag := range r.StreamOnlyTypes {
		if tag == "" {
			return NewValidationError("routing", "stream_only_types", fmt.Errorf("%w: empty type tag", ErrInvalidValue))
		}
		streamOnly[tag] = true
	}

	// A type cannot be both stream-only and updateable: the two storage
	// modes are mutually exclusive.
	for _, tag := range r.UpdateableTypes {
		if tag == "" {
			return NewValidationError("routing", "updateable_types", fmt.Errorf("%w: empty type tag", ErrInvalidValue))
		}
		if streamOnly[tag] {
			return NewValidationError("routing", "updateable_types", fmt.Errorf("%w: type %q is also stream-only", ErrInvalidValue, tag))
		}
	}
	return nil
}

// CheckRegistrations verifies that every type the routing section names as
// updateable was actually registered with an updateable strategy. Called
// by the host after code registration, before the bus starts.
func (c *Config) CheckRegistrations(r *notification.Registry) error {
	for _, tag := range c.Routing.UpdateableTypes {
		if _, ok := r.Updateable(tag); !ok {
			return NewValidationError("routing", "updateable_types", fmt.Errorf("%w: %q", ErrUnregisteredType, tag))
		}
	}
	return nil
}
