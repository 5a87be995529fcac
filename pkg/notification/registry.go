package notification

import (
	"encoding/json"
	"fmt"
)

// Decoder turns a raw JSON payload into a concrete notification.
type Decoder func(payload []byte) (Notification, error)

// DecodeJSON returns a Decoder that unmarshals payloads into T.
func DecodeJSON[T any, PT interface {
	*T
	Notification
}]() Decoder {
	return func(payload []byte) (Notification, error) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
		return PT(&v), nil
	}
}

// UpdateableConfig describes how an updateable type maps to its storage key
// and optional ordering sequence.
type UpdateableConfig struct {
	// UpdateKey returns the storage key that holds the latest payload for
	// the notification. An empty key falls back to default storage.
	UpdateKey func(Notification) string

	// Sequence returns the notification's ordering sequence. ok=false means
	// the type is not sequence-gated and the last writer wins.
	Sequence func(Notification) (seq int64, ok bool)
}

// RegistryOptions configures stream routing for a Registry.
type RegistryOptions struct {
	// DefaultStream receives every type without an explicit mapping.
	DefaultStream string

	// TypeToStream maps type tags to the stream that stores them.
	TypeToStream map[string]string

	// StreamOnlyTypes are stored exclusively as stream entries, never under
	// a companion key.
	StreamOnlyTypes []string
}

// Registry resolves type tags to decoders and routes types to streams.
//
// All registration happens during startup, before the bus starts moving
// notifications; afterwards the registry is read-only and all lookups are
// lock-free.
type Registry struct {
	defaultStream string
	streams       map[string]string
	streamOnly    map[string]bool
	decoders      map[string]Decoder
	updateable    map[string]UpdateableConfig
}

// NewRegistry builds a registry from routing options.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		defaultStream: opts.DefaultStream,
		streams:       make(map[string]string, len(opts.TypeToStream)),
		streamOnly:    make(map[string]bool, len(opts.StreamOnlyTypes)),
		decoders:      make(map[string]Decoder),
		updateable:    make(map[string]UpdateableConfig),
	}
	for tag, stream := range opts.TypeToStream {
		r.streams[tag] = stream
	}
	for _, tag := range opts.StreamOnlyTypes {
		r.streamOnly[tag] = true
	}
	return r
}

// Register adds a decoder for a type tag.
func (r *Registry) Register(tag string, dec Decoder) error {
	if tag == "" {
		return fmt.Errorf("%w: empty type tag", ErrInvalidType)
	}
	if dec == nil {
		return fmt.Errorf("%w: nil decoder for type %q", ErrInvalidType, tag)
	}
	if _, exists := r.decoders[tag]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateType, tag)
	}
	r.decoders[tag] = dec
	return nil
}

// RegisterUpdateable adds a decoder for a type whose latest state is kept
// under a stable key. The config's UpdateKey extractor is required.
func (r *Registry) RegisterUpdateable(tag string, dec Decoder, cfg UpdateableConfig) error {
	if cfg.UpdateKey == nil {
		return fmt.Errorf("%w: updateable type %q needs an UpdateKey extractor", ErrInvalidType, tag)
	}
	if r.streamOnly[tag] {
		return fmt.Errorf("%w: %q is stream-only and cannot be updateable", ErrInvalidType, tag)
	}
	if err := r.Register(tag, dec); err != nil {
		return err
	}
	r.updateable[tag] = cfg
	return nil
}

// StreamFor returns the stream that stores the given type tag, falling back
// to the default stream for unmapped types.
func (r *Registry) StreamFor(tag string) string {
	if stream, ok := r.streams[tag]; ok {
		return stream
	}
	return r.defaultStream
}

// StreamOnly reports whether the type is stored as stream entries only.
func (r *Registry) StreamOnly(tag string) bool {
	return r.streamOnly[tag]
}

// Updateable returns the updateable strategy for the type, if registered.
func (r *Registry) Updateable(tag string) (UpdateableConfig, bool) {
	cfg, ok := r.updateable[tag]
	return cfg, ok
}

// Registered reports whether a decoder exists for the exact tag.
func (r *Registry) Registered(tag string) bool {
	_, ok := r.decoders[tag]
	return ok
}

// Streams returns the distinct streams the registry routes to, default
// stream included. Every stream a receiver must consume appears here.
func (r *Registry) Streams() []string {
	seen := map[string]bool{}
	var streams []string
	if r.defaultStream != "" && !seen[r.defaultStream] {
		seen[r.defaultStream] = true
		streams = append(streams, r.defaultStream)
	}
	for _, stream := range r.streams {
		if !seen[stream] {
			seen[stream] = true
			streams = append(streams, stream)
		}
	}
	return streams
}

// DefaultStream returns the stream used for unmapped types.
func (r *Registry) DefaultStream() string { return r.defaultStream }
