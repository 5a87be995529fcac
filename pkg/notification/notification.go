// Package notification defines the envelope every bus message carries, the
// type registry that routes notification types to streams, and the resolver
// that turns wire payloads back into typed notifications.
package notification

import (
	"encoding/json"
	"time"
)

// Level is the severity attached to a notification.
type Level string

const (
	LevelTrace    Level = "trace"
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Notification is implemented by every message that travels on the bus.
// Concrete types embed Envelope so metadata and payload fields flatten into
// a single JSON object on the wire. The accessor is deliberately not named
// after the embedded field: a field named Envelope would shadow a promoted
// Envelope method and break interface satisfaction.
type Notification interface {
	Env() *Envelope
}

// Envelope is the mandatory metadata of a notification.
//
// NotificationID is the deduplication key: it must be non-empty and stable
// across transports for the same logical event. The composite emitter
// assigns it (and Timestamp) when the producer left them unset; after that
// the notification is treated as immutable.
type Envelope struct {
	NotificationID string    `json:"notificationId"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"notificationType"`
	GroupID        string    `json:"groupId,omitempty"`
	Level          Level     `json:"level,omitempty"`
	Message        string    `json:"message,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
}

// Env returns the envelope itself so embedding satisfies Notification.
func (e *Envelope) Env() *Envelope { return e }

// HasAnyTag reports whether the envelope carries at least one of the given
// tags. An empty filter matches every notification.
func (e *Envelope) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range e.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Generic is the fallback notification produced when a type tag cannot be
// resolved to a registered decoder. The envelope fields are recovered from
// the raw payload where possible and the payload itself is preserved under
// Data for inspection.
type Generic struct {
	Envelope
	Data json.RawMessage `json:"data,omitempty"`
}
