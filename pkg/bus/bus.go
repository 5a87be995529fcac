// Package bus implements the composite notification bus: concurrent emitter
// fan-out across transports, receiver-side stream merging with centralized
// deduplication, and reference-counted shared multicast per tag filter.
package bus

import (
	"context"
	"errors"

	"github.com/codeready-toolchain/relay/pkg/notification"
)

// ErrClosed is returned when operating on a closed bus component.
var ErrClosed = errors.New("bus: closed")

// Emitter pushes notifications into a transport.
type Emitter interface {
	Notify(ctx context.Context, n notification.Notification) error
}

// Receiver exposes a transport's inbound notification stream. The returned
// channel carries notifications matching the tag filter (any-match) and is
// closed when ctx is cancelled or the transport shuts down.
type Receiver interface {
	Receive(ctx context.Context, tags ...string) (<-chan notification.Notification, error)
}

// Transport is a named delivery mechanism usable on both sides of the bus.
type Transport interface {
	Emitter
	Receiver
	Name() string
}
