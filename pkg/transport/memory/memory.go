// Package memory provides the in-process transport: a hot broadcast subject
// with tag filtering and no persistence.
package memory

import (
	"context"

	"github.com/codeready-toolchain/relay/pkg/bus"
	"github.com/codeready-toolchain/relay/pkg/metrics"
	"github.com/codeready-toolchain/relay/pkg/notification"
)

// Transport delivers notifications within the local process. Emit is
// non-blocking; subscribers that cannot keep up miss notifications.
type Transport struct {
	subject *bus.Subject
}

// New creates an in-process transport whose subscriber channels buffer up
// to capacity notifications.
func New(capacity int, m *metrics.Metrics) *Transport {
	return &Transport{subject: bus.NewSubject(capacity, m)}
}

// Name implements bus.Transport.
func (t *Transport) Name() string { return "memory" }

// Notify publishes n to all matching local subscribers. The subject never
// blocks, so ctx only short-circuits an already-cancelled call.
func (t *Transport) Notify(ctx context.Context, n notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.subject.Publish(n)
	return nil
}

// Receive subscribes to the local stream with an optional tag filter.
func (t *Transport) Receive(ctx context.Context, tags ...string) (<-chan notification.Notification, error) {
	return t.subject.Subscribe(ctx, tags...)
}

// Close drops all subscribers. Further Notify calls are no-ops.
func (t *Transport) Close() {
	t.subject.Close()
}
