package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/relay/pkg/metrics"
	"github.com/codeready-toolchain/relay/pkg/notification"
	"github.com/google/uuid"
)

// CompositeEmitter fans notifications out to every transport concurrently.
type CompositeEmitter struct {
	transports []Transport
	metrics    *metrics.Metrics
}

// NewCompositeEmitter creates an emitter over the given transports. The
// transports are dispatched in parallel on every Notify; their order only
// determines error reporting order.
func NewCompositeEmitter(m *metrics.Metrics, transports ...Transport) *CompositeEmitter {
	return &CompositeEmitter{
		transports: transports,
		metrics:    m,
	}
}

// Notify assigns missing identity fields (notification id, timestamp) and
// dispatches n to all transports concurrently. It waits for every transport
// to acknowledge handoff or fail; per-transport failures are wrapped with
// the transport name and joined, and one failure never suppresses dispatch
// to the others. Cancelling ctx aborts outstanding dispatches.
func (e *CompositeEmitter) Notify(ctx context.Context, n notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := n.Env()
	if env.NotificationID == "" {
		env.NotificationID = uuid.New().String()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	errs := make([]error, len(e.transports))
	var wg sync.WaitGroup
	for i, tr := range e.transports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Notify(ctx, n); err != nil {
				errs[i] = fmt.Errorf("transport %s: %w", tr.Name(), err)
				return
			}
			e.metrics.IncEmitted(tr.Name())
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
