package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/codeready-toolchain/relay/pkg/bus"
	"github.com/codeready-toolchain/relay/pkg/notification"
)

// StatusNotificationType is the type tag of execution-status updates on
// the bus.
const StatusNotificationType = "relay.execution.status"

// StatusNotification carries an execution-status snapshot on the bus. It
// is an updateable type: the durable transport keeps only the latest
// snapshot per execution root under a stable key, gated by Sequence.
type StatusNotification struct {
	notification.Envelope
	Status   *StatusSnapshot `json:"status"`
	Sequence int64           `json:"sequence"`
}

// RegisterStatusNotifications wires the StatusNotification type into a
// registry: one companion key per execution root, newest snapshot wins.
func RegisterStatusNotifications(r *notification.Registry) error {
	return r.RegisterUpdateable(StatusNotificationType,
		notification.DecodeJSON[StatusNotification](),
		notification.UpdateableConfig{
			UpdateKey: func(n notification.Notification) string {
				sn := n.(*StatusNotification)
				if sn.Status == nil {
					return ""
				}
				return "exec:status:" + sn.Status.ID
			},
			Sequence: func(n notification.Notification) (int64, bool) {
				return n.(*StatusNotification).Sequence, true
			},
		})
}

// StatusNotifier publishes every status-tree transition as a bus
// notification. Emission is fire-and-forget: a failed emit is logged, not
// propagated into the execution.
type StatusNotifier struct {
	emitter bus.Emitter
	tags    []string
	seq     atomic.Int64
}

// NewStatusNotifier creates a notifier emitting with the given tags.
func NewStatusNotifier(emitter bus.Emitter, tags ...string) *StatusNotifier {
	return &StatusNotifier{emitter: emitter, tags: tags}
}

// Watch subscribes the notifier to a status tree. Call before the
// execution starts so no transition is missed; ctx bounds each emission.
func (sn *StatusNotifier) Watch(ctx context.Context, status *ExecutionStatus) {
	status.OnChange(func(snap *StatusSnapshot) {
		n := &StatusNotification{
			Envelope: notification.Envelope{
				Type:    StatusNotificationType,
				GroupID: snap.ID,
				Level:   notification.LevelInfo,
				Message: snap.Name + ": " + string(snap.State),
				Tags:    sn.tags,
			},
			Status:   snap,
			Sequence: sn.seq.Add(1),
		}
		if err := sn.emitter.Notify(ctx, n); err != nil {
			slog.Warn("Failed to emit execution status update",
				"execution", snap.ID,
				"state", snap.State,
				"error", err)
		}
	})
}
