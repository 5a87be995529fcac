package main

import (
	"fmt"

	"github.com/codeready-toolchain/relay/pkg/notification"
)

// Sample notification types used by the emit subcommand to demonstrate the
// three storage modes: updateable (order status), stream-only (metric
// sample), and default (log line).
const (
	orderStatusType = "relay.sample.order-status"
	metricType      = "relay.sample.metric"
	logLineType     = "relay.sample.log"
)

// OrderStatusNotification tracks an order through its lifecycle. Updateable:
// only the latest status per order survives in storage, gated by Sequence.
type OrderStatusNotification struct {
	notification.Envelope
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	Sequence int64  `json:"sequence"`
}

// MetricNotification is a high-frequency measurement. Stream-only: the
// payload travels inline in the stream entry, no companion key.
type MetricNotification struct {
	notification.Envelope
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// LogLineNotification is a plain event using default storage.
type LogLineNotification struct {
	notification.Envelope
	Source string `json:"source"`
	Line   string `json:"line"`
}

func registerSampleTypes(r *notification.Registry) error {
	err := r.RegisterUpdateable(orderStatusType,
		notification.DecodeJSON[OrderStatusNotification](),
		notification.UpdateableConfig{
			UpdateKey: func(n notification.Notification) string {
				o := n.(*OrderStatusNotification)
				if o.OrderID == "" {
					return ""
				}
				return "orders:" + o.OrderID
			},
			Sequence: func(n notification.Notification) (int64, bool) {
				return n.(*OrderStatusNotification).Sequence, true
			},
		})
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", orderStatusType, err)
	}

	if err := r.Register(metricType, notification.DecodeJSON[MetricNotification]()); err != nil {
		return fmt.Errorf("failed to register %s: %w", metricType, err)
	}
	if err := r.Register(logLineType, notification.DecodeJSON[LogLineNotification]()); err != nil {
		return fmt.Errorf("failed to register %s: %w", logLineType, err)
	}
	return nil
}
