package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	_ Notification = (*Generic)(nil)
	_ Notification = (*orderStatus)(nil)
)

// Embedding Envelope promotes Env without a field/method name collision, so
// any struct embedding it satisfies Notification.
func TestEnvPromotedThroughEmbedding(t *testing.T) {
	n := &orderStatus{Envelope: Envelope{NotificationID: "n-1", Type: "orders.status"}}

	env := Notification(n).Env()
	assert.Same(t, &n.Envelope, env, "Env must expose the embedded envelope, not a copy")

	env.Message = "updated"
	assert.Equal(t, "updated", n.Message)
}
