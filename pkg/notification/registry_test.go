package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderStatus struct {
	Envelope
	OrderID  string `json:"orderId"`
	Sequence int64  `json:"sequence"`
	State    string `json:"state"`
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(RegistryOptions{
		DefaultStream: "notifications:stream:default",
		TypeToStream: map[string]string{
			"orders.status": "notifications:stream:orders",
		},
		StreamOnlyTypes: []string{"metrics.sample"},
	})
	err := r.RegisterUpdateable("orders.status", DecodeJSON[orderStatus](), UpdateableConfig{
		UpdateKey: func(n Notification) string {
			return "orders:" + n.(*orderStatus).OrderID
		},
		Sequence: func(n Notification) (int64, bool) {
			return n.(*orderStatus).Sequence, true
		},
	})
	require.NoError(t, err)
	return r
}

func TestRegistryRouting(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		tag  string
		want string
	}{
		{name: "explicit mapping", tag: "orders.status", want: "notifications:stream:orders"},
		{name: "unmapped type uses default", tag: "metrics.sample", want: "notifications:stream:default"},
		{name: "unknown type uses default", tag: "no.such.type", want: "notifications:stream:default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.StreamFor(tt.tag))
		})
	}
}

func TestRegistryStreamOnly(t *testing.T) {
	r := newTestRegistry(t)

	assert.True(t, r.StreamOnly("metrics.sample"))
	assert.False(t, r.StreamOnly("orders.status"))
	assert.False(t, r.StreamOnly("no.such.type"))
}

func TestRegistryUpdateable(t *testing.T) {
	r := newTestRegistry(t)

	cfg, ok := r.Updateable("orders.status")
	require.True(t, ok)

	n := &orderStatus{OrderID: "42", Sequence: 7}
	assert.Equal(t, "orders:42", cfg.UpdateKey(n))
	seq, hasSeq := cfg.Sequence(n)
	assert.True(t, hasSeq)
	assert.Equal(t, int64(7), seq)

	_, ok = r.Updateable("metrics.sample")
	assert.False(t, ok)
}

func TestRegistryRegisterErrors(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Register("orders.status", DecodeJSON[orderStatus]())
	assert.ErrorIs(t, err, ErrDuplicateType)

	err = r.Register("", DecodeJSON[orderStatus]())
	assert.ErrorIs(t, err, ErrInvalidType)

	err = r.Register("bad.decoder", nil)
	assert.ErrorIs(t, err, ErrInvalidType)

	err = r.RegisterUpdateable("missing.extractor", DecodeJSON[orderStatus](), UpdateableConfig{})
	assert.ErrorIs(t, err, ErrInvalidType)

	err = r.RegisterUpdateable("metrics.sample", DecodeJSON[orderStatus](), UpdateableConfig{
		UpdateKey: func(Notification) string { return "k" },
	})
	assert.ErrorIs(t, err, ErrInvalidType, "stream-only types cannot be updateable")
}

func TestRegistryStreams(t *testing.T) {
	r := newTestRegistry(t)

	streams := r.Streams()
	assert.ElementsMatch(t, []string{
		"notifications:stream:default",
		"notifications:stream:orders",
	}, streams)
}

func TestDecodeJSONRoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	original := &orderStatus{
		Envelope: Envelope{
			NotificationID: "n-1",
			Timestamp:      time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
			Type:           "orders.status",
			Level:          LevelInfo,
			Tags:           []string{"orders", "billing"},
		},
		OrderID:  "42",
		Sequence: 3,
		State:    "paid",
	}
	payload := mustMarshal(t, original)

	decoded, err := r.Resolve("orders.status")(payload)
	require.NoError(t, err)

	got, ok := decoded.(*orderStatus)
	require.True(t, ok)
	assert.Equal(t, original.NotificationID, got.NotificationID)
	assert.True(t, original.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, original.Type, got.Type)
	assert.Equal(t, original.Level, got.Level)
	assert.Equal(t, original.Tags, got.Tags)
	assert.Equal(t, original.OrderID, got.OrderID)
	assert.Equal(t, original.Sequence, got.Sequence)
	assert.Equal(t, original.State, got.State)
}

func TestHasAnyTag(t *testing.T) {
	env := &Envelope{Tags: []string{"orders", "billing"}}

	tests := []struct {
		name   string
		filter []string
		want   bool
	}{
		{name: "empty filter matches everything", filter: nil, want: true},
		{name: "single match", filter: []string{"orders"}, want: true},
		{name: "any match is enough", filter: []string{"shipping", "billing"}, want: true},
		{name: "no overlap", filter: []string{"shipping", "inventory"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, env.HasAnyTag(tt.filter))
		})
	}
}

func TestHasAnyTagNoTags(t *testing.T) {
	env := &Envelope{}
	assert.True(t, env.HasAnyTag(nil))
	assert.False(t, env.HasAnyTag([]string{"orders"}))
}
