package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderState struct {
	ID    string
	Items []int
	Total int
}

func TestNestSequenceFoldsResultBack(t *testing.T) {
	inner := NewSequence[int]("sum-items").
		Add("add-tax", func(_ context.Context, v int) (int, error) { return v + v/10, nil })

	host := NewSequence[orderState]("checkout").
		Add("load", func(_ context.Context, o orderState) (orderState, error) {
			o.Items = []int{10, 20, 30}
			return o, nil
		})
	NestSequence(host, "price",
		func(o orderState) bool { return len(o.Items) > 0 },
		func(o orderState) int {
			sum := 0
			for _, it := range o.Items {
				sum += it
			}
			return sum
		},
		inner,
		func(o orderState, total int) orderState {
			o.Total = total
			return o
		})

	got, err := host.Execute(context.Background(), orderState{ID: "o-1"})
	require.NoError(t, err)
	assert.Equal(t, 66, got.Total)

	snap := host.Status().Snapshot()
	assert.Equal(t, StateCompleted, snap.State)

	// The inner sequence's tree hangs off the hosting operation.
	priceNode := snap.Nodes[1]
	require.Len(t, priceNode.Nodes, 1)
	innerRoot := priceNode.Nodes[0]
	assert.Equal(t, "sum-items", innerRoot.Name)
	assert.Equal(t, StateCompleted, innerRoot.State)
}

func TestNestSequenceConditionFalseSkipsInnerTree(t *testing.T) {
	var ran bool
	inner := NewSequence[int]("never-runs").
		Add("op", func(_ context.Context, v int) (int, error) {
			ran = true
			return v, nil
		})

	host := NewSequence[orderState]("checkout")
	NestSequence(host, "price",
		func(o orderState) bool { return len(o.Items) > 0 },
		func(orderState) int { return 0 },
		inner,
		func(o orderState, _ int) orderState { return o })

	_, err := host.Execute(context.Background(), orderState{})
	require.NoError(t, err)
	assert.False(t, ran)

	snap := host.Status().Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	hostOp := snap.Nodes[0]
	assert.Equal(t, StateSkipped, hostOp.State)
	assert.Equal(t, StateSkipped, hostOp.Nodes[0].State, "inner root skipped")
	assert.Equal(t, StateSkipped, hostOp.Nodes[0].Nodes[0].State, "inner operation skipped")
}

func TestNestSequenceInnerFaultPropagates(t *testing.T) {
	boom := errors.New("inner boom")
	inner := NewSequence[int]("failing").
		Add("bad", func(_ context.Context, v int) (int, error) { return v, boom })

	host := NewSequence[orderState]("checkout")
	NestSequence(host, "price", nil,
		func(orderState) int { return 0 },
		inner,
		func(o orderState, _ int) orderState { return o })

	_, err := host.Execute(context.Background(), orderState{})
	require.ErrorIs(t, err, boom)

	snap := host.Status().Snapshot()
	assert.Equal(t, StateFaulted, snap.State)
	assert.Equal(t, StateFaulted, snap.Nodes[0].State)
	assert.Equal(t, StateFaulted, snap.Nodes[0].Nodes[0].State)
}

func TestNestSequenceInnerTransitionsReachHostListeners(t *testing.T) {
	inner := NewSequence[int]("inner").
		Add("op", func(_ context.Context, v int) (int, error) { return v, nil })

	host := NewSequence[orderState]("host")
	NestSequence(host, "nested", nil,
		func(orderState) int { return 0 },
		inner,
		func(o orderState, _ int) orderState { return o })

	var transitions int
	host.Status().OnChange(func(*StatusSnapshot) { transitions++ })

	_, err := host.Execute(context.Background(), orderState{})
	require.NoError(t, err)
	assert.Greater(t, transitions, 4, "host listeners observe inner transitions too")
}

func TestNestPipelineFoldsLastValue(t *testing.T) {
	host := NewSequence[orderState]("checkout").
		Add("load", func(_ context.Context, o orderState) (orderState, error) {
			o.Items = []int{1, 2, 3, 4}
			return o, nil
		})
	NestPipeline(host, "scan",
		func(o orderState) int { return len(o.Items) },
		func(n int) *Pipeline[int] {
			return NewPipeline[int]("scan-items").
				Producer("range", rangeProducer(n)).
				Add("square", func(_ context.Context, v int) (int, error) { return v * v, nil })
		},
		func(o orderState, last int) orderState {
			o.Total = last
			return o
		})

	got, err := host.Execute(context.Background(), orderState{})
	require.NoError(t, err)
	assert.Equal(t, 16, got.Total)

	snap := host.Status().Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	scanNode := snap.Nodes[1]
	require.Len(t, scanNode.Nodes, 1)
	assert.Equal(t, "scan-items", scanNode.Nodes[0].Name)
	assert.Equal(t, StateCompleted, scanNode.Nodes[0].State)
}

func TestNestPipelineFaultPropagates(t *testing.T) {
	boom := errors.New("pipeline boom")
	host := NewSequence[orderState]("checkout")
	NestPipeline(host, "scan",
		func(orderState) int { return 3 },
		func(n int) *Pipeline[int] {
			return NewPipeline[int]("scan-items").
				Producer("range", rangeProducer(n)).
				Add("explode", func(_ context.Context, v int) (int, error) { return v, boom })
		},
		func(o orderState, _ int) orderState { return o })

	_, err := host.Execute(context.Background(), orderState{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateFaulted, host.Status().State())
}
