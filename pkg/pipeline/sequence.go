package pipeline

import (
	"context"
	"errors"
	"fmt"
)

type sequenceOp[T any] struct {
	name   string
	cond   func(T) bool
	fn     Operation[T]
	status *ExecutionStatus
}

// Sequence executes operations linearly, threading a value through each.
// The first faulted operation stops the sequence; the remaining operations
// are marked Skipped and the caller receives the error.
type Sequence[T any] struct {
	root *ExecutionStatus
	ops  []*sequenceOp[T]
}

// NewSequence creates an empty sequence with a Pending status root.
func NewSequence[T any](name string) *Sequence[T] {
	return &Sequence[T]{root: NewStatus(name, "sequence")}
}

// Add appends an unconditional operation.
func (s *Sequence[T]) Add(name string, fn Operation[T]) *Sequence[T] {
	return s.AddIf(name, nil, fn)
}

// AddIf appends an operation guarded by cond. When cond evaluates false at
// execution time the operation (and any nested subtree) transitions to
// Skipped: never executed, never an error.
func (s *Sequence[T]) AddIf(name string, cond func(T) bool, fn Operation[T]) *Sequence[T] {
	s.ops = append(s.ops, &sequenceOp[T]{
		name:   name,
		cond:   cond,
		fn:     fn,
		status: s.root.NewChild(name, "operation"),
	})
	return s
}

// Status returns the sequence's status tree root.
func (s *Sequence[T]) Status() *ExecutionStatus { return s.root }

// Execute runs the operations in order, threading value through each.
func (s *Sequence[T]) Execute(ctx context.Context, value T) (T, error) {
	s.root.Run()
	completed := 0

	for i, op := range s.ops {
		if err := ctx.Err(); err != nil {
			op.status.Cancel()
			s.cancelFrom(i + 1)
			s.root.Cancel()
			return value, err
		}
		if op.cond != nil && !op.cond(value) {
			op.status.SkipTree()
			completed++
			s.root.Progress(100*float64(completed)/float64(len(s.ops)), "")
			continue
		}

		op.status.Run()
		out, err := op.fn(ctx, value)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				op.status.Cancel()
				s.cancelFrom(i + 1)
				s.root.Cancel()
				return value, err
			}
			op.status.Fault(err)
			s.skipFrom(i + 1)
			wrapped := fmt.Errorf("operation %s: %w", op.name, err)
			s.root.Fault(wrapped)
			return value, wrapped
		}
		op.status.Complete("")
		value = out
		completed++
		s.root.Progress(100*float64(completed)/float64(len(s.ops)), "")
	}

	s.root.Complete("")
	return value, nil
}

// skipFrom marks every operation at or after index Skipped.
func (s *Sequence[T]) skipFrom(index int) {
	for _, op := range s.ops[index:] {
		op.status.SkipTree()
	}
}

// cancelFrom marks every operation at or after index Cancelled.
func (s *Sequence[T]) cancelFrom(index int) {
	for _, op := range s.ops[index:] {
		op.status.Cancel()
	}
}
