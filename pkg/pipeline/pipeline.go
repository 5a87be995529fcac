package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// stageQueueCapacity bounds every inter-stage queue: tight backpressure,
// low latency, bounded memory.
const stageQueueCapacity = 2

// ErrNoProducer is returned by Execute on a pipeline without a producer.
var ErrNoProducer = errors.New("pipeline: no producer configured")

// Producer yields the pipeline's input values through emit. Emit blocks
// while the first queue is full and returns an error once the pipeline is
// cancelled; the producer must stop when it does.
type Producer[T any] func(ctx context.Context, emit func(T) error) error

// Operation transforms one value. Used both as a pipeline stage (applied
// per item) and as a sequence step (applied once).
type Operation[T any] func(ctx context.Context, value T) (T, error)

type pipelineStage[T any] struct {
	name   string
	fn     Operation[T]
	status *ExecutionStatus
}

// Pipeline composes a producer and consumer stages that all run
// concurrently, connected by bounded queues. Execute returns the last
// value emitted by the final stage.
type Pipeline[T any] struct {
	root         *ExecutionStatus
	producer     Producer[T]
	producerStat *ExecutionStatus
	stages       []pipelineStage[T]
}

// NewPipeline creates an empty pipeline with a Pending status root.
func NewPipeline[T any](name string) *Pipeline[T] {
	return &Pipeline[T]{root: NewStatus(name, "async pipeline")}
}

// Producer sets the producing stage. Exactly one producer is required.
func (p *Pipeline[T]) Producer(name string, fn Producer[T]) *Pipeline[T] {
	p.producer = fn
	p.producerStat = p.root.NewChild(name, "producer")
	return p
}

// Add appends a consumer stage.
func (p *Pipeline[T]) Add(name string, fn Operation[T]) *Pipeline[T] {
	p.stages = append(p.stages, pipelineStage[T]{
		name:   name,
		fn:     fn,
		status: p.root.NewChild(name, "stage"),
	})
	return p
}

// Status returns the pipeline's status tree root.
func (p *Pipeline[T]) Status() *ExecutionStatus { return p.root }

// Execute runs all stages concurrently and returns the last value the
// final stage produced (the zero value when the producer emitted nothing).
// The first stage failure cancels every other stage; outer-context
// cancellation does the same and is reported as the returned error.
func (p *Pipeline[T]) Execute(ctx context.Context) (T, error) {
	var last T
	if p.producer == nil {
		return last, ErrNoProducer
	}

	p.root.Run()
	// A fault cancels this context before the faulting stage closes its
	// output queue, so downstream stages observe cancellation rather than
	// a clean upstream completion.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// One queue after the producer and after every stage but the last.
	queues := make([]chan T, len(p.stages)+1)
	for i := range queues {
		queues[i] = make(chan T, stageQueueCapacity)
	}

	g.Go(func() error {
		return p.runProducer(gctx, cancel, queues[0])
	})
	for i := range p.stages {
		g.Go(func() error {
			return p.runStage(gctx, cancel, &p.stages[i], queues[i], queues[i+1])
		})
	}

	// Collector: the final stage's outputs flow back to the caller.
	collected := make(chan T, 1)
	go func() {
		var v T
		for out := range queues[len(queues)-1] {
			v = out
		}
		collected <- v
	}()

	err := g.Wait()
	last = <-collected

	switch {
	case err == nil:
		p.root.Complete("")
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		p.cancelRemaining()
		p.root.Cancel()
	default:
		p.cancelRemaining()
		p.root.Fault(err)
	}
	return last, err
}

func (p *Pipeline[T]) runProducer(ctx context.Context, cancel context.CancelFunc, out chan<- T) error {
	defer close(out)
	st := p.producerStat
	st.Run()

	err := p.producer(ctx, func(v T) error {
		select {
		case out <- v:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			st.Cancel()
		} else {
			st.Fault(err)
			err = fmt.Errorf("producer %s: %w", st.Name(), err)
			cancel()
		}
		return err
	}
	st.Complete("")
	return nil
}

func (p *Pipeline[T]) runStage(ctx context.Context, cancel context.CancelFunc, stage *pipelineStage[T], in <-chan T, out chan<- T) error {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			stage.status.Cancel()
			return ctx.Err()
		case v, ok := <-in:
			if !ok {
				if ctx.Err() != nil {
					stage.status.Cancel()
					return ctx.Err()
				}
				// Upstream completed; a stage that never saw input still
				// completes cleanly.
				stage.status.Run()
				stage.status.Complete("")
				return nil
			}
			stage.status.Run()

			res, err := stage.fn(ctx, v)
			if err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					stage.status.Cancel()
					return err
				}
				stage.status.Fault(err)
				cancel()
				return fmt.Errorf("stage %s: %w", stage.name, err)
			}

			select {
			case out <- res:
			case <-ctx.Done():
				stage.status.Cancel()
				return ctx.Err()
			}
		}
	}
}

// cancelRemaining marks every stage the failure interrupted. Stages that
// already reached a terminal state are untouched.
func (p *Pipeline[T]) cancelRemaining() {
	p.producerStat.Cancel()
	for _, stage := range p.stages {
		stage.status.Cancel()
	}
}
