// Package pipeline provides the operation-orchestration executors: linear
// sequences and concurrent producer/consumer pipelines with bounded
// inter-stage queues, both reporting progress through a shared execution
// status tree.
package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle phase of one operation in the status tree.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateSkipped   State = "skipped"
	StateFaulted   State = "faulted"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateSkipped, StateFaulted, StateCancelled:
		return true
	}
	return false
}

// SerializableError is an error chain flattened for transport: the
// outermost message plus the nested inner error, recursively.
type SerializableError struct {
	Message string             `json:"message"`
	Inner   *SerializableError `json:"inner,omitempty"`
}

func newSerializableError(err error) *SerializableError {
	if err == nil {
		return nil
	}
	return &SerializableError{
		Message: err.Error(),
		Inner:   newSerializableError(errors.Unwrap(err)),
	}
}

// StatusListener observes status-tree changes. Listeners receive a
// consistent snapshot of the whole tree after every transition.
type StatusListener func(*StatusSnapshot)

// StatusSnapshot is an immutable copy of one status node and its children.
type StatusSnapshot struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	Description          string             `json:"description,omitempty"`
	State                State              `json:"state"`
	Started              time.Time          `json:"started,omitzero"`
	Updated              time.Time          `json:"updated,omitzero"`
	Completed            time.Time          `json:"completed,omitzero"`
	CompletionPercentage float64            `json:"completionPercentage"`
	Message              string             `json:"message,omitempty"`
	Error                *SerializableError `json:"error,omitempty"`
	Nodes                []*StatusSnapshot  `json:"nodes,omitempty"`
}

// statusTree holds the state shared by every node of one tree: a single
// lock and the change listeners. Attaching a subtree merges its tree into
// the parent's.
type statusTree struct {
	mu        sync.Mutex
	listeners []StatusListener
}

// ExecutionStatus is one node of the execution status tree. Transitions
// follow Pending -> Running -> {Completed | Faulted | Cancelled} with
// Pending -> Skipped for operations that never start; terminal states
// never transition again.
type ExecutionStatus struct {
	tree *statusTree
	root *ExecutionStatus

	id          string
	name        string
	description string

	// guarded by tree.mu
	state     State
	started   time.Time
	updated   time.Time
	completed time.Time
	pct       float64
	message   string
	err       *SerializableError
	parent    *ExecutionStatus
	children  []*ExecutionStatus
}

// NewStatus creates the root of a new status tree in the Pending state.
func NewStatus(name, description string) *ExecutionStatus {
	s := &ExecutionStatus{
		tree:        &statusTree{},
		id:          uuid.New().String(),
		name:        name,
		description: description,
		state:       StatePending,
	}
	s.root = s
	return s
}

// NewChild adds a Pending child node.
func (s *ExecutionStatus) NewChild(name, description string) *ExecutionStatus {
	child := &ExecutionStatus{
		tree:        s.tree,
		root:        s.root,
		id:          uuid.New().String(),
		name:        name,
		description: description,
		state:       StatePending,
		parent:      s,
	}
	s.tree.mu.Lock()
	s.children = append(s.children, child)
	s.tree.mu.Unlock()
	return child
}

// Attach adopts another tree's root as a child of s. Intended for wiring
// nested executors at build time, before either tree starts transitioning.
func (s *ExecutionStatus) Attach(child *ExecutionStatus) {
	child.tree.mu.Lock()
	migrated := child.tree.listeners
	child.tree.mu.Unlock()

	child.walk(func(n *ExecutionStatus) {
		n.tree = s.tree
		n.root = s.root
	})

	s.tree.mu.Lock()
	child.parent = s
	s.children = append(s.children, child)
	s.tree.listeners = append(s.tree.listeners, migrated...)
	s.tree.mu.Unlock()
}

// walk visits n and every descendant. Build-time only; no locking.
func (s *ExecutionStatus) walk(fn func(*ExecutionStatus)) {
	fn(s)
	for _, c := range s.children {
		c.walk(fn)
	}
}

// OnChange registers a listener for every transition in the tree.
func (s *ExecutionStatus) OnChange(fn StatusListener) {
	s.tree.mu.Lock()
	s.tree.listeners = append(s.tree.listeners, fn)
	s.tree.mu.Unlock()
}

// ID returns the node's unique identifier.
func (s *ExecutionStatus) ID() string { return s.id }

// Name returns the node's operation name.
func (s *ExecutionStatus) Name() string { return s.name }

// State returns the node's current state.
func (s *ExecutionStatus) State() State {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.state
}

// Err returns the recorded failure, if the node faulted.
func (s *ExecutionStatus) Err() *SerializableError {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.err
}

// Run transitions Pending -> Running. Any other state is left untouched.
func (s *ExecutionStatus) Run() {
	s.transition(func(now time.Time) bool {
		if s.state != StatePending {
			return false
		}
		s.state = StateRunning
		s.started = now
		return true
	})
}

// Progress updates the completion percentage (clamped to 0-100) and
// message of a Running node.
func (s *ExecutionStatus) Progress(pct float64, message string) {
	s.transition(func(time.Time) bool {
		if s.state != StateRunning {
			return false
		}
		if pct < 0 {
			pct = 0
		} else if pct > 100 {
			pct = 100
		}
		s.pct = pct
		if message != "" {
			s.message = message
		}
		return true
	})
}

// Complete transitions Running -> Completed.
func (s *ExecutionStatus) Complete(message string) {
	s.transition(func(now time.Time) bool {
		if s.state != StateRunning {
			return false
		}
		s.state = StateCompleted
		s.completed = now
		s.pct = 100
		if message != "" {
			s.message = message
		}
		return true
	})
}

// Fault transitions Pending or Running -> Faulted and records the error.
func (s *ExecutionStatus) Fault(err error) {
	s.transition(func(now time.Time) bool {
		if s.state.Terminal() {
			return false
		}
		s.state = StateFaulted
		s.completed = now
		s.err = newSerializableError(err)
		if err != nil {
			s.message = err.Error()
		}
		return true
	})
}

// Cancel transitions Pending or Running -> Cancelled.
func (s *ExecutionStatus) Cancel() {
	s.transition(func(now time.Time) bool {
		if s.state.Terminal() {
			return false
		}
		s.state = StateCancelled
		s.completed = now
		return true
	})
}

// Skip transitions Pending -> Skipped. Skipping is not an error; it marks
// an operation that was deliberately never started.
func (s *ExecutionStatus) Skip() {
	s.transition(func(now time.Time) bool {
		if s.state != StatePending {
			return false
		}
		s.state = StateSkipped
		s.completed = now
		return true
	})
}

// SkipTree skips the node and every still-pending descendant.
func (s *ExecutionStatus) SkipTree() {
	s.transition(func(now time.Time) bool {
		changed := false
		s.walkLocked(func(n *ExecutionStatus) {
			if n.state == StatePending {
				n.state = StateSkipped
				n.completed = now
				n.updated = now
				changed = true
			}
		})
		return changed
	})
}

// walkLocked visits n and descendants under the tree lock.
func (s *ExecutionStatus) walkLocked(fn func(*ExecutionStatus)) {
	fn(s)
	for _, c := range s.children {
		c.walkLocked(fn)
	}
}

// transition applies fn under the tree lock and, when it reports a change,
// notifies listeners with a fresh root snapshot outside the lock.
func (s *ExecutionStatus) transition(fn func(now time.Time) bool) {
	now := time.Now().UTC()
	s.tree.mu.Lock()
	changed := fn(now)
	if !changed {
		s.tree.mu.Unlock()
		return
	}
	s.updated = now
	for p := s.parent; p != nil; p = p.parent {
		p.updated = now
	}
	listeners := append([]StatusListener(nil), s.tree.listeners...)
	snap := s.root.snapshotLocked()
	s.tree.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Snapshot returns an immutable copy of the subtree rooted at s.
func (s *ExecutionStatus) Snapshot() *StatusSnapshot {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ExecutionStatus) snapshotLocked() *StatusSnapshot {
	snap := &StatusSnapshot{
		ID:                   s.id,
		Name:                 s.name,
		Description:          s.description,
		State:                s.state,
		Started:              s.started,
		Updated:              s.updated,
		Completed:            s.completed,
		CompletionPercentage: s.pct,
		Message:              s.message,
		Error:                s.err,
	}
	for _, c := range s.children {
		snap.Nodes = append(snap.Nodes, c.snapshotLocked())
	}
	return snap
}
