// Package saga records compensating actions for a multi-step operation and
// runs them in reverse order when the operation fails. The journal travels in
// the context so every participant touched by the operation (ledger, pools,
// plan store) can register its own undo step.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type ctxKey struct{}

type step struct {
	name string
	undo func(ctx context.Context) error
}

// Saga is a journal of compensating actions.
type Saga struct {
	mu    sync.Mutex
	steps []step
	done  bool
}

// New returns an empty journal.
func New() *Saga { return &Saga{} }

// WithContext returns a copy of ctx carrying s.
func WithContext(ctx context.Context, s *Saga) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the journal carried by ctx, if any.
func FromContext(ctx context.Context) (*Saga, bool) {
	s, _ := ctx.Value(ctxKey{}).(*Saga)
	return s, s != nil
}

// Compensate registers undo on the journal carried by ctx. Outside a saga it
// is a no-op and the effect is permanent.
func Compensate(ctx context.Context, name string, undo func(ctx context.Context) error) {
	if s, ok := FromContext(ctx); ok {
		s.Add(name, undo)
	}
}

// Add registers undo directly on s.
func (s *Saga) Add(name string, undo func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.steps = append(s.steps, step{name: name, undo: undo})
}

// Len returns the number of registered compensations.
func (s *Saga) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Commit discards the journal; registered effects become permanent.
func (s *Saga) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = nil
	s.done = true
}

// Unwind runs every compensation, newest first. It keeps going after a
// failed step and returns all failures joined. Compensations run with a
// context that does not carry the journal, so they register nothing new.
func (s *Saga) Unwind(ctx context.Context) error {
	s.mu.Lock()
	steps := s.steps
	s.steps = nil
	s.done = true
	s.mu.Unlock()

	ctx = context.WithValue(ctx, ctxKey{}, (*Saga)(nil))
	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("saga: undo %s: %w", steps[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// Nested runs fn with a fresh journal. If fn fails, its compensations run
// immediately and the error is returned. If fn succeeds, the journal is
// handed to the saga in ctx as a single step, or committed when there is
// none. This gives each call all-or-nothing semantics on its own while still
// being undoable by an enclosing saga.
func Nested(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	local := New()
	if err := fn(WithContext(ctx, local)); err != nil {
		if uerr := local.Unwind(ctx); uerr != nil {
			return errors.Join(err, uerr)
		}
		return err
	}
	if parent, ok := FromContext(ctx); ok {
		parent.Add(name, local.Unwind)
	} else {
		local.Commit()
	}
	return nil
}
