// Package saga runs a sequence of steps and undoes the completed ones when a
// later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
)

type Step struct {
	Name    string
	Execute func(ctx context.Context) error
	// Compensate undoes Execute. It runs with a context that is not cancelled
	// along with the saga's, so cleanup still happens after a client hangs up.
	Compensate func(ctx context.Context) error
}

type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Error reports a failed saga. It unwraps to the failing step's error, so
// callers match on what went wrong rather than on the saga.
type Error struct {
	Saga string
	Step string
	// Index of the failed step.
	Index int
	Err   error
	// Compensation joins every compensation that failed, or is nil.
	Compensation error
}

func (e *Error) Error() string {
	if e.Compensation != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.Compensation)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Execute runs the steps in order. On failure it compensates the completed
// steps in reverse order and returns an *Error.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &Error{
				Saga:         s.name,
				Step:         step.Name,
				Index:        i,
				Err:          err,
				Compensation: s.compensate(context.WithoutCancel(ctx), i),
			}
		}
	}
	return nil
}

// compensate undoes steps [0, failed) in reverse.
func (s *Saga) compensate(ctx context.Context, failed int) error {
	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
