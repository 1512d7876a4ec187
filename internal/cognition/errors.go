package cognition

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceTimeout means the call outlived its timeout.
	ErrServiceTimeout = errors.New("cognition: service timeout")
	// ErrServiceError means the service answered with an error or garbage.
	ErrServiceError = errors.New("cognition: service error")
	// ErrServiceUnavailable means no reasoning service is configured or it
	// refused the call outright.
	ErrServiceUnavailable = errors.New("cognition: service unavailable")
	// ErrStaleResult means the context a call was built for no longer holds.
	ErrStaleResult = errors.New("cognition: stale result")
	// ErrInFlight means the call has not finished yet.
	ErrInFlight = errors.New("cognition: call in flight")
)

// Failure is a typed call failure. Kind is one of the sentinels above.
type Failure struct {
	Kind error
	Task Task
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%v (%s)", f.Kind, f.Task)
	}
	return fmt.Sprintf("%v (%s): %v", f.Kind, f.Task, f.Err)
}

// Is matches the failure's kind.
func (f *Failure) Is(target error) bool {
	return target == f.Kind
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(kind error, task Task, err error) *Failure {
	return &Failure{Kind: kind, Task: task, Err: err}
}

// KindOf returns the failure kind of err, or nil.
func KindOf(err error) error {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return nil
}
