package quickq

import (
	"errors"
	"fmt"

	"github.com/warpdl/quickq/pkg/scheduler"
)

var (
	// ErrInvalidArgument is wrapped by every construction and usage error.
	// It is the same value as scheduler.ErrInvalidArgument so that
	// scheduler.ErrUnknownScheduler matches it too.
	ErrInvalidArgument = scheduler.ErrInvalidArgument
	// ErrRunnerRequired is returned by New when the runner is nil.
	ErrRunnerRequired = fmt.Errorf("%w: runner is required", ErrInvalidArgument)
	// ErrInvalidScheduler is returned by New when WithScheduler is given nil.
	ErrInvalidScheduler = fmt.Errorf("%w: invalid scheduler", ErrInvalidArgument)
	// ErrTypedQueue is returned by Push and Unshift on a queue with a
	// scheduler; such a queue only accepts typed jobs.
	ErrTypedQueue = fmt.Errorf("%w: queue has a scheduler, use PushType or UnshiftType", ErrInvalidArgument)
	// ErrUntypedQueue is returned by PushType and UnshiftType on a queue
	// without a scheduler.
	ErrUntypedQueue = fmt.Errorf("%w: queue has no scheduler, use Push or Unshift", ErrInvalidArgument)
	// ErrNotConfigurable is returned by Configure when the scheduler does not
	// accept runtime options.
	ErrNotConfigurable = errors.New("scheduler does not support configuration")
	// ErrJobPanicked is matched by the PanicError handed to a job callback
	// when the runner panicked.
	ErrJobPanicked = errors.New("job panicked")
)

// PanicError wraps a value recovered from a panicking runner.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrJobPanicked
}
