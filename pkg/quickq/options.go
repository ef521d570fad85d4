package quickq

import (
	"context"

	"github.com/warpdl/quickq/pkg/logger"
	"github.com/warpdl/quickq/pkg/scheduler"
)

// DefaultConcurrency is used when no positive concurrency is configured.
const DefaultConcurrency = 10

type options struct {
	concurrency int
	sched       scheduler.Scheduler
	schedSet    bool
	schedName   string
	schedOpts   scheduler.Options
	log         logger.Logger
	ctx         context.Context
}

// Option configures a Queue.
type Option func(*options)

// WithConcurrency sets the number of runner loops. Values of zero or less
// select DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithScheduler installs a custom scheduler. It overrides an earlier
// WithSchedulerName.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *options) {
		o.sched = s
		o.schedSet = true
		o.schedName = ""
	}
}

// WithSchedulerName selects a built-in policy (scheduler.NameFair or
// scheduler.NameCapped). It overrides an earlier WithScheduler.
func WithSchedulerName(name string) Option {
	return func(o *options) {
		o.schedName = name
		o.sched = nil
		o.schedSet = false
	}
}

// WithSchedulerOptions sets the options passed to a named policy. When
// Concurrency is left at zero the queue concurrency is used.
func WithSchedulerOptions(opts scheduler.Options) Option {
	return func(o *options) { o.schedOpts = opts }
}

// WithLogger sets the logger used for recovered panics and state changes.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithContext sets the context handed to the runner for every job.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}
