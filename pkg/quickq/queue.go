package quickq

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/warpdl/quickq/pkg/joblist"
	"github.com/warpdl/quickq/pkg/logger"
	"github.com/warpdl/quickq/pkg/scheduler"
)

// Runner executes a single job. ctx is the queue's base context.
type Runner[P, R any] func(ctx context.Context, payload P) (R, error)

// Callback receives the outcome of a job. On failure result is the zero
// value of R.
type Callback[R any] func(result R, err error)

type job[P, R any] struct {
	payload  P
	callback Callback[R]
	typ      string
}

// idleHooks are the notifications collected on an idle transition. They are
// invoked after the queue lock is released.
type idleHooks struct {
	drain   func()
	flushes []func()
}

// Queue is a bounded-concurrency job queue. All methods are safe for
// concurrent use.
type Queue[P, R any] struct {
	runner Runner[P, R]
	sched  scheduler.Scheduler
	log    logger.Logger
	ctx    context.Context

	mu        sync.Mutex
	payloads  *joblist.List[P]
	callbacks *joblist.List[Callback[R]]
	types     *joblist.List[string]

	// length counts jobs that have not completed yet, running ones included.
	length  int
	running int
	runners int
	// concurrency is -1 while paused; saved holds the value to restore.
	concurrency int
	saved       int
	// busy is set once a job is claimed and reset on the idle transition.
	busy bool
	// parked is set when a loop exited because the scheduler refused every
	// queued job.
	parked  bool
	drain   func()
	flushes []func()
}

// New creates a queue that runs jobs with runner.
func New[P, R any](runner Runner[P, R], opts ...Option) (*Queue[P, R], error) {
	if runner == nil {
		return nil, ErrRunnerRequired
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultConcurrency
	}
	if o.log == nil {
		o.log = logger.NewNopLogger()
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}

	sched := o.sched
	switch {
	case o.schedSet:
		if sched == nil {
			return nil, ErrInvalidScheduler
		}
	case o.schedName != "":
		if o.schedOpts.Concurrency == 0 {
			o.schedOpts.Concurrency = o.concurrency
		}
		s, err := scheduler.New(o.schedName, o.schedOpts)
		if err != nil {
			return nil, err
		}
		sched = s
	}

	return &Queue[P, R]{
		runner:      runner,
		sched:       sched,
		log:         o.log,
		ctx:         o.ctx,
		payloads:    joblist.New[P](0),
		callbacks:   joblist.New[Callback[R]](0),
		types:       joblist.New[string](0),
		concurrency: o.concurrency,
		saved:       o.concurrency,
	}, nil
}

// Push appends a job. It fails with ErrTypedQueue on a queue with a scheduler.
func (q *Queue[P, R]) Push(payload P, cb Callback[R]) error {
	return q.add(false, false, "", payload, cb)
}

// Unshift inserts a job at the front of the queue. It fails with
// ErrTypedQueue on a queue with a scheduler.
func (q *Queue[P, R]) Unshift(payload P, cb Callback[R]) error {
	return q.add(true, false, "", payload, cb)
}

// PushType appends a job of type typ. It fails with ErrUntypedQueue on a
// queue without a scheduler.
func (q *Queue[P, R]) PushType(typ string, payload P, cb Callback[R]) error {
	return q.add(false, true, typ, payload, cb)
}

// UnshiftType inserts a job of type typ at the front of the queue. It fails
// with ErrUntypedQueue on a queue without a scheduler.
func (q *Queue[P, R]) UnshiftType(typ string, payload P, cb Callback[R]) error {
	return q.add(true, true, typ, payload, cb)
}

// PushAll appends every payload in order, each with cb as its callback.
func (q *Queue[P, R]) PushAll(payloads []P, cb Callback[R]) error {
	return q.addAll(false, "", payloads, cb)
}

// PushTypeAll appends every payload in order as jobs of type typ.
func (q *Queue[P, R]) PushTypeAll(typ string, payloads []P, cb Callback[R]) error {
	return q.addAll(true, typ, payloads, cb)
}

func (q *Queue[P, R]) checkTyped(typed bool) error {
	switch {
	case typed && q.sched == nil:
		return ErrUntypedQueue
	case !typed && q.sched != nil:
		return ErrTypedQueue
	}
	return nil
}

func (q *Queue[P, R]) add(front, typed bool, typ string, payload P, cb Callback[R]) error {
	if err := q.checkTyped(typed); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insert(front, typ, payload, cb)
	q.wake(1)
	return nil
}

func (q *Queue[P, R]) addAll(typed bool, typ string, payloads []P, cb Callback[R]) error {
	if err := q.checkTyped(typed); err != nil {
		return err
	}
	if len(payloads) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range payloads {
		q.insert(false, typ, p, cb)
	}
	q.wake(len(payloads))
	return nil
}

// insert must be called with q.mu held.
func (q *Queue[P, R]) insert(front bool, typ string, payload P, cb Callback[R]) {
	if front {
		q.payloads.Prepend(payload)
		q.callbacks.Prepend(cb)
		q.types.Prepend(typ)
	} else {
		q.payloads.Append(payload)
		q.callbacks.Append(cb)
		q.types.Append(typ)
	}
	q.length++
	if q.sched != nil {
		q.sched.Waiting(typ)
	}
}

// wake spawns up to n loops without exceeding the concurrency. It must be
// called with q.mu held.
func (q *Queue[P, R]) wake(n int) {
	for ; n > 0 && q.runners < q.concurrency; n-- {
		q.spawn()
	}
}

// spawn starts a runner loop. It must be called with q.mu held.
func (q *Queue[P, R]) spawn() {
	q.runners++
	safeGo(q.log, "runner loop", q.loopPanicked, q.loop)
}

func (q *Queue[P, R]) loop() {
	for {
		j, hooks, ok := q.claim()
		if !ok {
			q.notify(hooks)
			return
		}
		res, err := q.run(j)
		q.settle(j)
		if j.callback != nil {
			j.callback(res, err)
		}
	}
}

// claim takes the next job for the calling loop. When the loop is no longer
// needed it is unregistered in the same critical section and ok is false.
func (q *Queue[P, R]) claim() (j job[P, R], hooks idleHooks, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// A scheduler panic parks the loop; it is not replaced.
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("panic in scheduler: %v\n%s", r, debug.Stack())
			q.parked = true
			j, hooks, ok = job[P, R]{}, q.exitLocked(), false
		}
	}()

	if q.payloads.IsEmpty() || q.runners > q.concurrency {
		return j, q.exitLocked(), false
	}
	i := 0
	if q.sched != nil {
		i = q.sched.Select(q.types)
		if i < 0 {
			q.parked = true
			return j, q.exitLocked(), false
		}
		if _, live := q.types.PeekAt(i); !live {
			i = 0
		}
	}
	typ, _ := q.types.PeekAt(i)
	if q.sched != nil {
		q.sched.Start(typ)
	}
	j = job[P, R]{
		payload:  take(q.payloads, i),
		callback: take(q.callbacks, i),
		typ:      take(q.types, i),
	}
	q.running++
	q.busy = true
	return j, hooks, true
}

func take[T any](l *joblist.List[T], i int) T {
	v, _ := l.PeekAt(i)
	l.Clear(i)
	return v
}

// run invokes the runner, turning a panic into a *PanicError.
func (q *Queue[P, R]) run(j job[P, R]) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			res, err = zero, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	res, err = q.runner(q.ctx, j.payload)
	if err != nil {
		var zero R
		res = zero
	}
	return res, err
}

func (q *Queue[P, R]) settle(j job[P, R]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	q.length--
	if q.sched != nil {
		q.sched.Done(j.typ)
	}
	// A finished job may unblock work a parked loop gave up on.
	if q.parked && q.runners < q.concurrency && !q.payloads.IsEmpty() {
		q.parked = false
		q.spawn()
	}
}

// exitLocked unregisters the calling loop and returns the hooks to fire if
// the queue just became idle.
func (q *Queue[P, R]) exitLocked() idleHooks {
	q.runners--
	return q.idleLocked()
}

func (q *Queue[P, R]) idleLocked() idleHooks {
	if q.runners != 0 || !q.payloads.IsEmpty() {
		return idleHooks{}
	}
	var hooks idleHooks
	if q.busy {
		q.busy = false
		hooks.drain = q.drain
	}
	hooks.flushes, q.flushes = q.flushes, nil
	return hooks
}

func (q *Queue[P, R]) notify(h idleHooks) {
	if h.drain != nil {
		safeCall(q.log, "drain callback", h.drain)
	}
	for _, fn := range h.flushes {
		safeCall(q.log, "flush callback", fn)
	}
}

// loopPanicked replaces a loop killed by a job callback.
func (q *Queue[P, R]) loopPanicked(any) {
	q.mu.Lock()
	q.runners--
	if q.runners < q.concurrency && !q.payloads.IsEmpty() {
		q.spawn()
	}
	hooks := q.idleLocked()
	q.mu.Unlock()
	q.notify(hooks)
}

// Pause stops new jobs from starting. Running jobs finish normally.
func (q *Queue[P, R]) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.concurrency <= 0 {
		return
	}
	q.saved = q.concurrency
	q.concurrency = -1
	q.log.Info("queue paused, %d jobs running", q.running)
}

// Resume restores the concurrency remembered by Pause and starts the loops
// needed to reach it.
func (q *Queue[P, R]) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resumeLocked(q.saved)
}

// ResumeConcurrency resumes the queue with concurrency n.
func (q *Queue[P, R]) ResumeConcurrency(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidArgument, n)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resumeLocked(n)
	return nil
}

func (q *Queue[P, R]) resumeLocked(n int) {
	if n != q.saved {
		q.configureConcurrency(n)
	}
	q.concurrency = n
	q.saved = n
	spawned := 0
	for q.runners < n {
		q.spawn()
		spawned++
	}
	q.log.Info("queue resumed with concurrency %d, %d loops started", n, spawned)
}

// SetConcurrency changes the number of runner loops. A value of zero or less
// pauses the queue. On increase the missing loops start at once, bounded by
// the number of queued jobs; on decrease surplus loops stop after their
// current job.
func (q *Queue[P, R]) SetConcurrency(n int) {
	if n <= 0 {
		q.Pause()
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.concurrency = n
	q.saved = n
	q.configureConcurrency(n)
	q.wake(q.length - q.running)
	q.log.Info("concurrency set to %d", n)
}

func (q *Queue[P, R]) configureConcurrency(n int) {
	if c, ok := q.sched.(scheduler.Configurer); ok {
		c.Configure(scheduler.Options{Concurrency: n})
	}
}

// Configure passes opts to the scheduler. A zero Concurrency is replaced by
// the queue's own so both stay in step.
func (q *Queue[P, R]) Configure(opts scheduler.Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.sched.(scheduler.Configurer)
	if !ok {
		return ErrNotConfigurable
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = q.saved
	}
	c.Configure(opts)
	// Looser limits may let parked jobs run.
	if q.parked {
		q.parked = false
		q.wake(q.length - q.running)
	}
	return nil
}

// GC drops zero-valued scheduler counters. It reports whether the scheduler
// keeps any to collect.
func (q *Queue[P, R]) GC() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.sched.(scheduler.Collector)
	if ok {
		c.GC()
	}
	return ok
}

// Compact reclaims the space of consumed slots in the job lists.
func (q *Queue[P, R]) Compact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads.Compact()
	q.callbacks.Compact()
	q.types.Compact()
}

// SetDrain sets the callback invoked every time the queue becomes idle.
// A nil fn removes it.
func (q *Queue[P, R]) SetDrain(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drain = fn
}

// Flush registers fn to run once, on the next transition to idle. Jobs
// pushed before that transition delay it.
func (q *Queue[P, R]) Flush(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushes = append(q.flushes, fn)
}

// WaitIdle blocks until the queue has no queued or running jobs, or ctx is
// done.
func (q *Queue[P, R]) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	q.mu.Lock()
	if q.length == 0 && q.runners == 0 {
		q.mu.Unlock()
		return nil
	}
	q.flushes = append(q.flushes, func() { close(done) })
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Length returns the number of jobs that have not completed, including
// running ones.
func (q *Queue[P, R]) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Running returns the number of jobs currently executing.
func (q *Queue[P, R]) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Runners returns the number of active runner loops.
func (q *Queue[P, R]) Runners() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runners
}

// Concurrency returns the configured concurrency, or -1 while paused.
func (q *Queue[P, R]) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

// Paused reports whether the queue is paused.
func (q *Queue[P, R]) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency <= 0
}

// Scheduler returns the scheduler, or nil for a FIFO queue. The queue calls
// it under its own lock; callers must not use it while jobs are active.
func (q *Queue[P, R]) Scheduler() scheduler.Scheduler {
	return q.sched
}
