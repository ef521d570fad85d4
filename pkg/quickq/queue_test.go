package quickq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/warpdl/quickq/pkg/logger"
	"github.com/warpdl/quickq/pkg/scheduler"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitIdle(t *testing.T, q interface{ WaitIdle(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func echo(_ context.Context, n int) (int, error) { return n, nil }

// gate blocks runners until released, one job per receive.
type gate chan struct{}

func (g gate) runner(_ context.Context, n int) (int, error) {
	<-g
	return n, nil
}

func TestNew_Defaults(t *testing.T) {
	q, err := New(echo)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if q.Concurrency() != DefaultConcurrency {
		t.Errorf("expected concurrency %d, got %d", DefaultConcurrency, q.Concurrency())
	}
	if q.Scheduler() != nil {
		t.Error("expected no scheduler by default")
	}
	if q.Length() != 0 || q.Running() != 0 || q.Runners() != 0 || q.Paused() {
		t.Errorf("unexpected initial state: %+v", q.Stats())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New[int, int](nil); !errors.Is(err, ErrRunnerRequired) {
		t.Errorf("expected ErrRunnerRequired, got %v", err)
	}
	if _, err := New(echo, WithSchedulerName("lottery")); !errors.Is(err, scheduler.ErrUnknownScheduler) {
		t.Errorf("expected ErrUnknownScheduler, got %v", err)
	}
	_, err := New(echo, WithScheduler(nil))
	if !errors.Is(err, ErrInvalidScheduler) {
		t.Errorf("expected ErrInvalidScheduler, got %v", err)
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected error to wrap ErrInvalidArgument, got %v", err)
	}
}

// TestNew_SchedulerConcurrency tests that a named scheduler inherits the
// queue concurrency unless one is given.
func TestNew_SchedulerConcurrency(t *testing.T) {
	q, err := New(echo, WithConcurrency(4), WithSchedulerName(scheduler.NameFair))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := q.Scheduler().(*scheduler.Fair).Concurrency(); got != 4 {
		t.Errorf("expected scheduler concurrency 4, got %d", got)
	}

	q, err = New(echo, WithConcurrency(4), WithSchedulerName(scheduler.NameCapped),
		WithSchedulerOptions(scheduler.Options{Concurrency: 20}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := q.Scheduler().(*scheduler.Capped).Fair().Concurrency(); got != 20 {
		t.Errorf("expected scheduler concurrency 20, got %d", got)
	}
}

// TestPush_TypedMisuse tests that typed and untyped entry points are not mixed.
func TestPush_TypedMisuse(t *testing.T) {
	fifo, _ := New(echo)
	if err := fifo.PushType("a", 1, nil); !errors.Is(err, ErrUntypedQueue) {
		t.Errorf("expected ErrUntypedQueue, got %v", err)
	}
	if err := fifo.UnshiftType("a", 1, nil); !errors.Is(err, ErrUntypedQueue) {
		t.Errorf("expected ErrUntypedQueue, got %v", err)
	}
	if err := fifo.PushTypeAll("a", []int{1}, nil); !errors.Is(err, ErrUntypedQueue) {
		t.Errorf("expected ErrUntypedQueue, got %v", err)
	}

	fair, _ := New(echo, WithSchedulerName(scheduler.NameFair))
	if err := fair.Push(1, nil); !errors.Is(err, ErrTypedQueue) {
		t.Errorf("expected ErrTypedQueue, got %v", err)
	}
	if err := fair.Unshift(1, nil); !errors.Is(err, ErrTypedQueue) {
		t.Errorf("expected ErrTypedQueue, got %v", err)
	}
	if err := fair.PushAll([]int{1}, nil); !errors.Is(err, ErrTypedQueue) {
		t.Errorf("expected ErrTypedQueue, got %v", err)
	}
	if fifo.Length() != 0 || fair.Length() != 0 {
		t.Error("rejected pushes must not enqueue")
	}
}

// TestQueue_CallbackResults tests that results and errors reach the right callback.
func TestQueue_CallbackResults(t *testing.T) {
	errOdd := errors.New("odd")
	q, _ := New(func(_ context.Context, n int) (int, error) {
		if n%2 == 1 {
			return -1, errOdd
		}
		return n * 10, nil
	})

	var mu sync.Mutex
	results := map[int]int{}
	failures := map[int]error{}
	for i := 0; i < 10; i++ {
		i := i
		q.Push(i, func(res int, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[i] = err
				if res != 0 {
					t.Errorf("job %d: expected zero result with error, got %d", i, res)
				}
				return
			}
			results[i] = res
		})
	}
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 5 || len(failures) != 5 {
		t.Fatalf("expected 5 results and 5 failures, got %d and %d", len(results), len(failures))
	}
	for i, res := range results {
		if res != i*10 {
			t.Errorf("job %d: expected %d, got %d", i, i*10, res)
		}
	}
	for i, err := range failures {
		if !errors.Is(err, errOdd) {
			t.Errorf("job %d: expected errOdd, got %v", i, err)
		}
	}
}

// TestQueue_RunnerPanic tests that a panicking runner fails only its own job.
func TestQueue_RunnerPanic(t *testing.T) {
	q, _ := New(func(_ context.Context, n int) (int, error) {
		if n == 2 {
			panic("bad payload")
		}
		return n, nil
	}, WithConcurrency(1))

	var got []error
	var mu sync.Mutex
	for i := 1; i <= 3; i++ {
		q.Push(i, func(_ int, err error) {
			mu.Lock()
			got = append(got, err)
			mu.Unlock()
		})
	}
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 callbacks, got %d", len(got))
	}
	if got[0] != nil || got[2] != nil {
		t.Errorf("expected jobs 1 and 3 to succeed, got %v and %v", got[0], got[2])
	}
	var pe *PanicError
	if !errors.As(got[1], &pe) {
		t.Fatalf("expected *PanicError, got %T", got[1])
	}
	if pe.Value != "bad payload" || len(pe.Stack) == 0 {
		t.Errorf("unexpected panic error: %v", pe)
	}
	if !errors.Is(got[1], ErrJobPanicked) {
		t.Error("expected PanicError to match ErrJobPanicked")
	}
}

// TestQueue_CallbackPanicReplacesLoop tests that a loop killed by a callback
// is replaced and the remaining jobs still run.
func TestQueue_CallbackPanicReplacesLoop(t *testing.T) {
	log := logger.NewMockLogger()
	q, _ := New(echo, WithConcurrency(1), WithLogger(log))
	q.Pause()

	var done atomic.Int32
	q.Push(1, func(int, error) { panic("callback failed") })
	q.Push(2, func(int, error) { done.Add(1) })
	q.Push(3, func(int, error) { done.Add(1) })
	q.Resume()
	waitIdle(t, q)

	if done.Load() != 2 {
		t.Errorf("expected 2 remaining callbacks, got %d", done.Load())
	}
	waitFor(t, "loops to exit", func() bool { return q.Runners() == 0 })
	errs := log.Errors()
	if len(errs) != 1 || !strings.Contains(errs[0], "callback failed") {
		t.Errorf("expected one logged panic, got %q", errs)
	}
}

// brokenScheduler panics on every Select.
type brokenScheduler struct{ selects atomic.Int32 }

func (s *brokenScheduler) Waiting(string) {}
func (s *brokenScheduler) Start(string)   {}
func (s *brokenScheduler) Done(string)    {}
func (s *brokenScheduler) Select(scheduler.Types) int {
	s.selects.Add(1)
	panic("select failed")
}

// TestQueue_SchedulerPanicParksLoop tests that a loop whose scheduler
// panics exits without a replacement, leaving the jobs queued.
func TestQueue_SchedulerPanicParksLoop(t *testing.T) {
	log := logger.NewMockLogger()
	s := &brokenScheduler{}
	q, _ := New(echo, WithConcurrency(4), WithScheduler(s), WithLogger(log))
	q.Pause()
	for i := 0; i < 10; i++ {
		q.PushType("any", i, nil)
	}
	q.Resume()

	waitFor(t, "loops to exit", func() bool { return q.Runners() == 0 })
	time.Sleep(20 * time.Millisecond)
	if n := s.selects.Load(); n != 4 {
		t.Errorf("expected one Select per resumed loop (4), got %d", n)
	}
	if q.Runners() != 0 || q.Length() != 10 || q.Running() != 0 {
		t.Errorf("expected jobs to stay queued with no loops, got %+v", q.Stats())
	}
	errs := log.Errors()
	if len(errs) != 4 || !strings.Contains(errs[0], "select failed") {
		t.Errorf("expected 4 logged scheduler panics, got %d: %q", len(errs), errs)
	}
}

// TestQueue_FIFO tests that a queue without a scheduler starts jobs in
// arrival order, with Unshift jumping ahead.
func TestQueue_FIFO(t *testing.T) {
	var mu sync.Mutex
	var order []int
	q, _ := New(func(_ context.Context, n int) (int, error) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		return n, nil
	}, WithConcurrency(1))

	q.Pause()
	for i := 1; i <= 50; i++ {
		q.Push(i, nil)
	}
	q.Unshift(0, nil)
	q.Resume()
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 51 {
		t.Fatalf("expected 51 jobs, got %d", len(order))
	}
	for i, n := range order {
		if n != i {
			t.Fatalf("position %d: expected job %d, got %d", i, i, n)
		}
	}
}

// TestQueue_DrainCompleteness tests that N jobs produce N callbacks and a
// single drain.
func TestQueue_DrainCompleteness(t *testing.T) {
	const n = 1000
	q, _ := New(echo)

	var callbacks, drains atomic.Int32
	drained := make(chan struct{}, 1)
	q.SetDrain(func() {
		drains.Add(1)
		drained <- struct{}{}
	})

	payloads := make([]int, n)
	for i := range payloads {
		payloads[i] = i
	}
	if err := q.PushAll(payloads, func(int, error) { callbacks.Add(1) }); err != nil {
		t.Fatalf("PushAll: %v", err)
	}

	select {
	case <-drained:
	case <-time.After(10 * time.Second):
		t.Fatal("drain never fired")
	}
	if callbacks.Load() != n {
		t.Errorf("expected %d callbacks, got %d", n, callbacks.Load())
	}
	if q.Length() != 0 {
		t.Errorf("expected length 0, got %d", q.Length())
	}
	time.Sleep(20 * time.Millisecond)
	if drains.Load() != 1 {
		t.Errorf("expected exactly one drain, got %d", drains.Load())
	}
}

// TestQueue_DrainFiresPerIdleTransition tests that drain fires again after
// new work arrives, while a flush fires only once.
func TestQueue_DrainFiresPerIdleTransition(t *testing.T) {
	q, _ := New(echo)
	drains := make(chan struct{}, 4)
	q.SetDrain(func() { drains <- struct{}{} })
	var flushes atomic.Int32
	q.Flush(func() { flushes.Add(1) })

	for round := 0; round < 2; round++ {
		q.Push(round, nil)
		select {
		case <-drains:
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: drain never fired", round)
		}
	}
	waitFor(t, "flush", func() bool { return flushes.Load() == 1 })
	waitFor(t, "loops to exit", func() bool { return q.Runners() == 0 })
	if flushes.Load() != 1 {
		t.Errorf("expected one flush, got %d", flushes.Load())
	}
}

// TestQueue_FlushWaitsForNextIdle tests that a flush registered on an idle
// queue waits for the next idle transition.
func TestQueue_FlushWaitsForNextIdle(t *testing.T) {
	q, _ := New(echo)
	flushed := make(chan struct{})
	q.Flush(func() { close(flushed) })

	select {
	case <-flushed:
		t.Fatal("flush fired on an idle queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(1, nil)
	select {
	case <-flushed:
	case <-time.After(5 * time.Second):
		t.Fatal("flush never fired")
	}
}

// TestQueue_HundredThousandJobs pushes 100000 immediate jobs at concurrency 10.
func TestQueue_HundredThousandJobs(t *testing.T) {
	const n = 100000
	q, _ := New(echo, WithConcurrency(10))

	var callbacks, flushes atomic.Int32
	flushed := make(chan struct{})
	q.Flush(func() {
		flushes.Add(1)
		close(flushed)
	})

	payloads := make([]int, n)
	q.PushAll(payloads, func(int, error) { callbacks.Add(1) })

	select {
	case <-flushed:
	case <-time.After(30 * time.Second):
		t.Fatalf("flush never fired, %d callbacks", callbacks.Load())
	}
	if callbacks.Load() != n {
		t.Errorf("expected %d callbacks, got %d", n, callbacks.Load())
	}
	if flushes.Load() != 1 {
		t.Errorf("expected one flush, got %d", flushes.Load())
	}
	if q.Length() != 0 {
		t.Errorf("expected length 0, got %d", q.Length())
	}
}

// TestQueue_RunningNeverExceedsConcurrency tests the concurrency ceiling.
func TestQueue_RunningNeverExceedsConcurrency(t *testing.T) {
	const limit = 4
	var cur, peak atomic.Int32
	q, _ := New(func(_ context.Context, n int) (int, error) {
		c := cur.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(100 * time.Microsecond)
		cur.Add(-1)
		return n, nil
	}, WithConcurrency(limit))

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(i, nil)
				if r := q.Running(); r > limit {
					t.Errorf("running %d exceeds %d", r, limit)
				}
			}
		}()
	}
	wg.Wait()
	waitIdle(t, q)

	if peak.Load() > limit {
		t.Errorf("observed %d concurrent jobs, limit %d", peak.Load(), limit)
	}
}

// TestQueue_PauseResume tests that a paused queue holds jobs and that resume
// starts exactly the missing loops.
func TestQueue_PauseResume(t *testing.T) {
	g := make(gate)
	q, _ := New(g.runner, WithConcurrency(4))

	q.Pause()
	if !q.Paused() || q.Concurrency() != -1 {
		t.Fatalf("expected paused queue, got concurrency %d", q.Concurrency())
	}
	for i := 0; i < 6; i++ {
		q.Push(i, nil)
	}
	time.Sleep(20 * time.Millisecond)
	if q.Running() != 0 || q.Runners() != 0 {
		t.Fatalf("paused queue started work: %+v", q.Stats())
	}

	if err := q.ResumeConcurrency(3); err != nil {
		t.Fatalf("ResumeConcurrency: %v", err)
	}
	if q.Runners() != 3 {
		t.Errorf("expected 3 loops right after resume, got %d", q.Runners())
	}
	waitFor(t, "3 running jobs", func() bool { return q.Running() == 3 })

	// Loops blocked in jobs stay registered, so resume has nothing to add.
	q.Pause()
	q.Resume()
	if q.Runners() != 3 || q.Concurrency() != 3 {
		t.Errorf("expected 3 loops at concurrency 3, got %d at %d", q.Runners(), q.Concurrency())
	}

	if err := q.ResumeConcurrency(0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}

	close(g)
	waitIdle(t, q)
	if q.Length() != 0 {
		t.Errorf("expected empty queue, got %d", q.Length())
	}
}

// TestQueue_PauseLetsRunningJobsFinish tests that pausing does not stop
// running jobs but keeps the rest queued.
func TestQueue_PauseLetsRunningJobsFinish(t *testing.T) {
	g := make(gate)
	q, _ := New(g.runner, WithConcurrency(2))
	var done atomic.Int32
	for i := 0; i < 5; i++ {
		q.Push(i, func(int, error) { done.Add(1) })
	}
	waitFor(t, "2 running jobs", func() bool { return q.Running() == 2 })

	q.Pause()
	g <- struct{}{}
	g <- struct{}{}
	waitFor(t, "loops to stop", func() bool { return q.Runners() == 0 })
	if done.Load() != 2 || q.Length() != 3 {
		t.Fatalf("expected 2 done and 3 queued, got %d and %d", done.Load(), q.Length())
	}

	close(g)
	q.Resume()
	waitIdle(t, q)
	if done.Load() != 5 {
		t.Errorf("expected 5 callbacks, got %d", done.Load())
	}
}

// TestQueue_SetConcurrency tests raising and lowering the concurrency.
func TestQueue_SetConcurrency(t *testing.T) {
	g := make(gate)
	q, _ := New(g.runner, WithConcurrency(2), WithSchedulerName(scheduler.NameFair))
	for i := 0; i < 8; i++ {
		q.PushType("t", i, nil)
	}
	waitFor(t, "2 running jobs", func() bool { return q.Running() == 2 })

	q.SetConcurrency(5)
	if q.Runners() != 5 {
		t.Errorf("expected 5 loops after raising concurrency, got %d", q.Runners())
	}
	waitFor(t, "5 running jobs", func() bool { return q.Running() == 5 })
	if got := q.Scheduler().(*scheduler.Fair).Concurrency(); got != 5 {
		t.Errorf("expected scheduler concurrency 5, got %d", got)
	}

	q.SetConcurrency(1)
	for i := 0; i < 4; i++ {
		g <- struct{}{}
	}
	waitFor(t, "surplus loops to exit", func() bool { return q.Runners() == 1 })
	if q.Running() != 1 {
		t.Errorf("expected 1 running job, got %d", q.Running())
	}

	q.SetConcurrency(0)
	if !q.Paused() {
		t.Error("expected SetConcurrency(0) to pause")
	}
	close(g)
	q.Resume()
	waitIdle(t, q)
	if q.Concurrency() != 1 {
		t.Errorf("expected concurrency 1 after resume, got %d", q.Concurrency())
	}
}

// TestQueue_SetConcurrencyBoundedByWork tests that raising concurrency does
// not start loops that would find nothing to do.
func TestQueue_SetConcurrencyBoundedByWork(t *testing.T) {
	g := make(gate)
	q, _ := New(g.runner, WithConcurrency(1))
	q.Push(1, nil)
	q.Push(2, nil)
	waitFor(t, "1 running job", func() bool { return q.Running() == 1 })

	q.SetConcurrency(10)
	if q.Runners() != 2 {
		t.Errorf("expected 2 loops for 2 jobs, got %d", q.Runners())
	}
	close(g)
	waitIdle(t, q)
}

// typedGate blocks runners per job type.
type typedGate struct {
	gates map[string]gate
	mu    sync.Mutex
	cur   map[string]int
	peak  map[string]int
}

func newTypedGate(types ...string) *typedGate {
	tg := &typedGate{gates: map[string]gate{}, cur: map[string]int{}, peak: map[string]int{}}
	for _, typ := range types {
		tg.gates[typ] = make(gate)
	}
	return tg
}

func (tg *typedGate) runner(_ context.Context, typ string) (string, error) {
	tg.mu.Lock()
	tg.cur[typ]++
	if tg.cur[typ] > tg.peak[typ] {
		tg.peak[typ] = tg.cur[typ]
	}
	tg.mu.Unlock()
	<-tg.gates[typ]
	tg.mu.Lock()
	tg.cur[typ]--
	tg.mu.Unlock()
	return typ, nil
}

func (tg *typedGate) peakOf(typ string) int {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.peak[typ]
}

func perType(q *Queue[string, string], typ string) scheduler.TypeStats {
	st := q.Stats()
	if st.Scheduler == nil {
		return scheduler.TypeStats{}
	}
	return st.Scheduler.PerType[typ]
}

// TestQueue_FairShare tests that a type with abundant demand stays within
// maxTypeShare while another type has work waiting.
func TestQueue_FairShare(t *testing.T) {
	tg := newTypedGate("A", "B")
	q, _ := New(tg.runner, WithConcurrency(10), WithSchedulerName(scheduler.NameFair),
		WithSchedulerOptions(scheduler.Options{MaxTypeShare: 0.8}))

	var completed atomic.Int32
	cb := func(string, error) { completed.Add(1) }
	q.Pause()
	for i := 0; i < 50; i++ {
		q.PushType("A", "A", cb)
	}
	for i := 0; i < 10; i++ {
		q.PushType("B", "B", cb)
	}
	q.Resume()

	settled := func() bool {
		want := q.Length()
		if want > 10 {
			want = 10
		}
		return q.Running() == want
	}
	waitFor(t, "all slots busy", settled)
	if a, b := perType(q, "A"), perType(q, "B"); a.Running != 8 || b.Running != 2 {
		t.Fatalf("expected 8 A and 2 B running, got %d and %d", a.Running, b.Running)
	}

	for step := 0; q.Length() > 0; step++ {
		typ := "A"
		if perType(q, "A").Running == 0 {
			typ = "B"
		}
		before := completed.Load()
		tg.gates[typ] <- struct{}{}
		waitFor(t, "completion", func() bool { return completed.Load() == before+1 })
		waitFor(t, "slots refilled", settled)

		a, b := perType(q, "A"), perType(q, "B")
		if b.Waiting > 0 && a.Running > 8 {
			t.Fatalf("step %d: A holds %d slots while B has %d waiting", step, a.Running, b.Waiting)
		}
		if q.Running() > 10 {
			t.Fatalf("step %d: %d running", step, q.Running())
		}
	}
	if completed.Load() != 60 {
		t.Errorf("expected 60 completions, got %d", completed.Load())
	}
}

// TestQueue_CappedHardLimit tests that a per-type cap holds even when other
// slots are free.
func TestQueue_CappedHardLimit(t *testing.T) {
	tg := newTypedGate("A", "B")
	q, _ := New(tg.runner, WithConcurrency(10), WithSchedulerName(scheduler.NameCapped),
		WithSchedulerOptions(scheduler.Options{TypeCaps: map[string]int{"A": 2}}))

	var completed atomic.Int32
	cb := func(string, error) { completed.Add(1) }
	for i := 0; i < 20; i++ {
		q.PushType("A", "A", cb)
	}
	for i := 0; i < 3; i++ {
		q.PushType("B", "B", cb)
	}
	waitFor(t, "A and B running", func() bool {
		return perType(q, "A").Running == 2 && perType(q, "B").Running == 3
	})
	time.Sleep(20 * time.Millisecond)
	if a := perType(q, "A").Running; a != 2 {
		t.Fatalf("expected 2 A running, got %d", a)
	}

	close(tg.gates["B"])
	close(tg.gates["A"])
	waitIdle(t, q)

	if completed.Load() != 23 {
		t.Errorf("expected 23 completions, got %d", completed.Load())
	}
	if p := tg.peakOf("A"); p > 2 {
		t.Errorf("A peaked at %d running, cap is 2", p)
	}
}

// TestQueue_CappedHeadDoesNotStall tests that a type at its hard cap at the
// head of the queue leaves free slots to other types further back.
func TestQueue_CappedHeadDoesNotStall(t *testing.T) {
	tg := newTypedGate("A", "B")
	q, _ := New(tg.runner, WithConcurrency(10), WithSchedulerName(scheduler.NameCapped),
		WithSchedulerOptions(scheduler.Options{TypeCaps: map[string]int{"A": 2}}))

	var completed atomic.Int32
	cb := func(string, error) { completed.Add(1) }
	q.Pause()
	for i := 0; i < 100; i++ {
		q.PushType("A", "A", cb)
	}
	for i := 0; i < 5; i++ {
		q.PushType("B", "B", cb)
	}
	q.Resume()

	waitFor(t, "every B job running", func() bool {
		return perType(q, "A").Running == 2 && perType(q, "B").Running == 5
	})
	if r := q.Running(); r != 7 {
		t.Fatalf("expected 7 running jobs, got %d", r)
	}

	close(tg.gates["B"])
	close(tg.gates["A"])
	waitIdle(t, q)
	if completed.Load() != 105 {
		t.Errorf("expected 105 completions, got %d", completed.Load())
	}
	if p := tg.peakOf("A"); p > 2 {
		t.Errorf("A peaked at %d running, cap is 2", p)
	}
}

// seqJob is a numbered job of a type.
type seqJob struct {
	typ string
	seq int
}

// recordingScheduler counts how often the wrapped policy skips the head.
type recordingScheduler struct {
	scheduler.Scheduler
	skips int
}

func (s *recordingScheduler) Select(types scheduler.Types) int {
	i := s.Scheduler.Select(types)
	if i > 0 {
		s.skips++
	}
	return i
}

// TestQueue_ArrivalOrderWithinType tests that jobs of one type start in the
// order they were pushed even when the scheduler picks from the middle of
// the queue.
func TestQueue_ArrivalOrderWithinType(t *testing.T) {
	one := 1
	policies := map[string]scheduler.Scheduler{
		"fair":   scheduler.NewFair(scheduler.Options{Concurrency: 3}),
		"capped": scheduler.NewCapped(scheduler.Options{Concurrency: 3, MaxTypeCap: &one}),
	}
	for name, policy := range policies {
		t.Run(name, func(t *testing.T) {
			var mu sync.Mutex
			started := map[string][]int{}
			rs := &recordingScheduler{Scheduler: policy}
			q, err := New(func(_ context.Context, j seqJob) (int, error) {
				mu.Lock()
				started[j.typ] = append(started[j.typ], j.seq)
				mu.Unlock()
				time.Sleep(20 * time.Microsecond)
				return j.seq, nil
			}, WithConcurrency(3), WithScheduler(rs))
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			const jobs = 1400
			q.Pause()
			for i := 0; i < jobs; i++ {
				typ := fmt.Sprintf("t%d", (i*i+i/3)%7)
				if err := q.PushType(typ, seqJob{typ: typ, seq: i}, nil); err != nil {
					t.Fatalf("PushType: %v", err)
				}
			}
			q.Resume()
			waitIdle(t, q)
			waitFor(t, "loops to exit", func() bool { return q.Runners() == 0 })

			mu.Lock()
			defer mu.Unlock()
			total := 0
			for typ, seqs := range started {
				total += len(seqs)
				for k := 1; k < len(seqs); k++ {
					if seqs[k] <= seqs[k-1] {
						t.Fatalf("type %s: job %d started after job %d", typ, seqs[k], seqs[k-1])
					}
				}
			}
			if total != jobs {
				t.Fatalf("expected %d started jobs, got %d", jobs, total)
			}
			if rs.skips == 0 {
				t.Fatal("expected the scheduler to pick jobs behind the head")
			}
		})
	}
}

// TestQueue_ConfigureUnparks tests that lifting a cap lets parked jobs start.
func TestQueue_ConfigureUnparks(t *testing.T) {
	tg := newTypedGate("A")
	q, _ := New(tg.runner, WithConcurrency(4), WithSchedulerName(scheduler.NameCapped),
		WithSchedulerOptions(scheduler.Options{MaxTypeShare: 1, TypeCaps: map[string]int{"A": 1}}))
	for i := 0; i < 4; i++ {
		q.PushType("A", "A", nil)
	}
	waitFor(t, "1 running job", func() bool { return q.Running() == 1 })

	if err := q.Configure(scheduler.Options{TypeCaps: map[string]int{"A": 3}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	waitFor(t, "cap raised to 3", func() bool { return q.Running() == 3 })

	close(tg.gates["A"])
	waitIdle(t, q)
}

// TestQueue_ZeroCapHoldsJobs tests that a type capped at zero never runs.
func TestQueue_ZeroCapHoldsJobs(t *testing.T) {
	q, _ := New(func(_ context.Context, s string) (string, error) { return s, nil },
		WithSchedulerName(scheduler.NameCapped),
		WithSchedulerOptions(scheduler.Options{TypeCaps: map[string]int{"blocked": 0}}))
	q.PushType("blocked", "x", nil)
	q.PushType("ok", "y", nil)
	waitFor(t, "ok job to finish", func() bool { return q.Length() == 1 })
	waitFor(t, "loops to park", func() bool { return q.Runners() == 0 })
	if q.Running() != 0 || q.Length() != 1 {
		t.Errorf("expected blocked job to stay queued, got %+v", q.Stats())
	}
}

// lifo is a custom scheduler that always picks the newest job.
type lifo struct{ waiting, started, done int }

func (s *lifo) Waiting(string) { s.waiting++ }
func (s *lifo) Start(string)   { s.started++ }
func (s *lifo) Done(string)    { s.done++ }
func (s *lifo) Select(types scheduler.Types) int {
	for i := types.Len() - 1; i > 0; i-- {
		if _, ok := types.PeekAt(i); ok {
			return i
		}
	}
	return 0
}

func TestQueue_CustomScheduler(t *testing.T) {
	var mu sync.Mutex
	var order []int
	s := &lifo{}
	q, err := New(func(_ context.Context, n int) (int, error) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		return n, nil
	}, WithConcurrency(1), WithScheduler(s))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.Pause()
	for i := 0; i < 5; i++ {
		q.PushType("any", i, nil)
	}
	q.Resume()
	waitIdle(t, q)

	want := []int{4, 3, 2, 1, 0}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected order %v, got %v", want, order)
	}
	waitFor(t, "loops to exit", func() bool { return q.Runners() == 0 })
	if s.waiting != 5 || s.started != 5 || s.done != 5 {
		t.Errorf("unexpected scheduler calls: %+v", *s)
	}
	if err := q.Configure(scheduler.Options{}); !errors.Is(err, ErrNotConfigurable) {
		t.Errorf("expected ErrNotConfigurable, got %v", err)
	}
	if q.GC() {
		t.Error("expected GC to report no collector")
	}
}

func TestQueue_StatsAndGC(t *testing.T) {
	q, _ := New(func(_ context.Context, s string) (string, error) { return s, nil },
		WithSchedulerName(scheduler.NameFair))
	q.PushType("a", "x", nil)
	q.PushType("b", "y", nil)
	waitIdle(t, q)

	st := q.Stats()
	if st.Scheduler == nil || st.Scheduler.Types != 2 {
		t.Fatalf("expected 2 types seen, got %+v", st.Scheduler)
	}
	if !q.GC() {
		t.Fatal("expected fair scheduler to collect")
	}
	if got := q.Stats().Scheduler.Types; got != 0 {
		t.Errorf("expected no types after GC, got %d", got)
	}
	q.Compact()
}

func TestQueue_WaitIdle(t *testing.T) {
	g := make(gate)
	q, _ := New(g.runner)
	if err := q.WaitIdle(context.Background()); err != nil {
		t.Fatalf("idle queue: %v", err)
	}

	q.Push(1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(g)
	waitIdle(t, q)
}

func TestQueue_RunnerContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "tenant-7")
	got := make(chan any, 1)
	q, _ := New(func(ctx context.Context, n int) (int, error) {
		got <- ctx.Value(key{})
		return n, nil
	}, WithContext(ctx))
	q.Push(1, nil)
	if v := <-got; v != "tenant-7" {
		t.Errorf("expected runner to see queue context, got %v", v)
	}
}
