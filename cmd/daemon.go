package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/warpdl/quickq/internal/config"
	"github.com/warpdl/quickq/internal/delay"
	"github.com/warpdl/quickq/internal/server"
	"github.com/warpdl/quickq/pkg/journal"
	"github.com/warpdl/quickq/pkg/logger"
	"github.com/warpdl/quickq/pkg/quickq"
	"golang.org/x/sync/errgroup"
)

// sleepJob is the payload the daemon runs: it waits MS milliseconds.
type sleepJob struct {
	MS int `json:"ms"`
}

func runSleep(ctx context.Context, j sleepJob) (time.Duration, error) {
	start := time.Now()
	t := time.NewTimer(time.Duration(j.MS) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// delayedJob is a job held back by the delay timer.
type delayedJob struct {
	typ string
	job sleepJob
	// recurring jobs stay registered after they fire
	recurring bool
}

type daemonOptions struct {
	gcInterval   time.Duration
	drainTimeout time.Duration
	// listener replaces rpc.listen when set.
	listener net.Listener
}

// daemon owns the queue of a "quickq serve" process and everything wired
// around it.
type daemon struct {
	cfg  config.Config
	opts daemonOptions
	log  logger.Logger

	queue      *quickq.Queue[sleepJob, time.Duration]
	tracked    *journal.Tracked[sleepJob, time.Duration]
	rpc        *server.RPCServer
	web        *server.WebServer
	cancelJobs context.CancelFunc

	delays     *delay.Timer
	stopDelays context.CancelFunc
	delayMu    sync.Mutex
	delayed    map[string]delayedJob

	completed atomic.Int64
	failed    atomic.Int64
}

func newDaemon(ctx context.Context, cfg config.Config, l logger.Logger, opts daemonOptions) (*daemon, error) {
	if opts.drainTimeout <= 0 {
		opts.drainTimeout = DEF_DRAIN_TIMEOUT
	}
	// Jobs outlive the signal context so a shutdown can let them finish.
	jobCtx, cancel := context.WithCancel(context.Background())
	d := &daemon{cfg: cfg, opts: opts, log: l, cancelJobs: cancel}

	q, err := quickq.New(runSleep, append(cfg.QueueOptions(l), quickq.WithContext(jobCtx))...)
	if err != nil {
		cancel()
		return nil, err
	}
	d.queue = q
	q.SetDrain(d.drained)

	store, err := cfg.Journal.OpenStore(ctx, fsys)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error: cannot open journal: %w", err)
	}
	if store != nil {
		j, err := journal.Open[sleepJob](ctx, store, journal.WithLogger(l))
		if err != nil {
			_ = store.Close()
			cancel()
			return nil, fmt.Errorf("error: cannot load journal: %w", err)
		}
		d.tracked = journal.Track(q, j)
		d.tracked.OnDone(d.finished)
	}

	if cfg.RPC.Secret == "" {
		l.Warning("rpc: no secret configured, control plane disabled")
		return d, nil
	}
	d.rpc = server.NewRPCServer(&server.Config{
		Secret:    cfg.RPC.Secret,
		Version:   currentBuildArgs.Version,
		Commit:    currentBuildArgs.Commit,
		BuildType: currentBuildArgs.BuildType,
	}, q, d.submit, l)
	d.rpc.SetDelayer(d)
	d.web = server.NewWebServer(l, d.rpc, cfg.RPC.Listen)

	delayCtx, stop := context.WithCancel(context.Background())
	d.stopDelays = stop
	d.delayed = make(map[string]delayedJob)
	d.delays = delay.New(delayCtx, d.fire)
	return d, nil
}

func decodeJob(payload json.RawMessage) (sleepJob, error) {
	var job sleepJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("%w: payload: %v", quickq.ErrInvalidArgument, err)
	}
	if job.MS < 0 {
		return job, fmt.Errorf("%w: ms must not be negative, got %d", quickq.ErrInvalidArgument, job.MS)
	}
	return job, nil
}

// submit is the jobs.submit backend.
func (d *daemon) submit(ctx context.Context, typ string, payload json.RawMessage) (string, error) {
	job, err := decodeJob(payload)
	if err != nil {
		return "", err
	}
	return d.push(ctx, typ, job)
}

func (d *daemon) push(ctx context.Context, typ string, job sleepJob) (string, error) {
	if d.tracked != nil {
		return d.tracked.PushType(ctx, typ, job, nil)
	}

	e := journal.Entry[sleepJob]{ID: uuid.NewString(), Type: typ, Payload: job}
	cb := func(res time.Duration, err error) { d.finished(e, res, err) }
	var err error
	if typ == "" && d.queue.Scheduler() == nil {
		err = d.queue.Push(job, cb)
	} else {
		err = d.queue.PushType(typ, job, cb)
	}
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// Schedule holds a job back until at, or runs it on every tick of cron.
func (d *daemon) Schedule(_ context.Context, typ string, payload json.RawMessage, at time.Time, cron string) (string, time.Time, error) {
	job, err := decodeJob(payload)
	if err != nil {
		return "", time.Time{}, err
	}
	if typ != "" && d.queue.Scheduler() == nil {
		return "", time.Time{}, quickq.ErrUntypedQueue
	}
	e, err := delay.Resolve(delay.Event{ID: uuid.NewString(), At: at, Cron: cron}, time.Now())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", quickq.ErrInvalidArgument, err)
	}
	d.delayMu.Lock()
	d.delayed[e.ID] = delayedJob{typ: typ, job: job, recurring: e.Cron != ""}
	d.delayMu.Unlock()
	d.delays.Add(e)
	d.log.Info("job %s scheduled for %s", e.ID, e.At.Format(time.RFC3339))
	return e.ID, e.At, nil
}

// Unschedule drops a held-back job and reports whether it was pending.
func (d *daemon) Unschedule(id string) bool {
	d.delayMu.Lock()
	_, ok := d.delayed[id]
	delete(d.delayed, id)
	d.delayMu.Unlock()
	if ok {
		d.delays.Remove(id)
	}
	return ok
}

// Scheduled returns the number of held-back jobs.
func (d *daemon) Scheduled() int {
	d.delayMu.Lock()
	defer d.delayMu.Unlock()
	return len(d.delayed)
}

// fire runs on the delay timer goroutine.
func (d *daemon) fire(e delay.Event) {
	d.delayMu.Lock()
	dj, ok := d.delayed[e.ID]
	if ok && !dj.recurring {
		delete(d.delayed, e.ID)
	}
	d.delayMu.Unlock()
	if !ok {
		return
	}
	id, err := d.push(context.Background(), dj.typ, dj.job)
	if err != nil {
		d.log.Warning("scheduled job %s: %v", e.ID, err)
		return
	}
	d.log.Info("scheduled job %s queued as %s", e.ID, id)
}

func (d *daemon) finished(e journal.Entry[sleepJob], _ time.Duration, err error) {
	n := server.JobCompletedNotification{ID: e.ID, Type: e.Type}
	if err != nil {
		d.failed.Add(1)
		n.Error = err.Error()
		d.log.Warning("job %s failed: %v", e.ID, err)
	} else {
		d.completed.Add(1)
	}
	if d.rpc != nil {
		d.rpc.Notifier().Broadcast(server.NotifyJobCompleted, &n)
	}
}

func (d *daemon) drained() {
	n := server.QueueIdleNotification{
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}
	d.log.Info("queue drained: %d completed, %d failed", n.Completed, n.Failed)
	if d.rpc != nil {
		d.rpc.Notifier().Broadcast(server.NotifyQueueIdle, &n)
	}
}

// Run replays the journal and serves until ctx is cancelled, then stops the
// queue.
func (d *daemon) Run(ctx context.Context) error {
	if d.tracked != nil {
		if _, err := d.tracked.Replay(ctx, nil); err != nil {
			return fmt.Errorf("error: cannot replay journal: %w", err)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	if d.web != nil {
		g.Go(func() error {
			if d.opts.listener != nil {
				return d.web.RunListener(gctx, d.opts.listener)
			}
			return d.web.Run(gctx)
		})
	}
	g.Go(func() error {
		d.collect(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.shutdown()
		return nil
	})
	return g.Wait()
}

// collect periodically drops the scheduler counters of finished types.
func (d *daemon) collect(ctx context.Context) {
	if d.opts.gcInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.opts.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.queue.GC()
			d.queue.Compact()
		}
	}
}

// shutdown pauses the queue and waits up to drainTimeout for running jobs.
// Jobs still running after that are cancelled. Queued jobs stay in the
// journal for the next start.
func (d *daemon) shutdown() {
	if d.stopDelays != nil {
		d.stopDelays()
		if n := d.Scheduled(); n > 0 {
			d.log.Warning("shutdown: dropping %d scheduled jobs", n)
		}
	}
	d.queue.Pause()
	deadline := time.NewTimer(d.opts.drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for d.queue.Running() > 0 {
		select {
		case <-deadline.C:
			d.log.Warning("shutdown: cancelling %d running jobs", d.queue.Running())
			d.cancelJobs()
			return
		case <-ticker.C:
		}
	}
	if waiting := d.queue.Length(); waiting > 0 {
		if d.tracked != nil {
			d.log.Info("shutdown: %d queued jobs kept in the journal", waiting)
		} else {
			d.log.Warning("shutdown: dropping %d queued jobs, no journal configured", waiting)
		}
	}
}

// Close releases the journal and the RPC server.
func (d *daemon) Close() error {
	d.cancelJobs()
	if d.stopDelays != nil {
		d.stopDelays()
	}
	if d.rpc != nil {
		d.rpc.Close()
	}
	if d.tracked != nil {
		return d.tracked.Journal().Close()
	}
	return nil
}
