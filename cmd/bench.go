package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/warpdl/quickq/pkg/quickq"
	"github.com/warpdl/quickq/pkg/scheduler"
	"golang.org/x/time/rate"
)

const (
	DEF_BENCH_TASKS  = 100000
	DEF_BENCH_ROUNDS = 5
)

var (
	benchTasks     int
	benchRounds    int
	benchConc      int
	benchTypes     int
	benchTypeCap   int
	benchScheduler string
	benchRate      float64
	benchQuiet     bool

	benchFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "tasks, n",
			Usage:       "jobs pushed per round",
			Value:       DEF_BENCH_TASKS,
			Destination: &benchTasks,
		},
		cli.IntFlag{
			Name:        "rounds, r",
			Usage:       "number of rounds",
			Value:       DEF_BENCH_ROUNDS,
			Destination: &benchRounds,
		},
		cli.IntFlag{
			Name:        "concurrency, j",
			Usage:       "queue concurrency",
			Value:       quickq.DefaultConcurrency,
			Destination: &benchConc,
		},
		cli.IntFlag{
			Name:        "types, t",
			Usage:       "spread jobs over this many job types (0 = untyped)",
			Destination: &benchTypes,
		},
		cli.StringFlag{
			Name:        "scheduler",
			Usage:       "scheduler for typed jobs: fair or capped (default: fair when --types is set)",
			Destination: &benchScheduler,
		},
		cli.IntFlag{
			Name:        "type-cap",
			Usage:       "per-type running cap for the capped scheduler (0 = none)",
			Destination: &benchTypeCap,
		},
		cli.Float64Flag{
			Name:        "rate",
			Usage:       "limit pushes to this many per second (0 = unlimited)",
			Destination: &benchRate,
		},
		cli.BoolFlag{
			Name:        "quiet, q",
			Usage:       "do not draw progress bars",
			Destination: &benchQuiet,
		},
	}
)

var errBenchMismatch = errors.New("completion count mismatch")

type benchOptions struct {
	tasks       int
	concurrency int
	types       int
	typeCap     int
	scheduler   string
	rate        float64
}

func (o benchOptions) validate() error {
	switch {
	case o.tasks <= 0:
		return fmt.Errorf("tasks must be positive, got %d", o.tasks)
	case o.concurrency <= 0:
		return fmt.Errorf("concurrency must be positive, got %d", o.concurrency)
	case o.types < 0:
		return fmt.Errorf("types must not be negative, got %d", o.types)
	case o.rate < 0:
		return fmt.Errorf("rate must not be negative, got %g", o.rate)
	}
	switch o.scheduler {
	case "", scheduler.NameFair, scheduler.NameCapped:
	default:
		return fmt.Errorf("unknown scheduler %q", o.scheduler)
	}
	return nil
}

func (o benchOptions) typed() bool {
	return o.types > 0 || o.scheduler != ""
}

func (o benchOptions) queueOptions() []quickq.Option {
	opts := []quickq.Option{quickq.WithConcurrency(o.concurrency)}
	if !o.typed() {
		return opts
	}
	name := o.scheduler
	if name == "" {
		name = scheduler.NameFair
	}
	var sopts scheduler.Options
	if o.typeCap > 0 {
		sopts.MaxTypeCap = &o.typeCap
	}
	return append(opts, quickq.WithSchedulerName(name), quickq.WithSchedulerOptions(sopts))
}

type benchResult struct {
	Round   int
	Tasks   int
	Elapsed time.Duration
}

func (r benchResult) Rate() float64 {
	return float64(r.Tasks) / r.Elapsed.Seconds()
}

func bench(ctx *cli.Context) error {
	o := benchOptions{
		tasks:       benchTasks,
		concurrency: benchConc,
		types:       benchTypes,
		typeCap:     benchTypeCap,
		scheduler:   benchScheduler,
		rate:        benchRate,
	}
	if err := o.validate(); err != nil {
		return printErrWithCmdHelp(ctx, err)
	}
	if benchRounds <= 0 {
		return printErrWithCmdHelp(ctx, fmt.Errorf("rounds must be positive, got %d", benchRounds))
	}

	var p *mpb.Progress
	if !benchQuiet {
		p = mpb.New(mpb.WithOutput(ctx.App.Writer), mpb.WithWidth(48))
	}
	results := make([]benchResult, 0, benchRounds)
	for round := 1; round <= benchRounds; round++ {
		var bar *mpb.Bar
		if p != nil {
			bar = initBar(p, fmt.Sprintf("round %d", round), int64(o.tasks))
		}
		res, err := runBench(context.Background(), o, bar)
		if err != nil {
			if bar != nil {
				bar.Abort(false)
				p.Wait()
			}
			return runtimeErr("bench", "round "+strconv.Itoa(round), err)
		}
		res.Round = round
		results = append(results, res)
	}
	if p != nil {
		p.Wait()
	}
	for _, r := range results {
		fmt.Fprintf(ctx.App.Writer, "round %d: %d jobs in %s, %.0f jobs/sec\n",
			r.Round, r.Tasks, r.Elapsed.Round(time.Microsecond), r.Rate())
	}
	return nil
}

// runBench pushes o.tasks no-op jobs and waits for the queue to drain.
func runBench(ctx context.Context, o benchOptions, bar *mpb.Bar) (benchResult, error) {
	var ncalls, ndone atomic.Int64
	q, err := quickq.New(func(context.Context, int) (struct{}, error) {
		ncalls.Add(1)
		return struct{}{}, nil
	}, o.queueOptions()...)
	if err != nil {
		return benchResult{}, err
	}

	done := make(chan struct{})
	var once sync.Once
	// Drain fires on every idle transition; a throttled producer can let the
	// queue idle before the last push.
	q.SetDrain(func() {
		if ndone.Load() == int64(o.tasks) {
			once.Do(func() { close(done) })
		}
	})
	cb := func(struct{}, error) {
		ndone.Add(1)
		if bar != nil {
			bar.Increment()
		}
	}

	var limiter *rate.Limiter
	if o.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rate), max(1, int(o.rate/10)))
	}
	types := make([]string, o.types)
	for i := range types {
		types[i] = "t" + strconv.Itoa(i)
	}

	start := time.Now()
	for i := 0; i < o.tasks; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return benchResult{}, err
			}
		}
		switch {
		case len(types) > 0:
			err = q.PushType(types[i%len(types)], i, cb)
		case o.typed():
			err = q.PushType("", i, cb)
		default:
			err = q.Push(i, cb)
		}
		if err != nil {
			return benchResult{}, err
		}
	}
	select {
	case <-done:
	case <-ctx.Done():
		return benchResult{}, ctx.Err()
	}
	elapsed := time.Since(start)

	if c, d := ncalls.Load(), ndone.Load(); c != int64(o.tasks) || d != int64(o.tasks) {
		return benchResult{}, fmt.Errorf("%w: %d calls, %d callbacks, want %d", errBenchMismatch, c, d, o.tasks)
	}
	return benchResult{Tasks: o.tasks, Elapsed: elapsed}, nil
}
