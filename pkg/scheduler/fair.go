package scheduler

// Default Fair settings.
const (
	DefaultConcurrency   = 10
	DefaultMaxTypeShare  = 0.80
	DefaultMaxScanLength = 1000
)

// Fair is a proportional-share scheduler. A type is admitted while it holds
// less than both MaxTypeShare of the running slots and its share of the
// current demand.
type Fair struct {
	concurrency   int
	maxTypeShare  float64
	maxScanLength int

	waiting counts
	running counts

	waitingTotal int
	runningTotal int
	typesSeen    int
}

var (
	_ Scheduler  = (*Fair)(nil)
	_ Configurer = (*Fair)(nil)
	_ Collector  = (*Fair)(nil)
	_ Reporter   = (*Fair)(nil)
)

// NewFair returns a Fair scheduler with defaults overridden by opts.
func NewFair(opts Options) *Fair {
	f := &Fair{
		concurrency:   DefaultConcurrency,
		maxTypeShare:  DefaultMaxTypeShare,
		maxScanLength: DefaultMaxScanLength,
		waiting:       make(counts),
		running:       make(counts),
	}
	f.Configure(opts)
	return f
}

// Configure applies the non-zero fields of opts.
func (f *Fair) Configure(opts Options) {
	if opts.Concurrency > 0 {
		f.concurrency = opts.Concurrency
	}
	if opts.MaxTypeShare > 0 {
		f.maxTypeShare = opts.MaxTypeShare
	}
	if opts.MaxScanLength > 0 {
		f.maxScanLength = opts.MaxScanLength
	}
}

// Concurrency returns the number of slots shares are computed against.
func (f *Fair) Concurrency() int { return f.concurrency }

// MaxTypeShare returns the per-type ceiling on the running fraction.
func (f *Fair) MaxTypeShare() float64 { return f.maxTypeShare }

// MaxScanLength returns how many positions Select examines.
func (f *Fair) MaxScanLength() int { return f.maxScanLength }

// Waiting records a queued job of typ.
func (f *Fair) Waiting(typ string) {
	f.touch(typ)
	f.waiting.inc(typ)
	f.waitingTotal++
}

// touch creates zeroed entries for a type the first time it is seen.
func (f *Fair) touch(typ string) {
	_, w := f.waiting[typ]
	_, r := f.running[typ]
	if w && r {
		return
	}
	if !w && !r {
		f.typesSeen++
	}
	if !w {
		f.waiting[typ] = 0
	}
	if !r {
		f.running[typ] = 0
	}
}

// Start moves one job of typ from waiting to running.
func (f *Fair) Start(typ string) {
	f.touch(typ)
	if f.waiting.dec(typ) {
		f.waitingTotal--
	}
	f.running.inc(typ)
	f.runningTotal++
}

// Done records that a job of typ finished.
func (f *Fair) Done(typ string) {
	if f.running.dec(typ) {
		f.runningTotal--
	}
}

// Select returns the index of the first admissible job.
func (f *Fair) Select(types Types) int {
	return selectIndex(types, f.maxScanLength, f.IsBlocked)
}

// IsBlocked reports whether a job of typ must wait for others to finish.
func (f *Fair) IsBlocked(typ string) bool {
	if f.runningTotal == 0 {
		return false
	}
	share := float64(f.running.get(typ)) / float64(f.concurrency)
	if share >= f.maxTypeShare {
		return true
	}
	if f.waitingTotal > 0 {
		demand := float64(f.waiting.get(typ)) / float64(f.waitingTotal)
		if share >= demand {
			return true
		}
	}
	return false
}

// Running returns the number of running jobs of typ.
func (f *Fair) Running(typ string) int { return f.running.get(typ) }

// WaitingCount returns the number of queued jobs of typ.
func (f *Fair) WaitingCount(typ string) int { return f.waiting.get(typ) }

// GC drops the bookkeeping of types that have nothing waiting or running.
func (f *Fair) GC() {
	f.waiting = f.waiting.omitZeros()
	f.running = f.running.omitZeros()
	seen := len(f.running)
	for typ := range f.waiting {
		if _, ok := f.running[typ]; !ok {
			seen++
		}
	}
	f.typesSeen = seen
}

// Stats returns a snapshot of the counters.
func (f *Fair) Stats() Stats {
	st := Stats{
		Waiting: f.waitingTotal,
		Running: f.runningTotal,
		Types:   f.typesSeen,
		PerType: make(map[string]TypeStats, f.typesSeen),
	}
	for typ, n := range f.waiting {
		ts := st.PerType[typ]
		ts.Waiting = n
		st.PerType[typ] = ts
	}
	for typ, n := range f.running {
		ts := st.PerType[typ]
		ts.Running = n
		st.PerType[typ] = ts
	}
	return st
}
