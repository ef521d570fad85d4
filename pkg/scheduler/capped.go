package scheduler

import "maps"

// Capped is a Fair scheduler with hard limits on how many jobs of a type
// may run at once. A cap of zero or less keeps the type from running at all.
type Capped struct {
	fair *Fair

	maxTypeCap    int
	hasMaxTypeCap bool
	typeCaps      map[string]int
}

var (
	_ Scheduler  = (*Capped)(nil)
	_ Configurer = (*Capped)(nil)
	_ Collector  = (*Capped)(nil)
	_ Reporter   = (*Capped)(nil)
)

// NewCapped returns a Capped scheduler configured by opts. Without
// MaxTypeCap or TypeCaps it behaves exactly like Fair.
func NewCapped(opts Options) *Capped {
	c := &Capped{
		fair:     NewFair(Options{}),
		typeCaps: make(map[string]int),
	}
	c.Configure(opts)
	return c
}

// Configure applies opts. TypeCaps entries are merged into the existing ones
// so individual types can be capped or re-capped; a non-nil empty map
// removes every per-type cap.
func (c *Capped) Configure(opts Options) {
	c.fair.Configure(opts)
	if opts.MaxTypeCap != nil {
		c.maxTypeCap = *opts.MaxTypeCap
		c.hasMaxTypeCap = true
	}
	if opts.TypeCaps != nil {
		if len(opts.TypeCaps) == 0 {
			clear(c.typeCaps)
		}
		maps.Copy(c.typeCaps, opts.TypeCaps)
	}
}

// ClearMaxTypeCap removes the global per-type cap.
func (c *Capped) ClearMaxTypeCap() {
	c.maxTypeCap = 0
	c.hasMaxTypeCap = false
}

// MaxTypeCap returns the global per-type cap and whether one is set.
func (c *Capped) MaxTypeCap() (int, bool) { return c.maxTypeCap, c.hasMaxTypeCap }

// TypeCap returns the cap configured for typ and whether one is set.
func (c *Capped) TypeCap(typ string) (int, bool) {
	n, ok := c.typeCaps[typ]
	return n, ok
}

// Fair returns the embedded share computation.
func (c *Capped) Fair() *Fair { return c.fair }

func (c *Capped) Waiting(typ string) { c.fair.Waiting(typ) }
func (c *Capped) Start(typ string)   { c.fair.Start(typ) }
func (c *Capped) Done(typ string)    { c.fair.Done(typ) }

// Select returns the index of the first admissible job. When nothing in the
// scan window is admissible it falls back like Fair, but only to a job whose
// type is under its hard cap: the head when it qualifies, otherwise the
// first such job in the window. NoSelection means every type in the window
// is at its cap.
func (c *Capped) Select(types Types) int {
	maxScan := c.fair.maxScanLength
	if i := selectIndex(types, maxScan, c.IsBlocked); i != 0 {
		return i
	}
	typ, ok := types.PeekAt(0)
	if !ok || !c.capBlocked(typ) {
		return 0
	}
	// The head is capped, so a zero result means nothing qualified.
	if i := selectIndex(types, maxScan, c.capBlocked); i != 0 {
		return i
	}
	return NoSelection
}

// IsBlocked reports whether typ is held back by its fair share, the global
// cap, or its own cap. A per-type cap takes precedence over the global one.
func (c *Capped) IsBlocked(typ string) bool {
	return c.fair.IsBlocked(typ) || c.capBlocked(typ)
}

func (c *Capped) capBlocked(typ string) bool {
	running := c.fair.running.get(typ)
	if limit, ok := c.typeCaps[typ]; ok {
		return limit <= 0 || running >= limit
	}
	if c.hasMaxTypeCap {
		return c.maxTypeCap <= 0 || running >= c.maxTypeCap
	}
	return false
}

// GC drops idle type counters. Configured caps are kept.
func (c *Capped) GC() { c.fair.GC() }

// Stats returns a snapshot of the counters.
func (c *Capped) Stats() Stats { return c.fair.Stats() }
