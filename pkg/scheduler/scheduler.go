package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is wrapped by every configuration error in this package.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownScheduler is returned by New for an unrecognised policy name.
	ErrUnknownScheduler = fmt.Errorf("%w: unknown scheduler", ErrInvalidArgument)
)

// Policy names accepted by New.
const (
	NameFair   = "fair"
	NameCapped = "capped"
)

// NoSelection is returned by Select when no queued job may start now.
const NoSelection = -1

// Types is a read-only view of the queued job types, index-aligned with the
// queued jobs. PeekAt reports false for a position that has already been
// consumed.
type Types interface {
	Len() int
	PeekAt(i int) (string, bool)
}

// Scheduler decides which queued job runs next.
type Scheduler interface {
	// Waiting records that a job of typ was queued.
	Waiting(typ string)
	// Start moves one job of typ from waiting to running.
	Start(typ string)
	// Done records that a running job of typ finished.
	Done(typ string)
	// Select returns the index into types of the job to run next, or
	// NoSelection if none may start until a running job finishes.
	Select(types Types) int
}

// Configurer is implemented by schedulers that accept runtime reconfiguration.
type Configurer interface {
	Configure(opts Options)
}

// Collector is implemented by schedulers that keep per-type bookkeeping which
// can be compacted on demand.
type Collector interface {
	GC()
}

// Reporter is implemented by schedulers that expose their counters.
type Reporter interface {
	Stats() Stats
}

// Options configures Fair and Capped schedulers. Zero values leave the
// current setting unchanged.
type Options struct {
	// Concurrency is the number of running slots shares are computed against.
	Concurrency int `yaml:"concurrency" json:"concurrency,omitempty"`
	// MaxTypeShare is the largest fraction of running slots a single type
	// may hold, in (0, 1].
	MaxTypeShare float64 `yaml:"max_type_share" json:"maxTypeShare,omitempty"`
	// MaxScanLength bounds how far Select looks past the head of the queue.
	MaxScanLength int `yaml:"max_scan_length" json:"maxScanLength,omitempty"`
	// MaxTypeCap is the hard cap on running jobs of any one type. A cap of
	// zero or less blocks every type. Only used by Capped.
	MaxTypeCap *int `yaml:"max_type_cap" json:"maxTypeCap,omitempty"`
	// TypeCaps are per-type hard caps overriding MaxTypeCap. New entries are
	// merged into the existing ones; a non-nil empty map removes them all.
	// Only used by Capped.
	TypeCaps map[string]int `yaml:"type_caps" json:"typeCaps,omitempty"`
}

// TypeStats holds the counters of a single type.
type TypeStats struct {
	Waiting int `json:"waiting"`
	Running int `json:"running"`
}

// Stats is a snapshot of a scheduler's counters.
type Stats struct {
	Waiting int                  `json:"waiting"`
	Running int                  `json:"running"`
	Types   int                  `json:"types"`
	PerType map[string]TypeStats `json:"perType"`
}

// New builds the named policy.
func New(name string, opts Options) (Scheduler, error) {
	switch name {
	case NameFair:
		return NewFair(opts), nil
	case NameCapped:
		return NewCapped(opts), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownScheduler, name)
	}
}

// selectIndex returns the first index within maxScan positions whose type is
// not blocked, or 0 if there is none.
func selectIndex(types Types, maxScan int, blocked func(string) bool) int {
	n := types.Len()
	if n == 0 {
		return 0
	}
	if typ, ok := types.PeekAt(0); ok && !blocked(typ) {
		return 0
	}
	if maxScan > n {
		maxScan = n
	}
	for i := 1; i < maxScan; i++ {
		typ, ok := types.PeekAt(i)
		if !ok {
			continue
		}
		if !blocked(typ) {
			return i
		}
	}
	return 0
}
