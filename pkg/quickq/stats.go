package quickq

import "github.com/warpdl/quickq/pkg/scheduler"

// Stats is a point-in-time snapshot of a queue.
type Stats struct {
	Length      int              `json:"length"`
	Running     int              `json:"running"`
	Runners     int              `json:"runners"`
	Concurrency int              `json:"concurrency"`
	Paused      bool             `json:"paused"`
	Scheduler   *scheduler.Stats `json:"scheduler,omitempty"`
}

// Stats returns a consistent snapshot of the queue and, when the scheduler
// reports them, its per-type counters.
func (q *Queue[P, R]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{
		Length:      q.length,
		Running:     q.running,
		Runners:     q.runners,
		Concurrency: q.concurrency,
		Paused:      q.concurrency <= 0,
	}
	if r, ok := q.sched.(scheduler.Reporter); ok {
		ss := r.Stats()
		st.Scheduler = &ss
	}
	return st
}
