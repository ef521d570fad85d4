package delay

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const maxSleep = 60 * time.Second

var (
	ErrNoTime      = errors.New("delay: event needs a time or a cron expression")
	ErrInvalidCron = errors.New("delay: invalid cron expression")
)

// Event is a pending firing. A non-empty Cron makes it recurring: after it
// fires it is pushed back at the next occurrence.
type Event struct {
	ID   string
	At   time.Time
	Cron string
}

// Next returns the first occurrence of the cron expression strictly after t.
// Only the 5-field form (minute hour day-of-month month day-of-week) is
// accepted.
func Next(expr string, t time.Time) (time.Time, error) {
	if len(strings.Fields(expr)) != 5 || !gronx.IsValid(expr) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}
	return gronx.NextTickAfter(expr, t, false)
}

// Resolve fills in At for a cron event that has none and validates the rest.
func Resolve(e Event, now time.Time) (Event, error) {
	if e.Cron != "" {
		next, err := Next(e.Cron, now)
		if err != nil {
			return e, err
		}
		if e.At.IsZero() {
			e.At = next
		}
		return e, nil
	}
	if e.At.IsZero() {
		return e, ErrNoTime
	}
	return e, nil
}

// Timer fires events on a background goroutine. fire is called from that
// goroutine and must not block for long.
type Timer struct {
	addc    chan Event
	removec chan string
	ctx     context.Context
	done    chan struct{}
}

// New starts a Timer that runs until ctx is cancelled.
func New(ctx context.Context, fire func(Event)) *Timer {
	t := &Timer{
		addc:    make(chan Event, 64),
		removec: make(chan string, 64),
		ctx:     ctx,
		done:    make(chan struct{}),
	}
	go t.run(fire)
	return t
}

// Add schedules e. An event already due fires right away.
func (t *Timer) Add(e Event) {
	select {
	case t.addc <- e:
	case <-t.ctx.Done():
	}
}

// Remove cancels the event with the given id, if still pending.
func (t *Timer) Remove(id string) {
	select {
	case t.removec <- id:
	case <-t.ctx.Done():
	}
}

// Done is closed once the goroutine has exited.
func (t *Timer) Done() <-chan struct{} {
	return t.done
}

func (t *Timer) run(fire func(Event)) {
	defer close(t.done)
	h := &eventHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	reset := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			return nil
		}
		dur := min(max(time.Until((*h)[0].At), 0), maxSleep)
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerc := reset()
	for {
		select {
		case <-t.ctx.Done():
			return
		case e := <-t.addc:
			heapPush(h, e)
			timerc = reset()
		case id := <-t.removec:
			heapRemove(h, id)
			timerc = reset()
		case <-timerc:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].At.After(now) {
				e := heapPop(h)
				fire(e)
				if e.Cron == "" {
					continue
				}
				next, err := Next(e.Cron, time.Now())
				if err == nil {
					heapPush(h, Event{ID: e.ID, At: next, Cron: e.Cron})
				}
			}
			timerc = reset()
		}
	}
}
