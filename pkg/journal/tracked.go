package journal

import (
	"context"
	"errors"

	"github.com/warpdl/quickq/pkg/quickq"
)

// Tracked journals every job pushed through it and removes the entry once
// the job's callback runs. A job that ends with context.Canceled was
// interrupted rather than finished, so its entry stays for the next Replay.
type Tracked[P, R any] struct {
	queue   *quickq.Queue[P, R]
	journal *Journal[P]
	onDone  func(e Entry[P], result R, err error)
}

// Track pairs a queue with a journal.
func Track[P, R any](q *quickq.Queue[P, R], j *Journal[P]) *Tracked[P, R] {
	return &Tracked[P, R]{queue: q, journal: j}
}

// OnDone registers fn to run after every tracked job, replayed ones
// included, once its entry has been removed or kept. It must be called before the
// first push.
func (t *Tracked[P, R]) OnDone(fn func(e Entry[P], result R, err error)) {
	t.onDone = fn
}

// Queue returns the tracked queue.
func (t *Tracked[P, R]) Queue() *quickq.Queue[P, R] { return t.queue }

// Journal returns the journal.
func (t *Tracked[P, R]) Journal() *Journal[P] { return t.journal }

// Push journals payload and appends it to the queue.
func (t *Tracked[P, R]) Push(ctx context.Context, payload P, cb quickq.Callback[R]) (string, error) {
	return t.push(ctx, "", payload, cb)
}

// PushType journals payload as a job of type typ and appends it to the queue.
func (t *Tracked[P, R]) PushType(ctx context.Context, typ string, payload P, cb quickq.Callback[R]) (string, error) {
	return t.push(ctx, typ, payload, cb)
}

func (t *Tracked[P, R]) push(ctx context.Context, typ string, payload P, cb quickq.Callback[R]) (string, error) {
	id, err := t.journal.Insert(ctx, typ, payload)
	if err != nil {
		return "", err
	}
	if err := t.enqueue(Entry[P]{ID: id, Type: typ, Payload: payload}, cb); err != nil {
		if rerr := t.journal.Remove(ctx, id); rerr != nil {
			t.journal.log.Warning("cannot drop rejected job %s: %v", id, rerr)
		}
		return "", err
	}
	return id, nil
}

// Replay queues every pending journal entry again, typically after a
// restart. cb receives the outcome of each replayed job.
func (t *Tracked[P, R]) Replay(ctx context.Context, cb quickq.Callback[R]) (int, error) {
	pending := t.journal.Pending()
	for i, e := range pending {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := t.enqueue(e, cb); err != nil {
			return i, err
		}
	}
	if len(pending) > 0 {
		t.journal.log.Info("replayed %d journaled jobs", len(pending))
	}
	return len(pending), nil
}

func (t *Tracked[P, R]) enqueue(e Entry[P], cb quickq.Callback[R]) error {
	done := func(res R, err error) {
		if errors.Is(err, context.Canceled) {
			t.journal.log.Info("job %s interrupted, kept for replay", e.ID)
		} else if rerr := t.journal.Remove(context.Background(), e.ID); rerr != nil {
			t.journal.log.Error("cannot mark job %s done: %v", e.ID, rerr)
		}
		if t.onDone != nil {
			t.onDone(e, res, err)
		}
		if cb != nil {
			cb(res, err)
		}
	}
	if e.Type == "" && t.queue.Scheduler() == nil {
		return t.queue.Push(e.Payload, done)
	}
	return t.queue.PushType(e.Type, e.Payload, done)
}
