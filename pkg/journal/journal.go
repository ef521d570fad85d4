package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/warpdl/quickq/pkg/logger"
)

// Entry is a pending job.
type Entry[P any] struct {
	ID      string `json:"id"`
	Type    string `json:"type,omitempty"`
	Payload P      `json:"payload"`
}

// record is the stored form of an entry; the id lives in the Record.
type record[P any] struct {
	Type    string `json:"type,omitempty"`
	Payload P      `json:"payload"`
}

// Option configures a Journal.
type Option func(*settings)

type settings struct {
	log   logger.Logger
	newID func() string
}

// WithLogger sets the logger used for store maintenance messages.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithIDFunc replaces the id generator. Ids must be unique, non-empty and
// free of spaces and newlines.
func WithIDFunc(fn func() string) Option {
	return func(s *settings) { s.newID = fn }
}

// Journal records pending jobs with payloads of type P.
type Journal[P any] struct {
	store Store
	log   logger.Logger
	newID func() string

	mu      sync.Mutex
	ids     []string
	entries map[string]Entry[P]
}

// Open creates a journal on store and reloads the jobs it still holds.
func Open[P any](ctx context.Context, store Store, opts ...Option) (*Journal[P], error) {
	s := settings{newID: uuid.NewString}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.NewNopLogger()
	}
	j := &Journal[P]{
		store:   store,
		log:     s.log,
		newID:   s.newID,
		entries: make(map[string]Entry[P]),
	}
	if err := j.reload(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal[P]) reload(ctx context.Context) error {
	recs, err := j.store.Load(ctx)
	if err != nil {
		return err
	}
	for i, rec := range recs {
		if rec.Deleted {
			delete(j.entries, rec.ID)
			continue
		}
		var r record[P]
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			return fmt.Errorf("%w: job %s in record %d: %v", ErrCorrupt, rec.ID, i+1, err)
		}
		if _, ok := j.entries[rec.ID]; !ok {
			j.ids = append(j.ids, rec.ID)
		}
		j.entries[rec.ID] = Entry[P]{ID: rec.ID, Type: r.Type, Payload: r.Payload}
	}
	j.compactIDs()
	if len(recs) > 0 {
		j.log.Info("journal reloaded: %d records, %d pending", len(recs), len(j.entries))
	}
	return nil
}

// Insert stores a job and returns its id.
func (j *Journal[P]) Insert(ctx context.Context, typ string, payload P) (string, error) {
	data, err := json.Marshal(record[P]{Type: typ, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("error: cannot encode job: %w", err)
	}
	id := j.newID()

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.store.Append(ctx, Record{ID: id, Data: data}); err != nil {
		return "", err
	}
	j.ids = append(j.ids, id)
	j.entries[id] = Entry[P]{ID: id, Type: typ, Payload: payload}
	return id, nil
}

// Remove marks the job with id as done. The store is cleared once no job is
// pending.
func (j *Journal[P]) Remove(ctx context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	if err := j.store.Append(ctx, Record{ID: id, Deleted: true}); err != nil {
		return err
	}
	delete(j.entries, id)
	if len(j.entries) == 0 {
		j.ids = j.ids[:0]
		if err := j.store.Clear(ctx); err != nil {
			return err
		}
		return nil
	}
	if len(j.ids) > 64 && len(j.ids) > 2*len(j.entries) {
		j.compactIDs()
	}
	return nil
}

// compactIDs drops removed and repeated ids from the insertion order.
func (j *Journal[P]) compactIDs() {
	seen := make(map[string]struct{}, len(j.entries))
	live := j.ids[:0]
	for _, id := range j.ids {
		if _, ok := j.entries[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		live = append(live, id)
	}
	clear(j.ids[len(live):])
	j.ids = live
}

// Lookup returns the pending job with id.
func (j *Journal[P]) Lookup(id string) (Entry[P], bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	return e, ok
}

// Pending returns the pending jobs in insertion order.
func (j *Journal[P]) Pending() []Entry[P] {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry[P], 0, len(j.entries))
	for _, id := range j.ids {
		if e, ok := j.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of pending jobs.
func (j *Journal[P]) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Close closes the underlying store.
func (j *Journal[P]) Close() error {
	return j.store.Close()
}
