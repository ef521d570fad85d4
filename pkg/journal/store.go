// Package journal persists queued jobs so they survive a restart.
//
// A Journal follows a coat-check model: a job is exchanged for an id on
// insert and can be looked up by that id until it is removed. Changes are
// appended to a Store; reloading replays them, with later records for an id
// replacing earlier ones. Once nothing is pending the store is cleared.
package journal

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by stores after Close.
	ErrClosed = errors.New("journal store is closed")
	// ErrInvalidID is returned when an id cannot be stored unambiguously.
	ErrInvalidID = errors.New("invalid journal id")
	// ErrUnknownID is returned by Remove for an id that is not pending.
	ErrUnknownID = errors.New("unknown journal id")
	// ErrCorrupt is wrapped by reload errors caused by undecodable records.
	ErrCorrupt = errors.New("corrupt journal record")
)

// Record is a single journal change. Data holds the JSON encoded job and is
// empty for removals.
type Record struct {
	ID      string
	Data    []byte
	Deleted bool
}

// Store is the durable backing of a Journal.
type Store interface {
	// Append stores rec after every previously appended record.
	Append(ctx context.Context, rec Record) error
	// Load returns all records in the order they were appended.
	Load(ctx context.Context) ([]Record, error)
	// Clear removes every record.
	Clear(ctx context.Context) error
	// Close releases the store.
	Close() error
}
