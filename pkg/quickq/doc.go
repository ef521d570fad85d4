// Package quickq implements an in-process job queue with bounded
// concurrency.
//
// A Queue runs jobs through a single Runner on up to Concurrency runner
// loops. Each loop is a goroutine that claims the next job, runs it, reports
// the result to the job's Callback and claims again until the queue is empty
// or the loop is no longer needed. Without a scheduler jobs start in arrival
// order. With a scheduler from package scheduler every job carries a type
// and the scheduler picks which queued job starts next, which lets one
// queue share its slots fairly between tenants.
//
// Job errors, including recovered runner panics, are delivered only to the
// callback of the job that produced them. The queue itself never enters an
// error state.
package quickq
