// Package scheduler provides admission policies for typed job queues.
//
// A Scheduler is told about every job of a given type as it is queued
// (Waiting), started (Start) and finished (Done), and is asked to pick which
// queued job should run next (Select). The queue holds its own lock around
// every call, so implementations in this package are not safe for concurrent
// use on their own.
//
// Two policies are provided:
//
//   - Fair admits a type only while it holds less than its proportional share
//     of the running slots, bounded by an absolute MaxTypeShare ceiling.
//   - Capped adds hard per-type limits on top of Fair.
//
// Both fall back to the head of the queue when nothing within MaxScanLength
// positions is admissible, so the oldest job is never starved for longer
// than one scan pass.
package scheduler
