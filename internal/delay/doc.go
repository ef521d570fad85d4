// Package delay holds jobs back until a wall-clock time or a cron schedule
// is due.
//
// A single goroutine owns a min-heap of events ordered by due time and sleeps
// until the earliest one, capped at maxSleep so clock steps and system sleep
// are noticed. Events live in memory only.
package delay
