// Package clock abstracts wall-clock time so the retry and liveness
// loops in pkg/session can run against deterministic time in tests.
//
// Production code injects Real(). Tests inject Fake(initial) and drive
// it with Advance, using WaitForTimers to synchronize with goroutines
// that are about to block on the clock.
package clock
