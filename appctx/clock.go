// Package appctx implements the application context (C4): the
// thread-of-execution for user state-machine calls, its deterministic
// clock, scheduled-callback ticking, and the init/commit scope boundary
// that gathers a COMMAND scope's published events into a per-session
// batch (SPEC_FULL.md §4.3).
//
// Every exported method here must only be called from the engine's
// single application-context goroutine (see package engine); Context
// itself holds no lock, exactly like the teacher's consensus module holds
// no lock around its own single-goroutine state.
package appctx

import "time"

// Clock is the deterministic, monotonically non-decreasing clock shared
// by every session and scheduled callback: on every apply with a
// leader-supplied timestamp raw, the published time becomes
// max(previous, raw). This is what lets every replica observe identical
// wall-clock behavior despite leader failover reordering real time.
type Clock struct {
	current time.Time
}

// Advance publishes max(current, raw) as the new clock value and returns
// it.
func (c *Clock) Advance(raw time.Time) time.Time {
	if raw.After(c.current) {
		c.current = raw
	}
	return c.current
}

// Now returns the clock's current value without advancing it.
func (c *Clock) Now() time.Time {
	return c.current
}
