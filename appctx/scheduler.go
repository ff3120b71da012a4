package appctx

import (
	"sort"
	"time"
)

// scheduledCallback is a user state-machine callback scheduled to run once
// the deterministic clock reaches deadline.
type scheduledCallback struct {
	deadline time.Time
	seq      uint64
	run      func(now time.Time)
}

// Scheduler holds callbacks scheduled by user code (e.g. "expire this key
// at time t") and fires them in deadline order, ties broken by the order
// they were scheduled in, whenever the clock ticks forward past their
// deadline (SPEC_FULL.md §4.3 "tick(index, t)").
type Scheduler struct {
	pending []scheduledCallback
	nextSeq uint64
}

// Schedule registers run to fire the next time Tick observes a clock
// value >= deadline.
func (s *Scheduler) Schedule(deadline time.Time, run func(now time.Time)) {
	s.pending = append(s.pending, scheduledCallback{
		deadline: deadline,
		seq:      s.nextSeq,
		run:      run,
	})
	s.nextSeq++
}

// Tick runs every callback whose deadline is <= now, in deadline order
// (ties broken by scheduling order), and removes them from the pending
// set. The scheduler is index-blind: Context.Tick accepts the entry index
// and drops it before calling here.
func (s *Scheduler) Tick(now time.Time) {
	if len(s.pending) == 0 {
		return
	}

	due := make([]scheduledCallback, 0, len(s.pending))
	remaining := s.pending[:0]
	for _, cb := range s.pending {
		if !cb.deadline.After(now) {
			due = append(due, cb)
		} else {
			remaining = append(remaining, cb)
		}
	}
	s.pending = remaining

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, cb := range due {
		cb.run(now)
	}
}

// Pending reports how many callbacks are still scheduled; used by tests.
func (s *Scheduler) Pending() int {
	return len(s.pending)
}
