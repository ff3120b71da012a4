// Package logindex tracks the engine's index watermarks (lastApplied,
// lastCompleted) and the blocking wait a QUERY uses to satisfy its
// admission barrier (SPEC_FULL.md §4.5: "lastApplied >= minIndex").
package logindex

import (
	"context"
	"sync"

	"github.com/rsmraft/engine/rsm"
)

// ChangeListener is called, in registration order, every time a
// WatchedIndex's value changes. Adapted from the teacher's
// IndexChangeListener; any listener can be treated as fatal by the
// caller driving UnsafeSet (see engineerrors.Fatal), but the listener
// itself returns nothing here since our watermarks never fail to
// advance once their invariants are upheld by the caller.
type ChangeListener func(old, new rsm.LogIndex)

// WatchedIndex is a rsm.LogIndex value with change listeners and a
// blocking "wait until at least" operation, used both for lastApplied
// (commands/queries admission) and lastCompleted (snapshot coordination).
//
// Unlike the teacher's WatchedIndex, which takes an external sync.Locker
// because it shares a lock with the rest of the consensus module's
// state, this one owns its own mutex: lastApplied/lastCompleted are read
// from goroutines (query admission waiters) that are not part of either
// single-threaded engine/application context, so they need their own
// synchronization rather than borrowing the engine's.
type WatchedIndex struct {
	mu        sync.Mutex
	value     rsm.LogIndex
	listeners []ChangeListener
	changed   chan struct{}
}

// NewWatchedIndex returns a WatchedIndex with an initial value of 0.
func NewWatchedIndex() *WatchedIndex {
	return &WatchedIndex{changed: make(chan struct{})}
}

// Get returns the current value.
func (w *WatchedIndex) Get() rsm.LogIndex {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// UnsafeGet returns the current value without locking. The caller must
// be the engine's single-threaded driver, which never races itself.
func (w *WatchedIndex) UnsafeGet() rsm.LogIndex {
	return w.value
}

// AddListener registers l to be called, in order, on every future
// change. Like the teacher's AddListener, this takes the lock itself so
// it is safe to call from any goroutine.
func (w *WatchedIndex) AddListener(l ChangeListener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	w.mu.Unlock()
}

// UnsafeSet sets the value and calls every registered listener in
// order, then wakes any goroutine blocked in WaitAtLeast. The caller
// must already hold whatever exclusion the engine's single-threaded
// driver uses for its own state; UnsafeSet takes the index's own lock
// internally to serialize against concurrent WaitAtLeast/Get/AddListener
// callers.
func (w *WatchedIndex) UnsafeSet(new rsm.LogIndex) {
	w.mu.Lock()
	old := w.value
	w.value = new
	for _, l := range w.listeners {
		l(old, new)
	}
	close(w.changed)
	w.changed = make(chan struct{})
	w.mu.Unlock()
}

// WaitAtLeast blocks until the watched value is >= target, or ctx is
// done. This is the query-admission barrier of SPEC_FULL.md §4.5: a
// QUERY with a minIndex requirement waits here before being dispatched.
func (w *WatchedIndex) WaitAtLeast(ctx context.Context, target rsm.LogIndex) error {
	for {
		w.mu.Lock()
		if w.value >= target {
			w.mu.Unlock()
			return nil
		}
		ch := w.changed
		w.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
