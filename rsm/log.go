package rsm

// The Raft Log, as seen from the application engine.
//
// This is the interface you must implement! The engine drives entry
// dispatch purely through this interface and never touches the physical
// log segment format, replication, or compaction policy directly.
//
// The log is an ordered sequence of Entry values with first index 1.
// Entries removed by compaction are still yielded by a LogReader, but with
// Tombstone set to true and every payload field nil; the dispatcher skips
// tombstones while still advancing lastApplied (see engine.Engine).
//
// An error from a LogReader during dispatch is fatal: it shuts down the
// engine's single-threaded execution context, matching the convention of
// the consensus module this engine sits below (see SPEC_FULL.md §5).
// Errors from Compactor methods are logged and do not stop the engine.
type Log interface {
	// CreateReader returns a LogReader that will next yield the entry at
	// fromIndex (fromIndex == 1 for a reader starting at the beginning of
	// the log). mode is a hint to the Log about how aggressively entries
	// already applied may be discarded from underlying storage while this
	// reader is alive; it does not change what the reader yields.
	CreateReader(fromIndex LogIndex, mode CompactionMode) (LogReader, error)

	// Compactor returns the compaction/snapshot-index collaborator bound
	// to this Log.
	Compactor() Compactor

	// IsOpen reports whether the Log is open for reads. Once it reports
	// false, every engine operation fails with engineerrors.ErrLogClosed.
	IsOpen() bool
}

// LogReader yields committed Entry values in strictly increasing index
// order, starting from the index it was created with. A LogReader is not
// safe for concurrent use; the engine serializes all reads through a
// single apply call at a time (see SPEC_FULL.md §5, "Shared resources").
type LogReader interface {
	// NextIndex is the index that the next call to Next will return. It is
	// equal to the reader's creation index before any call to Next, and
	// increases by exactly 1 after each successful call.
	NextIndex() LogIndex

	// Next reads and returns the entry at NextIndex. It is an error to
	// call Next past the end of the log (i.e. when NextIndex is beyond the
	// index of the log's last entry).
	Next() (Entry, error)

	// HasNext reports whether Next can currently be called without error.
	HasNext() bool

	// Close releases resources held by the reader. After Close, Next must
	// not be called.
	Close() error
}

// Compactor exposes the log compactor's view of which indices are safe to
// discard, and the current snapshot watermark.
type Compactor interface {
	// CompactIndex is the highest index the compactor believes it could
	// discard entries up to, based on the compaction-mode hints entries
	// were released with.
	CompactIndex() LogIndex

	// SnapshotIndex is the index of the most recently installed snapshot,
	// i.e. the index below which entries are known to be subsumed by
	// durable state-machine state. SetSnapshotIndex advances it; it is an
	// error to move it backwards.
	SnapshotIndex() LogIndex
	SetSnapshotIndex(LogIndex) error

	// SetMinorIndex records a lower watermark used by some compactors to
	// bound incremental ("minor") compaction work; it never subsumes
	// SnapshotIndex and is advisory.
	SetMinorIndex(LogIndex) error

	// Compact asks the compactor to run a pass now. It does not block on
	// completion; it is safe to call even if a prior pass is still
	// running.
	Compact() error

	// Release gives the compactor a retention hint for index, once the
	// handler that borrowed its entry is done with it (SPEC_FULL.md §6,
	// "Entry exposes compact(mode)"). Releasing the same index twice with
	// different modes is allowed; the compactor retains under the
	// strictest mode it has seen.
	Release(index LogIndex, mode CompactionMode) error
}

// Release gives the Log a compaction-mode hint for an entry a handler is
// done borrowing. It is a convenience type alias so callers can pass
// Compactor.Release itself, or a closure over it, with a uniform call
// shape across entry types.
type Release func(index LogIndex, mode CompactionMode) error
