package rsm

import "io"

// SnapshotStore is the external collaborator that persists snapshot byte
// streams. The snapshot byte format itself is out of scope; the engine
// only ever writes to a Snapshot.Writer and reads from a Snapshot.Reader.
type SnapshotStore interface {
	// CurrentSnapshot returns the most recently completed snapshot, or
	// (nil, false) if none has ever been completed.
	CurrentSnapshot() (Snapshot, bool)

	// CreateSnapshot allocates a new, not-yet-complete Snapshot at the
	// given index. It is an error to call this while another snapshot
	// created by this store has not yet been completed or discarded.
	CreateSnapshot(index LogIndex) (Snapshot, error)
}

// Snapshot is a single snapshot object. Writer/Reader are serialized per
// Snapshot by the store (SPEC_FULL.md §5): a correct implementation may
// allow multiple concurrent Readers by copying or re-opening the
// underlying byte source, but must not allow a Reader to observe a
// partial Write.
type Snapshot interface {
	// Index is the entry index this snapshot represents.
	Index() LogIndex

	// Writer returns a writer for the snapshot's byte content. Valid only
	// before Complete; the coordinator calls this exactly once per
	// snapshot, during Take.
	Writer() (io.WriteCloser, error)

	// Reader opens a new reader over the snapshot's byte content. Valid
	// only after Complete.
	Reader() (io.ReadCloser, error)

	// Complete finalizes the snapshot, making it visible to
	// CurrentSnapshot and readable via Reader. It is an error to call this
	// more than once.
	Complete() error

	// Discard abandons a snapshot that was written but must never be
	// exposed (e.g. a newer snapshot has already been completed
	// concurrently; SPEC_FULL.md §4.7 "Complete").
	Discard() error
}
