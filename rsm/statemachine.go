package rsm

import (
	"io"
	"time"
)

// StateMachine is the user-supplied state machine.
//
// You must implement this interface! The engine owns sessions, indices,
// and compaction; your state machine only ever sees what a Commit scope
// exposes (SPEC_FULL.md §3, "Ownership").
//
// Apply is invoked once per COMMAND or QUERY scope, never concurrently
// with another Apply/Snapshot/Install call: all calls happen on the
// engine's single application-context goroutine (SPEC_FULL.md §5).
//
// An error returned from Apply is captured into Result.Err and replicated
// as a deterministic outcome; it does not stop the engine. A panic in
// Apply is not recovered by the engine. Only
// a non-deterministic divergence (a different replica reaching a
// different Result for the same Commit) would be a bug in your
// implementation of this interface, since the engine cannot detect that
// itself.
type StateMachine interface {
	// Apply executes one COMMAND or QUERY against the state machine within
	// the scope described by commit, and returns the operation's output
	// bytes. Returning an error captures it into Result.Err; it must still
	// be deterministic across replicas.
	Apply(commit Commit) ([]byte, error)

	// CanSnapshot reports whether the state machine currently supports
	// Snapshot/Install. A state machine can start returning false (e.g.
	// while a long-running migration is in progress); the snapshot
	// coordinator re-checks this before every Take.
	CanSnapshot() bool

	// Snapshot serializes the full current state to w. It is called
	// synchronously from the application context; Take does not return
	// until this call returns.
	Snapshot(w io.Writer) error

	// Install replaces the full current state by deserializing from r. It
	// is called only when the log has confirmed the snapshot's index
	// equals lastApplied, so the state machine always observes a
	// consistent prefix of the log.
	Install(r io.Reader) error
}

// Commit is the thread-of-execution handle a StateMachine.Apply call
// receives. It exposes exactly what SPEC_FULL.md §3 says user code may
// borrow: a read-only view of the originating session, the operation
// bytes, and a way to publish events within the current scope.
//
// Commit must not be retained past the Apply call that received it.
type Commit interface {
	// Index is the entry index of this scope (for a QUERY scope, this is
	// lastApplied when the query runs, not the query's own nominal index).
	Index() LogIndex

	// Time is the deterministic clock value for this scope.
	Time() time.Time

	// Session is a read-only capability for the session this scope is
	// running for.
	Session() SessionHandle

	// Operation is the raw operation bytes: the CommandPayload's for a
	// COMMAND scope, and the bytes passed to Engine.Query for a QUERY
	// scope. It is nil in the scopes of session lifecycle entries.
	Operation() []byte

	// Publish appends an event to the current scope's pending batch for
	// this session. Publishing from a QUERY scope is discarded and logged
	// as a state-machine programming error, not an engine error.
	Publish(event []byte)
}

// SessionHandle is the read-only capability set a StateMachine may use
// to observe (never mutate) a session during a Commit scope.
type SessionHandle interface {
	ID() SessionID
	ClientID() ClientID
	Timestamp() time.Time
}

// SessionListener is notified, in construction order, of session
// lifecycle transitions. All methods are invoked on the application
// context (SPEC_FULL.md §5) and must not block.
type SessionListener interface {
	// Register is called once a new session has been opened.
	Register(s SessionHandle)
	// Unregister is called when a session is voluntarily closed.
	Unregister(s SessionHandle)
	// Expire is called when a session is closed because the leader
	// committed an UNREGISTER with Expired=true.
	Expire(s SessionHandle)
	// Close is called immediately after Unregister or Expire, once the
	// session has left the registry.
	Close(s SessionHandle)
}
