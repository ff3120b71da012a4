// Package rsm defines the data model and external collaborator interfaces
// of the replicated state-machine application engine: the subsystem that
// applies committed Raft log entries, in index order, to a user-supplied
// state machine.
//
// Leader election, log replication, the on-disk log format, the snapshot
// byte format, and the wire protocol are out of scope here and are consumed
// through the interfaces in this package and in package engine.
package rsm

import "time"

// LogIndex is the position of an Entry in the replicated log. The first
// index is 1; an index of 0 means "no entry".
type LogIndex uint64

// Term is the Raft term under which an Entry was proposed. The engine does
// not interpret term values itself; it only threads them through to
// snapshot metadata and to the Log/Compactor collaborators.
type Term uint64

// SessionID identifies a client session. By construction it is always
// equal to the LogIndex of the REGISTER entry that created the session.
type SessionID uint64

// ClientID is an opaque, client-generated correlation id used to recover a
// session across a CONNECT after a lost connection. It is opaque to the
// engine; see package enginetest for how a client harness mints one.
type ClientID string

// Sequence is a per-session, client-assigned, monotonically increasing
// number. It orders COMMAND entries from a single session and is the key
// of the per-session response cache.
type Sequence uint64

// EntryType tags the payload carried by an Entry.
type EntryType uint8

const (
	// EntryRegister opens a new client session.
	EntryRegister EntryType = iota + 1
	// EntryKeepAlive extends a session's liveness window and acknowledges
	// delivered events / releases cached responses.
	EntryKeepAlive
	// EntryUnregister closes a session, expired or voluntarily.
	EntryUnregister
	// EntryConnect re-associates a transport connection with an existing
	// session by ClientID; it is a keep-alive that does not travel with a
	// KeepAlivePayload.
	EntryConnect
	// EntryCommand is a linearizable, log-traversing mutation.
	EntryCommand
	// EntryQuery is a read-only operation; it never appears in the log.
	// The dispatcher has no case for it: an EntryQuery read from a Log is
	// rejected as ErrInternal, like any unknown type.
	EntryQuery
	// EntryInitialize is committed once per term by a new leader so that a
	// leadership change does not starve existing sessions of keep-alives.
	EntryInitialize
	// EntryConfiguration carries cluster membership changes; it has no
	// state-machine effect at this layer.
	EntryConfiguration
)

func (t EntryType) String() string {
	switch t {
	case EntryRegister:
		return "REGISTER"
	case EntryKeepAlive:
		return "KEEP_ALIVE"
	case EntryUnregister:
		return "UNREGISTER"
	case EntryConnect:
		return "CONNECT"
	case EntryCommand:
		return "COMMAND"
	case EntryQuery:
		return "QUERY"
	case EntryInitialize:
		return "INITIALIZE"
	case EntryConfiguration:
		return "CONFIGURATION"
	default:
		return "UNKNOWN"
	}
}

// CompactionMode is the retention hint an Entry is released with once a
// handler is done borrowing it. It is advisory to the Log/Compactor
// collaborator (out of scope here); the engine only ever sets it.
type CompactionMode uint8

const (
	// CompactSequential allows removal once superseded in log order by a
	// later entry of the same kind (e.g. a later INITIALIZE/CONFIGURATION).
	CompactSequential CompactionMode = iota + 1
	// CompactQuorum retains the entry until it has been replicated to a
	// majority of the cluster. Quorum arithmetic and replication progress
	// belong to the replication protocol (out of scope here); the engine
	// only attaches the hint.
	CompactQuorum
	// CompactFull retains the entry until explicitly superseded by a
	// snapshot that subsumes its effect.
	CompactFull
	// CompactExpiring retains the entry until its session has expired.
	CompactExpiring
)

// RegisterPayload is the payload of an EntryRegister entry.
type RegisterPayload struct {
	ClientID ClientID
	Timeout  time.Duration
}

// KeepAlivePayload is the payload of an EntryKeepAlive entry.
type KeepAlivePayload struct {
	SessionID       SessionID
	CommandSequence Sequence
	EventIndex      LogIndex
}

// UnregisterPayload is the payload of an EntryUnregister entry.
type UnregisterPayload struct {
	SessionID SessionID
	Expired   bool
}

// ConnectPayload is the payload of an EntryConnect entry.
type ConnectPayload struct {
	ClientID ClientID
}

// CommandPayload is the payload of an EntryCommand entry.
type CommandPayload struct {
	SessionID SessionID
	Sequence  Sequence
	Operation []byte
}

// Entry is an immutable committed record. Indices delivered to the engine
// are strictly increasing with no gaps except those elided by compaction;
// a compacted entry is delivered as a Tombstone.
type Entry struct {
	Index     LogIndex
	Term      Term
	Timestamp time.Time
	Type      EntryType
	Tombstone bool

	Register     *RegisterPayload
	KeepAlive    *KeepAlivePayload
	Unregister   *UnregisterPayload
	Connect      *ConnectPayload
	Command      *CommandPayload
}

// Result is the outcome of applying a COMMAND or admitting a QUERY.
// Output and Err carry what the state machine's Apply returned; an error
// returned from Apply is captured into Err and is itself a deterministic,
// replicated outcome, not a replica failure. A panic in Apply is not
// recovered.
type Result struct {
	Index      LogIndex
	EventIndex LogIndex
	Output     []byte
	Err        error
}
