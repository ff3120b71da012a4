// Package session owns live client session records and their registry:
// SPEC_FULL.md components C1 (session registry) and C2 (session state).
//
// Every mutating method in this package must only ever be called from the
// engine's single-threaded driver: the engine context, or the application
// context while the engine context is blocked waiting on it (see package
// engine and SPEC_FULL.md §5); the package itself does no locking, mirroring the
// teacher's convention that the consensus/application contexts are each
// single-threaded and need no internal synchronization of their own
// state.
package session

import (
	"time"

	"github.com/rsmraft/engine/rsm"
)

// State is a session's lifecycle state (SPEC_FULL.md §3).
type State uint8

const (
	// Open is the normal, live state of a session.
	Open State = iota + 1
	// Suspicious means the deterministic clock has exceeded the session's
	// timeout, but no leader-committed UNREGISTER has closed it yet. A
	// suspicious session is still fully active: it is not a failure mode,
	// only a liveness signal (SPEC_FULL.md §4.2).
	Suspicious
	// Inactive is the union of every state a session can no longer accept
	// COMMAND/QUERY/KEEP_ALIVE against; Expired and Closed are inactive.
	// Unregister/expire transition straight here via Expired/Closed below.
	Expired
	Closed
)

// IsActive reports whether the session may still accept commands,
// queries, and keep-alives. Open and Suspicious are active; Expired and
// Closed are not.
func (s State) IsActive() bool {
	return s == Open || s == Suspicious
}

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Suspicious:
		return "SUSPICIOUS"
	case Expired:
		return "EXPIRED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is a server-side handle for a client's conversational state.
// It is created on REGISTER and removed from the Registry as soon as
// UNREGISTER is applied; its cached responses go with it, and removal does
// not wait for compaction.
type Session struct {
	id       rsm.SessionID
	clientID rsm.ClientID
	timeout  time.Duration

	state     State
	timestamp time.Time

	commandSequence rsm.Sequence // highest command sequence applied
	requestSequence rsm.Sequence // highest sequence acknowledged by client

	cache  *ResponseCache
	events *EventQueue

	lastKeepAliveEntry rsm.LogIndex
	lastConnectEntry   rsm.LogIndex
}

// New creates a session in the Open state. id must equal the index of the
// REGISTER entry that created it (SPEC_FULL.md §3).
func New(id rsm.SessionID, clientID rsm.ClientID, timeout time.Duration, now time.Time) *Session {
	return &Session{
		id:        id,
		clientID:  clientID,
		timeout:   timeout,
		state:     Open,
		timestamp: now,
		cache:     NewResponseCache(),
		events:    NewEventQueue(),
	}
}

func (s *Session) ID() rsm.SessionID      { return s.id }
func (s *Session) ClientID() rsm.ClientID { return s.clientID }
func (s *Session) Timestamp() time.Time   { return s.timestamp }
func (s *Session) State() State           { return s.state }
func (s *Session) Timeout() time.Duration { return s.timeout }

// CommandSequence is the highest command sequence number applied so far.
func (s *Session) CommandSequence() rsm.Sequence { return s.commandSequence }

// RequestSequence is the highest sequence number the client has
// acknowledged (via KEEP_ALIVE.CommandSequence).
func (s *Session) RequestSequence() rsm.Sequence { return s.requestSequence }

// EventIndex is the index at which the last event batch was published to
// this session (0 if none yet).
func (s *Session) EventIndex() rsm.LogIndex { return s.events.HeadIndex() }

// CompleteIndex is the highest index whose events the client has
// acknowledged.
func (s *Session) CompleteIndex() rsm.LogIndex { return s.events.CompleteIndex() }

// Cache exposes the per-session response cache (C2).
func (s *Session) Cache() *ResponseCache { return s.cache }

// Events exposes the per-session pending-event queue (C3/C4 boundary).
func (s *Session) Events() *EventQueue { return s.events }

// LastKeepAliveEntry / LastConnectEntry hold a single live reference per
// session to the most recent entry of that kind, for compaction
// coordination (SPEC_FULL.md §3, §9 "Ownership of entries"). Replacing
// the slot is the caller's responsibility to release the previous index
// with the appropriate CompactionMode before overwriting it.
func (s *Session) LastKeepAliveEntry() rsm.LogIndex { return s.lastKeepAliveEntry }
func (s *Session) SetLastKeepAliveEntry(i rsm.LogIndex) {
	s.lastKeepAliveEntry = i
}
func (s *Session) LastConnectEntry() rsm.LogIndex { return s.lastConnectEntry }
func (s *Session) SetLastConnectEntry(i rsm.LogIndex) {
	s.lastConnectEntry = i
}

// Suspect marks the session Suspicious if it is currently Open. It never
// removes a session: only a committed UNREGISTER may do that
// (SPEC_FULL.md §4.2, invariant 7).
func (s *Session) Suspect() {
	if s.state == Open {
		s.state = Suspicious
	}
}

// Trust returns the session to Open if it is currently Suspicious, in
// response to an observed KEEP_ALIVE or CONNECT.
func (s *Session) Trust() {
	if s.state == Suspicious {
		s.state = Open
	}
}

// SetTimestamp records the latest deterministic-clock value observed for
// this session.
func (s *Session) SetTimestamp(t time.Time) {
	s.timestamp = t
}

// Expire transitions the session to Expired. Only called by the engine in
// response to a committed UNREGISTER with Expired=true.
func (s *Session) Expire() {
	s.state = Expired
}

// CloseVoluntary transitions the session to Closed. Only called by the
// engine in response to a committed UNREGISTER with Expired=false.
func (s *Session) CloseVoluntary() {
	s.state = Closed
}

// RecordCommand applies sequence q's result to the cache and advances
// commandSequence. It is the engine's responsibility to have already
// established q is not a replay before calling this.
func (s *Session) RecordCommand(q rsm.Sequence, result rsm.Result) {
	s.cache.Put(q, result)
	if q > s.commandSequence {
		s.commandSequence = q
	}
}

// ClearResults evicts every cached response with sequence strictly less
// than clearedSequence, and advances requestSequence to it
// (SPEC_FULL.md §4.2, §4.6 KEEP_ALIVE).
func (s *Session) ClearResults(clearedSequence rsm.Sequence) {
	s.cache.EvictBelow(clearedSequence)
	if clearedSequence > s.requestSequence {
		s.requestSequence = clearedSequence
	}
}
