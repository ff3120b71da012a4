// Package clientseq implements the client-side event sequencer (C3): it
// orders server-published event batches into a single user callback by
// index, and implements the inbound publish-request handler described in
// SPEC_FULL.md §6 ("Inbound on client side").
//
// There is no teacher analog for this package (the teacher implements
// only the server side of Raft); its shape — a small, single-
// responsibility type validating one invariant per branch — follows the
// same idiom as the teacher's logindex.WatchedIndex: ordered delivery is
// enforced structurally (a batch is only ever accepted when it chains
// from the client's current tip) rather than via a reorder buffer, so
// there is nothing to buffer: a misordered batch is rejected and the
// server is told exactly where to resume from.
package clientseq

import (
	"github.com/rsmraft/engine/engineerrors"
	"github.com/rsmraft/engine/rsm"
)

// Callback receives one batch's events, in delivery order.
type Callback func(events [][]byte)

// Sequencer is bound to a single session on a single client. It is not
// safe for concurrent use; a transport layer serializes publish-request
// handling per session.
type Sequencer struct {
	sessionID  rsm.SessionID
	eventIndex rsm.LogIndex
	onDeliver  Callback
}

// New returns a Sequencer for sessionID. onDeliver is called once per
// accepted batch, synchronously, from within Handle.
func New(sessionID rsm.SessionID, onDeliver Callback) *Sequencer {
	return &Sequencer{sessionID: sessionID, onDeliver: onDeliver}
}

// EventIndex is the highest event index this sequencer has accepted.
func (s *Sequencer) EventIndex() rsm.LogIndex { return s.eventIndex }

// PublishRequest is one server -> client event-publication attempt.
type PublishRequest struct {
	SessionID     rsm.SessionID
	PreviousIndex rsm.LogIndex
	EventIndex    rsm.LogIndex
	Events        [][]byte
}

// PublishResponse acknowledges, or rejects and requests resend of, a
// PublishRequest.
type PublishResponse struct {
	// OK is true when the request was accepted, including the idempotent
	// replay of a stale batch. OK is false when Err is set, or when the
	// server must resend starting at EventIndex+1 because PreviousIndex
	// did not chain.
	OK bool
	// EventIndex is the sequencer's event index after handling the
	// request: on success, the new tip; on a chain rejection, the tip the
	// server should resume sending from (exclusive). It is 0 when Err is
	// set.
	EventIndex rsm.LogIndex
	// Err is set when the request targeted the wrong session entirely.
	Err error
}

// Handle implements SPEC_FULL.md §6's four-step publish-request protocol.
func (s *Sequencer) Handle(req PublishRequest) PublishResponse {
	if req.SessionID != s.sessionID {
		return PublishResponse{Err: engineerrors.ErrUnknownSession}
	}

	// Idempotent replay: already-seen or stale batch.
	if req.EventIndex <= s.eventIndex {
		return PublishResponse{OK: true, EventIndex: s.eventIndex}
	}

	// Out of order: does not chain from our current tip. Ask the server
	// to resume from our tip.
	if req.PreviousIndex != s.eventIndex {
		return PublishResponse{OK: false, EventIndex: s.eventIndex}
	}

	s.eventIndex = req.EventIndex
	if s.onDeliver != nil {
		s.onDeliver(req.Events)
	}
	return PublishResponse{OK: true, EventIndex: s.eventIndex}
}
