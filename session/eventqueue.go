package session

import "github.com/rsmraft/engine/rsm"

// Batch is a set of publications produced by a single COMMAND scope,
// stamped with (PreviousIndex, EventIndex) so that, across all batches
// received by a client in order, PreviousIndex[n] == EventIndex[n-1]
// (SPEC_FULL.md §4.3, invariant 4).
type Batch struct {
	PreviousIndex rsm.LogIndex
	EventIndex    rsm.LogIndex
	Events        [][]byte
}

// EventQueue is a session's ordered queue of unacknowledged event
// batches, plus the two watermarks that outlive the queue's contents:
// headIndex (the last eventIndex ever published, SPEC_FULL.md's
// session.eventIndex) and completeIndex (the highest index the client has
// acknowledged, which never regresses even as batches are pruned).
type EventQueue struct {
	batches       []Batch
	headIndex     rsm.LogIndex
	completeIndex rsm.LogIndex
}

// NewEventQueue returns an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// HeadIndex is the eventIndex of the most recently enqueued batch, or 0 if
// none has ever been enqueued. It is the chain's running tip regardless of
// whether earlier batches have since been acknowledged and pruned.
func (q *EventQueue) HeadIndex() rsm.LogIndex { return q.headIndex }

// CompleteIndex is the highest index whose events have been acknowledged.
func (q *EventQueue) CompleteIndex() rsm.LogIndex { return q.completeIndex }

// Enqueue appends a new batch chained from the current head, advances the
// head to currentIndex, and returns the batch that was appended. events
// may be empty; an empty batch is still chained and still advances
// headIndex, matching SPEC_FULL.md §4.3's rule that eventIndex advances
// "only after the batch is enqueued" with no exception for empty batches.
func (q *EventQueue) Enqueue(currentIndex rsm.LogIndex, events [][]byte) Batch {
	batch := Batch{
		PreviousIndex: q.headIndex,
		EventIndex:    currentIndex,
		Events:        events,
	}
	q.batches = append(q.batches, batch)
	q.headIndex = currentIndex
	return batch
}

// PendingSince returns every retained batch with EventIndex strictly
// greater than ackedEventIndex, in chain order, for redelivery
// (SPEC_FULL.md §4.6 KEEP_ALIVE "resendEvents").
func (q *EventQueue) PendingSince(ackedEventIndex rsm.LogIndex) []Batch {
	out := make([]Batch, 0, len(q.batches))
	for _, b := range q.batches {
		if b.EventIndex > ackedEventIndex {
			out = append(out, b)
		}
	}
	return out
}

// Ack records that the client has acknowledged every batch up to and
// including eventIndex: those batches are pruned from the retained queue,
// and completeIndex advances to eventIndex (never regressing).
func (q *EventQueue) Ack(eventIndex rsm.LogIndex) {
	if eventIndex > q.completeIndex {
		q.completeIndex = eventIndex
	}
	kept := q.batches[:0]
	for _, b := range q.batches {
		if b.EventIndex > eventIndex {
			kept = append(kept, b)
		}
	}
	q.batches = kept
}

// Len reports how many unacknowledged batches are currently retained.
func (q *EventQueue) Len() int {
	return len(q.batches)
}
