package engine

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rsmraft/engine/appctx"
	"github.com/rsmraft/engine/engineerrors"
	"github.com/rsmraft/engine/rsm"
	"github.com/rsmraft/engine/session"
)

// handleRegister opens a new session, id equal to the REGISTER entry's own
// index (SPEC_FULL.md §3, §4.6).
func (e *Engine) handleRegister(entry rsm.Entry) (rsm.Result, error) {
	payload := entry.Register
	if payload == nil {
		return rsm.Result{}, errors.Wrapf(engineerrors.ErrInternal, "register entry %d missing payload", entry.Index)
	}

	clockTime := e.appCtx.Advance(entry.Timestamp)
	e.suspectSessions(0, clockTime)

	s := session.New(rsm.SessionID(entry.Index), payload.ClientID, payload.Timeout, clockTime)
	e.registry.Register(s)

	e.appCtx.Tick(entry.Index, clockTime)
	err := e.runOnApplication(func() error {
		e.appCtx.Init(entry.Index, appctx.ScopeCommand, s, nil)
		for _, l := range e.listeners {
			l.Register(s)
		}
		e.appCtx.Commit()
		return nil
	})
	if err != nil {
		return rsm.Result{}, err
	}

	e.releasePreviousEntry(entry.Index, rsm.CompactFull)
	e.recomputeLastCompleted()

	e.logger.Info("session registered", zap.Uint64("session", uint64(s.ID())), zap.String("client", string(s.ClientID())))

	return rsm.Result{Index: entry.Index, Output: sessionIDBytes(s.ID())}, nil
}

// handleKeepAlive extends a session's liveness window, clears
// acknowledged cached responses, and acknowledges delivered event
// batches (SPEC_FULL.md §4.6).
func (e *Engine) handleKeepAlive(entry rsm.Entry) (rsm.Result, error) {
	payload := entry.KeepAlive
	if payload == nil {
		return rsm.Result{}, errors.Wrapf(engineerrors.ErrInternal, "keep-alive entry %d missing payload", entry.Index)
	}

	clockTime := e.appCtx.Advance(entry.Timestamp)
	e.suspectSessions(payload.SessionID, clockTime)

	s, ok := e.registry.Lookup(payload.SessionID)
	if !ok || !s.State().IsActive() {
		e.releasePreviousEntry(entry.Index, rsm.CompactQuorum)
		return rsm.Result{
			Index: entry.Index,
			Err:   errors.Wrapf(engineerrors.ErrUnknownSession, "session %d", payload.SessionID),
		}, nil
	}

	s.Trust()
	s.SetTimestamp(clockTime)

	e.appCtx.Tick(entry.Index, clockTime)
	err := e.runOnApplication(func() error {
		e.appCtx.Init(entry.Index, appctx.ScopeCommand, s, nil)
		s.ClearResults(payload.CommandSequence)
		s.Events().Ack(payload.EventIndex)
		e.appCtx.Commit()
		return nil
	})
	if err != nil {
		return rsm.Result{}, err
	}

	e.releasePreviousEntry(s.LastKeepAliveEntry(), rsm.CompactSequential)
	s.SetLastKeepAliveEntry(entry.Index)

	e.recomputeLastCompleted()

	return rsm.Result{Index: entry.Index, EventIndex: s.EventIndex()}, nil
}

// handleUnregister closes a session, either because the leader observed
// it as expired or because the client asked to close voluntarily
// (SPEC_FULL.md §4.6). Either way every listener sees Close immediately
// after the Unregister/Expire callback.
func (e *Engine) handleUnregister(entry rsm.Entry) (rsm.Result, error) {
	payload := entry.Unregister
	if payload == nil {
		return rsm.Result{}, errors.Wrapf(engineerrors.ErrInternal, "unregister entry %d missing payload", entry.Index)
	}

	clockTime := e.appCtx.Advance(entry.Timestamp)
	e.suspectSessions(payload.SessionID, clockTime)

	s, ok := e.registry.Lookup(payload.SessionID)
	if !ok || !s.State().IsActive() {
		return rsm.Result{
			Index: entry.Index,
			Err:   errors.Wrapf(engineerrors.ErrUnknownSession, "session %d", payload.SessionID),
		}, nil
	}

	e.registry.Remove(s)

	err := e.runOnApplication(func() error {
		e.appCtx.Init(entry.Index, appctx.ScopeCommand, s, nil)
		if payload.Expired {
			s.Expire()
			for _, l := range e.listeners {
				l.Expire(s)
			}
		} else {
			s.CloseVoluntary()
			for _, l := range e.listeners {
				l.Unregister(s)
			}
		}
		for _, l := range e.listeners {
			l.Close(s)
		}
		e.appCtx.Commit()
		return nil
	})
	if err != nil {
		return rsm.Result{}, err
	}

	e.releasePreviousEntry(s.LastKeepAliveEntry(), rsm.CompactFull)
	e.releasePreviousEntry(s.LastConnectEntry(), rsm.CompactFull)
	e.releasePreviousEntry(entry.Index, rsm.CompactQuorum)

	e.recomputeLastCompleted()

	e.logger.Info("session closed", zap.Uint64("session", uint64(s.ID())), zap.Bool("expired", payload.Expired))

	return rsm.Result{Index: entry.Index}, nil
}

// handleConnect re-associates a transport connection with an existing
// session by ClientID. No user callback: it is a pure liveness signal
// (SPEC_FULL.md §4.6).
func (e *Engine) handleConnect(entry rsm.Entry) (rsm.Result, error) {
	payload := entry.Connect
	if payload == nil {
		return rsm.Result{}, errors.Wrapf(engineerrors.ErrInternal, "connect entry %d missing payload", entry.Index)
	}

	clockTime := e.appCtx.Advance(entry.Timestamp)

	s, ok := e.registry.LookupByClient(payload.ClientID)
	if !ok {
		return rsm.Result{
			Index: entry.Index,
			Err:   errors.Wrapf(engineerrors.ErrUnknownSession, "client %q", payload.ClientID),
		}, nil
	}

	e.suspectSessions(s.ID(), clockTime)

	s.Trust()
	s.SetTimestamp(clockTime)

	e.releasePreviousEntry(s.LastConnectEntry(), rsm.CompactSequential)
	s.SetLastConnectEntry(entry.Index)
	e.releasePreviousEntry(s.LastKeepAliveEntry(), rsm.CompactSequential)
	s.SetLastKeepAliveEntry(entry.Index)

	return rsm.Result{Index: entry.Index, EventIndex: s.EventIndex()}, nil
}

// handleInitialize is committed once per term by a new leader, so a
// leadership change alone never starves sessions of liveness progress
// (SPEC_FULL.md §4.6).
func (e *Engine) handleInitialize(entry rsm.Entry) (rsm.Result, error) {
	clockTime := e.appCtx.Advance(entry.Timestamp)
	e.registry.Range(func(s *session.Session) bool {
		s.SetTimestamp(clockTime)
		return true
	})
	e.releasePreviousEntry(entry.Index, rsm.CompactSequential)
	return rsm.Result{Index: entry.Index}, nil
}

// handleConfiguration has no state-machine effect at this layer; cluster
// membership is the consensus layer's concern.
func (e *Engine) handleConfiguration(entry rsm.Entry) (rsm.Result, error) {
	e.releasePreviousEntry(entry.Index, rsm.CompactSequential)
	return rsm.Result{Index: entry.Index}, nil
}

// suspectSessions marks every live session other than exclude Suspicious
// if the deterministic clock has exceeded its timeout. It never expires a
// session itself: only a committed UNREGISTER can do that (invariant 7).
func (e *Engine) suspectSessions(exclude rsm.SessionID, now time.Time) {
	e.registry.Range(func(s *session.Session) bool {
		if s.ID() == exclude {
			return true
		}
		if s.State() == session.Open && now.Sub(s.Timestamp()) > s.Timeout() {
			s.Suspect()
			e.logger.Info("session suspected", zap.Uint64("session", uint64(s.ID())))
		}
		return true
	})
}

// releasePreviousEntry releases index for compaction under mode, a no-op
// for index == 0 (the "no entry yet" sentinel held by a session's
// lastKeepAliveEntry/lastConnectEntry slot before its first use).
func (e *Engine) releasePreviousEntry(index rsm.LogIndex, mode rsm.CompactionMode) {
	if index == 0 {
		return
	}
	if err := e.log.Compactor().Release(index, mode); err != nil {
		e.logger.Error("releasing entry", zap.Uint64("index", uint64(index)), zap.Error(err))
	}
}

// ResendSince returns every pending event batch for sessionID with
// EventIndex greater than ackedEventIndex, for a host transport to
// redeliver (SPEC_FULL.md §4.6 KEEP_ALIVE "resendEvents"). It is a
// read-only query against the registry and runs on the engine context
// like everything else that touches session state.
func (e *Engine) ResendSince(sessionID rsm.SessionID, ackedEventIndex rsm.LogIndex) ([]session.Batch, error) {
	type outcome struct {
		batches []session.Batch
		err     error
	}
	out := make(chan outcome, 1)

	sent := e.runInE(func() error {
		s, ok := e.registry.Lookup(sessionID)
		if !ok {
			out <- outcome{err: errors.Wrapf(engineerrors.ErrUnknownSession, "session %d", sessionID)}
			return nil
		}
		out <- outcome{batches: s.Events().PendingSince(ackedEventIndex)}
		return nil
	})
	if !sent {
		return nil, engineerrors.ErrLogClosed
	}
	o := <-out
	return o.batches, o.err
}

// sessionIDBytes encodes a SessionID as an 8-byte big-endian value, the
// REGISTER entry's Output (SPEC_FULL.md §4.6): the new session's id, for a
// host transport to relay to the client that requested it.
func sessionIDBytes(id rsm.SessionID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}
