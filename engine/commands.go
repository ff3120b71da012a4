package engine

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rsmraft/engine/appctx"
	"github.com/rsmraft/engine/engineerrors"
	"github.com/rsmraft/engine/rsm"
	"github.com/rsmraft/engine/session"
)

// handleCommand applies one COMMAND entry (SPEC_FULL.md §4.4):
//  1. an unknown/inactive session fails with ErrUnknownSession and the
//     entry is released for quorum compaction;
//  2. a sequence already applied returns the cached Result verbatim
//     rather than re-running Apply (linearizability, invariant 3);
//  3. a cache miss on a sequence the session claims to have already seen
//     is ErrInternal and is fatal — the replica's state has diverged;
//  4. otherwise the scope runs on the application context, its published
//     events are enqueued (even if empty, per invariant 4), and the
//     result is cached under the command's sequence.
func (e *Engine) handleCommand(entry rsm.Entry) (rsm.Result, error) {
	payload := entry.Command
	if payload == nil {
		return rsm.Result{}, errors.Wrapf(engineerrors.ErrInternal, "command entry %d missing payload", entry.Index)
	}

	s, ok := e.registry.Lookup(payload.SessionID)
	if !ok || !s.State().IsActive() {
		e.releasePreviousEntry(entry.Index, rsm.CompactQuorum)
		return rsm.Result{
			Index: entry.Index,
			Err:   errors.Wrapf(engineerrors.ErrUnknownSession, "session %d", payload.SessionID),
		}, nil
	}

	if payload.Sequence > 0 && payload.Sequence <= s.CommandSequence() {
		cached, ok := s.Cache().Get(payload.Sequence)
		if !ok {
			return rsm.Result{}, errors.Wrapf(engineerrors.ErrInternal,
				"no cached result for replayed sequence %d on session %d", payload.Sequence, s.ID())
		}
		return cached, nil
	}

	clockTime := e.appCtx.Advance(entry.Timestamp)
	e.appCtx.Tick(entry.Index, clockTime)

	eventIndexBefore := s.EventIndex()

	started := time.Now()
	var output []byte
	var applyErr error
	err := e.runOnApplication(func() error {
		e.appCtx.Init(entry.Index, appctx.ScopeCommand, s, payload.Operation)
		out, aerr := e.sm.Apply(e.appCtx)
		output = out
		applyErr = aerr
		batch := e.appCtx.Commit()
		s.Events().Enqueue(entry.Index, batch)
		return nil
	})
	if err != nil {
		return rsm.Result{}, err
	}

	if e.metrics != nil {
		e.metrics.ObserveApplyDuration(time.Since(started))
		if applyErr != nil {
			e.metrics.ObserveCommandError("user_error")
		}
	}

	if s.Events().Len() > e.config.MaxPendingEventBatches && s.State() == session.Open {
		s.Suspect()
		e.logger.Warn("session marked suspicious: pending event backlog exceeds limit",
			zap.Uint64("session", uint64(s.ID())),
			zap.Int("pending", s.Events().Len()),
			zap.Int("limit", e.config.MaxPendingEventBatches),
		)
	}

	result := rsm.Result{Index: entry.Index, EventIndex: eventIndexBefore, Output: output, Err: applyErr}
	s.RecordCommand(payload.Sequence, result)

	e.releasePreviousEntry(entry.Index, rsm.CompactFull)

	return result, nil
}

// Now returns the engine's deterministic clock value. It is only
// meaningful to call from within a dispatch call; outside of one it
// returns whatever the clock last advanced to.
func (e *Engine) Now() time.Time {
	return e.appCtx.Now()
}
