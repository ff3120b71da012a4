package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rsmraft/engine/appctx"
	"github.com/rsmraft/engine/engineerrors"
	"github.com/rsmraft/engine/rsm"
)

// Query admits a read-only operation once lastApplied has reached
// minIndex, then runs it against the state machine at the current
// lastApplied (not minIndex itself — SPEC_FULL.md §4.5: a query always
// observes the most recent state the admission barrier permits).
func (e *Engine) Query(ctx context.Context, sessionID rsm.SessionID, minIndex rsm.LogIndex, operation []byte) (rsm.Result, error) {
	if err := e.lastApplied.WaitAtLeast(ctx, minIndex); err != nil {
		return rsm.Result{}, err
	}

	type outcome struct {
		result rsm.Result
		err    error
	}
	out := make(chan outcome, 1)

	sent := e.runInE(func() error {
		result, err := e.executeQuery(sessionID, operation)
		out <- outcome{result, err}
		if err != nil && engineerrors.Fatal(err) {
			return err
		}
		return nil
	})
	if !sent {
		return rsm.Result{}, engineerrors.ErrLogClosed
	}
	o := <-out
	return o.result, o.err
}

// executeQuery runs on the engine context: it never reads from the log
// (EntryQuery is never committed), only from the already-applied session
// and state machine.
func (e *Engine) executeQuery(sessionID rsm.SessionID, operation []byte) (rsm.Result, error) {
	s, ok := e.registry.Lookup(sessionID)
	if !ok || !s.State().IsActive() {
		return rsm.Result{Err: errors.Wrapf(engineerrors.ErrUnknownSession, "session %d", sessionID)}, nil
	}

	at := e.lastApplied.UnsafeGet()

	var output []byte
	var applyErr error
	err := e.runOnApplication(func() error {
		e.appCtx.Init(at, appctx.ScopeQuery, s, operation)
		out, aerr := e.sm.Apply(e.appCtx)
		output = out
		applyErr = aerr
		e.appCtx.Commit()
		return nil
	})
	if err != nil {
		return rsm.Result{}, err
	}

	if e.metrics != nil && applyErr != nil {
		e.metrics.ObserveCommandError("user_error")
	}

	return rsm.Result{Index: at, EventIndex: s.EventIndex(), Output: output, Err: applyErr}, nil
}
