package engine

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rsmraft/engine/engineerrors"
	"github.com/rsmraft/engine/rsm"
	"github.com/rsmraft/engine/session"
)

// ApplyAll applies every committed entry up to and including target,
// discarding per-entry results. This is the shape a consensus layer uses
// when it only needs the engine to keep up with its committed index; see
// CommitIndexChanged.
func (e *Engine) ApplyAll(target rsm.LogIndex) error {
	type outcome struct{ err error }
	out := make(chan outcome, 1)

	sent := e.runInE(func() error {
		var err error
		for e.lastApplied.UnsafeGet() < target {
			if err = e.applyNext(nil); err != nil {
				break
			}
		}
		out <- outcome{err}
		return err
	})
	if !sent {
		return engineerrors.ErrLogClosed
	}
	return (<-out).err
}

// ApplyIndex applies every committed entry up to and including target, and
// returns the Result produced by applying target itself (SPEC_FULL.md
// §4.1). target must be strictly greater than the current lastApplied.
func (e *Engine) ApplyIndex(target rsm.LogIndex) (rsm.Result, error) {
	type outcome struct {
		result rsm.Result
		err    error
	}
	out := make(chan outcome, 1)

	sent := e.runInE(func() error {
		if target <= e.lastApplied.UnsafeGet() {
			err := errors.Errorf("engine: ApplyIndex target %d not greater than lastApplied %d", target, e.lastApplied.UnsafeGet())
			out <- outcome{err: err}
			return nil
		}

		if err := e.applyUpToExclusive(target); err != nil {
			out <- outcome{err: err}
			return err
		}

		var result rsm.Result
		err := e.applyNext(&result)
		out <- outcome{result: result, err: err}
		return err
	})
	if !sent {
		return rsm.Result{}, engineerrors.ErrLogClosed
	}
	o := <-out
	return o.result, o.err
}

// applyUpToExclusive applies every entry with index strictly less than
// target, discarding their results.
func (e *Engine) applyUpToExclusive(target rsm.LogIndex) error {
	for e.lastApplied.UnsafeGet()+1 < target {
		if err := e.applyNext(nil); err != nil {
			return err
		}
	}
	return nil
}

// applyNext reads and applies exactly the next entry the reader yields,
// storing its Result into out if non-nil and out's entry was not a
// tombstone.
func (e *Engine) applyNext(out *rsm.Result) error {
	if !e.reader.HasNext() {
		return errors.Wrap(engineerrors.ErrInconsistentIndex, "log reader exhausted before reaching target index")
	}

	expected := e.reader.NextIndex()
	entry, err := e.reader.Next()
	if err != nil {
		return errors.Wrap(err, "reading next log entry")
	}
	if entry.Index != expected {
		return errors.Wrapf(engineerrors.ErrInconsistentIndex, "reader yielded index %d, expected %d", entry.Index, expected)
	}
	e.lastEntryMeta.Track(entry)

	if entry.Tombstone {
		e.setLastApplied(entry.Index)
		return nil
	}

	result, err := e.applyEntry(entry)
	if err != nil {
		return err
	}
	e.setLastApplied(entry.Index)
	if out != nil {
		*out = result
	}
	return nil
}

// applyEntry routes entry to its handler by type.
func (e *Engine) applyEntry(entry rsm.Entry) (rsm.Result, error) {
	if e.metrics != nil {
		e.metrics.ObserveEntryApplied(entry.Type)
	}
	switch entry.Type {
	case rsm.EntryRegister:
		return e.handleRegister(entry)
	case rsm.EntryKeepAlive:
		return e.handleKeepAlive(entry)
	case rsm.EntryUnregister:
		return e.handleUnregister(entry)
	case rsm.EntryConnect:
		return e.handleConnect(entry)
	case rsm.EntryCommand:
		return e.handleCommand(entry)
	case rsm.EntryInitialize:
		return e.handleInitialize(entry)
	case rsm.EntryConfiguration:
		return e.handleConfiguration(entry)
	default:
		return rsm.Result{}, errors.Wrapf(engineerrors.ErrInternal, "unknown entry type %d at index %d", entry.Type, entry.Index)
	}
}

// setLastApplied advances the lastApplied watermark by exactly one index,
// notifying metrics and the snapshot coordinator's Take/Install phases,
// then recomputes lastCompleted against the new lastApplied.
// It is called for every entry applyNext consumes, including tombstones,
// so every query admission waiter blocked on an intermediate index still
// unblocks in order.
func (e *Engine) setLastApplied(next rsm.LogIndex) {
	e.lastApplied.UnsafeSet(next)
	if e.metrics != nil {
		e.metrics.SetLastApplied(next)
	}
	if err := e.snapCoord.TryTake(next, e.runOnApplication); err != nil {
		e.logger.Error("snapshot take failed", zap.Uint64("index", uint64(next)), zap.Error(err))
	}
	if err := e.snapCoord.TryInstall(next, e.runOnApplication); err != nil {
		e.logger.Error("snapshot install failed", zap.Uint64("index", uint64(next)), zap.Error(err))
	}
	e.recomputeLastCompleted()
}

// recomputeLastCompleted recomputes lastCompleted as the minimum
// CompleteIndex across live sessions, falling back to lastApplied
// whenever that computed minimum is still 0 — whether because no
// sessions are registered or because every registered session has never
// acknowledged anything (its CompleteIndex defaults to 0) — so a pending
// snapshot taken before the first KEEP_ALIVE does not stall forever
// waiting on a watermark nothing will ever advance. It advances the
// watermark if it grew, and gives the snapshot coordinator a chance to
// finalize a pending snapshot.
func (e *Engine) recomputeLastCompleted() {
	var min rsm.LogIndex
	has := false
	e.registry.Range(func(s *session.Session) bool {
		ci := s.CompleteIndex()
		if !has || ci < min {
			min = ci
			has = true
		}
		return true
	})

	candidate := min
	if !has || candidate == 0 {
		candidate = e.lastApplied.UnsafeGet()
	}
	if candidate <= e.lastCompleted.UnsafeGet() {
		return
	}

	e.lastCompleted.UnsafeSet(candidate)
	if e.metrics != nil {
		e.metrics.SetLastCompleted(candidate)
	}
	if err := e.snapCoord.TryComplete(candidate); err != nil {
		e.logger.Error("snapshot complete failed", zap.Uint64("index", uint64(candidate)), zap.Error(err))
	}
}
