package engine

import (
	"go.uber.org/zap"

	"github.com/rsmraft/engine/rsm"
)

// CommitIndexChangeListener is the interface an external consensus layer
// drives to hand off newly committed entries for application.
//
// Adapted from the teacher's CommitIndexChangeListener (impl/internal.go
// in the retrieved consensus module): the delegation contract is
// unchanged — commitIndex only increases, the call must return without
// blocking, and applying entries up to it happens asynchronously — but
// the delegate is now this engine's own dispatcher instead of a
// standalone LogAndStateMachine implementation, since this package is
// itself that collaborator.
type CommitIndexChangeListener interface {
	CommitIndexChanged(index rsm.LogIndex)
}

// CommitIndexChanged implements CommitIndexChangeListener: it returns
// immediately, applying entries up to index on a background goroutine. A
// fatal apply error is logged and left for Err() to report; the caller
// driving this index is expected to notice via IsOpen()/Err() rather than
// through this call's return value, matching the "return immediately"
// contract.
func (e *Engine) CommitIndexChanged(index rsm.LogIndex) {
	go func() {
		if err := e.ApplyAll(index); err != nil {
			e.logger.Error("applying committed entries", zap.Uint64("commitIndex", uint64(index)), zap.Error(err))
		}
	}()
}
