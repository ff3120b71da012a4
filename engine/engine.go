// Package engine implements the replicated state-machine application
// engine's entry dispatcher (C6), command/query executor (C7), and
// session lifecycle handlers (C8): the subsystem a Raft consensus layer
// drives once it has committed an Entry, and the boundary a user state
// machine is driven through.
//
// Engine models the two cooperative single-threaded execution contexts
// of SPEC_FULL.md §5 — the engine context (E, owning the log reader,
// indices, registry, and caches) and the application context (A, owning
// the user state machine) — each as a goroutine draining a buffered
// `chan func() error`, exactly the shape of the teacher's
// `impl.ConsensusModule.processor()`. A handoff from E to A is a send on
// A's runnable channel carrying a closure; E blocks on a private reply
// channel for the result, since the dispatcher needs the state machine's
// output before it can answer its own caller.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rsmraft/engine/appctx"
	"github.com/rsmraft/engine/engineerrors"
	"github.com/rsmraft/engine/logindex"
	"github.com/rsmraft/engine/metrics"
	"github.com/rsmraft/engine/rsm"
	"github.com/rsmraft/engine/session"
	"github.com/rsmraft/engine/snapshot"
)

const (
	// runnableBufferSize matches the teacher's RPC_CHANNEL_BUFFER_SIZE
	// convention: a bounded mailbox big enough to absorb a burst of
	// concurrent callers without forcing every caller to block on send.
	runnableBufferSize = 256

	// defaultMaxPendingEventBatches is used when Config.MaxPendingEventBatches
	// is left at its zero value.
	defaultMaxPendingEventBatches = 1024
)

// Config holds the engine's tunables. The zero value is valid; it is
// completed with defaults by NewEngine.
type Config struct {
	// MaxPendingEventBatches marks a session SUSPICIOUS (never EXPIRED,
	// per invariant 7) once its unacknowledged event queue grows past this
	// many batches, surfacing client back-pressure without inventing a new
	// termination path (SPEC_FULL.md §9).
	MaxPendingEventBatches int
}

// Deps are the external collaborators an Engine is constructed with; see
// SPEC_FULL.md §6 for the contract each one must uphold.
type Deps struct {
	Log           rsm.Log
	StateMachine  rsm.StateMachine
	SnapshotStore rsm.SnapshotStore
	Listeners     []rsm.SessionListener
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Config        Config
}

// Engine is the replicated state-machine application engine.
type Engine struct {
	log       rsm.Log
	sm        rsm.StateMachine
	listeners []rsm.SessionListener
	logger    *zap.Logger
	metrics   *metrics.Metrics
	config    Config

	registry  *session.Registry
	appCtx    *appctx.Context
	snapCoord *snapshot.Coordinator

	lastApplied   *logindex.WatchedIndex
	lastCompleted *logindex.WatchedIndex
	lastEntryMeta rsm.LastEntryMeta

	reader rsm.LogReader

	// Engine context (E).
	runnable  chan func() error
	eStop     chan struct{}
	eStopOnce sync.Once
	eDone     chan struct{}
	eErr      atomic.Value

	// Application context (A).
	appRunnable chan func() error
	aStop       chan struct{}
	aStopOnce   sync.Once
	aDone       chan struct{}
}

// NewEngine allocates an Engine and starts its two cooperative goroutines.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Log == nil {
		return nil, errors.New("rsm: Log is required")
	}
	if deps.StateMachine == nil {
		return nil, errors.New("rsm: StateMachine is required")
	}
	if deps.SnapshotStore == nil {
		return nil, errors.New("rsm: SnapshotStore is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	config := deps.Config
	if config.MaxPendingEventBatches <= 0 {
		config.MaxPendingEventBatches = defaultMaxPendingEventBatches
	}

	reader, err := deps.Log.CreateReader(1, rsm.CompactSequential)
	if err != nil {
		return nil, errors.Wrap(err, "creating initial log reader")
	}

	e := &Engine{
		log:       deps.Log,
		sm:        deps.StateMachine,
		listeners: deps.Listeners,
		logger:    logger,
		metrics:   deps.Metrics,
		config:    config,

		registry:  session.NewRegistry(),
		appCtx:    appctx.New(logger),
		snapCoord: snapshot.NewCoordinator(deps.Log, deps.SnapshotStore, deps.StateMachine, logger),

		lastApplied:   logindex.NewWatchedIndex(),
		lastCompleted: logindex.NewWatchedIndex(),

		reader: reader,

		runnable: make(chan func() error, runnableBufferSize),
		eStop:    make(chan struct{}),
		eDone:    make(chan struct{}),

		appRunnable: make(chan func() error, runnableBufferSize),
		aStop:       make(chan struct{}),
		aDone:       make(chan struct{}),
	}

	go e.processorE()
	go e.processorA()

	return e, nil
}

// IsOpen reports whether the engine is still accepting work.
func (e *Engine) IsOpen() bool {
	select {
	case <-e.eDone:
		return false
	default:
		return e.log.IsOpen()
	}
}

// Err returns the error that halted the engine context, or nil if it is
// still running or stopped cleanly via Close.
func (e *Engine) Err() error {
	v := e.eErr.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}

// LastApplied returns the highest entry index applied so far.
func (e *Engine) LastApplied() rsm.LogIndex { return e.lastApplied.Get() }

// LastCompleted returns the minimum across live sessions of their
// acknowledged event index, or lastApplied when that minimum is 0. It
// never decreases.
func (e *Engine) LastCompleted() rsm.LogIndex { return e.lastCompleted.Get() }

// WaitApplied blocks until lastApplied has reached at least target, or ctx
// is done, implementing the QUERY admission barrier of SPEC_FULL.md §4.5.
func (e *Engine) WaitApplied(ctx context.Context, target rsm.LogIndex) error {
	return e.lastApplied.WaitAtLeast(ctx, target)
}

// Close stops both cooperative goroutines and waits for them to exit,
// joined with first-error semantics, then releases the log reader.
func (e *Engine) Close(ctx context.Context) error {
	e.eStopOnce.Do(func() { close(e.eStop) })
	e.aStopOnce.Do(func() { close(e.aStop) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-e.eDone:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		select {
		case <-e.aDone:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return errors.Wrap(e.reader.Close(), "closing log reader")
}

// processorE drains the engine context's runnable channel, exactly like
// the teacher's ConsensusModule.processor(): any error returned by a
// runnable halts the loop.
func (e *Engine) processorE() {
	var fatal error

loop:
	for {
		select {
		case task, ok := <-e.runnable:
			if !ok {
				fatal = errors.New("rsm: engine runnable channel closed unexpectedly")
				break loop
			}
			if err := task(); err != nil {
				fatal = err
				break loop
			}
		case <-e.eStop:
			break loop
		}
	}

	if fatal != nil {
		e.eErr.Store(fatal)
		e.logger.Error("engine context halted", zap.Error(fatal))
	}
	close(e.eDone)
}

// processorA drains the application context's runnable channel. Unlike
// processorE, a task error never halts this loop: tasks submitted via
// runOnApplication always return nil to this loop and deliver their real
// error through a private reply channel instead, since a state-machine
// user error must never poison the replica (SPEC_FULL.md §7).
func (e *Engine) processorA() {
loop:
	for {
		select {
		case task, ok := <-e.appRunnable:
			if !ok {
				break loop
			}
			_ = task()
		case <-e.aStop:
			break loop
		}
	}
	close(e.aDone)
}

// runInE enqueues f onto the engine context's runnable channel, blocking
// if the mailbox is full, and reports whether it was accepted (false
// means the Log reports itself closed or the engine context has already
// stopped).
func (e *Engine) runInE(f func() error) bool {
	if !e.log.IsOpen() {
		return false
	}
	select {
	case e.runnable <- f:
		return true
	case <-e.eDone:
		return false
	}
}

// runOnApplication hands f to the application context and blocks until it
// has run, returning its error. Used by E whenever it needs a state
// machine call's result before it can proceed.
func (e *Engine) runOnApplication(f func() error) error {
	done := make(chan error, 1)
	task := func() error {
		done <- f()
		return nil
	}

	select {
	case e.appRunnable <- task:
	case <-e.aDone:
		return engineerrors.ErrLogClosed
	}

	select {
	case err := <-done:
		return err
	case <-e.aDone:
		return engineerrors.ErrLogClosed
	}
}
