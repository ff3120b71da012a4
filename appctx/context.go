package appctx

import (
	"time"

	"go.uber.org/zap"

	"github.com/rsmraft/engine/rsm"
)

// ScopeKind distinguishes a mutating COMMAND scope from a read-only QUERY
// scope (SPEC_FULL.md §4.3).
type ScopeKind uint8

const (
	ScopeCommand ScopeKind = iota + 1
	ScopeQuery
)

// Context is the application context (C4): it owns the deterministic
// clock, the callback scheduler, and the current init/commit scope. A new
// Context is created once per Engine; scopes never nest (SPEC_FULL.md
// §5).
type Context struct {
	logger    *zap.Logger
	clock     Clock
	scheduler Scheduler

	open      bool
	kind      ScopeKind
	index     rsm.LogIndex
	session   rsm.SessionHandle
	operation []byte
	events    [][]byte
	discarded int
}

// New returns a Context that logs discarded QUERY-scope publishes (a
// state-machine programming error, never an engine error) via logger.
func New(logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{logger: logger}
}

// Advance publishes the deterministic clock forward to max(current, raw).
func (c *Context) Advance(raw time.Time) time.Time {
	return c.clock.Advance(raw)
}

// Now returns the current deterministic clock value.
func (c *Context) Now() time.Time {
	return c.clock.Now()
}

// Schedule registers a callback to run the next time Tick observes the
// clock at or past deadline.
func (c *Context) Schedule(deadline time.Time, run func(now time.Time)) {
	c.scheduler.Schedule(deadline, run)
}

// Tick runs every scheduled callback whose deadline has arrived. index is
// the entry index driving this tick, threaded through only for parity
// with SPEC_FULL.md §4.3's tick(index, t) signature.
func (c *Context) Tick(index rsm.LogIndex, now time.Time) {
	c.scheduler.Tick(now)
}

// Init begins a new scope. It is an error to call Init while a scope is
// already open (scopes never nest); callers in package engine are
// expected to always pair Init with Commit and never violate this, so
// Init panics on violation rather than returning an error that would
// itself need a recovery path in the single-threaded context.
func (c *Context) Init(index rsm.LogIndex, kind ScopeKind, sess rsm.SessionHandle, operation []byte) {
	if c.open {
		panic("appctx: Init called while a scope is already open")
	}
	c.open = true
	c.kind = kind
	c.index = index
	c.session = sess
	c.operation = operation
	c.events = nil
	c.discarded = 0
}

// Index, Time, Session, and Operation implement the read side of
// rsm.Commit for the currently open scope.
func (c *Context) Index() rsm.LogIndex        { return c.index }
func (c *Context) Time() time.Time            { return c.clock.Now() }
func (c *Context) Session() rsm.SessionHandle { return c.session }
func (c *Context) Operation() []byte          { return c.operation }

// Publish appends event to the current scope's pending batch. A QUERY
// scope must not produce events (SPEC_FULL.md §4.3): the publish is
// discarded and logged rather than propagated as an error, since the
// state machine's apply must still complete deterministically.
func (c *Context) Publish(event []byte) {
	if !c.open {
		panic("appctx: Publish called with no open scope")
	}
	if c.kind == ScopeQuery {
		c.discarded++
		c.logger.Warn("discarding event published from a query scope",
			zap.Uint64("index", uint64(c.index)),
		)
		return
	}
	c.events = append(c.events, event)
}

// Commit closes the current scope and returns the events published
// during it (nil/empty for a QUERY scope, or for a COMMAND scope that
// published nothing).
func (c *Context) Commit() [][]byte {
	if !c.open {
		panic("appctx: Commit called with no open scope")
	}
	events := c.events
	c.open = false
	c.kind = 0
	c.index = 0
	c.session = nil
	c.operation = nil
	c.events = nil
	return events
}

// DiscardedQueryEvents reports how many Publish calls were discarded
// during the most recently opened scope (always 0 for a COMMAND scope);
// used by tests.
func (c *Context) DiscardedQueryEvents() int {
	return c.discarded
}
