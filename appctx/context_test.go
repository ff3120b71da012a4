package appctx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsmraft/engine/appctx"
)

func TestAdvanceNeverRegresses(t *testing.T) {
	c := appctx.New(nil)

	t1 := time.Unix(100, 0)
	got := c.Advance(t1)
	assert.Equal(t, t1, got)

	earlier := time.Unix(50, 0)
	got = c.Advance(earlier)
	assert.Equal(t, t1, got, "clock must not move backwards")
	assert.Equal(t, t1, c.Now())

	later := time.Unix(200, 0)
	got = c.Advance(later)
	assert.Equal(t, later, got)
}

func TestInitPanicsOnDoubleOpen(t *testing.T) {
	c := appctx.New(nil)
	c.Init(1, appctx.ScopeCommand, nil, []byte("op"))
	assert.Panics(t, func() {
		c.Init(2, appctx.ScopeCommand, nil, []byte("op2"))
	})
}

func TestPublishPanicsWithNoOpenScope(t *testing.T) {
	c := appctx.New(nil)
	assert.Panics(t, func() {
		c.Publish([]byte("event"))
	})
}

func TestCommitPanicsWithNoOpenScope(t *testing.T) {
	c := appctx.New(nil)
	assert.Panics(t, func() {
		c.Commit()
	})
}

func TestCommandScopeCollectsPublishedEvents(t *testing.T) {
	c := appctx.New(nil)
	c.Init(7, appctx.ScopeCommand, nil, []byte("op"))
	c.Publish([]byte("e1"))
	c.Publish([]byte("e2"))

	events := c.Commit()
	require.Len(t, events, 2)
	assert.Equal(t, []byte("e1"), events[0])
	assert.Equal(t, []byte("e2"), events[1])
}

func TestQueryScopeDiscardsPublishedEvents(t *testing.T) {
	c := appctx.New(nil)
	c.Init(7, appctx.ScopeQuery, nil, []byte("op"))
	c.Publish([]byte("e1"))

	events := c.Commit()
	assert.Empty(t, events, "a query scope must never propagate published events")
	assert.Equal(t, 1, c.DiscardedQueryEvents())
}

func TestScopeResetsAfterCommit(t *testing.T) {
	c := appctx.New(nil)
	c.Init(1, appctx.ScopeCommand, nil, []byte("op"))
	c.Commit()

	// A scope can be reopened once the previous one has been committed.
	assert.NotPanics(t, func() {
		c.Init(2, appctx.ScopeCommand, nil, []byte("op2"))
	})
}

func TestScheduleFiresOnTick(t *testing.T) {
	c := appctx.New(nil)
	fired := false
	c.Advance(time.Unix(0, 0))
	c.Schedule(time.Unix(10, 0), func(now time.Time) { fired = true })

	c.Tick(1, time.Unix(5, 0))
	assert.False(t, fired, "callback must not fire before its deadline")

	c.Tick(1, time.Unix(10, 0))
	assert.True(t, fired)
}
