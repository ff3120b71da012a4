package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rsmraft/engine/rsm"
	"github.com/rsmraft/engine/session"
)

func TestNewSessionStartsOpen(t *testing.T) {
	now := time.Unix(100, 0)
	s := session.New(1, "client-a", 5*time.Second, now)

	assert.Equal(t, rsm.SessionID(1), s.ID())
	assert.Equal(t, rsm.ClientID("client-a"), s.ClientID())
	assert.Equal(t, session.Open, s.State())
	assert.True(t, s.State().IsActive())
	assert.Equal(t, now, s.Timestamp())
}

func TestSuspectThenTrust(t *testing.T) {
	s := session.New(1, "client-a", time.Second, time.Unix(0, 0))

	s.Suspect()
	assert.Equal(t, session.Suspicious, s.State())
	assert.True(t, s.State().IsActive(), "a suspicious session is still active")

	s.Trust()
	assert.Equal(t, session.Open, s.State())
}

func TestSuspectIsNoOpWhenNotOpen(t *testing.T) {
	s := session.New(1, "client-a", time.Second, time.Unix(0, 0))
	s.Expire()

	s.Suspect()
	assert.Equal(t, session.Expired, s.State(), "Suspect must never resurrect a closed session")
}

func TestExpireAndCloseVoluntaryAreTerminal(t *testing.T) {
	expired := session.New(1, "a", time.Second, time.Unix(0, 0))
	expired.Expire()
	assert.False(t, expired.State().IsActive())

	closed := session.New(2, "b", time.Second, time.Unix(0, 0))
	closed.CloseVoluntary()
	assert.False(t, closed.State().IsActive())
}

func TestRecordCommandCachesAndAdvancesSequence(t *testing.T) {
	s := session.New(1, "a", time.Second, time.Unix(0, 0))

	s.RecordCommand(3, rsm.Result{Output: []byte("ok")})
	assert.Equal(t, rsm.Sequence(3), s.CommandSequence())

	cached, ok := s.Cache().Get(3)
	assert.True(t, ok)
	assert.Equal(t, []byte("ok"), cached.Output)

	// A stale (lower) sequence must not regress CommandSequence.
	s.RecordCommand(1, rsm.Result{Output: []byte("stale")})
	assert.Equal(t, rsm.Sequence(3), s.CommandSequence())
}

func TestClearResultsEvictsAndAdvancesRequestSequence(t *testing.T) {
	s := session.New(1, "a", time.Second, time.Unix(0, 0))
	s.RecordCommand(1, rsm.Result{})
	s.RecordCommand(2, rsm.Result{})
	s.RecordCommand(3, rsm.Result{})

	s.ClearResults(3)

	_, ok := s.Cache().Get(1)
	assert.False(t, ok)
	_, ok = s.Cache().Get(2)
	assert.False(t, ok)
	_, ok = s.Cache().Get(3)
	assert.True(t, ok, "ClearResults evicts strictly below clearedSequence")
	assert.Equal(t, rsm.Sequence(3), s.RequestSequence())
}
