package engine_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rsmraft/engine/engine"
	"github.com/rsmraft/engine/enginetest"
	"github.com/rsmraft/engine/engineerrors"
	"github.com/rsmraft/engine/rsm"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*engine.Engine, *enginetest.Harness) {
	t.Helper()
	h := enginetest.NewHarness()
	e, err := h.NewEngine(nil, engine.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e, h
}

func TestRegisterAssignsSessionIDEqualToEntryIndex(t *testing.T) {
	e, h := newTestEngine(t)

	idx := h.AppendRegister(enginetest.NewClientID(), time.Minute, epoch)

	result, err := e.ApplyIndex(idx)
	require.NoError(t, err)
	require.NoError(t, result.Err)
	require.Len(t, result.Output, 8)
	assert.Equal(t, uint64(idx), binary.BigEndian.Uint64(result.Output))
}

func TestCommandIsAppliedAndCachedForReplay(t *testing.T) {
	e, h := newTestEngine(t)

	clientID := enginetest.NewClientID()
	regIdx := h.AppendRegister(clientID, time.Minute, epoch)
	_, err := e.ApplyIndex(regIdx)
	require.NoError(t, err)
	sessionID := rsm.SessionID(regIdx)

	cmdIdx := h.AppendCommand(sessionID, 1, []byte("hello"), epoch.Add(time.Second))
	first, err := e.ApplyIndex(cmdIdx)
	require.NoError(t, err)
	require.NoError(t, first.Err)
	assert.Equal(t, []byte("hello"), first.Output)

	// A client retry commits as a new entry but with the same sequence
	// number; the cached result must come back unchanged rather than
	// re-running Apply against (by now) different state.
	retryIdx := h.AppendCommand(sessionID, 1, []byte("hello-retry-body-ignored"), epoch.Add(2*time.Second))
	second, err := e.ApplyIndex(retryIdx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCommandAgainstUnknownSessionIsSurfacedNotFatal(t *testing.T) {
	e, h := newTestEngine(t)

	cmdIdx := h.AppendCommand(rsm.SessionID(999), 1, []byte("op"), epoch)
	result, err := e.ApplyIndex(cmdIdx)
	require.NoError(t, err)
	require.Error(t, result.Err)
	assert.True(t, engineerrors.Is(result.Err, engineerrors.ErrUnknownSession))
	assert.Nil(t, e.Err())
}

func TestUnregisterClosesSessionAndSubsequentCommandFails(t *testing.T) {
	e, h := newTestEngine(t)

	clientID := enginetest.NewClientID()
	regIdx := h.AppendRegister(clientID, time.Minute, epoch)
	_, err := e.ApplyIndex(regIdx)
	require.NoError(t, err)
	sessionID := rsm.SessionID(regIdx)

	unregIdx := h.AppendUnregister(sessionID, false, epoch.Add(time.Second))
	unregResult, err := e.ApplyIndex(unregIdx)
	require.NoError(t, err)
	require.NoError(t, unregResult.Err)

	cmdIdx := h.AppendCommand(sessionID, 1, []byte("op"), epoch.Add(2*time.Second))
	result, err := e.ApplyIndex(cmdIdx)
	require.NoError(t, err)
	require.Error(t, result.Err)
	assert.True(t, engineerrors.Is(result.Err, engineerrors.ErrUnknownSession))
}

func TestKeepAliveAcknowledgesEventsAndAdvancesLastCompleted(t *testing.T) {
	e, h := newTestEngine(t)

	clientID := enginetest.NewClientID()
	regIdx := h.AppendRegister(clientID, time.Minute, epoch)
	_, err := e.ApplyIndex(regIdx)
	require.NoError(t, err)
	sessionID := rsm.SessionID(regIdx)

	cmdIdx := h.AppendCommand(sessionID, 1, []byte("op"), epoch.Add(time.Second))
	cmdResult, err := e.ApplyIndex(cmdIdx)
	require.NoError(t, err)
	require.NoError(t, cmdResult.Err)

	kaIdx := h.AppendKeepAlive(sessionID, 1, cmdIdx, epoch.Add(2*time.Second))
	kaResult, err := e.ApplyIndex(kaIdx)
	require.NoError(t, err)
	require.NoError(t, kaResult.Err)

	assert.Equal(t, cmdIdx, e.LastCompleted())
}

func TestLastCompletedAdvancesPastACommandWhenItsSessionNeverAcknowledges(t *testing.T) {
	e, h := newTestEngine(t)

	// A registered session that never sends a KEEP_ALIVE has a
	// CompleteIndex that is permanently 0; lastCompleted must still
	// advance (falling back to lastApplied) rather than stall forever
	// pinned at that session's never-acknowledged watermark.
	idleClientID := enginetest.NewClientID()
	idleRegIdx := h.AppendRegister(idleClientID, time.Minute, epoch)
	_, err := e.ApplyIndex(idleRegIdx)
	require.NoError(t, err)
	assert.Equal(t, idleRegIdx, e.LastCompleted())

	idleSessionID := rsm.SessionID(idleRegIdx)
	cmdIdx := h.AppendCommand(idleSessionID, 1, []byte("op"), epoch.Add(time.Second))
	cmdResult, err := e.ApplyIndex(cmdIdx)
	require.NoError(t, err)
	require.NoError(t, cmdResult.Err)

	// Registering a second session re-triggers recomputeLastCompleted
	// while the first session is still idle; lastCompleted must advance
	// past cmdIdx rather than remain stuck at the idle session's
	// never-moving CompleteIndex of 0.
	otherClientID := enginetest.NewClientID()
	otherRegIdx := h.AppendRegister(otherClientID, time.Minute, epoch.Add(2*time.Second))
	_, err = e.ApplyIndex(otherRegIdx)
	require.NoError(t, err)

	assert.Equal(t, otherRegIdx, e.LastCompleted())
}

func TestQueryBlocksUntilAdmissionIndexIsApplied(t *testing.T) {
	e, h := newTestEngine(t)

	clientID := enginetest.NewClientID()
	regIdx := h.AppendRegister(clientID, time.Minute, epoch)
	_, err := e.ApplyIndex(regIdx)
	require.NoError(t, err)
	sessionID := rsm.SessionID(regIdx)

	cmdIdx := h.AppendCommand(sessionID, 1, []byte("latest"), epoch.Add(time.Second))

	type outcome struct {
		result rsm.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.Query(context.Background(), sessionID, cmdIdx, nil)
		done <- outcome{result, err}
	}()

	select {
	case <-done:
		t.Fatal("query returned before its admission index was applied")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = e.ApplyIndex(cmdIdx)
	require.NoError(t, err)

	select {
	case o := <-done:
		require.NoError(t, o.err)
		require.NoError(t, o.result.Err)
		assert.Equal(t, []byte("latest"), o.result.Output)
	case <-time.After(2 * time.Second):
		t.Fatal("query did not unblock after its admission index was applied")
	}
}

func TestCloseStopsBothContextsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := enginetest.NewHarness()
	e, err := h.NewEngine(nil, engine.Config{})
	require.NoError(t, err)

	assert.True(t, e.IsOpen())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))

	assert.False(t, e.IsOpen())
	assert.NoError(t, e.Err())
}
