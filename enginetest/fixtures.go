// Package enginetest is an in-process test harness for package engine:
// an in-memory Log/Compactor/SnapshotStore and a trivial echo state
// machine, so the end-to-end scenarios this engine is built for can be
// expressed as real Go tests rather than left as prose (SPEC_FULL.md §9,
// "enginetest in-process harness").
//
// Grounded on the teacher's blackbox-test harness convention (small,
// dependency-free fakes wired directly against the production
// interfaces, not a mocking framework) seen in its log/rps blackbox
// tests.
package enginetest

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rsmraft/engine/engine"
	"github.com/rsmraft/engine/metrics"
	"github.com/rsmraft/engine/rsm"
)

// NewClientID mints an opaque client correlation id the way a real client
// harness would (SPEC_FULL.md §2.2, §6).
func NewClientID() rsm.ClientID {
	return rsm.ClientID(uuid.NewString())
}

// Log is an in-memory rsm.Log: a simple append-only slice plus an
// in-memory Compactor that tombstones released, subsumed entries on
// Compact.
type Log struct {
	mu        sync.Mutex
	entries   []rsm.Entry
	open      bool
	compactor *Compactor
}

// NewLog returns an open, empty Log.
func NewLog() *Log {
	l := &Log{open: true}
	l.compactor = &Compactor{log: l, released: make(map[rsm.LogIndex]rsm.CompactionMode)}
	return l
}

// Append adds e to the log, assigning it the next index, and returns that
// index.
func (l *Log) Append(e rsm.Entry) rsm.LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Index = rsm.LogIndex(len(l.entries) + 1)
	l.entries = append(l.entries, e)
	return e.Index
}

// CreateReader implements rsm.Log.
func (l *Log) CreateReader(fromIndex rsm.LogIndex, _ rsm.CompactionMode) (rsm.LogReader, error) {
	return &logReader{log: l, next: fromIndex}, nil
}

// Compactor implements rsm.Log.
func (l *Log) Compactor() rsm.Compactor { return l.compactor }

// IsOpen implements rsm.Log.
func (l *Log) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

// Close marks the log closed; every subsequent engine operation against
// it fails with engineerrors.ErrLogClosed.
func (l *Log) Close() {
	l.mu.Lock()
	l.open = false
	l.mu.Unlock()
}

func (l *Log) lastIndex() rsm.LogIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return rsm.LogIndex(len(l.entries))
}

func (l *Log) entryAt(index rsm.LogIndex) (rsm.Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || int(index) > len(l.entries) {
		return rsm.Entry{}, false
	}
	return l.entries[index-1], true
}

func (l *Log) tombstone(index rsm.LogIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || int(index) > len(l.entries) {
		return
	}
	l.entries[index-1] = rsm.Entry{Index: index, Tombstone: true}
}

type logReader struct {
	log  *Log
	next rsm.LogIndex
}

func (r *logReader) NextIndex() rsm.LogIndex { return r.next }

func (r *logReader) HasNext() bool {
	return r.next <= r.log.lastIndex()
}

func (r *logReader) Next() (rsm.Entry, error) {
	e, ok := r.log.entryAt(r.next)
	if !ok {
		return rsm.Entry{}, errors.New("enginetest: read past end of log")
	}
	r.next++
	return e, nil
}

func (r *logReader) Close() error { return nil }

// Compactor is an in-memory rsm.Compactor. Compact is synchronous and
// treats CompactQuorum the same as CompactFull, since this harness has no
// peers to ask about replication.
type Compactor struct {
	log *Log

	mu            sync.Mutex
	compactIndex  rsm.LogIndex
	snapshotIndex rsm.LogIndex
	minorIndex    rsm.LogIndex
	released      map[rsm.LogIndex]rsm.CompactionMode
}

func (c *Compactor) CompactIndex() rsm.LogIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compactIndex
}

func (c *Compactor) SnapshotIndex() rsm.LogIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotIndex
}

func (c *Compactor) SetSnapshotIndex(i rsm.LogIndex) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < c.snapshotIndex {
		return errors.New("enginetest: snapshot index would regress")
	}
	c.snapshotIndex = i
	return nil
}

func (c *Compactor) SetMinorIndex(i rsm.LogIndex) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minorIndex = i
	return nil
}

// Compact tombstones every released entry at or below snapshotIndex.
func (c *Compactor) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx := range c.released {
		if idx > c.snapshotIndex {
			continue
		}
		c.log.tombstone(idx)
		delete(c.released, idx)
	}
	return nil
}

func (c *Compactor) Release(index rsm.LogIndex, mode rsm.CompactionMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.released[index]; !ok || mode > existing {
		c.released[index] = mode
	}
	if index > c.compactIndex {
		c.compactIndex = index
	}
	return nil
}

// SnapshotStore is an in-memory rsm.SnapshotStore holding at most one
// completed snapshot at a time.
type SnapshotStore struct {
	mu      sync.Mutex
	current *memSnapshot
}

// NewSnapshotStore returns a SnapshotStore with no current snapshot.
func NewSnapshotStore() *SnapshotStore { return &SnapshotStore{} }

func (s *SnapshotStore) CurrentSnapshot() (rsm.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, false
	}
	return s.current, true
}

func (s *SnapshotStore) CreateSnapshot(index rsm.LogIndex) (rsm.Snapshot, error) {
	return &memSnapshot{store: s, index: index}, nil
}

type memSnapshot struct {
	store *SnapshotStore
	index rsm.LogIndex
	buf   bytes.Buffer
}

func (sn *memSnapshot) Index() rsm.LogIndex { return sn.index }

func (sn *memSnapshot) Writer() (io.WriteCloser, error) {
	return nopWriteCloser{&sn.buf}, nil
}

func (sn *memSnapshot) Reader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(sn.buf.Bytes())), nil
}

func (sn *memSnapshot) Complete() error {
	sn.store.mu.Lock()
	defer sn.store.mu.Unlock()
	sn.store.current = sn
	return nil
}

func (sn *memSnapshot) Discard() error { return nil }

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }

// EchoStateMachine is a trivial rsm.StateMachine: a COMMAND's operation
// bytes become the new state and are published verbatim as a single
// event; Apply always returns the current state as its output.
type EchoStateMachine struct {
	mu    sync.Mutex
	state []byte
}

// NewEchoStateMachine returns a state machine with empty initial state.
func NewEchoStateMachine() *EchoStateMachine { return &EchoStateMachine{} }

func (m *EchoStateMachine) Apply(commit rsm.Commit) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op := commit.Operation(); op != nil {
		m.state = append([]byte(nil), op...)
		commit.Publish(op)
	}
	return append([]byte(nil), m.state...), nil
}

func (m *EchoStateMachine) CanSnapshot() bool { return true }

func (m *EchoStateMachine) Snapshot(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := w.Write(m.state)
	return err
}

func (m *EchoStateMachine) Install(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.state = data
	m.mu.Unlock()
	return nil
}

// State returns a copy of the state machine's current state; used by
// tests to assert on applied effects.
func (m *EchoStateMachine) State() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.state...)
}

// Harness bundles the in-memory collaborators an Engine needs, wired the
// way a real host integration would wire its production counterparts.
type Harness struct {
	Log           *Log
	SnapshotStore *SnapshotStore
	StateMachine  *EchoStateMachine
}

// NewHarness returns a Harness with fresh, empty collaborators.
func NewHarness() *Harness {
	return &Harness{
		Log:           NewLog(),
		SnapshotStore: NewSnapshotStore(),
		StateMachine:  NewEchoStateMachine(),
	}
}

// NewEngine builds an Engine over the harness's collaborators, using a
// no-op logger and a private prometheus registry so parallel tests never
// collide on prometheus.DefaultRegisterer.
func (h *Harness) NewEngine(listeners []rsm.SessionListener, config engine.Config) (*engine.Engine, error) {
	return engine.NewEngine(engine.Deps{
		Log:           h.Log,
		StateMachine:  h.StateMachine,
		SnapshotStore: h.SnapshotStore,
		Listeners:     listeners,
		Logger:        zap.NewNop(),
		Metrics:       metrics.New(prometheus.NewRegistry()),
		Config:        config,
	})
}

// AppendRegister appends a REGISTER entry and returns its index (the new
// session's SessionID).
func (h *Harness) AppendRegister(clientID rsm.ClientID, timeout time.Duration, ts time.Time) rsm.LogIndex {
	return h.Log.Append(rsm.Entry{
		Timestamp: ts,
		Type:      rsm.EntryRegister,
		Register:  &rsm.RegisterPayload{ClientID: clientID, Timeout: timeout},
	})
}

// AppendCommand appends a COMMAND entry for sessionID.
func (h *Harness) AppendCommand(sessionID rsm.SessionID, sequence rsm.Sequence, operation []byte, ts time.Time) rsm.LogIndex {
	return h.Log.Append(rsm.Entry{
		Timestamp: ts,
		Type:      rsm.EntryCommand,
		Command:   &rsm.CommandPayload{SessionID: sessionID, Sequence: sequence, Operation: operation},
	})
}

// AppendKeepAlive appends a KEEP_ALIVE entry for sessionID.
func (h *Harness) AppendKeepAlive(sessionID rsm.SessionID, commandSequence rsm.Sequence, eventIndex rsm.LogIndex, ts time.Time) rsm.LogIndex {
	return h.Log.Append(rsm.Entry{
		Timestamp: ts,
		Type:      rsm.EntryKeepAlive,
		KeepAlive: &rsm.KeepAlivePayload{SessionID: sessionID, CommandSequence: commandSequence, EventIndex: eventIndex},
	})
}

// AppendUnregister appends an UNREGISTER entry for sessionID.
func (h *Harness) AppendUnregister(sessionID rsm.SessionID, expired bool, ts time.Time) rsm.LogIndex {
	return h.Log.Append(rsm.Entry{
		Timestamp:  ts,
		Type:       rsm.EntryUnregister,
		Unregister: &rsm.UnregisterPayload{SessionID: sessionID, Expired: expired},
	})
}

// AppendConnect appends a CONNECT entry for clientID.
func (h *Harness) AppendConnect(clientID rsm.ClientID, ts time.Time) rsm.LogIndex {
	return h.Log.Append(rsm.Entry{
		Timestamp: ts,
		Type:      rsm.EntryConnect,
		Connect:   &rsm.ConnectPayload{ClientID: clientID},
	})
}

// AppendInitialize appends an INITIALIZE entry.
func (h *Harness) AppendInitialize(ts time.Time) rsm.LogIndex {
	return h.Log.Append(rsm.Entry{Timestamp: ts, Type: rsm.EntryInitialize})
}

// AppendConfiguration appends a CONFIGURATION entry.
func (h *Harness) AppendConfiguration(ts time.Time) rsm.LogIndex {
	return h.Log.Append(rsm.Entry{Timestamp: ts, Type: rsm.EntryConfiguration})
}
