package session

import "github.com/rsmraft/engine/rsm"

// Registry owns every live Session, indexed by SessionID and by ClientID
// (SPEC_FULL.md §4.2). It holds no SessionListeners; the engine keeps the
// ordered listener list itself.
//
// Like Session itself, Registry does no locking: all of its methods must
// only be called from the engine's single-threaded engine context (E).
type Registry struct {
	byID     map[rsm.SessionID]*Session
	byClient map[rsm.ClientID]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[rsm.SessionID]*Session),
		byClient: make(map[rsm.ClientID]*Session),
	}
}

// Register adds s to the registry, indexed by both its id and client id.
func (r *Registry) Register(s *Session) {
	r.byID[s.ID()] = s
	r.byClient[s.ClientID()] = s
}

// Lookup returns the session with the given id, if live.
func (r *Registry) Lookup(id rsm.SessionID) (*Session, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// LookupByClient returns the session registered for the given client id,
// if live. Used by CONNECT to recover a session across a new transport
// connection (SPEC_FULL.md §4.6).
func (r *Registry) LookupByClient(clientID rsm.ClientID) (*Session, bool) {
	s, ok := r.byClient[clientID]
	return s, ok
}

// Remove deletes s from both indices. The engine calls it when it applies
// UNREGISTER, before notifying listeners; it does not wait for compaction
// to release the session's cached responses.
func (r *Registry) Remove(s *Session) {
	delete(r.byID, s.ID())
	delete(r.byClient, s.ClientID())
}

// Range calls f for every live session, stopping early if f returns
// false. Iteration order is unspecified.
func (r *Registry) Range(f func(*Session) bool) {
	for _, s := range r.byID {
		if !f(s) {
			return
		}
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}
