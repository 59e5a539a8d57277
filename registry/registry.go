// Package registry maintains the server's session-id-to-connection map and
// fans out connected/disconnected events to the host. Session id is always
// equal to the authenticated client id (see auth.ClientID), so admitting a
// session whose id already has a live connection is a duplicate-identity
// case: this registry resolves it close-old, closing the prior connection
// before installing the new one (last-writer-wins).
package registry

import (
	"sync"

	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/session"
)

// Event is emitted on admission and on termination of a session.
type Event struct {
	SessionID  auth.ClientID
	Connected  bool // true: Connected(session_id, connect_msg); false: Disconnected(session_id)
	ConnectMsg []byte
}

// Registry maps session ids to their live connection.
type Registry struct {
	mu    sync.RWMutex
	byID  map[auth.ClientID]*session.Conn
	onEvt func(Event)
}

// New returns an empty Registry that reports admission/termination events
// to onEvent.
func New(onEvent func(Event)) *Registry {
	return &Registry{byID: make(map[auth.ClientID]*session.Conn), onEvt: onEvent}
}

// Admit installs conn under sessionID. If a connection with the same id is
// already registered, it is closed via closeOld before the new one is
// installed, per the close-old duplicate-identity policy. closeOld is
// invoked outside the registry lock to avoid deadlocking against the
// listener's own bookkeeping.
func (r *Registry) Admit(sessionID auth.ClientID, conn *session.Conn, connectMsg []byte, closeOld func(*session.Conn)) {
	r.mu.Lock()
	prior, ok := r.byID[sessionID]
	r.byID[sessionID] = conn
	r.mu.Unlock()

	if ok && prior != conn {
		closeOld(prior)
	}

	r.onEvt(Event{SessionID: sessionID, Connected: true, ConnectMsg: connectMsg})
}

// Remove drops sessionID from the registry if conn is still the currently
// registered connection for it (guards against a stale Remove racing a
// newer Admit for the same id), and reports Disconnected.
func (r *Registry) Remove(sessionID auth.ClientID, conn *session.Conn) {
	r.mu.Lock()
	cur, ok := r.byID[sessionID]
	if !ok || cur != conn {
		r.mu.Unlock()
		return
	}
	delete(r.byID, sessionID)
	r.mu.Unlock()

	r.onEvt(Event{SessionID: sessionID, Connected: false})
}

// Get returns the live connection for sessionID, or nil.
func (r *Registry) Get(sessionID auth.ClientID) *session.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[sessionID]
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns a snapshot of every live session id.
func (r *Registry) All() []auth.ClientID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]auth.ClientID, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	return out
}
