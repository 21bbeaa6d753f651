// Package registry is the authoritative store of currently online
// participants. Every routing and presence decision goes through it; nothing
// else in the process holds connection state.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is the outbound side of one live participant connection. Implemented
// by the websocket session in the handlers package and by test fakes.
type Conn interface {
	// Send enqueues one event for delivery. It returns an error if the
	// connection is closed or its outbound buffer is full; either way the
	// participant should be treated as gone.
	Send(v any) error
	// Ping enqueues a liveness probe.
	Ping() error
	// Close tears the connection down. Safe to call more than once.
	Close()
}

// Entry is a point-in-time view of one registered participant.
type Entry struct {
	ID   string
	Name string
	Conn Conn
}

type participant struct {
	name string
	conn Conn
	// confirmed is reset on every probe cycle and set again by a heartbeat
	// response (or any inbound traffic) from the participant.
	confirmed bool
}

// Registry maps participant ids to their live connections. All methods are
// safe for concurrent use; each mutation is atomic with respect to every
// other call, so no snapshot can ever observe a half-applied change.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*participant
}

func New() *Registry {
	return &Registry{participants: make(map[string]*participant)}
}

// Register stores a new participant and returns its freshly allocated id.
// Uniqueness against the live set is enforced here rather than assumed, even
// though a uuid collision is not a realistic event.
func (r *Registry) Register(name string, conn Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for {
		if _, taken := r.participants[id]; !taken {
			break
		}
		id = uuid.NewString()
	}
	r.participants[id] = &participant{name: name, conn: conn, confirmed: true}
	return id
}

// Unregister removes the participant if present and reports whether it was
// removed. Absent ids are a no-op: close, transport error, and heartbeat
// eviction can all fire for the same connection.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	return true
}

// Lookup returns the participant's current entry.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{ID: id, Name: p.name, Conn: p.conn}, true
}

// Snapshot returns the set of registered participants at the time of the
// call. Callers must tolerate entries being unregistered concurrently after
// the snapshot is taken.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.participants))
	for id, p := range r.participants {
		entries = append(entries, Entry{ID: id, Name: p.name, Conn: p.conn})
	}
	return entries
}

// Count returns the number of registered participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Confirm records a liveness response for the participant. Unknown ids are
// ignored; the response may race with an eviction.
func (r *Registry) Confirm(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.participants[id]; ok {
		p.confirmed = true
	}
}

// ProbeCycle advances every participant's liveness state by one cycle, in one
// atomic sweep. Participants that never confirmed since the previous cycle
// are removed from the registry and returned as evicted; everyone else is
// marked unconfirmed and returned as due for a new probe. Evicted entries are
// gone before this returns, so no concurrent routing decision can still pick
// them.
func (r *Registry) ProbeCycle() (evicted, probe []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.participants {
		if !p.confirmed {
			evicted = append(evicted, Entry{ID: id, Name: p.name, Conn: p.conn})
			delete(r.participants, id)
			continue
		}
		p.confirmed = false
		probe = append(probe, Entry{ID: id, Name: p.name, Conn: p.conn})
	}
	return evicted, probe
}
