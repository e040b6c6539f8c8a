// Package session tracks which verified identity owns each live transport
// session.
package session

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]string
}

type identityShard struct {
	mu         sync.RWMutex
	identities map[string]map[string]struct{}
}

// Registry is a bidirectional session <-> identity map. It is safe for
// concurrent use. Keys hash to independent shards, so operations on unrelated
// sessions and identities do not contend.
//
// Lock order: a session shard is always acquired before an identity shard,
// and at most one identity shard is held at a time.
type Registry struct {
	sessions   [shardCount]sessionShard
	identities [shardCount]identityShard
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.sessions {
		r.sessions[i].sessions = make(map[string]string)
		r.identities[i].identities = make(map[string]map[string]struct{})
	}
	return r
}

func shardIndex(key string) uint64 {
	return xxhash.Sum64String(key) % shardCount
}

func (r *Registry) sessionShardFor(sessionID string) *sessionShard {
	return &r.sessions[shardIndex(sessionID)]
}

func (r *Registry) identityShardFor(identity string) *identityShard {
	return &r.identities[shardIndex(identity)]
}

// Register binds sessionID to identity. Registering the same pair again is a
// no-op; registering a session under a new identity moves it.
func (r *Registry) Register(sessionID, identity string) {
	ss := r.sessionShardFor(sessionID)
	ss.mu.Lock()
	defer ss.mu.Unlock()

	prev, exists := ss.sessions[sessionID]
	if exists && prev == identity {
		return
	}
	if exists {
		r.detach(prev, sessionID)
	}
	ss.sessions[sessionID] = identity

	is := r.identityShardFor(identity)
	is.mu.Lock()
	set, ok := is.identities[identity]
	if !ok {
		set = make(map[string]struct{})
		is.identities[identity] = set
	}
	set[sessionID] = struct{}{}
	is.mu.Unlock()
}

// Unregister removes sessionID and returns the identity it was bound to.
// The identity entry disappears with its last session.
func (r *Registry) Unregister(sessionID string) (string, bool) {
	ss := r.sessionShardFor(sessionID)
	ss.mu.Lock()
	defer ss.mu.Unlock()

	identity, ok := ss.sessions[sessionID]
	if !ok {
		return "", false
	}
	delete(ss.sessions, sessionID)
	r.detach(identity, sessionID)
	return identity, true
}

// detach must be called with the session's shard lock held.
func (r *Registry) detach(identity, sessionID string) {
	is := r.identityShardFor(identity)
	is.mu.Lock()
	defer is.mu.Unlock()

	set, ok := is.identities[identity]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(is.identities, identity)
	}
}

// Lookup returns the identity bound to sessionID.
func (r *Registry) Lookup(sessionID string) (string, bool) {
	ss := r.sessionShardFor(sessionID)
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	identity, ok := ss.sessions[sessionID]
	return identity, ok
}

// Sessions returns the sessions currently bound to identity.
func (r *Registry) Sessions(identity string) []string {
	is := r.identityShardFor(identity)
	is.mu.RLock()
	defer is.mu.RUnlock()

	set := is.identities[identity]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	n := 0
	for i := range r.sessions {
		ss := &r.sessions[i]
		ss.mu.RLock()
		n += len(ss.sessions)
		ss.mu.RUnlock()
	}
	return n
}

// IdentityCount returns the number of identities with at least one session.
func (r *Registry) IdentityCount() int {
	n := 0
	for i := range r.identities {
		is := &r.identities[i]
		is.mu.RLock()
		n += len(is.identities)
		is.mu.RUnlock()
	}
	return n
}
