package identity

import (
	"sync"
)

// Identity is what a connection announced when it joined. UserID is client
// generated and stable across tabs and reconnects; Username is display-only
// and carries no uniqueness guarantee.
type Identity struct {
	Username string
	UserID   string
}

// Registry maps live connection ids to the identity they announced on join.
// It is the only owner of that association; everything else resolves through
// Lookup.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]Identity),
	}
}

// Register associates an identity with a connection, replacing any prior
// association for the same connection. Re-joining a room goes through here
// again, so registration is idempotent per connection.
func (r *Registry) Register(connectionID, username, userID string) {
	r.mu.Lock()
	r.identities[connectionID] = Identity{Username: username, UserID: userID}
	r.mu.Unlock()
}

func (r *Registry) Lookup(connectionID string) (Identity, bool) {
	r.mu.RLock()
	id, ok := r.identities[connectionID]
	r.mu.RUnlock()
	return id, ok
}

// Unregister drops the association. No-op for unknown connections.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	delete(r.identities, connectionID)
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}
