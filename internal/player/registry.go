package player

import (
	"sync"

	"matchqueue/internal/channel"
)

// Registry is the thread-safe stableId -> Player map from §4.4.
type Registry struct {
	mu      sync.Mutex
	players map[string]*Player
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{players: make(map[string]*Player)}
}

// GetOrAdd returns the existing record for stableID, or creates one
// bound to ch. A second concurrent session for the same stableId is
// rejected (ok=false): per §7, the new connection is aborted, the
// incumbent is left untouched.
func (r *Registry) GetOrAdd(stableID, displayName string, ch channel.Channel) (p *Player, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, found := r.players[stableID]; found {
		return existing, false
	}
	p = New(stableID, displayName, ch)
	r.players[stableID] = p
	return p, true
}

// Get returns the record for stableID, if any.
func (r *Registry) Get(stableID string) (*Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[stableID]
	return p, ok
}

// TryRemove removes the record only if its current channel id matches
// channelID, guarding against a disconnect event for an already
// superseded/aborted session racing the removal.
func (r *Registry) TryRemove(stableID, channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[stableID]
	if !ok || p.Channel == nil || p.Channel.ID() != channelID {
		return false
	}
	delete(r.players, stableID)
	return true
}

// Snapshot returns every currently registered player.
func (r *Registry) Snapshot() []*Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	return out
}
