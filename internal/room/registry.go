// Package room tracks which live connections watch which game and fans
// state out to them.
package room

import (
	"context"
	"sort"
	"sync"
)

// Member is a live connection that can receive encoded frames.
type Member interface {
	ID() string
	Send(ctx context.Context, frame []byte) error
}

// Registry maps room codes to their current members. Membership is
// ephemeral and never consulted for game outcomes.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Member
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]Member)}
}

// Register adds m to code, creating the room entry on first use.
// Registering the same member twice is harmless.
func (r *Registry) Register(code string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rooms[code]
	if !ok {
		set = make(map[string]Member)
		r.rooms[code] = set
	}
	set[m.ID()] = m
}

// Unregister removes m and drops the room entry once it is empty.
func (r *Registry) Unregister(code string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rooms[code]
	if !ok {
		return
	}
	delete(set, m.ID())
	if len(set) == 0 {
		delete(r.rooms, code)
	}
}

// Members returns a snapshot; later registry changes do not affect it.
func (r *Registry) Members(code string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.rooms[code]
	out := make([]Member, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	return out
}

func (r *Registry) Count(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[code])
}

// Codes lists rooms with at least one member, sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.rooms))
	for code := range r.rooms {
		out = append(out, code)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
