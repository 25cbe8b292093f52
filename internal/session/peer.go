package session

import (
	"sync"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/room"
)

// Peer is the per-connection membership state. A peer joins at most one
// room with one identity for its lifetime.
type Peer struct {
	member room.Member

	mu       sync.Mutex
	code     string
	playerID string
	role     game.Role
}

func NewPeer(m room.Member) *Peer { return &Peer{member: m} }

func (p *Peer) Member() room.Member { return p.member }

// Room returns the joined room code, or "" before a join.
func (p *Peer) Room() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *Peer) Role() game.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// PlayerID returns the bound identity, or "" before a join.
func (p *Peer) PlayerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playerID
}

func (p *Peer) actor() Actor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Actor{PlayerID: p.playerID, Role: p.role}
}

func (p *Peer) bind(code, playerID string, role game.Role) {
	p.mu.Lock()
	p.code, p.playerID, p.role = code, playerID, role
	p.mu.Unlock()
}
