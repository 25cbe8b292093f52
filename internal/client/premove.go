package client

import (
	"sync"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/rules"
)

// PreMoveOutcome is what happened to a held move after a state update.
type PreMoveOutcome int

const (
	PreMoveNone PreMoveOutcome = iota
	PreMoveKept
	PreMoveSubmit
	PreMoveDropped
)

func (o PreMoveOutcome) String() string {
	switch o {
	case PreMoveKept:
		return "kept"
	case PreMoveSubmit:
		return "submit"
	case PreMoveDropped:
		return "dropped"
	}
	return "none"
}

// PreMoveSlot holds at most one move made out of turn.
type PreMoveSlot struct {
	mu   sync.Mutex
	held *rules.Move
}

// Hold stores mv, replacing any held move. It reports whether one was replaced.
func (p *PreMoveSlot) Hold(mv rules.Move) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	replaced := p.held != nil
	p.held = &mv
	return replaced
}

// Cancel clears the slot without submitting.
func (p *PreMoveSlot) Cancel() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	had := p.held != nil
	p.held = nil
	return had
}

func (p *PreMoveSlot) Held() (rules.Move, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held == nil {
		return rules.Move{}, false
	}
	return *p.held, true
}

// Resolve checks the held move against the latest state s for side. When
// it is side's turn the slot is emptied: a legal move comes back for
// submission, an illegal one is dropped. Once the game ends the move is
// dropped. The local check is a hint; the server still validates.
func (p *PreMoveSlot) Resolve(s *game.Session, side game.Side) (rules.Move, PreMoveOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held == nil {
		return rules.Move{}, PreMoveNone
	}
	mv := *p.held
	switch {
	case s == nil:
		return mv, PreMoveKept
	case s.Ended():
		p.held = nil
		return mv, PreMoveDropped
	case s.Status != game.StatusPlaying || s.Turn != side:
		return mv, PreMoveKept
	}
	p.held = nil
	if !rules.IsLegal(s.BoardState, mv) {
		return mv, PreMoveDropped
	}
	return mv, PreMoveSubmit
}
