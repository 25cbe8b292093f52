package game

import "time"

const (
	DefaultBaseTime  = 600
	DefaultIncrement = 0
)

// New builds a waiting session. Non-positive baseTime and negative increment
// fall back to the defaults.
func New(code, board string, baseTime, increment int, now time.Time) *Session {
	if baseTime <= 0 {
		baseTime = DefaultBaseTime
	}
	if increment < 0 {
		increment = DefaultIncrement
	}
	return &Session{
		Code:               code,
		BoardState:         board,
		Turn:               SideA,
		Status:             StatusWaiting,
		SideATimeRemaining: baseTime,
		SideBTimeRemaining: baseTime,
		BaseTime:           baseTime,
		Increment:          increment,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// MoveUpdate is everything an accepted move writes in one step.
type MoveUpdate struct {
	Mover      Side
	BoardState string
	MoveLog    string
	LastMove   LastMove
	// MoverTime is the mover's budget after deduction and increment.
	MoverTime int
	At        time.Time
	// Winner and EndReason are set together when the move ends the game.
	Winner    *Winner
	EndReason *EndReason
}

// ClockUpdate overwrites one side's budget.
type ClockUpdate struct {
	Side      Side
	Remaining int
}

// Final describes a terminal transition.
type Final struct {
	Winner *Winner
	Reason EndReason
	Clock  *ClockUpdate
}

// ApplyMove commits an accepted move: board, log, turn flip, clock, offer reset.
func (s *Session) ApplyMove(u MoveUpdate) error {
	if s.Status != StatusPlaying {
		return Errorf(KindInvalidState, "game is not in progress")
	}
	if s.Turn != u.Mover {
		return Errorf(KindInvalidState, "not %s's turn", u.Mover)
	}
	s.BoardState = u.BoardState
	s.MoveLog = u.MoveLog
	s.SetTimeRemaining(u.Mover, u.MoverTime)
	s.Turn = u.Mover.Other()
	lm := u.LastMove
	s.LastMove = &lm
	at := u.At
	s.LastMoveTimestamp = &at
	s.DrawOfferedBy = nil
	if u.EndReason != nil {
		s.Status = StatusEnded
		s.Winner = u.Winner
		s.EndReason = u.EndReason
	}
	s.UpdatedAt = u.At
	return nil
}

// Claim binds playerID to side. Binding the same id again is a no-op; a side
// held by someone else is never reassigned. The second claim starts the game.
func (s *Session) Claim(side Side, playerID string, now time.Time) error {
	if !side.Valid() || playerID == "" {
		return Errorf(KindInvalidState, "invalid side claim")
	}
	if cur := s.PlayerID(side); cur != "" {
		if cur == playerID {
			return nil
		}
		return Errorf(KindInvalidState, "side %s already taken", side)
	}
	if s.Status != StatusWaiting {
		return Errorf(KindInvalidState, "game already started")
	}
	if other, ok := s.SideOf(playerID); ok && other != side {
		return Errorf(KindInvalidState, "player already holds side %s", other)
	}
	id := playerID
	if side == SideA {
		s.SideAID = &id
	} else {
		s.SideBID = &id
	}
	if s.HasPlayer(SideA) && s.HasPlayer(SideB) {
		s.Status = StatusPlaying
		started := now
		s.LastMoveTimestamp = &started
	}
	s.UpdatedAt = now
	return nil
}

// Finish moves the session to ended. Aborts need a waiting game, every other
// reason a playing one.
func (s *Session) Finish(f Final, now time.Time) error {
	switch {
	case s.Status == StatusEnded:
		return Errorf(KindInvalidState, "game already ended")
	case f.Reason == EndAborted && s.Status != StatusWaiting:
		return Errorf(KindInvalidState, "only a waiting game can be aborted")
	case f.Reason != EndAborted && s.Status != StatusPlaying:
		return Errorf(KindInvalidState, "game is not in progress")
	}
	if f.Clock != nil {
		s.SetTimeRemaining(f.Clock.Side, f.Clock.Remaining)
	}
	reason := f.Reason
	s.Status = StatusEnded
	s.EndReason = &reason
	s.Winner = f.Winner
	s.DrawOfferedBy = nil
	s.UpdatedAt = now
	return nil
}

// OfferDraw records an outstanding offer from side.
func (s *Session) OfferDraw(side Side, now time.Time) error {
	if s.Status != StatusPlaying {
		return Errorf(KindInvalidState, "game is not in progress")
	}
	if s.DrawOfferedBy != nil {
		return Errorf(KindInvalidState, "a draw offer is already pending")
	}
	if s.DrawOffers(side) >= MaxDrawOffers {
		return Errorf(KindOfferLimit, "draw offer limit reached")
	}
	by := side
	s.DrawOfferedBy = &by
	s.addDrawOffer(side)
	s.UpdatedAt = now
	return nil
}

// AcceptDraw ends the game as a draw; only the side that did not offer may accept.
func (s *Session) AcceptDraw(by Side, now time.Time) error {
	if s.Status != StatusPlaying {
		return Errorf(KindInvalidState, "game is not in progress")
	}
	if s.DrawOfferedBy == nil {
		return Errorf(KindInvalidState, "no draw offer pending")
	}
	if *s.DrawOfferedBy == by {
		return Errorf(KindInvalidState, "cannot accept your own draw offer")
	}
	return s.Finish(Final{Winner: Ptr(WinnerDraw), Reason: EndDrawAgreement}, now)
}

// DeclineDraw clears an outstanding offer.
func (s *Session) DeclineDraw(now time.Time) error {
	if s.DrawOfferedBy == nil {
		return Errorf(KindInvalidState, "no draw offer pending")
	}
	s.DrawOfferedBy = nil
	s.UpdatedAt = now
	return nil
}
