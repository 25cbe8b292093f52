package game

import (
	"strings"
	"time"
)

// Side identifies one of the two players. Side A moves first (white).
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

func (s Side) Valid() bool { return s == SideA || s == SideB }

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Status represents a session lifecycle state.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

// EndReason subdivides StatusEnded.
type EndReason string

const (
	EndRulesTerminal EndReason = "rules-terminal"
	EndResignation   EndReason = "resignation"
	EndTimeout       EndReason = "timeout"
	EndDrawAgreement EndReason = "draw-agreement"
	EndRulesDraw     EndReason = "rules-draw"
	EndAborted       EndReason = "aborted"
)

// Winner is a side or a draw.
type Winner string

const (
	WinnerA    Winner = "a"
	WinnerB    Winner = "b"
	WinnerDraw Winner = "draw"
)

// WinnerOf maps a side to its winner value.
func WinnerOf(s Side) Winner {
	if s == SideA {
		return WinnerA
	}
	return WinnerB
}

// Role is what a connection holds in a room.
type Role string

const (
	RoleA         Role = "a"
	RoleB         Role = "b"
	RoleSpectator Role = "spectator"
)

// Side returns the side for a player role; spectators have none.
func (r Role) Side() (Side, bool) {
	switch r {
	case RoleA:
		return SideA, true
	case RoleB:
		return SideB, true
	}
	return "", false
}

func RoleOf(s Side) Role {
	if s == SideA {
		return RoleA
	}
	return RoleB
}

// ParseRole accepts the wire role names plus a few aliases.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "w", "white":
		return RoleA, true
	case "b", "black":
		return RoleB, true
	case "spectator":
		return RoleSpectator, true
	}
	return "", false
}

// LastMove is kept for highlighting only.
type LastMove struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MaxDrawOffers is the per-side, per-game draw offer cap.
const MaxDrawOffers = 2

// Session is the canonical, persisted game record broadcast to room members.
// Pointer fields are nullable on the wire; their pointees are never mutated
// in place, so a shallow copy is a safe snapshot.
type Session struct {
	Code               string     `json:"code"`
	BoardState         string     `json:"boardState"`
	MoveLog            string     `json:"moveLog"`
	Turn               Side       `json:"turn"`
	Status             Status     `json:"status"`
	SideAID            *string    `json:"sideAId"`
	SideBID            *string    `json:"sideBId"`
	Winner             *Winner    `json:"winner"`
	EndReason          *EndReason `json:"endReason"`
	DrawOfferedBy      *Side      `json:"drawOfferedBy"`
	DrawOffersA        int        `json:"drawOffersA"`
	DrawOffersB        int        `json:"drawOffersB"`
	LastMove           *LastMove  `json:"lastMove"`
	SideATimeRemaining int        `json:"sideATimeRemaining"`
	SideBTimeRemaining int        `json:"sideBTimeRemaining"`
	BaseTime           int        `json:"baseTime"`
	Increment          int        `json:"increment"`
	LastMoveTimestamp  *time.Time `json:"lastMoveTimestamp"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Clone returns an independent snapshot.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func (s *Session) PlayerID(side Side) string {
	var p *string
	if side == SideA {
		p = s.SideAID
	} else {
		p = s.SideBID
	}
	if p == nil {
		return ""
	}
	return *p
}

func (s *Session) HasPlayer(side Side) bool { return s.PlayerID(side) != "" }

// SideOf reports which side playerID is bound to.
func (s *Session) SideOf(playerID string) (Side, bool) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return "", false
	}
	if s.PlayerID(SideA) == playerID {
		return SideA, true
	}
	if s.PlayerID(SideB) == playerID {
		return SideB, true
	}
	return "", false
}

// ResolveRole computes the role a player would get from current occupancy
// without claiming anything.
func (s *Session) ResolveRole(playerID string) Role {
	if side, ok := s.SideOf(playerID); ok {
		return RoleOf(side)
	}
	if !s.HasPlayer(SideA) {
		return RoleA
	}
	if !s.HasPlayer(SideB) {
		return RoleB
	}
	return RoleSpectator
}

func (s *Session) TimeRemaining(side Side) int {
	if side == SideA {
		return s.SideATimeRemaining
	}
	return s.SideBTimeRemaining
}

func (s *Session) SetTimeRemaining(side Side, v int) {
	if v < 0 {
		v = 0
	}
	if side == SideA {
		s.SideATimeRemaining = v
	} else {
		s.SideBTimeRemaining = v
	}
}

func (s *Session) DrawOffers(side Side) int {
	if side == SideA {
		return s.DrawOffersA
	}
	return s.DrawOffersB
}

func (s *Session) addDrawOffer(side Side) {
	if side == SideA {
		s.DrawOffersA++
	} else {
		s.DrawOffersB++
	}
}

func (s *Session) Ended() bool { return s.Status == StatusEnded }

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T { return &v }
