// Package store persists game sessions. Every operation is an atomic
// read-modify-write of a single record; a failed operation leaves the
// stored record untouched.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/park285/cheese-live/internal/game"
)

var (
	ErrNotFound      = &game.Error{Kind: game.KindNotFound, Msg: "game not found"}
	ErrCodeTaken     = errors.New("room code already in use")
	ErrCodeExhausted = errors.New("failed to allocate room code")
)

// Store is the durable record store consumed by the session coordinator.
type Store interface {
	Create(ctx context.Context, s *game.Session) error
	GetByCode(ctx context.Context, code string) (*game.Session, error)
	UpdateStateAfterMove(ctx context.Context, code string, u game.MoveUpdate) (*game.Session, error)
	AssignSide(ctx context.Context, code string, side game.Side, playerID string, now time.Time) (*game.Session, error)
	FinalizeWithWinner(ctx context.Context, code string, f game.Final, now time.Time) (*game.Session, error)
	SetStatus(ctx context.Context, code string, status game.Status, reason game.EndReason, now time.Time) (*game.Session, error)
	OfferDraw(ctx context.Context, code string, side game.Side, now time.Time) (*game.Session, error)
	AcceptDraw(ctx context.Context, code string, by game.Side, now time.Time) (*game.Session, error)
	DeclineDraw(ctx context.Context, code string, now time.Time) (*game.Session, error)
}

type mutateFunc func(ctx context.Context, code string, fn func(*game.Session) error) (*game.Session, error)

// ops maps the store contract onto a backend's single-record mutate.
type ops struct{ apply mutateFunc }

func (o ops) UpdateStateAfterMove(ctx context.Context, code string, u game.MoveUpdate) (*game.Session, error) {
	return o.apply(ctx, code, func(s *game.Session) error { return s.ApplyMove(u) })
}

func (o ops) AssignSide(ctx context.Context, code string, side game.Side, playerID string, now time.Time) (*game.Session, error) {
	return o.apply(ctx, code, func(s *game.Session) error { return s.Claim(side, playerID, now) })
}

func (o ops) FinalizeWithWinner(ctx context.Context, code string, f game.Final, now time.Time) (*game.Session, error) {
	return o.apply(ctx, code, func(s *game.Session) error { return s.Finish(f, now) })
}

// SetStatus only supports the abort path; other transitions carry more state.
func (o ops) SetStatus(ctx context.Context, code string, status game.Status, reason game.EndReason, now time.Time) (*game.Session, error) {
	if status != game.StatusEnded || reason != game.EndAborted {
		return nil, game.Errorf(game.KindInvalidState, "unsupported status change %s/%s", status, reason)
	}
	return o.apply(ctx, code, func(s *game.Session) error { return s.Finish(game.Final{Reason: reason}, now) })
}

func (o ops) OfferDraw(ctx context.Context, code string, side game.Side, now time.Time) (*game.Session, error) {
	return o.apply(ctx, code, func(s *game.Session) error { return s.OfferDraw(side, now) })
}

func (o ops) AcceptDraw(ctx context.Context, code string, by game.Side, now time.Time) (*game.Session, error) {
	return o.apply(ctx, code, func(s *game.Session) error { return s.AcceptDraw(by, now) })
}

func (o ops) DeclineDraw(ctx context.Context, code string, now time.Time) (*game.Session, error) {
	return o.apply(ctx, code, func(s *game.Session) error { return s.DeclineDraw(now) })
}

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 4
)

// NewCode returns CodeLength upper alnum characters.
func NewCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

// ValidCode reports whether code has the room code shape.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
