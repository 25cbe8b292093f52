package session

import (
	"context"
	"strings"
	"time"

	"github.com/park285/cheese-live/internal/clock"
	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/internal/store"
)

// Actor identifies who sent a message. Role is empty for callers that have
// not joined over a connection; their side is then looked up by PlayerID.
type Actor struct {
	PlayerID string
	Role     game.Role
}

// CommitFunc persists a transition through a single atomic store call.
type CommitFunc func(ctx context.Context, st store.Store) (*game.Session, error)

// Transition is the outcome of reducing one message against a record.
type Transition struct {
	// Next is the record after the message. It equals the input when nothing
	// changes.
	Next *game.Session
	// Commit is nil when nothing needs to be written.
	Commit CommitFunc
	// Broadcast reports whether the room should receive Next.
	Broadcast bool
	// Role is the role resolved by a join.
	Role  game.Role
	Event string
}

// Reduce applies msg to cur at time now. It performs no I/O: the returned
// Commit is the only way the change reaches the store. Any error leaves cur
// untouched and must go to the sender only.
func Reduce(cur *game.Session, actor Actor, msg Message, now time.Time, eng rules.Engine) (*Transition, error) {
	if cur == nil {
		return nil, store.ErrNotFound
	}
	switch m := msg.(type) {
	case Join:
		return reduceJoin(cur, m, now)
	case Move:
		return reduceMove(cur, actor, m, now, eng)
	case Resign:
		side, err := actorSide(cur, actor)
		if err != nil {
			return nil, err
		}
		f := game.Final{Winner: game.Ptr(game.WinnerOf(side.Other())), Reason: game.EndResignation}
		return finalize(cur, f, now, "live_resign")
	case Abort:
		if _, err := actorSide(cur, actor); err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := next.Finish(game.Final{Reason: game.EndAborted}, now); err != nil {
			return nil, err
		}
		code := cur.Code
		return &Transition{
			Next:      next,
			Broadcast: true,
			Event:     "live_abort",
			Commit: func(ctx context.Context, st store.Store) (*game.Session, error) {
				return st.SetStatus(ctx, code, game.StatusEnded, game.EndAborted, now)
			},
		}, nil
	case OfferDraw:
		side, err := actorSide(cur, actor)
		if err != nil {
			return nil, err
		}
		if m.Player != "" && !namesSide(m.Player, side, actor.PlayerID) {
			return nil, game.Errorf(game.KindInvalidState, "you can only offer a draw for your own side")
		}
		next := cur.Clone()
		if err := next.OfferDraw(side, now); err != nil {
			return nil, err
		}
		code := cur.Code
		return &Transition{
			Next:      next,
			Broadcast: true,
			Event:     "live_draw_offer",
			Commit: func(ctx context.Context, st store.Store) (*game.Session, error) {
				return st.OfferDraw(ctx, code, side, now)
			},
		}, nil
	case AcceptDraw:
		side, err := actorSide(cur, actor)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := next.AcceptDraw(side, now); err != nil {
			return nil, err
		}
		code := cur.Code
		return &Transition{
			Next:      next,
			Broadcast: true,
			Event:     "live_draw_accept",
			Commit: func(ctx context.Context, st store.Store) (*game.Session, error) {
				return st.AcceptDraw(ctx, code, side, now)
			},
		}, nil
	case DeclineDraw:
		if _, err := actorSide(cur, actor); err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := next.DeclineDraw(now); err != nil {
			return nil, err
		}
		code := cur.Code
		return &Transition{
			Next:      next,
			Broadcast: true,
			Event:     "live_draw_decline",
			Commit: func(ctx context.Context, st store.Store) (*game.Session, error) {
				return st.DeclineDraw(ctx, code, now)
			},
		}, nil
	case Tick:
		side, reading, ok := clock.Project(cur, now)
		if !ok || !reading.Flagged {
			return &Transition{Next: cur}, nil
		}
		return flagFall(cur, side, now)
	}
	return nil, game.Errorf(game.KindInvalidState, "unsupported message %T", msg)
}

// ResolveRole is the role playerID gets when joining cur. Sides are only
// handed out while the game is waiting for players.
func ResolveRole(cur *game.Session, playerID string) game.Role {
	role := cur.ResolveRole(playerID)
	if side, ok := role.Side(); ok && cur.PlayerID(side) != playerID && cur.Status != game.StatusWaiting {
		return game.RoleSpectator
	}
	return role
}

func reduceJoin(cur *game.Session, m Join, now time.Time) (*Transition, error) {
	role := ResolveRole(cur, m.PlayerID)
	tr := &Transition{Next: cur, Broadcast: true, Role: role, Event: "live_join"}
	side, ok := role.Side()
	if !ok || cur.PlayerID(side) == m.PlayerID {
		return tr, nil
	}
	next := cur.Clone()
	if err := next.Claim(side, m.PlayerID, now); err != nil {
		return nil, err
	}
	code, id := cur.Code, m.PlayerID
	tr.Next = next
	tr.Commit = func(ctx context.Context, st store.Store) (*game.Session, error) {
		return st.AssignSide(ctx, code, side, id, now)
	}
	return tr, nil
}

func reduceMove(cur *game.Session, actor Actor, m Move, now time.Time, eng rules.Engine) (*Transition, error) {
	side, err := actorSide(cur, actor)
	if err != nil {
		return nil, err
	}
	if cur.Status != game.StatusPlaying {
		return nil, game.Errorf(game.KindInvalidState, "game is not in progress")
	}
	since := now
	if cur.LastMoveTimestamp != nil {
		since = *cur.LastMoveTimestamp
	}
	// the running clock belongs to the side to move, whoever sent the move
	reading := clock.Deduct(since, now, cur.TimeRemaining(cur.Turn))
	if reading.Flagged {
		return flagFall(cur, cur.Turn, now)
	}
	if cur.Turn != side {
		return nil, game.Errorf(game.KindInvalidState, "not your turn")
	}
	res, err := eng.ApplyMove(cur.BoardState, cur.MoveLog, m.Move)
	if err != nil {
		if game.KindOf(err) == game.KindInternal {
			return nil, game.Wrap(err, "rules engine")
		}
		return nil, err
	}
	u := game.MoveUpdate{
		Mover:      side,
		BoardState: res.BoardState,
		MoveLog:    res.MoveLog,
		LastMove:   game.LastMove{From: strings.ToLower(m.From), To: strings.ToLower(m.To)},
		MoverTime:  clock.Credit(reading.Remaining, cur.Increment),
		At:         now,
	}
	event := "live_move"
	switch {
	case res.TerminalWin:
		u.Winner = game.Ptr(game.WinnerOf(res.Winner))
		u.EndReason = game.Ptr(game.EndRulesTerminal)
		event = "live_move_terminal"
	case res.TerminalDraw:
		u.Winner = game.Ptr(game.WinnerDraw)
		u.EndReason = game.Ptr(game.EndRulesDraw)
		event = "live_move_terminal"
	}
	next := cur.Clone()
	if err := next.ApplyMove(u); err != nil {
		return nil, err
	}
	code := cur.Code
	return &Transition{
		Next:      next,
		Broadcast: true,
		Event:     event,
		Commit: func(ctx context.Context, st store.Store) (*game.Session, error) {
			return st.UpdateStateAfterMove(ctx, code, u)
		},
	}, nil
}

// flagFall ends the game on time. No increment is credited.
func flagFall(cur *game.Session, side game.Side, now time.Time) (*Transition, error) {
	f := game.Final{
		Winner: game.Ptr(game.WinnerOf(side.Other())),
		Reason: game.EndTimeout,
		Clock:  &game.ClockUpdate{Side: side, Remaining: 0},
	}
	return finalize(cur, f, now, "live_timeout")
}

func finalize(cur *game.Session, f game.Final, now time.Time, event string) (*Transition, error) {
	next := cur.Clone()
	if err := next.Finish(f, now); err != nil {
		return nil, err
	}
	code := cur.Code
	return &Transition{
		Next:      next,
		Broadcast: true,
		Event:     event,
		Commit: func(ctx context.Context, st store.Store) (*game.Session, error) {
			return st.FinalizeWithWinner(ctx, code, f, now)
		},
	}, nil
}

// actorSide returns the side the actor plays in cur.
func actorSide(cur *game.Session, actor Actor) (game.Side, error) {
	if actor.Role == "" {
		if side, ok := cur.SideOf(actor.PlayerID); ok {
			return side, nil
		}
		return "", game.Errorf(game.KindInvalidState, "not a player in this game")
	}
	side, ok := actor.Role.Side()
	if !ok {
		return "", game.Errorf(game.KindInvalidState, "spectators cannot do that")
	}
	if cur.PlayerID(side) != actor.PlayerID {
		return "", game.Errorf(game.KindInvalidState, "not a player in this game")
	}
	return side, nil
}

// namesSide accepts a role name or the player's own id.
func namesSide(player string, side game.Side, playerID string) bool {
	if player == playerID {
		return true
	}
	r, ok := game.ParseRole(player)
	if !ok {
		return false
	}
	s, ok := r.Side()
	return ok && s == side
}
