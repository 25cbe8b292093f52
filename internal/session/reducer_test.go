package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/internal/store"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

var (
	actorA = Actor{PlayerID: "pa", Role: game.RoleA}
	actorB = Actor{PlayerID: "pb", Role: game.RoleB}
)

func mv(code, from, to string) Move {
	return Move{Code: code, Move: rules.Move{From: from, To: to}}
}

// started returns a playing session whose clock started at t0.
func started(t *testing.T, base, inc int) *game.Session {
	t.Helper()
	s := game.New("GAME", rules.InitialBoard(), base, inc, t0)
	eng := rules.NewChess()
	for _, id := range []string{"pa", "pb"} {
		tr, err := Reduce(s, Actor{}, Join{Code: "GAME", PlayerID: id}, t0, eng)
		if err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
		s = tr.Next
	}
	if s.Status != game.StatusPlaying {
		t.Fatalf("expected playing after two joins, got %s", s.Status)
	}
	return s
}

func step(t *testing.T, s *game.Session, a Actor, m Message, at time.Time) *game.Session {
	t.Helper()
	tr, err := Reduce(s, a, m, at, rules.NewChess())
	if err != nil {
		t.Fatalf("%T: %v", m, err)
	}
	return tr.Next
}

func TestReduceAlternation(t *testing.T) {
	s := started(t, 300, 0)
	seq := []struct {
		a        Actor
		from, to string
		next     game.Side
	}{
		{actorA, "e2", "e4", game.SideB},
		{actorB, "e7", "e5", game.SideA},
		{actorA, "g1", "f3", game.SideB},
		{actorB, "b8", "c6", game.SideA},
	}
	for i, st := range seq {
		if _, err := Reduce(s, st.a.other(), mv("GAME", st.from, st.to), t0, rules.NewChess()); !errors.Is(err, game.ErrInvalidState) {
			t.Fatalf("move %d: out of turn move should fail, got %v", i, err)
		}
		s = step(t, s, st.a, mv("GAME", st.from, st.to), t0)
		if s.Turn != st.next {
			t.Fatalf("move %d: expected turn %s, got %s", i, st.next, s.Turn)
		}
	}
	if s.MoveLog != "1. e4 e5 2. Nf3 Nc6" {
		t.Fatalf("unexpected move log %q", s.MoveLog)
	}
}

func (a Actor) other() Actor {
	if a.Role == game.RoleA {
		return actorB
	}
	return actorA
}

func TestReduceRejectedMoveChangesNothing(t *testing.T) {
	s := started(t, 300, 0)
	before := *s
	for _, m := range []Move{mv("GAME", "e2", "e5"), mv("GAME", "z9", "e4"), {Code: "GAME", Move: rules.Move{From: "e2", To: "e4", Promotion: "k"}}} {
		_, err := Reduce(s, actorA, m, t0.Add(30*time.Second), rules.NewChess())
		if !errors.Is(err, game.ErrInvalidMove) {
			t.Fatalf("%+v: expected invalid_move, got %v", m.Move, err)
		}
		if *s != before {
			t.Fatalf("rejected move mutated the record")
		}
	}
}

func TestReduceClockScenario(t *testing.T) {
	s := started(t, 300, 0)
	if s.LastMoveTimestamp == nil || !s.LastMoveTimestamp.Equal(t0) {
		t.Fatalf("clock start not set: %v", s.LastMoveTimestamp)
	}
	if s.SideATimeRemaining != 300 || s.SideBTimeRemaining != 300 {
		t.Fatalf("unexpected budgets %d/%d", s.SideATimeRemaining, s.SideBTimeRemaining)
	}
	s = step(t, s, actorA, mv("GAME", "e2", "e4"), t0.Add(10*time.Second))
	if s.SideATimeRemaining != 290 || s.SideBTimeRemaining != 300 {
		t.Fatalf("expected 290/300, got %d/%d", s.SideATimeRemaining, s.SideBTimeRemaining)
	}
	if s.Turn != game.SideB || s.Status != game.StatusPlaying {
		t.Fatalf("unexpected turn/status %s/%s", s.Turn, s.Status)
	}
	if s.LastMove == nil || *s.LastMove != (game.LastMove{From: "e2", To: "e4"}) {
		t.Fatalf("last move not recorded: %+v", s.LastMove)
	}
}

func TestReduceClockInvariant(t *testing.T) {
	cases := []struct {
		inc     int
		elapsed time.Duration
		want    int
	}{
		{0, 0, 300},
		{5, 10 * time.Second, 295},
		{2, 1500 * time.Millisecond, 301},
		{0, 299 * time.Second, 1},
	}
	for _, tc := range cases {
		s := started(t, 300, tc.inc)
		s = step(t, s, actorA, mv("GAME", "d2", "d4"), t0.Add(tc.elapsed))
		if s.SideATimeRemaining != tc.want {
			t.Fatalf("inc=%d elapsed=%v: expected %d, got %d", tc.inc, tc.elapsed, tc.want, s.SideATimeRemaining)
		}
	}
}

func TestReduceTimeoutOnMoveAttempt(t *testing.T) {
	for _, m := range []Move{mv("GAME", "e7", "e5"), mv("GAME", "e7", "e1")} {
		s := started(t, 300, 3)
		s = step(t, s, actorA, mv("GAME", "e2", "e4"), t0.Add(time.Second))
		tr, err := Reduce(s, actorB, m, t0.Add(302*time.Second), rules.NewChess())
		if err != nil {
			t.Fatalf("flag-fall should not be an error: %v", err)
		}
		n := tr.Next
		if !n.Ended() || *n.EndReason != game.EndTimeout || *n.Winner != game.WinnerA {
			t.Fatalf("expected timeout win for a: %+v", n)
		}
		if n.SideBTimeRemaining != 0 || !tr.Broadcast {
			t.Fatalf("expected zero clock and broadcast, got %d %v", n.SideBTimeRemaining, tr.Broadcast)
		}
		if n.BoardState != s.BoardState || n.MoveLog != s.MoveLog {
			t.Fatalf("move must not be applied after flag-fall")
		}
	}
}

func TestReduceOutOfTurnMoveFinalizesFlaggedOpponent(t *testing.T) {
	s := started(t, 300, 0)
	s = step(t, s, actorA, mv("GAME", "e2", "e4"), t0.Add(time.Second))
	// b is to move and has run out; a sends a move anyway
	tr, err := Reduce(s, actorA, mv("GAME", "d2", "d4"), t0.Add(302*time.Second), rules.NewChess())
	if err != nil {
		t.Fatalf("flag-fall should not be an error: %v", err)
	}
	n := tr.Next
	if !n.Ended() || *n.EndReason != game.EndTimeout || *n.Winner != game.WinnerA || n.SideBTimeRemaining != 0 {
		t.Fatalf("expected timeout win for a: %+v", n)
	}
	if tr.Commit == nil {
		t.Fatalf("timeout must be persisted")
	}

	// before the flag, the same move is simply out of turn
	if _, err := Reduce(s, actorA, mv("GAME", "d2", "d4"), t0.Add(10*time.Second), rules.NewChess()); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("expected not your turn, got %v", err)
	}
}

func TestReduceCheckmate(t *testing.T) {
	s := started(t, 300, 0)
	moves := []struct {
		a        Actor
		from, to string
	}{
		{actorA, "f2", "f3"}, {actorB, "e7", "e5"}, {actorA, "g2", "g4"}, {actorB, "d8", "h4"},
	}
	for _, m := range moves {
		s = step(t, s, m.a, mv("GAME", m.from, m.to), t0)
	}
	if !s.Ended() || *s.EndReason != game.EndRulesTerminal || *s.Winner != game.WinnerB {
		t.Fatalf("expected checkmate win for b: %+v", s)
	}
	if _, err := Reduce(s, actorA, mv("GAME", "a2", "a3"), t0, rules.NewChess()); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("ended game must reject moves, got %v", err)
	}
}

func TestReduceJoinRoles(t *testing.T) {
	eng := rules.NewChess()
	s := game.New("GAME", rules.InitialBoard(), 300, 0, t0)
	tr, err := Reduce(s, Actor{}, Join{Code: "GAME", PlayerID: "pa"}, t0, eng)
	if err != nil || tr.Role != game.RoleA || tr.Commit == nil {
		t.Fatalf("first join should claim a: %+v %v", tr, err)
	}
	s = tr.Next
	tr, _ = Reduce(s, Actor{}, Join{Code: "GAME", PlayerID: "pa"}, t0, eng)
	if tr.Role != game.RoleA || tr.Commit != nil || !tr.Broadcast {
		t.Fatalf("rejoin should reattach without a write: %+v", tr)
	}
	tr, _ = Reduce(s, Actor{}, Join{Code: "GAME", PlayerID: "pb"}, t0, eng)
	s = tr.Next
	if tr.Role != game.RoleB || s.Status != game.StatusPlaying {
		t.Fatalf("second join should claim b and start: %+v", tr)
	}
	tr, _ = Reduce(s, Actor{}, Join{Code: "GAME", PlayerID: "pc"}, t0, eng)
	if tr.Role != game.RoleSpectator || tr.Commit != nil {
		t.Fatalf("third identity should spectate: %+v", tr)
	}
	tr, _ = Reduce(s, Actor{}, Join{Code: "GAME", PlayerID: "pb"}, t0.Add(time.Minute), eng)
	if tr.Role != game.RoleB {
		t.Fatalf("reconnecting identity should keep b, got %s", tr.Role)
	}
}

func TestReduceJoinAfterAbortSpectates(t *testing.T) {
	s := game.New("GAME", rules.InitialBoard(), 300, 0, t0)
	s = step(t, s, Actor{}, Join{Code: "GAME", PlayerID: "pa"}, t0)
	s = step(t, s, Actor{PlayerID: "pa", Role: game.RoleA}, Abort{Code: "GAME"}, t0)
	if *s.EndReason != game.EndAborted || s.Winner != nil {
		t.Fatalf("unexpected abort result: %+v", s)
	}
	tr, err := Reduce(s, Actor{}, Join{Code: "GAME", PlayerID: "late"}, t0, rules.NewChess())
	if err != nil || tr.Role != game.RoleSpectator {
		t.Fatalf("late joiner of an ended game spectates: %+v %v", tr, err)
	}
}

func TestReducePermissions(t *testing.T) {
	s := started(t, 300, 0)
	spectator := Actor{PlayerID: "pc", Role: game.RoleSpectator}
	for _, m := range []Message{mv("GAME", "e2", "e4"), Resign{Code: "GAME"}, OfferDraw{Code: "GAME"}, DeclineDraw{Code: "GAME"}} {
		if _, err := Reduce(s, spectator, m, t0, rules.NewChess()); !errors.Is(err, game.ErrInvalidState) {
			t.Fatalf("spectator %T should be rejected, got %v", m, err)
		}
	}
	forged := Actor{PlayerID: "mallory", Role: game.RoleA}
	if _, err := Reduce(s, forged, Resign{Code: "GAME"}, t0, rules.NewChess()); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("role without matching identity should be rejected, got %v", err)
	}
	if _, err := Reduce(s, actorA, Abort{Code: "GAME"}, t0, rules.NewChess()); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("abort after start should fail, got %v", err)
	}
}

func TestReduceResign(t *testing.T) {
	s := started(t, 300, 0)
	s = step(t, s, Actor{PlayerID: "pa"}, Resign{Code: "GAME"}, t0)
	if *s.EndReason != game.EndResignation || *s.Winner != game.WinnerB {
		t.Fatalf("unexpected resign result: %+v", s)
	}
}

func TestReduceDrawAgreement(t *testing.T) {
	s := started(t, 300, 0)
	s = step(t, s, actorA, OfferDraw{Code: "GAME", Player: "a"}, t0)
	if s.DrawOfferedBy == nil || *s.DrawOfferedBy != game.SideA {
		t.Fatalf("offer not recorded")
	}
	if _, err := Reduce(s, actorA, AcceptDraw{Code: "GAME"}, t0, rules.NewChess()); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("offerer cannot accept, got %v", err)
	}
	s = step(t, s, actorB, AcceptDraw{Code: "GAME"}, t0)
	if !s.Ended() || *s.Winner != game.WinnerDraw || *s.EndReason != game.EndDrawAgreement || s.DrawOfferedBy != nil {
		t.Fatalf("unexpected draw result: %+v", s)
	}
}

func TestReduceThirdDrawOffer(t *testing.T) {
	s := started(t, 300, 0)
	for i := 0; i < 2; i++ {
		s = step(t, s, actorB, OfferDraw{Code: "GAME"}, t0)
		s = step(t, s, actorA, DeclineDraw{Code: "GAME"}, t0)
	}
	_, err := Reduce(s, actorB, OfferDraw{Code: "GAME"}, t0, rules.NewChess())
	if !errors.Is(err, game.ErrOfferLimit) {
		t.Fatalf("third offer should hit the limit, got %v", err)
	}
	if _, err := Reduce(s, actorA, OfferDraw{Code: "GAME"}, t0, rules.NewChess()); err != nil {
		t.Fatalf("other side keeps its own budget: %v", err)
	}
}

func TestReduceOfferForOtherSide(t *testing.T) {
	s := started(t, 300, 0)
	if _, err := Reduce(s, actorA, OfferDraw{Code: "GAME", Player: "b"}, t0, rules.NewChess()); !errors.Is(err, game.ErrInvalidState) {
		t.Fatalf("offering for the opponent should fail, got %v", err)
	}
	if _, err := Reduce(s, actorA, OfferDraw{Code: "GAME", Player: "pa"}, t0, rules.NewChess()); err != nil {
		t.Fatalf("own player id is accepted: %v", err)
	}
}

func TestReduceMoveClearsOffer(t *testing.T) {
	s := started(t, 300, 0)
	s = step(t, s, actorB, OfferDraw{Code: "GAME"}, t0)
	s = step(t, s, actorA, mv("GAME", "e2", "e4"), t0)
	if s.DrawOfferedBy != nil {
		t.Fatalf("accepted move must clear the offer")
	}
}

func TestReduceTick(t *testing.T) {
	s := started(t, 60, 0)
	tr, err := Reduce(s, Actor{}, Tick{Code: "GAME"}, t0.Add(59*time.Second), rules.NewChess())
	if err != nil || tr.Commit != nil || tr.Broadcast {
		t.Fatalf("tick before flag-fall is a no-op: %+v %v", tr, err)
	}
	tr, err = Reduce(s, Actor{}, Tick{Code: "GAME"}, t0.Add(60*time.Second), rules.NewChess())
	if err != nil || tr.Commit == nil {
		t.Fatalf("tick at flag-fall should finalize: %+v %v", tr, err)
	}
	if *tr.Next.EndReason != game.EndTimeout || *tr.Next.Winner != game.WinnerB {
		t.Fatalf("side a flagged, b wins: %+v", tr.Next)
	}
	w := game.New("GAME", rules.InitialBoard(), 60, 0, t0)
	if tr, _ := Reduce(w, Actor{}, Tick{Code: "GAME"}, t0.Add(time.Hour), rules.NewChess()); tr.Commit != nil {
		t.Fatalf("waiting games have no running clock")
	}
}

type brokenEngine struct{ *rules.Chess }

func (brokenEngine) ApplyMove(string, string, rules.Move) (*rules.Result, error) {
	return nil, errors.New("engine crashed")
}

func TestReduceRulesFailureIsInternal(t *testing.T) {
	s := started(t, 300, 0)
	_, err := Reduce(s, actorA, mv("GAME", "e2", "e4"), t0, brokenEngine{rules.NewChess()})
	if game.KindOf(err) != game.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestReduceNilRecord(t *testing.T) {
	if _, err := Reduce(nil, actorA, Resign{Code: "GAME"}, t0, rules.NewChess()); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

// Committing through a store must produce the record the reducer predicted.
func TestCommitMatchesNext(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	eng := rules.NewChess()
	s := game.New("GAME", eng.InitialBoard(), 300, 2, t0)
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	steps := []struct {
		a Actor
		m Message
	}{
		{Actor{}, Join{Code: "GAME", PlayerID: "pa"}},
		{Actor{}, Join{Code: "GAME", PlayerID: "pb"}},
		{actorA, mv("GAME", "e2", "e4")},
		{actorB, OfferDraw{Code: "GAME"}},
		{actorA, DeclineDraw{Code: "GAME"}},
		{actorB, mv("GAME", "c7", "c5")},
		{actorA, Resign{Code: "GAME"}},
	}
	now := t0
	for i, stp := range steps {
		now = now.Add(3 * time.Second)
		cur, err := st.GetByCode(ctx, "GAME")
		if err != nil {
			t.Fatalf("step %d: load: %v", i, err)
		}
		tr, err := Reduce(cur, stp.a, stp.m, now, eng)
		if err != nil {
			t.Fatalf("step %d: reduce: %v", i, err)
		}
		got, err := tr.Commit(ctx, st)
		if err != nil {
			t.Fatalf("step %d: commit: %v", i, err)
		}
		want, _ := json.Marshal(tr.Next)
		have, _ := json.Marshal(got)
		if string(want) != string(have) {
			t.Fatalf("step %d: store diverged from reducer\nwant %s\nhave %s", i, want, have)
		}
	}
}
