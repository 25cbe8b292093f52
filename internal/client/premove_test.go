package client

import (
	"testing"
	"time"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/rules"
)

func afterE4(t *testing.T) string {
	t.Helper()
	res, err := rules.NewChess().ApplyMove(rules.InitialBoard(), "", rules.Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	return res.BoardState
}

func playing(board string, turn game.Side) *game.Session {
	s := game.New("AB23", board, 300, 0, time.Unix(0, 0))
	s.Status = game.StatusPlaying
	s.SideAID = game.Ptr("white")
	s.SideBID = game.Ptr("black")
	s.Turn = turn
	return s
}

func TestPreMoveKeptWhileNotOurTurn(t *testing.T) {
	var p PreMoveSlot
	mv := rules.Move{From: "e7", To: "e5"}
	p.Hold(mv)

	got, outcome := p.Resolve(playing(rules.InitialBoard(), game.SideA), game.SideB)
	if outcome != PreMoveKept || got != mv {
		t.Fatalf("Resolve = %v %v, want kept", got, outcome)
	}
	if _, ok := p.Held(); !ok {
		t.Fatalf("slot emptied while waiting")
	}
}

func TestPreMoveSubmittedWhenLegal(t *testing.T) {
	var p PreMoveSlot
	mv := rules.Move{From: "e7", To: "e5"}
	p.Hold(mv)

	got, outcome := p.Resolve(playing(afterE4(t), game.SideB), game.SideB)
	if outcome != PreMoveSubmit || got != mv {
		t.Fatalf("Resolve = %v %v, want submit", got, outcome)
	}
	if _, ok := p.Held(); ok {
		t.Fatalf("slot not emptied after submit")
	}
}

func TestPreMoveDroppedWhenIllegal(t *testing.T) {
	var p PreMoveSlot
	p.Hold(rules.Move{From: "e7", To: "e4"})

	_, outcome := p.Resolve(playing(afterE4(t), game.SideB), game.SideB)
	if outcome != PreMoveDropped {
		t.Fatalf("outcome = %v, want dropped", outcome)
	}
	if _, ok := p.Held(); ok {
		t.Fatalf("illegal move still held")
	}
}

func TestPreMoveDroppedWhenGameEnds(t *testing.T) {
	var p PreMoveSlot
	p.Hold(rules.Move{From: "e7", To: "e5"})
	s := playing(rules.InitialBoard(), game.SideA)
	s.Status = game.StatusEnded

	if _, outcome := p.Resolve(s, game.SideB); outcome != PreMoveDropped {
		t.Fatalf("outcome = %v, want dropped", outcome)
	}
}

func TestPreMoveHoldReplacesAndCancel(t *testing.T) {
	var p PreMoveSlot
	if p.Hold(rules.Move{From: "e7", To: "e5"}) {
		t.Fatalf("first hold reported a replacement")
	}
	second := rules.Move{From: "d7", To: "d5"}
	if !p.Hold(second) {
		t.Fatalf("second hold did not report a replacement")
	}
	if got, _ := p.Held(); got != second {
		t.Fatalf("held = %v, want %v", got, second)
	}
	if !p.Cancel() {
		t.Fatalf("Cancel on a full slot returned false")
	}
	if p.Cancel() {
		t.Fatalf("Cancel on an empty slot returned true")
	}
	if _, outcome := p.Resolve(playing(afterE4(t), game.SideB), game.SideB); outcome != PreMoveNone {
		t.Fatalf("empty slot outcome = %v", outcome)
	}
}
