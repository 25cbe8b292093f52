package session

import (
	"errors"
	"testing"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/rules"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		raw  string
		want Message
	}{
		{`{"type":"join","code":" ab12 ","playerId":"p1"}`, Join{Code: "AB12", PlayerID: "p1"}},
		{`{"type":"move","code":"AB12","from":"e7","to":"e8","promotion":"n"}`, Move{Code: "AB12", Move: rules.Move{From: "e7", To: "e8", Promotion: "n"}}},
		{`{"type":"offer_draw","code":"AB12","player":"a"}`, OfferDraw{Code: "AB12", Player: "a"}},
		{`{"type":"accept_draw","code":"AB12"}`, AcceptDraw{Code: "AB12"}},
		{`{"type":"decline_draw","code":"AB12"}`, DeclineDraw{Code: "AB12"}},
		{`{"type":"resign","code":"AB12"}`, Resign{Code: "AB12"}},
		{`{"type":"abort","code":"AB12"}`, Abort{Code: "AB12"}},
	}
	for _, tc := range cases {
		got, err := Decode([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %#v want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"move"}`,
		`{"type":"join","code":"AB12"}`,
		`{"type":"tick","code":"AB12"}`,
		`{"type":"teleport","code":"AB12"}`,
	} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, game.ErrInvalidState) {
			t.Fatalf("%s: expected invalid_state, got %v", raw, err)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	msgs := []Message{
		Join{Code: "AB12", PlayerID: "p1"},
		Move{Code: "AB12", Move: rules.Move{From: "e2", To: "e4"}},
		OfferDraw{Code: "AB12"},
		Abort{Code: "AB12"},
	}
	for _, m := range msgs {
		raw, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode %T: %v", m, err)
		}
		back, err := Decode(raw)
		if err != nil || back != m {
			t.Fatalf("%T: round trip gave %#v (%v) from %s", m, back, err, raw)
		}
	}
	if raw, _ := Encode(Move{Code: "AB12", Move: rules.Move{From: "e2", To: "e4"}}); string(raw) != `{"type":"move","code":"AB12","from":"e2","to":"e4"}` {
		t.Fatalf("optional fields should be omitted: %s", raw)
	}
	if _, err := Encode(Tick{Code: "AB12"}); err == nil {
		t.Fatalf("tick is server internal")
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("A")
	unlockB := k.Lock("B")
	if k.size() != 2 {
		t.Fatalf("expected 2 entries, got %d", k.size())
	}
	unlockA()
	unlockB()
	if k.size() != 0 {
		t.Fatalf("entries should be dropped, got %d", k.size())
	}
}
