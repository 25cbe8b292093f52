package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-live/internal/game"
)

type fakeMember struct {
	id   string
	fail bool
	mu   sync.Mutex
	got  [][]byte
}

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) Send(_ context.Context, frame []byte) error {
	if f.fail {
		return errors.New("closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, frame)
	return nil
}

func (f *fakeMember) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.got...)
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r.Register("AAAA", a)
	r.Register("AAAA", a)
	r.Register("AAAA", b)
	if n := r.Count("AAAA"); n != 2 {
		t.Fatalf("expected 2 members, got %d", n)
	}
	snap := r.Members("AAAA")
	r.Unregister("AAAA", a)
	if len(snap) != 2 {
		t.Fatalf("snapshot changed after unregister: %d", len(snap))
	}
	r.Register("BBBB", a)
	if codes := r.Codes(); len(codes) != 2 || codes[0] != "AAAA" || codes[1] != "BBBB" {
		t.Fatalf("unexpected codes %v", codes)
	}
	r.Unregister("AAAA", b)
	r.Unregister("AAAA", b)
	if codes := r.Codes(); len(codes) != 1 || codes[0] != "BBBB" {
		t.Fatalf("empty room must be dropped, got %v", codes)
	}
	if m := r.Members("NONE"); len(m) != 0 {
		t.Fatalf("unknown room should be empty")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &fakeMember{id: fmt.Sprintf("m%d", i)}
			r.Register("ROOM", m)
			_ = r.Members("ROOM")
			if i%2 == 0 {
				r.Unregister("ROOM", m)
			}
		}(i)
	}
	wg.Wait()
	if n := r.Count("ROOM"); n != 16 {
		t.Fatalf("expected 16 members, got %d", n)
	}
}

func TestBroadcastSkipsFailedMembers(t *testing.T) {
	r := NewRegistry()
	ok1, ok2, bad := &fakeMember{id: "1"}, &fakeMember{id: "2"}, &fakeMember{id: "3", fail: true}
	for _, m := range []*fakeMember{ok1, ok2, bad} {
		r.Register("CODE", m)
	}
	r.Register("ELSE", &fakeMember{id: "x"})
	d := NewDispatcher(r)
	s := game.New("CODE", "fen", 60, 0, time.Now())
	sent, err := d.Broadcast(context.Background(), s)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sent)
	}
	frames := ok1.frames()
	if len(frames) != 1 || string(frames[0]) != string(ok2.frames()[0]) {
		t.Fatalf("members should receive the same frame")
	}
	var decoded struct {
		Type string        `json:"type"`
		Game *game.Session `json:"game"`
	}
	if err := json.Unmarshal(frames[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != TypeGameState || decoded.Game == nil || decoded.Game.Code != "CODE" {
		t.Fatalf("unexpected frame %s", frames[0])
	}
}

func TestEncodeError(t *testing.T) {
	b, err := EncodeError(game.KindInvalidMove, "Illegal move.")
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	if string(b) != `{"type":"error","message":"Illegal move.","code":"invalid_move"}` {
		t.Fatalf("unexpected frame %s", b)
	}
}
