package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/park285/cheese-live/internal/client"
	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/msgcat"
	"github.com/park285/cheese-live/internal/rules"
)

func main() {
	baseURL := flag.String("server", getenv("LIVE_SERVER_URL", "http://localhost:5000"), "server base URL")
	code := flag.String("code", "", "game code to join; empty creates a game")
	baseTime := flag.Int("base", 0, "base time in seconds for a new game (0 = server default)")
	increment := flag.Int("inc", -1, "increment in seconds for a new game (-1 = server default)")
	identity := flag.String("identity", client.DefaultIdentityPath(), "player token file")
	flag.Parse()

	cat := msgcat.MustDefault()
	playerID, err := client.LoadIdentity(*identity)
	if err != nil {
		log.Fatalf("identity error: %v", err)
	}

	api := client.NewAPIClient(*baseURL, client.WithTimeout(8*time.Second))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := api.Health(ctx); err != nil {
		log.Fatalf("server unreachable: %v", err)
	}

	gameCode := strings.ToUpper(strings.TrimSpace(*code))
	if gameCode == "" {
		var bt, inc *int
		if *baseTime > 0 {
			bt = baseTime
		}
		if *increment >= 0 {
			inc = increment
		}
		g, err := api.Create(ctx, bt, inc)
		if err != nil {
			log.Fatalf("create error: %v", err)
		}
		gameCode = g.Code
	}
	joined, err := api.Join(ctx, gameCode, playerID)
	if err != nil {
		log.Fatalf("join error: %v", err)
	}

	wsURL, err := api.WebSocketURL()
	if err != nil {
		log.Fatalf("ws url error: %v", err)
	}
	r := client.NewReconnector(client.Config{URL: wsURL, Code: gameCode, PlayerID: playerID})
	r.OnState(func(s client.State) {
		switch s {
		case client.StateConnecting:
			say(cat, "client.connecting", map[string]any{"Code": gameCode})
		case client.StateOpen:
			say(cat, "client.open", map[string]any{"Code": gameCode, "Role": joined.Role})
		case client.StateReconnecting:
			say(cat, "client.reconnecting", map[string]any{"Delay": r.Delay()})
		case client.StateFailed:
			say(cat, "client.failed", nil)
		case client.StateClosed:
			say(cat, "client.closed", nil)
		}
	})
	r.OnGame(func(s *game.Session) { printGame(cat, s) })
	r.OnError(func(kind game.Kind, msg string) {
		fmt.Println(msg)
		if kind == game.KindNotFound {
			stop()
		}
	})
	r.OnPreMove(func(mv rules.Move, o client.PreMoveOutcome) {
		switch o {
		case client.PreMoveKept:
			say(cat, "client.premove_held", map[string]any{"Move": moveText(mv)})
		case client.PreMoveDropped:
			say(cat, "client.premove_dropped", map[string]any{"Move": moveText(mv)})
		}
	})

	if err := r.Connect(ctx); err != nil {
		log.Fatalf("connect error: %v", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = r.Close(cctx)
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := handleLine(ctx, cat, r, line); err != nil {
				fmt.Println(cat.ErrorText(gameCode, err))
			}
		}
	}
}

// handleLine runs one stdin command: a move like e2e4 or e7e8q, or one of
// cancel, draw, accept, decline, resign, abort.
func handleLine(ctx context.Context, cat *msgcat.Catalog, r *client.Reconnector, line string) error {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
		return nil
	case "cancel":
		if r.CancelPreMove() {
			say(cat, "client.premove_cancelled", nil)
		}
		return nil
	case "draw":
		return r.OfferDraw(ctx)
	case "accept":
		return r.AcceptDraw(ctx)
	case "decline":
		return r.DeclineDraw(ctx)
	case "resign":
		return r.Resign(ctx)
	case "abort":
		return r.Abort(ctx)
	}
	mv, err := parseMove(cmd)
	if err != nil {
		return err
	}
	_, err = r.Move(ctx, mv)
	return err
}

func parseMove(s string) (rules.Move, error) {
	if len(s) != 4 && len(s) != 5 {
		return rules.Move{}, game.Errorf(game.KindInvalidMove, "expected a move like e2e4, got %q", s)
	}
	mv := rules.Move{From: s[0:2], To: s[2:4]}
	if len(s) == 5 {
		mv.Promotion = s[4:]
	}
	return mv, nil
}

func moveText(mv rules.Move) string { return mv.From + mv.To + mv.Promotion }

func printGame(cat *msgcat.Catalog, s *game.Session) {
	switch s.Status {
	case game.StatusWaiting:
		say(cat, "game.waiting", map[string]any{"Code": s.Code})
	case game.StatusPlaying:
		say(cat, "game.turn", map[string]any{
			"Side":  s.Turn,
			"TimeA": s.SideATimeRemaining,
			"TimeB": s.SideBTimeRemaining,
		})
	case game.StatusEnded:
		result, reason := "none", ""
		if s.Winner != nil {
			result = string(*s.Winner)
		}
		if s.EndReason != nil {
			reason = string(*s.EndReason)
		}
		say(cat, "game.ended", map[string]any{"Result": result, "Reason": reason})
	}
}

func say(cat *msgcat.Catalog, key string, data map[string]any) {
	fmt.Println(cat.Text(key, data))
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
