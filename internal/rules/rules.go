// Package rules adapts the chess rules library to the session coordinator.
// Board state is FEN, the move log is PGN movetext.
package rules

import (
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-live/internal/game"
)

// Move is a proposed move in square coordinates.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// Result describes an accepted move.
type Result struct {
	BoardState   string
	MoveLog      string
	SAN          string
	TerminalWin  bool
	TerminalDraw bool
	// Winner is set when TerminalWin is true.
	Winner game.Side
	Method string
}

// Engine validates moves and reports terminal positions.
type Engine interface {
	InitialBoard() string
	ApplyMove(board, moveLog string, mv Move) (*Result, error)
}

// Chess is the Engine backed by corentings/chess.
type Chess struct{}

func NewChess() *Chess { return &Chess{} }

var startFEN = nchess.NewGame().FEN()

// InitialBoard returns the standard starting position.
func InitialBoard() string { return startFEN }

func (c *Chess) InitialBoard() string { return startFEN }

// ApplyMove returns a *game.Error of KindInvalidMove for illegal or malformed
// moves; any other error means the stored board could not be loaded.
func (c *Chess) ApplyMove(board, moveLog string, mv Move) (*Result, error) {
	g, err := load(board)
	if err != nil {
		return nil, err
	}
	pos := g.Position()
	last, err := push(g, mv)
	if err != nil {
		return nil, err
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, last)
	res := &Result{
		BoardState: g.FEN(),
		MoveLog:    appendMovetext(moveLog, board, san),
		SAN:        san,
		Method:     strings.ToLower(g.Method().String()),
	}
	switch g.Outcome() {
	case nchess.WhiteWon:
		res.TerminalWin, res.Winner = true, game.SideA
	case nchess.BlackWon:
		res.TerminalWin, res.Winner = true, game.SideB
	case nchess.Draw:
		res.TerminalDraw = true
	}
	return res, nil
}

// IsLegal reports whether mv can be played on board. Used for client-side
// pre-move checks; the server decides.
func IsLegal(board string, mv Move) bool {
	g, err := load(board)
	if err != nil {
		return false
	}
	_, err = push(g, mv)
	return err == nil
}

// TurnOf returns the side to move in a FEN.
func TurnOf(board string) game.Side {
	fields := strings.Fields(board)
	if len(fields) > 1 && fields[1] == "b" {
		return game.SideB
	}
	return game.SideA
}

func load(board string) (*nchess.Game, error) {
	opt, err := nchess.FEN(strings.TrimSpace(board))
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	return nchess.NewGame(opt), nil
}

// push plays mv. A missing promotion piece on a promoting move defaults to queen.
func push(g *nchess.Game, mv Move) (*nchess.Move, error) {
	uci, err := toUCI(mv)
	if err != nil {
		return nil, err
	}
	if perr := g.PushNotationMove(uci, nchess.UCINotation{}, nil); perr != nil {
		if mv.Promotion != "" {
			return nil, game.Errorf(game.KindInvalidMove, "illegal move %s", uci)
		}
		if perr2 := g.PushNotationMove(uci+"q", nchess.UCINotation{}, nil); perr2 != nil {
			return nil, game.Errorf(game.KindInvalidMove, "illegal move %s", uci)
		}
	}
	moves := g.Moves()
	if len(moves) == 0 {
		return nil, game.Errorf(game.KindInvalidMove, "illegal move %s", uci)
	}
	return moves[len(moves)-1], nil
}

func toUCI(mv Move) (string, error) {
	from := strings.ToLower(strings.TrimSpace(mv.From))
	to := strings.ToLower(strings.TrimSpace(mv.To))
	promo := strings.ToLower(strings.TrimSpace(mv.Promotion))
	if !isSquare(from) || !isSquare(to) {
		return "", game.Errorf(game.KindInvalidMove, "invalid squares %q-%q", mv.From, mv.To)
	}
	switch promo {
	case "", "q", "r", "b", "n":
	default:
		return "", game.Errorf(game.KindInvalidMove, "invalid promotion %q", mv.Promotion)
	}
	return from + to + promo, nil
}

func isSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// appendMovetext adds san to a PGN movetext, numbering from the FEN the move
// was played on.
func appendMovetext(moveLog, board, san string) string {
	fields := strings.Fields(board)
	number := 1
	if len(fields) >= 6 {
		if n, err := strconv.Atoi(fields[5]); err == nil && n > 0 {
			number = n
		}
	}
	log := strings.TrimSpace(moveLog)
	var token string
	switch {
	case TurnOf(board) == game.SideA:
		token = fmt.Sprintf("%d. %s", number, san)
	case log == "":
		token = fmt.Sprintf("%d... %s", number, san)
	default:
		token = san
	}
	if log == "" {
		return token
	}
	return log + " " + token
}
