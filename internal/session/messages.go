package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/rules"
)

// Inbound message types.
const (
	TypeJoin        = "join"
	TypeMove        = "move"
	TypeOfferDraw   = "offer_draw"
	TypeAcceptDraw  = "accept_draw"
	TypeDeclineDraw = "decline_draw"
	TypeResign      = "resign"
	TypeAbort       = "abort"
)

// Message is the closed set of inputs the reducer understands.
type Message interface {
	RoomCode() string
	message()
}

type Join struct {
	Code     string
	PlayerID string
}

type Move struct {
	Code string
	rules.Move
}

// OfferDraw may name the offering side; an empty Player means the sender's side.
type OfferDraw struct {
	Code   string
	Player string
}

type AcceptDraw struct{ Code string }

type DeclineDraw struct{ Code string }

type Resign struct{ Code string }

type Abort struct{ Code string }

// Tick asks the reducer to check the running clock. It is generated by the
// sweeper and never decoded from the wire.
type Tick struct{ Code string }

func (m Join) RoomCode() string        { return m.Code }
func (m Move) RoomCode() string        { return m.Code }
func (m OfferDraw) RoomCode() string   { return m.Code }
func (m AcceptDraw) RoomCode() string  { return m.Code }
func (m DeclineDraw) RoomCode() string { return m.Code }
func (m Resign) RoomCode() string      { return m.Code }
func (m Abort) RoomCode() string       { return m.Code }
func (m Tick) RoomCode() string        { return m.Code }

func (Join) message()        {}
func (Move) message()        {}
func (OfferDraw) message()   {}
func (AcceptDraw) message()  {}
func (DeclineDraw) message() {}
func (Resign) message()      {}
func (Abort) message()       {}
func (Tick) message()        {}

// envelope is the flat wire shape of every client message.
type envelope struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	PlayerID  string `json:"playerId,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Player    string `json:"player,omitempty"`
}

// Decode parses one client frame. Codes are normalised to upper case.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, game.Errorf(game.KindInvalidState, "malformed message")
	}
	code := strings.ToUpper(strings.TrimSpace(env.Code))
	if code == "" {
		return nil, game.Errorf(game.KindInvalidState, "missing room code")
	}
	switch strings.TrimSpace(env.Type) {
	case TypeJoin:
		id := strings.TrimSpace(env.PlayerID)
		if id == "" {
			return nil, game.Errorf(game.KindInvalidState, "missing player id")
		}
		return Join{Code: code, PlayerID: id}, nil
	case TypeMove:
		return Move{Code: code, Move: rules.Move{From: env.From, To: env.To, Promotion: env.Promotion}}, nil
	case TypeOfferDraw:
		return OfferDraw{Code: code, Player: strings.TrimSpace(env.Player)}, nil
	case TypeAcceptDraw:
		return AcceptDraw{Code: code}, nil
	case TypeDeclineDraw:
		return DeclineDraw{Code: code}, nil
	case TypeResign:
		return Resign{Code: code}, nil
	case TypeAbort:
		return Abort{Code: code}, nil
	}
	return nil, game.Errorf(game.KindInvalidState, "unknown message type %q", env.Type)
}

// Encode is the inverse of Decode for client use.
func Encode(m Message) ([]byte, error) {
	var env envelope
	switch v := m.(type) {
	case Join:
		env = envelope{Type: TypeJoin, Code: v.Code, PlayerID: v.PlayerID}
	case Move:
		env = envelope{Type: TypeMove, Code: v.Code, From: v.From, To: v.To, Promotion: v.Promotion}
	case OfferDraw:
		env = envelope{Type: TypeOfferDraw, Code: v.Code, Player: v.Player}
	case AcceptDraw:
		env = envelope{Type: TypeAcceptDraw, Code: v.Code}
	case DeclineDraw:
		env = envelope{Type: TypeDeclineDraw, Code: v.Code}
	case Resign:
		env = envelope{Type: TypeResign, Code: v.Code}
	case Abort:
		env = envelope{Type: TypeAbort, Code: v.Code}
	default:
		return nil, fmt.Errorf("message %T is not sent by clients", m)
	}
	return json.Marshal(env)
}
