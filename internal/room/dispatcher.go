package room

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/obslog"
)

// Frame types sent from server to client.
const (
	TypeGameState = "game_state"
	TypeError     = "error"
)

// StateFrame carries the full session snapshot.
type StateFrame struct {
	Type string        `json:"type"`
	Game *game.Session `json:"game"`
}

// ErrorFrame is delivered to a single connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

const defaultSendTimeout = 2 * time.Second

// Dispatcher delivers state frames to every member of a room.
type Dispatcher struct {
	reg         *Registry
	sendTimeout time.Duration
}

func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg, sendTimeout: defaultSendTimeout}
}

// EncodeState marshals the snapshot frame for s.
func EncodeState(s *game.Session) ([]byte, error) {
	return json.Marshal(StateFrame{Type: TypeGameState, Game: s})
}

// EncodeError marshals an error frame.
func EncodeError(kind game.Kind, message string) ([]byte, error) {
	return json.Marshal(ErrorFrame{Type: TypeError, Message: message, Code: string(kind)})
}

// Broadcast encodes s once and sends it to a snapshot of the room, returning
// the number of members reached. Failed sends are logged and skipped.
func (d *Dispatcher) Broadcast(ctx context.Context, s *game.Session) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("broadcast: nil session")
	}
	frame, err := EncodeState(s)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}
	members := d.reg.Members(s.Code)
	sent := 0
	for _, m := range members {
		sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := m.Send(sctx, frame)
		cancel()
		if err != nil {
			obslog.L().Warn("live_broadcast_send_failed",
				zap.String("code", s.Code),
				zap.String("member", m.ID()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	obslog.L().Debug("live_broadcast",
		zap.String("code", s.Code),
		zap.String("status", string(s.Status)),
		zap.Int("members", len(members)),
		zap.Int("sent", sent),
	)
	return sent, nil
}

// SendTo delivers a frame to one member.
func (d *Dispatcher) SendTo(ctx context.Context, m Member, frame []byte) error {
	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return m.Send(sctx, frame)
}
