package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/session"
)

const (
	readLimit   = 4 << 10
	pingTimeout = 5 * time.Second
)

// wsConn adapts a websocket to room.Member.
type wsConn struct {
	id   string
	conn *websocket.Conn
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  wsOriginPatterns(s.opts.AllowedOrigins),
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("live_ws_accept_failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(readLimit)

	member := &wsConn{id: uuid.NewString(), conn: conn}
	peer := session.NewPeer(member)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	obslog.L().Debug("live_ws_open", zap.String("member", member.id), zap.String("remote", r.RemoteAddr))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pingLoop(ctx, conn, cancel)
	}()

	status := websocket.StatusNormalClosure
	for {
		typ, raw, err := conn.Read(ctx)
		if err != nil {
			if cs := websocket.CloseStatus(err); cs == -1 && !errors.Is(err, context.Canceled) {
				obslog.L().Debug("live_ws_read_failed", zap.String("member", member.id), zap.Error(err))
				status = websocket.StatusGoingAway
			}
			break
		}
		if typ != websocket.MessageText {
			status = websocket.StatusUnsupportedData
			break
		}
		s.coord.HandleFrame(ctx, peer, raw)
	}

	// A disconnect only drops membership; the game is untouched.
	s.coord.Leave(peer)
	cancel()
	wg.Wait()
	_ = conn.Close(status, "")
	obslog.L().Debug("live_ws_closed", zap.String("member", member.id), zap.String("code", peer.Room()))
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				cancel()
				return
			}
		}
	}
}
