// Package client is the player side of a live game: a self-healing
// websocket connection, the pre-move slot and an HTTP API client.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/room"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/internal/session"
)

// State is the connection state shown to the player.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

const (
	DefaultReconnectDelay = time.Second
	MaxReconnectDelay     = 30 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
)

var errNotConnected = game.Errorf(game.KindConnectionLost, "not connected")

type (
	StateCallback   func(State)
	GameCallback    func(*game.Session)
	ErrorCallback   func(kind game.Kind, message string)
	PreMoveCallback func(mv rules.Move, outcome PreMoveOutcome)
)

type Config struct {
	URL      string
	Code     string
	PlayerID string
	// ReconnectDelay is the wait before the first reconnect attempt. It
	// doubles on each consecutive failure up to MaxDelay.
	ReconnectDelay time.Duration
	MaxDelay       time.Duration
	PingInterval   time.Duration
	DialTimeout    time.Duration
	Clock          clockwork.Clock
	Header         http.Header
}

// Reconnector keeps one connection to a game room alive and re-joins after
// every reconnect.
type Reconnector struct {
	cfg   Config
	clock clockwork.Clock

	mu         sync.Mutex
	conn       *websocket.Conn
	gen        int
	state      State
	everOpened bool
	delay      time.Duration
	timer      clockwork.Timer
	closed     bool
	last       *game.Session

	premove PreMoveSlot
	// beforeHold runs between the turn check and the hold in Move. Tests only.
	beforeHold func()

	cbM      sync.RWMutex
	stateCbs []StateCallback
	gameCbs  []GameCallback
	errCbs   []ErrorCallback
	preCbs   []PreMoveCallback

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewReconnector(cfg Config) *Reconnector {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = MaxReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	cfg.Code = strings.ToUpper(strings.TrimSpace(cfg.Code))
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconnector{
		cfg:        cfg,
		clock:      cfg.Clock,
		state:      StateIdle,
		delay:      cfg.ReconnectDelay,
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

func (r *Reconnector) OnState(cb StateCallback) {
	r.cbM.Lock()
	r.stateCbs = append(r.stateCbs, cb)
	r.cbM.Unlock()
}

func (r *Reconnector) OnGame(cb GameCallback) {
	r.cbM.Lock()
	r.gameCbs = append(r.gameCbs, cb)
	r.cbM.Unlock()
}

// OnError receives error frames. A not_found kind means the room is gone
// and the game view should be left.
func (r *Reconnector) OnError(cb ErrorCallback) {
	r.cbM.Lock()
	r.errCbs = append(r.errCbs, cb)
	r.cbM.Unlock()
}

func (r *Reconnector) OnPreMove(cb PreMoveCallback) {
	r.cbM.Lock()
	r.preCbs = append(r.preCbs, cb)
	r.cbM.Unlock()
}

func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Game returns the latest snapshot received, or nil.
func (r *Reconnector) Game() *game.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last.Clone()
}

// Side is the side this player holds in the latest snapshot.
func (r *Reconnector) Side() (game.Side, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return "", false
	}
	return r.last.SideOf(r.cfg.PlayerID)
}

// Connect makes the first connection attempt. If it fails no retry is
// scheduled and the state becomes failed.
func (r *Reconnector) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("reconnector closed")
	}
	if r.state != StateIdle && r.state != StateFailed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.setState(StateConnecting)
	conn, err := r.dial(ctx)
	if err != nil {
		r.setState(StateFailed)
		return &game.Error{Kind: game.KindConnectionLost, Msg: "connection failed", Err: err}
	}
	r.opened(conn)
	return nil
}

func (r *Reconnector) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, r.cfg.URL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      r.cfg.Header,
	})
	return conn, err
}

// opened installs conn, re-joins the room and starts its loops.
func (r *Reconnector) opened(conn *websocket.Conn) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
		return
	}
	r.gen++
	gen := r.gen
	r.conn = conn
	r.everOpened = true
	r.delay = r.cfg.ReconnectDelay
	r.wg.Add(2)
	r.mu.Unlock()

	r.setState(StateOpen)
	obslog.L().Info("live_client_open", zap.String("code", r.cfg.Code))

	go r.listen(conn, gen)
	go r.pingLoop(conn, gen)

	if err := r.send(r.rootCtx, session.Join{Code: r.cfg.Code, PlayerID: r.cfg.PlayerID}); err != nil {
		obslog.L().Warn("live_client_join_failed", zap.Error(err))
	}
}

type inbound struct {
	Type    string        `json:"type"`
	Game    *game.Session `json:"game"`
	Message string        `json:"message"`
	Code    string        `json:"code"`
}

func (r *Reconnector) listen(conn *websocket.Conn, gen int) {
	defer r.wg.Done()
	for {
		var f inbound
		if err := wsjson.Read(r.rootCtx, conn, &f); err != nil {
			r.dropped(gen, err)
			return
		}
		switch f.Type {
		case room.TypeGameState:
			if f.Game != nil {
				r.handleState(f.Game)
			}
		case room.TypeError:
			r.emitError(game.Kind(f.Code), f.Message)
		}
	}
}

func (r *Reconnector) pingLoop(conn *websocket.Conn, gen int) {
	defer r.wg.Done()
	t := r.clock.NewTicker(r.cfg.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-r.rootCtx.Done():
			return
		case <-t.Chan():
			if !r.current(gen) {
				return
			}
			ctx, cancel := context.WithTimeout(r.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (r *Reconnector) current(gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.gen == gen
}

// dropped reacts to an unexpected close of connection gen.
func (r *Reconnector) dropped(gen int, cause error) {
	r.mu.Lock()
	if r.closed || gen != r.gen {
		r.mu.Unlock()
		return
	}
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "reconnect")
	}
	obslog.L().Warn("live_client_dropped", zap.String("code", r.cfg.Code), zap.Error(cause))
	r.scheduleReconnect()
}

// scheduleReconnect arms a single attempt after the current delay,
// replacing any pending one.
func (r *Reconnector) scheduleReconnect() {
	r.mu.Lock()
	if r.closed || !r.everOpened {
		r.mu.Unlock()
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	delay := r.delay
	r.timer = r.clock.AfterFunc(delay, r.reconnect)
	r.mu.Unlock()
	r.setState(StateReconnecting)
	obslog.L().Info("live_client_reconnect_scheduled", zap.String("code", r.cfg.Code), zap.Duration("delay", delay))
}

func (r *Reconnector) reconnect() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()

	conn, err := r.dial(r.rootCtx)
	if err != nil {
		r.mu.Lock()
		r.delay = nextDelay(r.delay, r.cfg.MaxDelay)
		r.mu.Unlock()
		obslog.L().Debug("live_client_reconnect_failed", zap.Error(err))
		r.scheduleReconnect()
		return
	}
	r.opened(conn)
}

func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}

// Delay is the wait before the next reconnect attempt.
func (r *Reconnector) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}

func (r *Reconnector) handleState(s *game.Session) {
	r.mu.Lock()
	r.last = s
	side, isPlayer := s.SideOf(r.cfg.PlayerID)
	r.mu.Unlock()

	r.cbM.RLock()
	gameCbs := append([]GameCallback(nil), r.gameCbs...)
	r.cbM.RUnlock()
	for _, cb := range gameCbs {
		cb(s.Clone())
	}

	if !isPlayer {
		return
	}
	r.resolvePreMove(s, side)
}

// resolvePreMove settles the held move against s, sending it when due.
func (r *Reconnector) resolvePreMove(s *game.Session, side game.Side) PreMoveOutcome {
	mv, outcome := r.premove.Resolve(s, side)
	switch outcome {
	case PreMoveSubmit:
		if err := r.send(r.rootCtx, session.Move{Code: r.cfg.Code, Move: mv}); err != nil {
			obslog.L().Warn("live_client_premove_send_failed", zap.Error(err))
		}
		r.emitPreMove(mv, outcome)
	case PreMoveDropped:
		r.emitPreMove(mv, outcome)
	}
	return outcome
}

// Move sends mv when it is this player's turn and holds it otherwise.
// It reports whether the move went out, either directly or because the
// turn passed to this player while it was being held.
func (r *Reconnector) Move(ctx context.Context, mv rules.Move) (bool, error) {
	r.mu.Lock()
	s := r.last
	r.mu.Unlock()
	if s == nil {
		return false, game.Errorf(game.KindInvalidState, "no game state yet")
	}
	side, ok := s.SideOf(r.cfg.PlayerID)
	if !ok {
		return false, game.Errorf(game.KindInvalidState, "spectators cannot move")
	}
	if s.Ended() {
		return false, game.Errorf(game.KindInvalidState, "game is over")
	}
	if s.Status == game.StatusPlaying && s.Turn == side {
		if err := r.send(ctx, session.Move{Code: r.cfg.Code, Move: mv}); err != nil {
			return false, err
		}
		return true, nil
	}
	if r.beforeHold != nil {
		r.beforeHold()
	}
	r.premove.Hold(mv)
	r.emitPreMove(mv, PreMoveKept)

	// A state handing over the turn may have landed after the check above
	// and found the slot empty.
	r.mu.Lock()
	latest := r.last
	r.mu.Unlock()
	if latest != s {
		return r.resolvePreMove(latest, side) == PreMoveSubmit, nil
	}
	return false, nil
}

// CancelPreMove clears a held move without sending it.
func (r *Reconnector) CancelPreMove() bool { return r.premove.Cancel() }

func (r *Reconnector) PreMove() (rules.Move, bool) { return r.premove.Held() }

func (r *Reconnector) OfferDraw(ctx context.Context) error {
	return r.send(ctx, session.OfferDraw{Code: r.cfg.Code})
}

func (r *Reconnector) AcceptDraw(ctx context.Context) error {
	return r.send(ctx, session.AcceptDraw{Code: r.cfg.Code})
}

func (r *Reconnector) DeclineDraw(ctx context.Context) error {
	return r.send(ctx, session.DeclineDraw{Code: r.cfg.Code})
}

func (r *Reconnector) Resign(ctx context.Context) error {
	return r.send(ctx, session.Resign{Code: r.cfg.Code})
}

func (r *Reconnector) Abort(ctx context.Context) error {
	return r.send(ctx, session.Abort{Code: r.cfg.Code})
}

func (r *Reconnector) send(ctx context.Context, m session.Message) error {
	raw, err := session.Encode(m)
	if err != nil {
		return err
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, raw); err != nil {
		return &game.Error{Kind: game.KindConnectionLost, Msg: fmt.Sprintf("send %T", m), Err: err}
	}
	return nil
}

// Close stops reconnecting and closes the connection.
func (r *Reconnector) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	r.rootCancel()
	r.setState(StateClosed)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Reconnector) setState(s State) {
	r.mu.Lock()
	if r.state == s || (r.closed && s != StateClosed) {
		r.mu.Unlock()
		return
	}
	r.state = s
	r.mu.Unlock()

	r.cbM.RLock()
	cbs := append([]StateCallback(nil), r.stateCbs...)
	r.cbM.RUnlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (r *Reconnector) emitError(kind game.Kind, msg string) {
	r.cbM.RLock()
	cbs := append([]ErrorCallback(nil), r.errCbs...)
	r.cbM.RUnlock()
	for _, cb := range cbs {
		cb(kind, msg)
	}
}

func (r *Reconnector) emitPreMove(mv rules.Move, o PreMoveOutcome) {
	r.cbM.RLock()
	cbs := append([]PreMoveCallback(nil), r.preCbs...)
	r.cbM.RUnlock()
	for _, cb := range cbs {
		cb(mv, o)
	}
}

func (r *Reconnector) String() string {
	return fmt.Sprintf("reconnector(%s, %s)", r.cfg.Code, r.State())
}
