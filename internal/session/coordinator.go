// Package session is the authoritative game coordinator. Every mutation of a
// room runs load, reduce, persist and broadcast as one unit under that
// room's lock.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/msgcat"
	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/room"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/internal/store"
)

const (
	DefaultOpTimeout = 5 * time.Second
	createAttempts   = 5
	archiveTimeout   = 10 * time.Second
)

// Archiver receives every record that reaches ended.
type Archiver interface {
	SaveResult(ctx context.Context, s *game.Session) error
}

type Options struct {
	OpTimeout        time.Duration
	Clock            clockwork.Clock
	Archiver         Archiver
	Catalog          *msgcat.Catalog
	DefaultBaseTime  int
	DefaultIncrement int
	// CodeGen replaces store.NewCode, mainly for collision tests.
	CodeGen func() (string, error)
}

type Coordinator struct {
	store     store.Store
	rules     rules.Engine
	reg       *room.Registry
	disp      *room.Dispatcher
	locks     *keyedMutex
	clock     clockwork.Clock
	opTimeout time.Duration
	archiver  Archiver
	cat       *msgcat.Catalog
	codeGen   func() (string, error)
	baseTime  int
	increment int

	archiveWG sync.WaitGroup
}

func New(st store.Store, eng rules.Engine, reg *room.Registry, opts Options) *Coordinator {
	c := &Coordinator{
		store:     st,
		rules:     eng,
		reg:       reg,
		disp:      room.NewDispatcher(reg),
		locks:     newKeyedMutex(),
		clock:     opts.Clock,
		opTimeout: opts.OpTimeout,
		archiver:  opts.Archiver,
		cat:       opts.Catalog,
		codeGen:   opts.CodeGen,
		baseTime:  opts.DefaultBaseTime,
		increment: opts.DefaultIncrement,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.opTimeout <= 0 {
		c.opTimeout = DefaultOpTimeout
	}
	if c.cat == nil {
		c.cat = msgcat.MustDefault()
	}
	if c.codeGen == nil {
		c.codeGen = store.NewCode
	}
	if c.baseTime <= 0 {
		c.baseTime = game.DefaultBaseTime
	}
	if c.increment < 0 {
		c.increment = game.DefaultIncrement
	}
	return c
}

// Registry exposes the room membership registry.
func (c *Coordinator) Registry() *room.Registry { return c.reg }

// Create allocates a fresh room code and stores a waiting session. Nil
// arguments select the configured defaults.
func (c *Coordinator) Create(ctx context.Context, baseTime, increment *int) (*game.Session, error) {
	bt, inc := c.baseTime, c.increment
	if baseTime != nil {
		if *baseTime <= 0 {
			return nil, game.Errorf(game.KindInvalidState, "baseTime must be positive")
		}
		bt = *baseTime
	}
	if increment != nil {
		if *increment < 0 {
			return nil, game.Errorf(game.KindInvalidState, "increment must not be negative")
		}
		inc = *increment
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	for attempt := 1; attempt <= createAttempts; attempt++ {
		code, err := c.codeGen()
		if err != nil {
			return nil, game.Wrap(err, "generate room code")
		}
		s := game.New(code, c.rules.InitialBoard(), bt, inc, c.clock.Now())
		err = c.store.Create(opCtx, s)
		if errors.Is(err, store.ErrCodeTaken) {
			obslog.L().Debug("live_code_collision", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, c.infra(err, "create game")
		}
		obslog.L().Info("live_create",
			zap.String("code", code),
			zap.Int("base_time", bt),
			zap.Int("increment", inc),
		)
		return s, nil
	}
	return nil, game.Wrap(store.ErrCodeExhausted, "create game")
}

// Get returns the current record.
func (c *Coordinator) Get(ctx context.Context, code string) (*game.Session, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	s, err := c.store.GetByCode(opCtx, normalize(code))
	if err != nil {
		return nil, c.infra(err, "load game")
	}
	return s, nil
}

// Preview reports the role playerID would get on join without claiming it.
func (c *Coordinator) Preview(ctx context.Context, code, playerID string) (*game.Session, game.Role, error) {
	s, err := c.Get(ctx, code)
	if err != nil {
		return nil, "", err
	}
	return s, ResolveRole(s, strings.TrimSpace(playerID)), nil
}

// Resign ends the game for playerID holding role.
func (c *Coordinator) Resign(ctx context.Context, code, playerID string, role game.Role) (*game.Session, error) {
	code = normalize(code)
	s, _, err := c.apply(ctx, code, Actor{PlayerID: strings.TrimSpace(playerID), Role: role}, Resign{Code: code}, nil)
	return s, err
}

// Abort ends a waiting game on behalf of one of its players.
func (c *Coordinator) Abort(ctx context.Context, code, playerID string) (*game.Session, error) {
	code = normalize(code)
	s, _, err := c.apply(ctx, code, Actor{PlayerID: strings.TrimSpace(playerID)}, Abort{Code: code}, nil)
	return s, err
}

// HandleFrame decodes and dispatches one inbound frame from p. Failures are
// reported to p only.
func (c *Coordinator) HandleFrame(ctx context.Context, p *Peer, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		c.reply(ctx, p, p.Room(), err)
		return
	}
	if err := c.Dispatch(ctx, p, msg); err != nil {
		c.reply(ctx, p, msg.RoomCode(), err)
	}
}

// Dispatch runs msg for p. The returned error has not been delivered.
func (c *Coordinator) Dispatch(ctx context.Context, p *Peer, msg Message) error {
	code := msg.RoomCode()
	joined := p.Room()
	switch m := msg.(type) {
	case Join:
		if joined != "" && joined != code {
			return game.Errorf(game.KindInvalidState, "connection already joined %s", joined)
		}
		if joined != "" && p.PlayerID() != m.PlayerID {
			return game.Errorf(game.KindInvalidState, "connection already joined as another player")
		}
		_, _, err := c.apply(ctx, code, Actor{PlayerID: m.PlayerID}, m, func(tr *Transition) {
			p.bind(code, m.PlayerID, tr.Role)
			c.reg.Register(code, p.Member())
		})
		return err
	case Tick:
		return game.Errorf(game.KindInvalidState, "unsupported message")
	}
	if joined == "" || joined != code {
		return game.Errorf(game.KindInvalidState, "join room %s first", code)
	}
	_, _, err := c.apply(ctx, code, p.actor(), msg, nil)
	return err
}

// Leave drops p from its room. Game state is never touched.
func (c *Coordinator) Leave(p *Peer) {
	code := p.Room()
	if code == "" {
		return
	}
	c.reg.Unregister(code, p.Member())
	obslog.L().Debug("live_leave", zap.String("code", code), zap.String("member", p.Member().ID()))
}

// Sweep checks the running clock of every room with live members.
func (c *Coordinator) Sweep(ctx context.Context) int {
	ended := 0
	for _, code := range c.reg.Codes() {
		if ctx.Err() != nil {
			return ended
		}
		_, committed, err := c.apply(ctx, code, Actor{}, Tick{Code: code}, nil)
		if err != nil {
			if !errors.Is(err, game.ErrNotFound) {
				obslog.L().Warn("live_sweep_failed", zap.String("code", code), zap.Error(err))
			}
			continue
		}
		if committed {
			ended++
		}
	}
	return ended
}

// Wait blocks until pending archive writes finish.
func (c *Coordinator) Wait() { c.archiveWG.Wait() }

// apply is the serialized load, reduce, persist, broadcast path. onReduce
// runs under the room lock after a successful commit and before broadcast.
// committed reports whether a store write happened.
func (c *Coordinator) apply(ctx context.Context, code string, actor Actor, msg Message, onReduce func(*Transition)) (*game.Session, bool, error) {
	unlock := c.locks.Lock(code)
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	cur, err := c.store.GetByCode(opCtx, code)
	if err != nil {
		return nil, false, c.infra(err, "load game")
	}
	tr, err := Reduce(cur, actor, msg, c.clock.Now(), c.rules)
	if err != nil {
		if game.KindOf(err) == game.KindInternal {
			obslog.L().Error("live_reduce_failed", zap.String("code", code), zap.Error(err))
		}
		return nil, false, err
	}
	next := tr.Next
	if tr.Commit != nil {
		next, err = tr.Commit(opCtx, c.store)
		if err != nil {
			return nil, false, c.infra(err, "save game")
		}
	}
	if onReduce != nil {
		onReduce(tr)
	}
	if tr.Event != "" {
		c.logEvent(tr, actor, next)
	}
	if tr.Broadcast {
		if _, err := c.disp.Broadcast(context.WithoutCancel(ctx), next); err != nil {
			obslog.L().Error("live_broadcast_failed", zap.String("code", code), zap.Error(err))
		}
	}
	if tr.Commit != nil && next.Ended() {
		c.archive(next)
	}
	return next, tr.Commit != nil, nil
}

func (c *Coordinator) logEvent(tr *Transition, actor Actor, s *game.Session) {
	fields := []zap.Field{
		zap.String("code", s.Code),
		zap.String("status", string(s.Status)),
		zap.String("turn", string(s.Turn)),
		zap.Int("time_a", s.SideATimeRemaining),
		zap.Int("time_b", s.SideBTimeRemaining),
	}
	if actor.PlayerID != "" {
		fields = append(fields, zap.String("player", actor.PlayerID))
	}
	if tr.Role != "" {
		fields = append(fields, zap.String("role", string(tr.Role)))
	}
	if s.EndReason != nil {
		fields = append(fields, zap.String("end_reason", string(*s.EndReason)))
	}
	if s.Winner != nil {
		fields = append(fields, zap.String("winner", string(*s.Winner)))
	}
	obslog.L().Info(tr.Event, fields...)
}

// archive hands a finished record to the archiver off the room lock.
func (c *Coordinator) archive(s *game.Session) {
	if c.archiver == nil {
		return
	}
	snap := s.Clone()
	c.archiveWG.Add(1)
	go func() {
		defer c.archiveWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := c.archiver.SaveResult(ctx, snap); err != nil {
			obslog.L().Error("live_archive_failed", zap.String("code", snap.Code), zap.Error(err))
			return
		}
		obslog.L().Info("live_archived", zap.String("code", snap.Code))
	}()
}

// infra passes domain errors through and classifies the rest as internal.
func (c *Coordinator) infra(err error, op string) error {
	var ge *game.Error
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		obslog.L().Error("live_store_timeout", zap.String("op", op), zap.Duration("timeout", c.opTimeout))
		return game.Wrap(err, op+" timed out")
	}
	obslog.L().Error("live_store_failed", zap.String("op", op), zap.Error(err))
	return game.Wrap(err, op)
}

func (c *Coordinator) reply(ctx context.Context, p *Peer, code string, err error) {
	kind := game.KindOf(err)
	frame, encErr := room.EncodeError(kind, c.cat.ErrorText(code, err))
	if encErr != nil {
		obslog.L().Error("live_error_encode_failed", zap.Error(encErr))
		return
	}
	if sendErr := c.disp.SendTo(ctx, p.Member(), frame); sendErr != nil {
		obslog.L().Warn("live_error_send_failed", zap.String("code", code), zap.Error(sendErr))
		return
	}
	obslog.L().Debug("live_rejected",
		zap.String("code", code),
		zap.String("member", p.Member().ID()),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
}

func normalize(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }
