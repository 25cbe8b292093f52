package store

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/cheese-live/internal/game"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	ops
	mu    sync.RWMutex
	games map[string]*game.Session
}

func NewMemory() *Memory {
	m := &Memory{games: make(map[string]*game.Session)}
	m.ops = ops{apply: m.mutate}
	return m
}

func (m *Memory) Create(_ context.Context, s *game.Session) error {
	if s == nil {
		return game.Errorf(game.KindInvalidState, "nil session")
	}
	code := strings.TrimSpace(s.Code)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[code]; exists {
		return ErrCodeTaken
	}
	m.games[code] = s.Clone()
	return nil
}

func (m *Memory) GetByCode(_ context.Context, code string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.games[strings.TrimSpace(code)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) mutate(ctx context.Context, code string, fn func(*game.Session) error) (*game.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.games[code]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.games[code] = next
	return next.Clone(), nil
}
