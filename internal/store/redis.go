package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/obslog"
)

const (
	DefaultTTL    = 24 * time.Hour
	maxTxAttempts = 3
	gameKeyPrefix = "live:game:"
)

// Redis keeps each session as a JSON value and mutates it under WATCH.
type Redis struct {
	ops
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Redis{rdb: rdb, ttl: ttl}
	r.ops = ops{apply: r.mutate}
	return r
}

// OpenRedis connects using a redis:// or rediss:// URL and pings the server.
func OpenRedis(ctx context.Context, rawURL string, ttl time.Duration) (*Redis, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := ParseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb, ttl), nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}

// Create stores s only when its code is free.
func (r *Redis) Create(ctx context.Context, s *game.Session) error {
	if s == nil {
		return game.Errorf(game.KindInvalidState, "nil session")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := r.rdb.SetNX(ctx, gameKey(s.Code), raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrCodeTaken
	}
	return nil
}

func (r *Redis) GetByCode(ctx context.Context, code string) (*game.Session, error) {
	raw, err := r.rdb.Get(ctx, gameKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(raw)
}

func (r *Redis) mutate(ctx context.Context, code string, fn func(*game.Session) error) (*game.Session, error) {
	key := gameKey(code)
	var out *game.Session
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		next, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = cur
		return nil
	}
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		// 다른 인스턴스가 같은 키를 먼저 갱신함: 다시 읽고 재시도
		obslog.L().Warn("live_store_tx_conflict", zap.String("code", code), zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("redis tx for %s: %w", code, redis.TxFailedErr)
}

func decode(raw []byte) (*game.Session, error) {
	var s game.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func gameKey(code string) string { return gameKeyPrefix + strings.TrimSpace(code) }

// ParseRedisURL converts a redis:// or rediss:// URL into client options.
// rediss enables TLS; user, password and db come from the URL.
func ParseRedisURL(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}
