package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string
	GameTTL     time.Duration

	DefaultBaseTime  int
	DefaultIncrement int

	OpTimeout     time.Duration
	SweepInterval time.Duration

	AllowedOrigins   []string
	CreatesPerMinute int

	MessageOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":5000",
		GameTTL:          24 * time.Hour,
		DefaultBaseTime:  600,
		DefaultIncrement: 0,
		OpTimeout:        5 * time.Second,
		SweepInterval:    time.Second,
		AllowedOrigins:   []string{"*"},
		CreatesPerMinute: 30,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessageOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	var errs []error
	intVar := func(key string, dst *int, min int) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < min {
			errs = append(errs, fmt.Errorf("%s must be an integer >= %d, got %q", key, min, v))
			return
		}
		*dst = n
	}

	intVar("DEFAULT_BASE_TIME", &cfg.DefaultBaseTime, 1)
	intVar("DEFAULT_INCREMENT", &cfg.DefaultIncrement, 0)
	intVar("CREATE_RATE_PER_MIN", &cfg.CreatesPerMinute, 1)

	opMS := int(cfg.OpTimeout / time.Millisecond)
	intVar("OP_TIMEOUT_MS", &opMS, 1)
	cfg.OpTimeout = time.Duration(opMS) * time.Millisecond

	// 0 이하면 스위퍼 비활성화 (지연 판정만 사용)
	sweepMS := int(cfg.SweepInterval / time.Millisecond)
	intVar("SWEEP_INTERVAL_MS", &sweepMS, math.MinInt)
	cfg.SweepInterval = time.Duration(sweepMS) * time.Millisecond

	ttlHours := int(cfg.GameTTL / time.Hour)
	intVar("GAME_TTL_HOURS", &ttlHours, 1)
	cfg.GameTTL = time.Duration(ttlHours) * time.Hour

	if len(cfg.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS must name at least one origin"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SweeperEnabled reports whether the background clock sweep should run.
func (c *AppConfig) SweeperEnabled() bool { return c.SweepInterval > 0 }
