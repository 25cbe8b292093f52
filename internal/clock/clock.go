// Package clock turns wall-clock deltas into time budget deductions.
// Budgets are whole seconds; elapsed time is floored to the second.
package clock

import (
	"time"

	"github.com/park285/cheese-live/internal/game"
)

// Reading is the result of charging elapsed time against one side.
type Reading struct {
	Elapsed   int
	Remaining int
	Flagged   bool
}

// Elapsed returns max(0, now-since) in whole seconds.
func Elapsed(since, now time.Time) int {
	d := now.Sub(since)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// Deduct charges the time since lastMove against remaining, clamped at zero.
func Deduct(lastMove, now time.Time, remaining int) Reading {
	elapsed := Elapsed(lastMove, now)
	left := remaining - elapsed
	if left < 0 {
		left = 0
	}
	return Reading{Elapsed: elapsed, Remaining: left, Flagged: left == 0}
}

// Credit adds the increment after an accepted move.
func Credit(remaining, increment int) int {
	if increment < 0 {
		increment = 0
	}
	return remaining + increment
}

// Project reads the live budget of the side to move without touching s.
// ok is false when the game clock is not running.
func Project(s *game.Session, now time.Time) (side game.Side, r Reading, ok bool) {
	if s == nil || s.Status != game.StatusPlaying || s.LastMoveTimestamp == nil {
		return "", Reading{}, false
	}
	side = s.Turn
	return side, Deduct(*s.LastMoveTimestamp, now, s.TimeRemaining(side)), true
}
