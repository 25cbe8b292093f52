// Package archive records finished games in Postgres.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-live/internal/game"
)

// Schema creates the archive table when it does not already exist.
const Schema = `CREATE TABLE IF NOT EXISTS live_games (
    code        TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    side_a_id   TEXT,
    side_b_id   TEXT,
    base_time   INTEGER NOT NULL,
    increment   INTEGER NOT NULL,
    winner      TEXT,
    end_reason  TEXT NOT NULL,
    final_fen   TEXT NOT NULL,
    pgn         TEXT NOT NULL,
    ended_at    TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    PRIMARY KEY (code, created_at)
)`

type Repository struct {
	db *sql.DB
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(pingCtx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished session. Codes are recycled, so a row is
// keyed by code and creation time.
func (r *Repository) SaveResult(ctx context.Context, s *game.Session) error {
	if r == nil || r.db == nil || s == nil {
		return nil
	}
	if !s.Ended() || s.EndReason == nil {
		return fmt.Errorf("archive %s: game not ended", s.Code)
	}
	var winner sql.NullString
	if s.Winner != nil {
		winner = sql.NullString{String: string(*s.Winner), Valid: true}
	}
	duration := s.UpdatedAt.Sub(s.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO live_games (
        code, created_at, side_a_id, side_b_id, base_time, increment,
        winner, end_reason, final_fen, pgn, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
      ) ON CONFLICT (code, created_at) DO UPDATE SET
        side_a_id=EXCLUDED.side_a_id,
        side_b_id=EXCLUDED.side_b_id,
        winner=EXCLUDED.winner,
        end_reason=EXCLUDED.end_reason,
        final_fen=EXCLUDED.final_fen,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		s.Code, s.CreatedAt,
		nullable(s.PlayerID(game.SideA)), nullable(s.PlayerID(game.SideB)),
		s.BaseTime, s.Increment,
		winner, string(*s.EndReason), s.BoardState, BuildPGN(s),
		s.UpdatedAt, duration,
	)
	return err
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func resultToken(w *game.Winner) string {
	if w == nil {
		return "*"
	}
	switch *w {
	case game.WinnerA:
		return "1-0"
	case game.WinnerB:
		return "0-1"
	case game.WinnerDraw:
		return "1/2-1/2"
	}
	return "*"
}

func termination(reason *game.EndReason) string {
	if reason == nil {
		return ""
	}
	switch *reason {
	case game.EndTimeout:
		return "time forfeit"
	case game.EndAborted:
		return "abandoned"
	case game.EndRulesTerminal, game.EndRulesDraw:
		return "normal"
	}
	return strings.ReplaceAll(string(*reason), "-", " ")
}

// BuildPGN renders the session as a PGN document. The stored move log is
// already movetext, so only headers and the result token are added.
func BuildPGN(s *game.Session) string {
	if s == nil {
		return ""
	}
	date := s.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := resultToken(s.Winner)

	var b strings.Builder
	b.WriteString("[Event \"Live game\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(s.Code)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", playerTag(s.PlayerID(game.SideA))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", playerTag(s.PlayerID(game.SideB))))
	b.WriteString(fmt.Sprintf("[TimeControl \"%d+%d\"]\n", s.BaseTime, s.Increment))
	if t := termination(s.EndReason); t != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", t))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	if mt := strings.TrimSpace(s.MoveLog); mt != "" {
		b.WriteString(mt)
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func playerTag(id string) string {
	if id == "" {
		return "?"
	}
	return sanitizePGN(id)
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
