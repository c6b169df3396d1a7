package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Repository stores finished games in the game_results table.
type Repository struct {
	db *sql.DB
}

// NewRepository writes through db, which the caller owns and closes.
func NewRepository(db *sql.DB) *Repository { return &Repository{db: db} }

// SaveResult upserts a finished game keyed by game ID.
func (r *Repository) SaveResult(ctx context.Context, rec *Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	g := rec.Game
	movesUCIRaw, _ := json.Marshal(g.MovesUCI)
	movesSANRaw, _ := json.Marshal(g.MovesSAN)
	duration := rec.EndedAt.Sub(g.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO game_results (
        game_id, channel_id, white_id, white_name, black_id, black_name,
        result, result_method, winner_id, moves_uci, moves_san, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (game_id) DO UPDATE SET
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        winner_id=EXCLUDED.winner_id,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.ID, rec.ChannelID,
		g.WhiteID, g.WhiteName,
		g.BlackID, g.BlackName,
		string(rec.Outcome.Result), string(rec.Outcome.Method), rec.Outcome.WinnerID,
		string(movesUCIRaw), string(movesSANRaw), BuildPGN(rec),
		g.StartedAt, rec.EndedAt, duration,
	)
	return err
}

// BuildPGN renders the record as PGN with numbered SAN moves.
func BuildPGN(rec *Record) string {
	if rec == nil {
		return ""
	}
	g := rec.Game
	result := rec.Outcome.Result.PGN()
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	var b strings.Builder
	b.WriteString("[Event \"Chat game\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(rec.ChannelID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackName)))
	if rec.Outcome.Method != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(rec.Outcome.Method))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

	for i := 0; i < len(g.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(g.MovesSAN[i])))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

// MemoryRepository keeps records in memory.
type MemoryRepository struct {
	mu      sync.Mutex
	Records []*Record
}

func (r *MemoryRepository) SaveResult(_ context.Context, rec *Record) error {
	cp := *rec
	r.mu.Lock()
	r.Records = append(r.Records, &cp)
	r.mu.Unlock()
	return nil
}
