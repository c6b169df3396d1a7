package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PGSource reads the puzzles table (themes text[] with a GIN index, moves text[]).
type PGSource struct {
	db *sql.DB
}

func OpenPG(databaseURL string) (*PGSource, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PGSource{db: db}, nil
}

func (s *PGSource) DB() *sql.DB { return s.db }

func (s *PGSource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const puzzleColumns = `puzzle_id, fen, moves, rating, rating_deviation, popularity, nr_plays, themes, url, opening_family, opening_variation`

// where renders the predicate shared by Count and At.
func where(q Query) (string, []any) {
	var conds []string
	var args []any
	if q.ID != "" {
		args = append(args, q.ID)
		conds = append(conds, fmt.Sprintf("puzzle_id = $%d", len(args)))
	}
	if q.HasRange {
		args = append(args, q.Min, q.Max)
		conds = append(conds, fmt.Sprintf("rating BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}
	if q.Theme != "" {
		args = append(args, pq.Array([]string{q.Theme}))
		conds = append(conds, fmt.Sprintf("themes @> $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PGSource) Count(ctx context.Context, q Query) (int, error) {
	w, args := where(q)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM puzzles`+w, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PGSource) At(ctx context.Context, q Query, offset int) (*Puzzle, error) {
	w, args := where(q)
	args = append(args, offset)
	stmt := fmt.Sprintf(`SELECT %s FROM puzzles%s ORDER BY puzzle_id LIMIT 1 OFFSET $%d`, puzzleColumns, w, len(args))
	return scanPuzzle(s.db.QueryRowContext(ctx, stmt, args...))
}

func (s *PGSource) Get(ctx context.Context, id string) (*Puzzle, error) {
	return scanPuzzle(s.db.QueryRowContext(ctx, `SELECT `+puzzleColumns+` FROM puzzles WHERE puzzle_id = $1`, strings.TrimSpace(id)))
}

func scanPuzzle(row *sql.Row) (*Puzzle, error) {
	var p Puzzle
	var url, family, variation sql.NullString
	err := row.Scan(&p.ID, &p.FEN, pq.Array(&p.Moves), &p.Rating, &p.RatingDeviation, &p.Popularity, &p.Plays,
		pq.Array(&p.Themes), &url, &family, &variation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.URL, p.OpeningFamily, p.OpeningVariation = url.String, family.String, variation.String
	return &p, nil
}
