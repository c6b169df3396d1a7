package catalog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
)

var ErrNotFound = errors.New("no puzzle matches the filter")

// Puzzle is one catalog entry. Moves[0] is the opponent's setup move.
type Puzzle struct {
	ID               string   `json:"id"`
	FEN              string   `json:"fen"`
	Moves            []string `json:"moves"`
	Rating           int      `json:"rating"`
	RatingDeviation  int      `json:"rating_deviation"`
	Popularity       int      `json:"popularity"`
	Plays            int      `json:"plays"`
	Themes           []string `json:"themes"`
	URL              string   `json:"url"`
	OpeningFamily    string   `json:"opening_family,omitempty"`
	OpeningVariation string   `json:"opening_variation,omitempty"`
}

// TrainingURL is the public page of the puzzle.
func (p *Puzzle) TrainingURL() string { return "https://lichess.org/training/" + p.ID }

// Filter is what a caller asks for. At most one of ID, range, theme applies,
// in that order; a bare caller rating selects its default window.
type Filter struct {
	ID           string
	HasRange     bool
	Min, Max     int
	Theme        string
	Rating       int
	IgnoreRating bool
}

// Query is the predicate handed to a Source.
type Query struct {
	ID       string
	Theme    string
	HasRange bool
	Min, Max int
}

func (q Query) key() string {
	return fmt.Sprintf("id=%s|theme=%s|range=%t:%d-%d", q.ID, q.Theme, q.HasRange, q.Min, q.Max)
}

// Source counts and addresses puzzles matching a Query in a stable order.
type Source interface {
	Count(ctx context.Context, q Query) (int, error)
	At(ctx context.Context, q Query, offset int) (*Puzzle, error)
	Get(ctx context.Context, id string) (*Puzzle, error)
}

// Window is a rating window around a caller rating.
type Window struct{ Below, Above int }

var (
	DefaultWindow = Window{Below: 100, Above: 200}
	ThemeWindow   = Window{Below: 150, Above: 300}
)

type Selector struct {
	src    Source
	window Window
	intn   func(n int) int
}

func NewSelector(src Source, window Window) *Selector {
	if window.Below == 0 && window.Above == 0 {
		window = DefaultWindow
	}
	return &Selector{src: src, window: window, intn: rand.IntN}
}

// Query resolves a Filter into the predicate used for both count and read.
func (s *Selector) Query(f Filter) Query {
	switch {
	case strings.TrimSpace(f.ID) != "":
		return Query{ID: strings.TrimSpace(f.ID)}
	case f.HasRange:
		lo, hi := f.Min, f.Max
		if lo > hi {
			lo, hi = hi, lo
		}
		return Query{HasRange: true, Min: lo, Max: hi}
	case strings.TrimSpace(f.Theme) != "":
		q := Query{Theme: strings.TrimSpace(f.Theme)}
		if f.Rating > 0 && !f.IgnoreRating {
			q.HasRange, q.Min, q.Max = true, f.Rating-ThemeWindow.Below, f.Rating+ThemeWindow.Above
		}
		return q
	case f.Rating > 0:
		return Query{HasRange: true, Min: f.Rating - s.window.Below, Max: f.Rating + s.window.Above}
	}
	return Query{}
}

// Pick draws one puzzle uniformly from those matching f. Only the count and a
// single row are read; an empty match is ErrNotFound.
func (s *Selector) Pick(ctx context.Context, f Filter) (*Puzzle, error) {
	q := s.Query(f)
	if q.ID != "" {
		p, err := s.src.Get(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	n, err := s.src.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count puzzles: %w", err)
	}
	if n <= 0 {
		obslog.L().Info("catalog_empty", zap.String("query", q.key()))
		return nil, ErrNotFound
	}
	offset := s.intn(n)
	p, err := s.src.At(ctx, q, offset)
	if err != nil {
		return nil, err
	}
	obslog.L().Debug("catalog_pick", zap.String("puzzle_id", p.ID), zap.Int("count", n), zap.Int("offset", offset))
	return p, nil
}

// Themes maps display names to catalog theme tags.
var Themes = []struct{ Name, Tag string }{
	{"Middlegame", "middlegame"}, {"Endgame", "endgame"}, {"Short", "short"},
	{"One move", "oneMove"}, {"Long", "long"}, {"Very long", "veryLong"},
	{"Mate", "mate"}, {"Mate in one", "mateIn1"}, {"Mate in two", "mateIn2"},
	{"Crushing", "crushing"}, {"Advantage", "advantage"}, {"Fork", "fork"},
	{"Pin", "pin"}, {"Hanging piece", "hangingPiece"}, {"Master game", "master"},
	{"Deflection", "deflection"}, {"Quiet move", "quietMove"}, {"Kingside attack", "kingsideAttack"},
	{"Sacrifice", "sacrifice"}, {"Discovered attack", "discoveredAttack"},
	{"Defensive move", "defensiveMove"}, {"Advanced pawn", "advancedPawn"}, {"Rook endgame", "rookEndgame"},
}

// ThemeTag resolves user input against display names and tags, case-insensitively.
func ThemeTag(input string) (string, bool) {
	in := strings.ToLower(strings.Join(strings.Fields(input), ""))
	for _, t := range Themes {
		if in == strings.ToLower(strings.ReplaceAll(t.Name, " ", "")) || in == strings.ToLower(t.Tag) {
			return t.Tag, true
		}
	}
	return "", false
}

var camelParts = regexp.MustCompile(`[a-z]+|[A-Z0-9][a-z]*`)

// Humanize turns a tag like mateIn2 into "Mate in 2".
func Humanize(tag string) string {
	parts := camelParts.FindAllString(tag, -1)
	if len(parts) == 0 {
		return tag
	}
	s := strings.ToLower(strings.Join(parts, " "))
	return strings.ToUpper(s[:1]) + s[1:]
}
