package puzzle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/Cheese-Puzzle-bot/internal/catalog"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func newTestManager(t *testing.T) (*Manager, *session.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	store, err := session.Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), time.Hour)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store, nil), store, mr
}

func foolsMate() *catalog.Puzzle {
	return &catalog.Puzzle{ID: "fool1", FEN: startFEN, Moves: []string{"f2f3", "e7e5", "g2g4", "d8h4"}, Rating: 600, Themes: []string{"mateIn2", "opening"}}
}

func backRank() *catalog.Puzzle {
	return &catalog.Puzzle{ID: "rank1", FEN: "7k/5ppp/8/8/8/8/8/R3R1K1 b - - 0 1", Moves: []string{"h8g8", "e1e8"}, Rating: 900, Themes: []string{"mateIn1", "backRankMate"}}
}

func TestShowAnswerSolve(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	v, err := m.Show(ctx, "room1", "u1", foolsMate())
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if v.Remaining != 3 || v.SideToMove != "black" || v.Orientation != "black" || v.LastMove != "f2f3" {
		t.Fatalf("unexpected view %+v", v)
	}

	res, err := m.Answer(ctx, "room1", "u1", "||e5||")
	if err != nil {
		t.Fatalf("Answer e5: %v", err)
	}
	if res.Outcome != Correct || res.MoveSAN != "e5" || !res.Wrapped || res.ReplySAN != "g4" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.View.Remaining != 1 || res.View.LastMove != "g2g4" || res.View.Orientation != "black" {
		t.Fatalf("unexpected view %+v", res.View)
	}

	res, err = m.Answer(ctx, "room1", "u1", "Qh4#")
	if err != nil {
		t.Fatalf("Answer Qh4#: %v", err)
	}
	if res.Outcome != Solved || !res.Mate {
		t.Fatalf("expected solved by mate, got %+v", res)
	}
	if _, err := store.Channel(ctx, "room1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("solved puzzle row should be deleted, got %v", err)
	}

	if _, err := m.Answer(ctx, "room1", "u1", "e4"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("want ErrNotFound after solve, got %v", err)
	}
}

func TestAnyMateSolves(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	for _, answer := range []string{"Ra8#", "a1a8", "ra8", "Re8"} {
		if _, err := m.Show(ctx, "room1", "u1", backRank()); err != nil {
			t.Fatalf("Show: %v", err)
		}
		res, err := m.Answer(ctx, "room1", "u1", answer)
		if err != nil {
			t.Fatalf("Answer %q: %v", answer, err)
		}
		if res.Outcome != Solved {
			t.Fatalf("%q should solve, got %s", answer, res.Outcome)
		}
	}
}

func TestAlternativeCaptureMateWithoutX(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	p := &catalog.Puzzle{ID: "qmate", FEN: "1k5r/1p6/1K6/8/4Q3/8/8/7R b - - 0 1", Moves: []string{"b8a8", "h1h8"}, Rating: 1100}
	for _, answer := range []string{"Qxb7", "Qb7", "qb7", "Qb7#"} {
		if _, err := m.Show(ctx, "room1", "u1", p); err != nil {
			t.Fatalf("Show: %v", err)
		}
		res, err := m.Answer(ctx, "room1", "u1", answer)
		if err != nil {
			t.Fatalf("Answer %q: %v", answer, err)
		}
		if res.Outcome != Solved || !res.Mate || !strings.HasPrefix(res.MoveSAN, "Qxb7") {
			t.Fatalf("%q should solve as Qxb7, got %+v", answer, res)
		}
	}
}

func TestIncorrectLeavesState(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Show(ctx, "room1", "u1", foolsMate()); err != nil {
		t.Fatalf("Show: %v", err)
	}
	before, _ := store.Channel(ctx, "room1")

	for _, answer := range []string{"d5", "Ke7", "zz", "e2e4"} {
		res, err := m.Answer(ctx, "room1", "u2", answer)
		if err != nil {
			t.Fatalf("Answer %q: %v", answer, err)
		}
		if res.Outcome != Incorrect {
			t.Fatalf("%q should be incorrect, got %s", answer, res.Outcome)
		}
	}
	after, _ := store.Channel(ctx, "room1")
	if after.Puzzle.FEN != before.Puzzle.FEN || len(after.Puzzle.Remaining) != 3 {
		t.Fatalf("incorrect answers changed state")
	}
}

func TestStalemateIsNotASolution(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	p := &catalog.Puzzle{ID: "stale", FEN: "1k6/8/8/1Q6/8/8/8/7K b - - 0 1", Moves: []string{"b8a8", "h1g2"}}
	if _, err := m.Show(ctx, "room1", "u1", p); err != nil {
		t.Fatalf("Show: %v", err)
	}
	res, err := m.Answer(ctx, "room1", "u1", "Qb6")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Outcome != Incorrect {
		t.Fatalf("stalemating move must not solve, got %s", res.Outcome)
	}
}

func TestHintRevealBoard(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Show(ctx, "room1", "u1", foolsMate()); err != nil {
		t.Fatalf("Show: %v", err)
	}

	h, err := m.Hint(ctx, "room1")
	if err != nil {
		t.Fatalf("Hint: %v", err)
	}
	if h.Piece != "pawn" || len(h.Themes) != 2 || h.Themes[0] != "Mate in 2" {
		t.Fatalf("hint %+v", h)
	}

	res, err := m.Reveal(ctx, "room1")
	if err != nil || res.Outcome != Correct || res.MoveSAN != "e5" {
		t.Fatalf("Reveal: %+v %v", res, err)
	}

	h, err = m.Hint(ctx, "room1")
	if err != nil || h.Piece != "queen" {
		t.Fatalf("second hint %+v %v", h, err)
	}

	v, err := m.Board(ctx, "room1")
	if err != nil || v.Remaining != 1 {
		t.Fatalf("Board: %+v %v", v, err)
	}

	if err := m.Abandon(ctx, "room1"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, err := m.Board(ctx, "room1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestShowOverGame(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	game := &session.GameSession{ID: "g1", WhiteID: "w", BlackID: "b", FEN: startFEN, WhitesTurn: true}
	if _, err := store.UpdateChannel(ctx, "room1", func(*session.Channel) (*session.Channel, error) { return session.NewGameChannel("room1", game), nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := m.Show(ctx, "room1", "stranger", foolsMate()); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if _, err := m.Show(ctx, "room1", "w", foolsMate()); err != nil {
		t.Fatalf("seated player may replace the game: %v", err)
	}
	c, _ := store.Channel(ctx, "room1")
	if c.Kind != session.KindPuzzle {
		t.Fatalf("channel kind %s", c.Kind)
	}
}

func TestCorruptedRowDeleted(t *testing.T) {
	m, store, mr := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Show(ctx, "room1", "u1", foolsMate()); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if _, err := store.UpdateChannel(ctx, "room1", func(cur *session.Channel) (*session.Channel, error) {
		next := *cur.Puzzle
		next.FEN = startFEN
		return session.NewPuzzleChannel("room1", &next), nil
	}); err != nil { t.Fatalf("tamper: %v", err) }

	if _, err := m.Answer(ctx, "room1", "u1", "e5"); !errors.Is(err, session.ErrCorrupted) {
		t.Fatalf("want ErrCorrupted, got %v", err)
	}
	if mr.Exists("chan:room1") {
		t.Fatalf("corrupted row should be deleted")
	}
}

func TestShowRejectsBadPuzzle(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Show(ctx, "room1", "u1", &catalog.Puzzle{ID: "x", FEN: startFEN, Moves: []string{"e2e4"}}); !errors.Is(err, ErrBadPuzzle) {
		t.Fatalf("single move: %v", err)
	}
	if _, err := m.Show(ctx, "room1", "u1", &catalog.Puzzle{ID: "y", FEN: startFEN, Moves: []string{"e2e5", "e7e5"}}); !errors.Is(err, ErrBadPuzzle) {
		t.Fatalf("illegal setup: %v", err)
	}
}
