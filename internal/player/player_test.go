package player

import (
	"context"
	"errors"
	"testing"

	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
)

type fakeUsers map[string]*lichess.User

func (f fakeUsers) User(_ context.Context, name string) (*lichess.User, error) {
	u, ok := f[name]
	if !ok {
		return nil, lichess.ErrNotFound
	}
	return u, nil
}

func TestRatingAndRefresh(t *testing.T) {
	repo := NewMemoryRepository(
		Player{UserID: "u1", LichessUsername: "alice", PuzzleRating: 1500},
		Player{UserID: "u2"},
	)
	users := fakeUsers{"alice": {Username: "alice", Perfs: map[string]lichess.Perf{"puzzle": {Rating: 1620}}}}
	s := NewService(repo, users)
	ctx := context.Background()

	if r := s.Rating(ctx, "u1"); r != 1500 {
		t.Fatalf("cached rating %d", r)
	}
	if r := s.Rating(ctx, "nobody"); r != 0 {
		t.Fatalf("unknown user rating %d", r)
	}

	r, err := s.Refresh(ctx, "u1")
	if err != nil || r != 1620 {
		t.Fatalf("Refresh: %d %v", r, err)
	}
	if r := s.Rating(ctx, "u1"); r != 1620 {
		t.Fatalf("refreshed rating not stored: %d", r)
	}

	if _, err := s.Refresh(ctx, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unlinked user should be ErrNotFound, got %v", err)
	}
}

func TestNilServiceIsSafe(t *testing.T) {
	var s *Service
	if s.Rating(context.Background(), "u1") != 0 {
		t.Fatalf("nil service rating")
	}
	s.RefreshAsync("u1")
}
