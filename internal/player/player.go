package player

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
)

var ErrNotFound = errors.New("player not found")

// Player is a chat user with an optional linked lichess account.
type Player struct {
	UserID          string
	LichessUsername string
	PuzzleRating    int
	UpdatedAt       time.Time
}

type Repository interface {
	Get(ctx context.Context, userID string) (*Player, error)
	SaveRating(ctx context.Context, userID string, rating int) error
}

// UserFetcher is the part of the lichess client used for rating refreshes.
type UserFetcher interface {
	User(ctx context.Context, name string) (*lichess.User, error)
}

type Service struct {
	repo  Repository
	users UserFetcher
}

func NewService(repo Repository, users UserFetcher) *Service {
	return &Service{repo: repo, users: users}
}

// Rating returns the cached puzzle rating of a user, or 0 when unknown.
func (s *Service) Rating(ctx context.Context, userID string) int {
	if s == nil || s.repo == nil {
		return 0
	}
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obslog.L().Warn("player_rating_lookup", zap.String("user_id", userID), zap.Error(err))
		}
		return 0
	}
	return p.PuzzleRating
}

// Refresh pulls the puzzle rating of the user's linked account and stores it.
func (s *Service) Refresh(ctx context.Context, userID string) (int, error) {
	if s == nil || s.repo == nil || s.users == nil {
		return 0, ErrNotFound
	}
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	if p.LichessUsername == "" {
		return 0, ErrNotFound
	}
	u, err := s.users.User(ctx, p.LichessUsername)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", p.LichessUsername, err)
	}
	rating, ok := u.PuzzleRating()
	if !ok {
		return p.PuzzleRating, nil
	}
	if rating != p.PuzzleRating {
		if err := s.repo.SaveRating(ctx, userID, rating); err != nil {
			return 0, err
		}
		obslog.L().Info("player_rating_refresh", zap.String("user_id", userID), zap.Int("old", p.PuzzleRating), zap.Int("new", rating))
	}
	return rating, nil
}

// RefreshAsync runs Refresh in the background and only logs failures.
func (s *Service) RefreshAsync(userID string) {
	if s == nil || s.repo == nil || s.users == nil || strings.TrimSpace(userID) == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := s.Refresh(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
			obslog.L().Warn("player_rating_refresh_failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

// PGRepository reads and writes the players table.
type PGRepository struct {
	db *sql.DB
}

func NewPGRepository(db *sql.DB) *PGRepository { return &PGRepository{db: db} }

func (r *PGRepository) Get(ctx context.Context, userID string) (*Player, error) {
	var p Player
	var name sql.NullString
	var rating sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, lichess_username, puzzle_rating, updated_at FROM players WHERE user_id = $1`,
		strings.TrimSpace(userID)).Scan(&p.UserID, &name, &rating, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.LichessUsername, p.PuzzleRating = name.String, int(rating.Int64)
	return &p, nil
}

func (r *PGRepository) SaveRating(ctx context.Context, userID string, rating int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE players SET puzzle_rating = $2, updated_at = now() WHERE user_id = $1`,
		strings.TrimSpace(userID), rating)
	return err
}

// MemoryRepository is a map-backed Repository for development and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	players map[string]Player
}

func NewMemoryRepository(ps ...Player) *MemoryRepository {
	m := &MemoryRepository{players: map[string]Player{}}
	for _, p := range ps {
		m.players[p.UserID] = p
	}
	return m
}

func (m *MemoryRepository) Get(_ context.Context, userID string) (*Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) SaveRating(_ context.Context, userID string, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[userID]
	if !ok {
		return ErrNotFound
	}
	p.PuzzleRating, p.UpdatedAt = rating, time.Now()
	m.players[userID] = p
	return nil
}
