package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/bot"
	"github.com/park285/Cheese-Puzzle-bot/internal/catalog"
	"github.com/park285/Cheese-Puzzle-bot/internal/challenge"
	"github.com/park285/Cheese-Puzzle-bot/internal/config"
	"github.com/park285/Cheese-Puzzle-bot/internal/game"
	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
	"github.com/park285/Cheese-Puzzle-bot/internal/msgcat"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/player"
	"github.com/park285/Cheese-Puzzle-bot/internal/puzzle"
	"github.com/park285/Cheese-Puzzle-bot/internal/relay"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

const countCacheTTL = 24 * time.Hour

// Deps is the engine wired from configuration.
type Deps struct {
	Store      *session.Store
	Lichess    *lichess.Client
	Relays     *relay.Manager
	Dispatcher *bot.Dispatcher

	closers []func() error
}

// New connects Redis and, when DATABASE_URL is set, PostgreSQL. Without a
// database the catalog is empty and results are kept in memory, which is
// only useful for development.
func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	d := &Deps{}

	store, err := session.Open(ctx, cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	d.Store = store
	d.closers = append(d.closers, store.Close)

	d.Lichess = lichess.NewClient(cfg.LichessBaseURL, lichess.WithToken(cfg.LichessToken))

	var (
		src     catalog.Source
		players player.Repository
		results game.Recorder
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := catalog.OpenPG(cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("init catalog: %w", err)
		}
		d.closers = append(d.closers, pg.Close)
		src = catalog.NewCachedSource(pg, store.Client(), countCacheTTL)
		players = player.NewPGRepository(pg.DB())
		results = game.NewRepository(pg.DB())
	} else {
		obslog.L().Warn("database_disabled", zap.String("reason", "DATABASE_URL not set; catalog is empty and results are not persisted"))
		src = catalog.NewMemorySource()
		players = player.NewMemoryRepository()
		results = &game.MemoryRepository{}
	}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init messages: %w", err)
	}

	playerSvc := player.NewService(players, d.Lichess)
	d.Relays = relay.NewManager(store, d.Lichess, cfg.RelayMaxLifetime)
	d.Dispatcher = bot.NewDispatcher(bot.Deps{
		Prefix:     cfg.BotPrefix,
		Messages:   msgs,
		Selector:   catalog.NewSelector(src, catalog.Window{Below: cfg.RatingWindowBelow, Above: cfg.RatingWindowAbove}),
		Puzzles:    puzzle.NewManager(store, playerSvc),
		Games:      game.NewManager(store, results),
		Challenges: challenge.NewManager(cfg.ChallengeTTL),
		Relays:     d.Relays,
		Players:    playerSvc,
	})
	return d, nil
}

// Close releases connections in reverse order of opening.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			obslog.L().Warn("close_failed", zap.Error(err))
		}
	}
	d.closers = nil
}
