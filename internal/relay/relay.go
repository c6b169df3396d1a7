package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

var (
	ErrNotFound    = errors.New("relay game not found")
	ErrMessageGone = errors.New("relay message is gone")
	ErrNotWatcher  = errors.New("only the watcher can flip a live board")
)

const DefaultMaxLifetime = time.Hour

// State of a relay after an operation.
type State string

const (
	Streaming State = "streaming"
	Finished  State = "finished"
	Aborted   State = "aborted"
)

// Source is the game data the relay reads.
type Source interface {
	ExportGame(ctx context.Context, id string) (*lichess.Game, error)
	StreamGame(ctx context.Context, id string) (lichess.Feed, error)
}

// FrameSink receives live boards. Returning ErrMessageGone stops the relay.
type FrameSink interface {
	Frame(ctx context.Context, messageKey string, v render.View) error
}

type OpenRequest struct {
	MessageKey string
	ChannelID  string
	WatcherID  string
	GameRef    string
	Color      string
}

// Opened is the result of Open. Stream is set only in the Streaming state.
type Opened struct {
	State      State
	MessageKey string
	View       render.View
	Summary    *Summary
	Stream     *Stream
}

// Stream is a live relay ready to Run.
type Stream struct {
	key       string
	gameID    string
	anchor    string
	feed      lichess.Feed
	game      *lichess.Game
	white     string
	black     string
	expiresAt time.Time
}

func (s *Stream) MessageKey() string { return s.key }

// Ended is the result of Run.
type Ended struct {
	State   State
	Summary *Summary
}

type FlipResult struct {
	State       State
	Orientation string
	Summary     *Summary
}

type Manager struct {
	store       *session.Store
	src         Source
	maxLifetime time.Duration
	now         func() time.Time
}

func NewManager(store *session.Store, src Source, maxLifetime time.Duration) *Manager {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	return &Manager{store: store, src: src, maxLifetime: maxLifetime, now: time.Now}
}

// Open resolves the game. A game already over yields a finished summary
// without a stream; a live one yields the first board and a Stream.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Opened, error) {
	id, black := lichess.ParseGameRef(req.GameRef)
	if id == "" {
		return nil, ErrNotFound
	}
	black = black || strings.EqualFold(strings.TrimSpace(req.Color), "black")
	key := strings.TrimSpace(req.MessageKey)
	if key == "" {
		key = NewMessageKey()
	}

	g, err := m.src.ExportGame(ctx, id)
	if err != nil {
		if errors.Is(err, lichess.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	if g.ID == "" {
		g.ID = id
	}
	if g.Speed == "correspondence" || (g.Ongoing() && !g.Streamable()) {
		return nil, fmt.Errorf("%w: %s is not a timed game", ErrNotFound, id)
	}
	orientation := orientationFor(g, black)
	now := m.now()
	row := &session.RelaySession{
		MessageKey:  key,
		ChannelID:   req.ChannelID,
		WatcherID:   req.WatcherID,
		GameID:      g.ID,
		Orientation: orientation,
		OpenedAt:    now,
	}

	if !g.Ongoing() {
		sum := summarize(g, orientation)
		if err := m.putFinished(ctx, row, sum); err != nil {
			return nil, err
		}
		obslog.L().Info("relay_open", zap.String("key", key), zap.String("game_id", g.ID), zap.String("state", string(Finished)))
		return &Opened{State: Finished, MessageKey: key, View: sum.View, Summary: sum}, nil
	}

	feed, err := m.src.StreamGame(ctx, g.ID)
	if err != nil {
		if errors.Is(err, lichess.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	first, err := feed.Next(ctx)
	if err != nil {
		_ = feed.Close()
		return nil, fmt.Errorf("read first frame of %s: %w", g.ID, err)
	}

	st := &Stream{
		key:       key,
		gameID:    g.ID,
		anchor:    first.Key(),
		feed:      feed,
		game:      g,
		white:     playerLabel(g.Players.White),
		black:     playerLabel(g.Players.Black),
		expiresAt: now.Add(m.maxLifetime),
	}
	row.Mode = session.RelayStreaming
	row.AnchorFEN = st.anchor
	row.LastFEN = first.FEN
	row.LastMove = first.Move()
	row.Header = "LIVE: " + gameTitle(g)
	row.Footer = st.white + " vs " + st.black
	row.ExpiresAt = st.expiresAt
	if err := m.store.PutRelay(ctx, row); err != nil {
		_ = feed.Close()
		return nil, err
	}
	obslog.L().Info("relay_open", zap.String("key", key), zap.String("game_id", g.ID), zap.String("state", string(Streaming)), zap.String("orientation", orientation))
	v := render.View{FEN: first.FEN, LastMove: first.Move(), Orientation: orientation, Header: row.Header, Footer: row.Footer}
	return &Opened{State: Streaming, MessageKey: key, View: v, Stream: st}, nil
}

// Flip toggles a live board's orientation for its watcher, effective from
// the next frame. On a finished relay anyone may flip; the stored row is
// untouched and the summary comes back drawn from the side opposite shown.
func (m *Manager) Flip(ctx context.Context, key, userID, shown string) (*FlipResult, error) {
	var finished *session.RelaySession
	next, err := m.store.UpdateRelay(ctx, key, func(cur *session.RelaySession) (*session.RelaySession, error) {
		if cur.Mode != session.RelayStreaming {
			cp := *cur
			finished = &cp
			return cur, nil
		}
		if cur.WatcherID != userID {
			return nil, ErrNotWatcher
		}
		out := *cur
		out.Orientation = opposite(cur.Orientation)
		return &out, nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if finished != nil {
		if shown == "" {
			shown = finished.Orientation
		}
		sum := summaryOf(finished).Oriented(opposite(shown))
		return &FlipResult{State: Finished, Orientation: sum.View.Orientation, Summary: &sum}, nil
	}
	obslog.L().Info("relay_flip", zap.String("key", key), zap.String("orientation", next.Orientation))
	return &FlipResult{State: Streaming, Orientation: next.Orientation}, nil
}

// Cancel drops the relay; a running stream notices at its next frame.
func (m *Manager) Cancel(ctx context.Context, key string) error {
	existed, err := m.store.DeleteRelay(ctx, key)
	if err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}
	obslog.L().Info("relay_cancel", zap.String("key", key))
	return nil
}

func (m *Manager) putFinished(ctx context.Context, row *session.RelaySession, sum *Summary) error {
	fin := *row
	fin.Mode = session.RelayFinished
	fin.AnchorFEN = ""
	fin.LastFEN = sum.View.FEN
	fin.LastMove = sum.View.LastMove
	fin.Header = sum.Title
	fin.Footer = sum.View.Footer
	fin.ExpiresAt = time.Time{}
	return m.store.PutRelay(ctx, &fin)
}

// summaryOf rebuilds the static summary from a finished row.
func summaryOf(row *session.RelaySession) Summary {
	return Summary{
		GameID: row.GameID,
		Title:  row.Header,
		URL:    lichess.GameURL(row.GameID),
		GIFURL: lichess.GIFURL(row.GameID, row.Orientation),
		View:   render.View{FEN: row.LastFEN, LastMove: row.LastMove, Orientation: row.Orientation, Header: row.Header, Footer: row.Footer},
	}
}

func opposite(orientation string) string {
	if strings.EqualFold(orientation, "black") {
		return "white"
	}
	return "black"
}

// NewMessageKey is a short random key users can type back.
func NewMessageKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
