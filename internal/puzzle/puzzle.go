package puzzle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/catalog"
	"github.com/park285/Cheese-Puzzle-bot/internal/notation"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/player"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

var ErrBadPuzzle = errors.New("puzzle data is unusable")

// Outcome of an answer attempt.
type Outcome string

const (
	Correct   Outcome = "correct"
	Solved    Outcome = "solved"
	Incorrect Outcome = "incorrect"
)

// View is the presentable state of a puzzle board.
type View struct {
	PuzzleID    string
	FEN         string
	LastMove    string
	SideToMove  string
	Orientation string
	Rating      int
	Themes      []string
	URL         string
	Remaining   int
}

type AnswerResult struct {
	Outcome  Outcome
	MoveSAN  string
	Wrapped  bool
	Mate     bool
	ReplySAN string
	View     View
}

type HintResult struct {
	Piece  string
	Themes []string
}

type Manager struct {
	store   *session.Store
	players *player.Service
	now     func() time.Time
}

func NewManager(store *session.Store, players *player.Service) *Manager {
	return &Manager{store: store, players: players, now: time.Now}
}

// Show starts p in the channel: the catalog's first move is the opponent's
// setup move and is applied here. A previous puzzle is replaced; a game is
// replaced only when the caller is seated in it.
func (m *Manager) Show(ctx context.Context, channelID, actorID string, p *catalog.Puzzle) (*View, error) {
	if p == nil || len(p.Moves) < 2 {
		return nil, ErrBadPuzzle
	}
	g, err := notation.Replay(p.FEN, p.Moves[:1])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPuzzle, p.ID, err)
	}

	now := m.now()
	ps := &session.PuzzleSession{
		PuzzleID:  p.ID,
		StartFEN:  p.FEN,
		Played:    []string{strings.ToLower(p.Moves[0])},
		Remaining: lower(p.Moves[1:]),
		FEN:       g.FEN(),
		Themes:    append([]string(nil), p.Themes...),
		Rating:    p.Rating,
		URL:       p.TrainingURL(),
		ShownBy:   actorID,
		StartedAt: now,
		UpdatedAt: now,
	}
	_, err = m.store.UpdateChannel(ctx, channelID, func(cur *session.Channel) (*session.Channel, error) {
		if cur != nil && cur.Kind == session.KindGame && cur.Game.Seat(actorID) == "" {
			return nil, session.ErrConflict
		}
		return session.NewPuzzleChannel(channelID, ps), nil
	})
	if err != nil {
		return nil, err
	}

	obslog.L().Info("puzzle_show",
		zap.String("channel", channelID),
		zap.String("puzzle_id", p.ID),
		zap.Int("rating", p.Rating),
		zap.Int("remaining", len(ps.Remaining)),
	)
	v := viewOf(ps, g)
	return &v, nil
}

// Answer checks text against the next recorded move. A match, or any move
// that mates, is applied; the recorded reply then follows unless the puzzle
// is over.
func (m *Manager) Answer(ctx context.Context, channelID, actorID, text string) (*AnswerResult, error) {
	inner, wrapped := notation.StripSpoiler(text)
	res, err := m.advance(ctx, channelID, func(pos *nchess.Position, expected *nchess.Move) (*nchess.Move, bool) {
		if notation.Matches(pos, expected, inner) {
			return expected, false
		}
		if _, mv := notation.MatingMove(pos, inner); mv != nil {
			return mv, true
		}
		return nil, false
	})
	if err != nil {
		return nil, err
	}
	res.Wrapped = wrapped
	obslog.L().Info("puzzle_answer",
		zap.String("channel", channelID),
		zap.String("user_id", actorID),
		zap.String("puzzle_id", res.View.PuzzleID),
		zap.String("outcome", string(res.Outcome)),
	)
	if res.Outcome == Solved && m.players != nil {
		m.players.RefreshAsync(actorID)
	}
	return res, nil
}

// Reveal plays the recorded move as if it had been answered.
func (m *Manager) Reveal(ctx context.Context, channelID string) (*AnswerResult, error) {
	res, err := m.advance(ctx, channelID, func(_ *nchess.Position, expected *nchess.Move) (*nchess.Move, bool) {
		return expected, false
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("puzzle_reveal", zap.String("channel", channelID), zap.String("puzzle_id", res.View.PuzzleID), zap.String("move", res.MoveSAN))
	return res, nil
}

type judge func(pos *nchess.Position, expected *nchess.Move) (mv *nchess.Move, mate bool)

func (m *Manager) advance(ctx context.Context, channelID string, decide judge) (*AnswerResult, error) {
	var res *AnswerResult
	_, err := m.store.UpdateChannel(ctx, channelID, func(cur *session.Channel) (*session.Channel, error) {
		if cur == nil || cur.Kind != session.KindPuzzle {
			return nil, session.ErrNotFound
		}
		ps := cur.Puzzle
		g, err := restore(ps)
		if err != nil {
			return nil, err
		}
		pos := g.Position()
		expected, err := notation.FindUCI(pos, ps.Remaining[0])
		if err != nil {
			return nil, fmt.Errorf("%w: recorded move %s: %v", session.ErrCorrupted, ps.Remaining[0], err)
		}

		mv, mate := decide(pos, expected)
		if mv == nil {
			res = &AnswerResult{Outcome: Incorrect, View: viewOf(ps, g)}
			return cur, nil
		}

		next := *ps
		next.Played = append(append([]string(nil), ps.Played...), uciOf(pos, mv))
		next.Remaining = append([]string(nil), ps.Remaining[1:]...)
		san, _ := notation.Canonical(pos, mv)
		if err := g.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("%w: apply %s: %v", session.ErrCorrupted, san, err)
		}
		res = &AnswerResult{Outcome: Correct, MoveSAN: san, Mate: mate || g.Method() == nchess.Checkmate}

		if !res.Mate && len(next.Remaining) > 0 {
			rpos := g.Position()
			reply, err := notation.FindUCI(rpos, next.Remaining[0])
			if err != nil {
				return nil, fmt.Errorf("%w: recorded reply %s: %v", session.ErrCorrupted, next.Remaining[0], err)
			}
			res.ReplySAN, _ = notation.Canonical(rpos, reply)
			if err := g.Move(reply, nil); err != nil {
				return nil, fmt.Errorf("%w: apply reply: %v", session.ErrCorrupted, err)
			}
			next.Played = append(next.Played, next.Remaining[0])
			next.Remaining = next.Remaining[1:]
		}
		next.FEN = g.FEN()
		next.UpdatedAt = m.now()
		res.View = viewOf(&next, g)

		if res.Mate || len(next.Remaining) == 0 {
			res.Outcome = Solved
			return nil, nil
		}
		return session.NewPuzzleChannel(channelID, &next), nil
	})
	if err != nil {
		if errors.Is(err, session.ErrCorrupted) {
			obslog.L().Error("puzzle_corrupted", zap.String("channel", channelID), zap.Error(err))
		}
		return nil, err
	}
	return res, nil
}

// Hint names the piece that moves next and the puzzle's themes.
func (m *Manager) Hint(ctx context.Context, channelID string) (*HintResult, error) {
	ps, g, err := m.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	pos := g.Position()
	expected, err := notation.FindUCI(pos, ps.Remaining[0])
	if err != nil {
		return nil, m.drop(ctx, channelID, fmt.Errorf("%w: recorded move: %v", session.ErrCorrupted, err))
	}
	themes := make([]string, 0, len(ps.Themes))
	for _, t := range ps.Themes {
		themes = append(themes, catalog.Humanize(t))
	}
	return &HintResult{Piece: notation.PieceName(pos.Board().Piece(expected.S1()).Type()), Themes: themes}, nil
}

// Board returns the current view without changing anything.
func (m *Manager) Board(ctx context.Context, channelID string) (*View, error) {
	ps, g, err := m.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	v := viewOf(ps, g)
	return &v, nil
}

// Abandon drops the channel's puzzle.
func (m *Manager) Abandon(ctx context.Context, channelID string) error {
	_, err := m.store.UpdateChannel(ctx, channelID, func(cur *session.Channel) (*session.Channel, error) {
		if cur == nil || cur.Kind != session.KindPuzzle {
			return nil, session.ErrNotFound
		}
		return nil, nil
	})
	if err == nil {
		obslog.L().Info("puzzle_abandon", zap.String("channel", channelID))
	}
	return err
}

func (m *Manager) load(ctx context.Context, channelID string) (*session.PuzzleSession, *nchess.Game, error) {
	c, err := m.store.Channel(ctx, channelID)
	if err != nil {
		if errors.Is(err, session.ErrCorrupted) {
			return nil, nil, m.drop(ctx, channelID, err)
		}
		return nil, nil, err
	}
	if c.Kind != session.KindPuzzle || c.Puzzle == nil {
		return nil, nil, session.ErrNotFound
	}
	g, err := restore(c.Puzzle)
	if err != nil {
		return nil, nil, m.drop(ctx, channelID, err)
	}
	return c.Puzzle, g, nil
}

func (m *Manager) drop(ctx context.Context, channelID string, cause error) error {
	if err := m.store.DeleteChannel(ctx, channelID); err != nil {
		obslog.L().Warn("puzzle_corrupted_delete_failed", zap.String("channel", channelID), zap.Error(err))
	}
	obslog.L().Error("puzzle_corrupted", zap.String("channel", channelID), zap.Error(cause))
	return cause
}

// restore replays the played moves from the start position and checks the
// result against the stored FEN.
func restore(ps *session.PuzzleSession) (*nchess.Game, error) {
	if len(ps.Remaining) == 0 {
		return nil, fmt.Errorf("%w: puzzle %s has no remaining moves", session.ErrCorrupted, ps.PuzzleID)
	}
	g, err := notation.Replay(ps.StartFEN, ps.Played)
	if err != nil {
		return nil, fmt.Errorf("%w: replay %s: %v", session.ErrCorrupted, ps.PuzzleID, err)
	}
	if g.FEN() != ps.FEN {
		return nil, fmt.Errorf("%w: puzzle %s position mismatch", session.ErrCorrupted, ps.PuzzleID)
	}
	return g, nil
}

func viewOf(ps *session.PuzzleSession, g *nchess.Game) View {
	v := View{
		PuzzleID:  ps.PuzzleID,
		FEN:       g.FEN(),
		Rating:    ps.Rating,
		Themes:    ps.Themes,
		URL:       ps.URL,
		Remaining: len(ps.Remaining),
	}
	if n := len(ps.Played); n > 0 {
		v.LastMove = ps.Played[n-1]
	}
	v.SideToMove = notation.SideName(g.Position().Turn())
	// the solver keeps the bottom for the whole puzzle
	v.Orientation = solverSide(ps)
	return v
}

func solverSide(ps *session.PuzzleSession) string {
	g, err := notation.Load(ps.StartFEN)
	if err != nil {
		return "white"
	}
	return notation.SideName(g.Position().Turn().Other())
}

func uciOf(pos *nchess.Position, mv *nchess.Move) string {
	_, uci := notation.Canonical(pos, mv)
	return uci
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
