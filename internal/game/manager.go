package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/challenge"
	"github.com/park285/Cheese-Puzzle-bot/internal/notation"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

// Recorder persists finished games.
type Recorder interface {
	SaveResult(ctx context.Context, rec *Record) error
}

type Manager struct {
	store *session.Store
	repo  Recorder
	now   func() time.Time
	coin  func() bool
}

func NewManager(store *session.Store, repo Recorder) *Manager {
	return &Manager{store: store, repo: repo, now: time.Now, coin: secureCoin}
}

// Accept seats initiator and invitee in a new game. An active game in the
// channel is a conflict; an active puzzle is replaced.
func (m *Manager) Accept(ctx context.Context, channelID string, initiator, invitee Player, color challenge.ColorChoice) (*View, error) {
	initiator.ID, invitee.ID = strings.TrimSpace(initiator.ID), strings.TrimSpace(invitee.ID)
	if strings.TrimSpace(channelID) == "" || initiator.ID == "" || invitee.ID == "" {
		return nil, ErrInvalidArgs
	}
	if initiator.ID == invitee.ID {
		return nil, challenge.ErrSelfChallenge
	}

	white, black := initiator, invitee
	switch color {
	case challenge.ColorWhite:
	case challenge.ColorBlack:
		white, black = invitee, initiator
	default:
		if m.coin() {
			white, black = invitee, initiator
		}
	}
	now := m.now()
	gs := &session.GameSession{
		ID:         uuid.NewString(),
		WhiteID:    white.ID,
		WhiteName:  strings.TrimSpace(white.Name),
		BlackID:    black.ID,
		BlackName:  strings.TrimSpace(black.Name),
		FEN:        StartFEN,
		WhitesTurn: true,
		MovesUCI:   []string{},
		MovesSAN:   []string{},
		StartedAt:  now,
	}
	_, err := m.store.UpdateChannel(ctx, channelID, func(cur *session.Channel) (*session.Channel, error) {
		if cur != nil && cur.Kind == session.KindGame {
			return nil, session.ErrConflict
		}
		return session.NewGameChannel(channelID, gs), nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("game_create",
		zap.String("game_id", gs.ID),
		zap.String("channel", channelID),
		zap.String("white_id", gs.WhiteID),
		zap.String("black_id", gs.BlackID),
	)
	g, _ := notation.Load(StartFEN)
	v := viewOf(gs, g)
	return &v, nil
}

// Move plays text for userID. Illegal input leaves the game untouched.
func (m *Manager) Move(ctx context.Context, channelID, userID, text string) (*MoveResult, error) {
	var (
		res *MoveResult
		rec *Record
	)
	_, err := m.store.UpdateChannel(ctx, channelID, func(cur *session.Channel) (*session.Channel, error) {
		gs, err := active(cur)
		if err != nil {
			return nil, err
		}
		seat := gs.Seat(userID)
		if seat == "" {
			return nil, ErrNotSeated
		}
		if gs.WhitesTurn != (seat == "white") {
			return nil, ErrNotYourTurn
		}

		g, err := restore(gs)
		if err != nil {
			return nil, err
		}
		pos := g.Position()
		mv, err := notation.Resolve(pos, text)
		if err != nil {
			return nil, err
		}
		san, uci := notation.Canonical(pos, mv)
		if err := g.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("%w: %s", notation.ErrIllegalInput, san)
		}

		next := *gs
		next.MovesUCI = append(append([]string(nil), gs.MovesUCI...), uci)
		next.MovesSAN = append(append([]string(nil), gs.MovesSAN...), san)
		next.FEN = g.FEN()
		next.WhitesTurn = g.Position().Turn() == nchess.White
		next.LastMove = uci
		next.LastMoveAt = m.now()
		next.DrawOfferBy = ""

		res = &MoveResult{SAN: san, Mover: seat, View: viewOf(&next, g)}
		if out := outcomeOf(&next, g); out != nil {
			res.Outcome = out
			rec = &Record{Game: next, ChannelID: channelID, Outcome: *out, EndedAt: next.LastMoveAt}
			return nil, nil
		}
		return session.NewGameChannel(channelID, &next), nil
	})
	if err != nil {
		return nil, m.fail(channelID, "move", err)
	}

	obslog.L().Info("game_move",
		zap.String("game_id", res.View.GameID),
		zap.String("channel", channelID),
		zap.String("user_id", userID),
		zap.String("san", res.SAN),
		zap.String("turn", res.View.SideToMove),
	)
	m.persist(ctx, rec)
	return res, nil
}

// Resign ends the game in the opponent's favor.
func (m *Manager) Resign(ctx context.Context, channelID, userID string) (*Outcome, error) {
	return m.finish(ctx, channelID, "resign", func(gs *session.GameSession) (*Outcome, error) {
		seat := gs.Seat(userID)
		if seat == "" {
			return nil, ErrNotSeated
		}
		winner := gs.Opponent(userID)
		out := &Outcome{Method: MethodResignation, WinnerID: winner, Result: ResultWhite, Winner: gs.WhiteName}
		if seat == "white" {
			out.Result, out.Winner = ResultBlack, gs.BlackName
		}
		return out, nil
	})
}

// OfferDraw records a draw offer. When the opponent already offered, the
// offer is taken as acceptance and the game ends drawn.
func (m *Manager) OfferDraw(ctx context.Context, channelID, userID string) (*Outcome, error) {
	var out *Outcome
	var rec *Record
	_, err := m.store.UpdateChannel(ctx, channelID, func(cur *session.Channel) (*session.Channel, error) {
		gs, err := active(cur)
		if err != nil {
			return nil, err
		}
		if gs.Seat(userID) == "" {
			return nil, ErrNotSeated
		}
		if gs.DrawOfferBy != "" && gs.DrawOfferBy == gs.Opponent(userID) {
			out = &Outcome{Result: ResultDraw, Method: MethodAgreement}
			rec = &Record{Game: *gs, ChannelID: channelID, Outcome: *out, EndedAt: m.now()}
			return nil, nil
		}
		next := *gs
		next.DrawOfferBy = userID
		return session.NewGameChannel(channelID, &next), nil
	})
	if err != nil {
		return nil, m.fail(channelID, "draw_offer", err)
	}
	obslog.L().Info("game_draw_offer", zap.String("channel", channelID), zap.String("user_id", userID), zap.Bool("agreed", out != nil))
	m.persist(ctx, rec)
	return out, nil
}

// AcceptDraw ends the game drawn if the opponent has an open offer.
func (m *Manager) AcceptDraw(ctx context.Context, channelID, userID string) (*Outcome, error) {
	return m.finish(ctx, channelID, "draw_accept", func(gs *session.GameSession) (*Outcome, error) {
		if gs.Seat(userID) == "" {
			return nil, ErrNotSeated
		}
		if gs.DrawOfferBy == "" || gs.DrawOfferBy != gs.Opponent(userID) {
			return nil, ErrNoDrawOffer
		}
		return &Outcome{Result: ResultDraw, Method: MethodAgreement}, nil
	})
}

// Abort cancels a game before its first move. Aborted games are not recorded.
func (m *Manager) Abort(ctx context.Context, channelID, userID string) (*Outcome, error) {
	return m.finish(ctx, channelID, "abort", func(gs *session.GameSession) (*Outcome, error) {
		if gs.Seat(userID) == "" {
			return nil, ErrNotSeated
		}
		if len(gs.MovesUCI) > 0 {
			return nil, ErrAlreadyStarted
		}
		return &Outcome{Result: ResultAborted, Method: MethodAborted}, nil
	})
}

// Board returns the current view; orientation follows the last mover.
func (m *Manager) Board(ctx context.Context, channelID string) (*View, error) {
	c, err := m.store.Channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	gs, err := active(c)
	if err != nil {
		return nil, err
	}
	g, err := restore(gs)
	if err != nil {
		_ = m.store.DeleteChannel(ctx, channelID)
		return nil, m.fail(channelID, "board", err)
	}
	v := viewOf(gs, g)
	return &v, nil
}

func (m *Manager) finish(ctx context.Context, channelID, op string, decide func(gs *session.GameSession) (*Outcome, error)) (*Outcome, error) {
	var out *Outcome
	var rec *Record
	_, err := m.store.UpdateChannel(ctx, channelID, func(cur *session.Channel) (*session.Channel, error) {
		gs, err := active(cur)
		if err != nil {
			return nil, err
		}
		o, err := decide(gs)
		if err != nil {
			return nil, err
		}
		out = o
		if o.Result != ResultAborted {
			rec = &Record{Game: *gs, ChannelID: channelID, Outcome: *o, EndedAt: m.now()}
		}
		return nil, nil
	})
	if err != nil {
		return nil, m.fail(channelID, op, err)
	}
	obslog.L().Info("game_"+op,
		zap.String("channel", channelID),
		zap.String("result", string(out.Result)),
		zap.String("winner_id", out.WinnerID),
	)
	m.persist(ctx, rec)
	return out, nil
}

func (m *Manager) persist(ctx context.Context, rec *Record) {
	if rec == nil || m.repo == nil {
		return
	}
	if err := m.repo.SaveResult(ctx, rec); err != nil {
		obslog.L().Error("game_result_persist_error", zap.String("game_id", rec.Game.ID), zap.Error(err))
		return
	}
	obslog.L().Info("game_result_persist", zap.String("game_id", rec.Game.ID), zap.String("result", string(rec.Outcome.Result)), zap.String("method", string(rec.Outcome.Method)))
}

func (m *Manager) fail(channelID, op string, err error) error {
	if errors.Is(err, session.ErrCorrupted) {
		obslog.L().Error("game_corrupted", zap.String("channel", channelID), zap.String("op", op), zap.Error(err))
	}
	return err
}

func active(c *session.Channel) (*session.GameSession, error) {
	if c == nil || c.Kind != session.KindGame || c.Game == nil {
		return nil, session.ErrNotFound
	}
	return c.Game, nil
}

// restore replays the stored UCI moves from the start position and checks
// the stored FEN and turn against the result.
func restore(gs *session.GameSession) (*nchess.Game, error) {
	g, err := notation.Replay(StartFEN, gs.MovesUCI)
	if err != nil {
		return nil, fmt.Errorf("%w: game %s: %v", session.ErrCorrupted, gs.ID, err)
	}
	if g.FEN() != gs.FEN {
		return nil, fmt.Errorf("%w: game %s position mismatch", session.ErrCorrupted, gs.ID)
	}
	if (g.Position().Turn() == nchess.White) != gs.WhitesTurn {
		return nil, fmt.Errorf("%w: game %s turn mismatch", session.ErrCorrupted, gs.ID)
	}
	return g, nil
}

func outcomeOf(gs *session.GameSession, g *nchess.Game) *Outcome {
	var out Outcome
	switch g.Outcome() {
	case nchess.WhiteWon:
		out = Outcome{Result: ResultWhite, WinnerID: gs.WhiteID, Winner: gs.WhiteName}
	case nchess.BlackWon:
		out = Outcome{Result: ResultBlack, WinnerID: gs.BlackID, Winner: gs.BlackName}
	case nchess.Draw:
		out = Outcome{Result: ResultDraw}
	default:
		return nil
	}
	switch g.Method() {
	case nchess.Checkmate:
		out.Method = MethodCheckmate
	case nchess.Stalemate:
		out.Method = MethodStalemate
	case nchess.InsufficientMaterial:
		out.Method = MethodInsufficientMaterial
	case nchess.FivefoldRepetition:
		out.Method = MethodFivefold
	case nchess.SeventyFiveMoveRule:
		out.Method = MethodSeventyFive
	default:
		out.Method = Method(strings.ToLower(fmt.Sprint(g.Method())))
	}
	return &out
}

func viewOf(gs *session.GameSession, g *nchess.Game) View {
	turn := g.Position().Turn()
	return View{
		GameID:      gs.ID,
		FEN:         g.FEN(),
		LastMove:    gs.LastMove,
		SideToMove:  notation.SideName(turn),
		Orientation: notation.SideName(turn.Other()),
		WhiteName:   gs.WhiteName,
		BlackName:   gs.BlackName,
		MovesSAN:    gs.MovesSAN,
	}
}

func secureCoin() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 1
}
