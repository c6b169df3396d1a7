package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

const exportTimeout = 15 * time.Second

// Run mirrors the stream into sink until the game ends, the relay is
// cancelled, the message disappears or the lifetime runs out. Frames older
// than the anchor are skipped. The orientation is read from the row for
// every frame.
func (m *Manager) Run(ctx context.Context, st *Stream, sink FrameSink) (*Ended, error) {
	defer st.feed.Close()
	runCtx, cancel := context.WithDeadline(ctx, st.expiresAt)
	defer cancel()
	log := obslog.L().With(zap.String("key", st.key), zap.String("game_id", st.gameID))

	upToDate := false
	frames := 0
	for {
		fr, err := st.feed.Next(runCtx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				log.Info("relay_max_lifetime", zap.Int("frames", frames))
				return m.abort(ctx, st)
			}
			if ctx.Err() != nil {
				log.Info("relay_shutdown", zap.Error(ctx.Err()))
				return m.abort(context.WithoutCancel(ctx), st)
			}
			log.Info("relay_feed_end", zap.Error(err), zap.Int("frames", frames))
			return m.end(ctx, st)
		}
		if !fr.HasClock() {
			log.Info("relay_game_over", zap.Int("frames", frames))
			return m.end(ctx, st)
		}
		if !upToDate {
			if fr.Key() != st.anchor {
				continue
			}
			upToDate = true
		}

		row, err := m.store.Relay(runCtx, st.key)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				log.Info("relay_row_missing")
				return &Ended{State: Aborted}, nil
			}
			log.Warn("relay_row_read_error", zap.Error(err))
			continue
		}
		v := render.View{
			FEN:         fr.FEN,
			LastMove:    fr.Move(),
			Orientation: row.Orientation,
			Header:      row.Header,
			Footer:      st.white + " " + clockText(fr.WhiteClock) + " | " + st.black + " " + clockText(fr.BlackClock),
		}
		if err := sink.Frame(runCtx, st.key, v); err != nil {
			if errors.Is(err, ErrMessageGone) {
				log.Info("relay_message_gone")
				return m.abort(ctx, st)
			}
			log.Warn("relay_frame_error", zap.Error(err))
		}
		frames++

		_, err = m.store.UpdateRelay(runCtx, st.key, func(cur *session.RelaySession) (*session.RelaySession, error) {
			if cur.Mode != session.RelayStreaming {
				return cur, nil
			}
			next := *cur
			next.LastFEN = fr.FEN
			next.LastMove = fr.Move()
			return &next, nil
		})
		switch {
		case errors.Is(err, session.ErrNotFound):
			log.Info("relay_row_missing")
			return &Ended{State: Aborted}, nil
		case err != nil:
			log.Warn("relay_row_update_error", zap.Error(err))
		}
	}
}

// abort deletes the live row without writing a summary.
func (m *Manager) abort(ctx context.Context, st *Stream) (*Ended, error) {
	if _, err := m.store.DeleteRelay(ctx, st.key); err != nil {
		obslog.L().Warn("relay_delete_error", zap.String("key", st.key), zap.Error(err))
	}
	return &Ended{State: Aborted}, nil
}

// end replaces the live row with a finished one built from a fresh export.
func (m *Manager) end(ctx context.Context, st *Stream) (*Ended, error) {
	row, err := m.store.Relay(ctx, st.key)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return &Ended{State: Aborted}, nil
		}
		return nil, err
	}
	existed, err := m.store.DeleteRelay(ctx, st.key)
	if err != nil {
		return nil, err
	}
	if !existed {
		return &Ended{State: Aborted}, nil
	}

	g := st.game
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	defer cancel()
	if fresh, err := m.src.ExportGame(ectx, st.gameID); err == nil {
		g = fresh
	} else if !errors.Is(err, lichess.ErrNotFound) {
		obslog.L().Warn("relay_export_error", zap.String("game_id", st.gameID), zap.Error(err))
	}
	sum := summarize(g, row.Orientation)
	if err := m.putFinished(ctx, row, sum); err != nil {
		return nil, err
	}
	obslog.L().Info("relay_finished", zap.String("key", st.key), zap.String("game_id", st.gameID), zap.String("status", g.Status))
	return &Ended{State: Finished, Summary: sum}, nil
}
