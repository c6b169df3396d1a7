package presenter

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/irisfast"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/relay"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
)

// Presenter delivers text and rendered boards to a chat room.
type Presenter struct {
	egress   irisfast.Egress
	renderer render.Renderer
	foldAt   int
}

func New(egress irisfast.Egress, renderer render.Renderer) *Presenter {
	return &Presenter{egress: egress, renderer: renderer, foldAt: 400}
}

// Text sends message as is, folding long messages behind "see more".
func (p *Presenter) Text(ctx context.Context, room, message string) error {
	if p == nil || strings.TrimSpace(message) == "" {
		return nil
	}
	if len(message) > p.foldAt {
		message = Fold(message, firstLine(message))
	}
	return p.egress.SendText(ctx, room, message)
}

// Board sends the text first and then the board image. A render failure
// still delivers the text.
func (p *Presenter) Board(ctx context.Context, room, message string, v *render.View) error {
	if p == nil {
		return nil
	}
	if err := p.Text(ctx, room, message); err != nil {
		return err
	}
	if v == nil || p.renderer == nil {
		return nil
	}
	png, err := p.renderer.RenderPNG(ctx, *v)
	if err != nil {
		obslog.L().Warn("board_render_failed", zap.String("room", room), zap.String("fen", v.FEN), zap.Error(err))
		return err
	}
	return p.egress.SendImage(ctx, room, base64.StdEncoding.EncodeToString(png))
}

// Sink returns a relay.FrameSink posting live boards to room. Chat messages
// cannot be edited, so frames closer than minGap to the previous one are
// dropped; the last frame of a game always arrives through the summary.
func (p *Presenter) Sink(room string, minGap time.Duration) *Sink {
	return &Sink{p: p, room: room, minGap: minGap, now: time.Now}
}

type Sink struct {
	p      *Presenter
	room   string
	minGap time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

var _ relay.FrameSink = (*Sink)(nil)

func (s *Sink) Frame(ctx context.Context, messageKey string, v render.View) error {
	s.mu.Lock()
	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.minGap {
		s.mu.Unlock()
		return nil
	}
	s.last = now
	s.mu.Unlock()

	err := s.p.Board(ctx, s.room, "", &v)
	if err != nil && !errors.Is(err, render.ErrRender) {
		obslog.L().Warn("relay_frame_send", zap.String("key", messageKey), zap.String("room", s.room), zap.Error(err))
	}
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return ""
}
