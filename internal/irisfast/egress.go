package irisfast

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
)

// Egress sends replies over HTTP or the WebSocket.
type Egress interface {
	SendText(ctx context.Context, room, message string) error
	SendImage(ctx context.Context, room, imageBase64 string) error
}

// NewEgress picks the transport: "ws", "auto" (WebSocket with one HTTP
// fallback) or anything else for HTTP. dryrun only logs WebSocket writes.
func NewEgress(mode string, dryrun bool, c *Client, ws *WebSocket) Egress {
	switch mode {
	case "ws":
		return &wsEgress{ws: ws, dryrun: dryrun}
	case "auto":
		return &autoEgress{ws: &wsEgress{ws: ws, dryrun: dryrun}, http: &httpEgress{c: c}}
	default:
		return &httpEgress{c: c}
	}
}

type httpEgress struct{ c *Client }

func (h *httpEgress) SendText(ctx context.Context, room, message string) error {
	if h == nil || h.c == nil {
		return errors.New("http egress not available")
	}
	return h.c.SendMessage(ctx, room, message)
}

func (h *httpEgress) SendImage(ctx context.Context, room, imageBase64 string) error {
	if h == nil || h.c == nil {
		return errors.New("http egress not available")
	}
	return h.c.SendImage(ctx, room, imageBase64)
}

type wsEgress struct {
	ws     *WebSocket
	dryrun bool
}

func (w *wsEgress) SendText(ctx context.Context, room, message string) error {
	return w.send(ctx, ReplyRequest{Type: "text", Room: room, Data: message})
}

func (w *wsEgress) SendImage(ctx context.Context, room, imageBase64 string) error {
	return w.send(ctx, ReplyRequest{Type: "image", Room: room, Data: imageBase64})
}

func (w *wsEgress) send(ctx context.Context, req ReplyRequest) error {
	if w == nil || w.ws == nil {
		return ErrNotConnected
	}
	if w.dryrun {
		obslog.L().Info("ws_egress_dryrun", zap.String("type", req.Type), zap.String("room", req.Room))
		return nil
	}
	return w.ws.WriteJSON(ctx, &req)
}

func (w *wsEgress) connected() bool {
	return w != nil && w.ws != nil && w.ws.State() == WSStateConnected
}

type autoEgress struct {
	ws   *wsEgress
	http *httpEgress
}

func (a *autoEgress) SendText(ctx context.Context, room, message string) error {
	if a.ws.connected() {
		if err := a.ws.SendText(ctx, room, message); err == nil {
			return nil
		}
		obslog.L().Warn("egress_fallback", zap.String("type", "text"), zap.String("room", room))
	}
	return a.http.SendText(ctx, room, message)
}

func (a *autoEgress) SendImage(ctx context.Context, room, imageBase64 string) error {
	if a.ws.connected() {
		if err := a.ws.SendImage(ctx, room, imageBase64); err == nil {
			return nil
		}
		obslog.L().Warn("egress_fallback", zap.String("type", "image"), zap.String("room", room))
	}
	return a.http.SendImage(ctx, room, imageBase64)
}
