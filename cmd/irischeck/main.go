// Command irischeck checks the services the bot depends on: the Iris HTTP
// API and WebSocket, Redis and the lichess API.
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/irisfast"
	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

func main() {
	_ = obslog.InitFromEnv()
	defer obslog.Sync()
	log := obslog.L()

	baseURL := os.Getenv("IRIS_BASE_URL")
	if baseURL == "" {
		log.Fatal("IRIS_BASE_URL is required")
	}
	headers := func() map[string]string {
		m := map[string]string{}
		for env, h := range map[string]string{"X_USER_ID": "X-User-Id", "X_USER_EMAIL": "X-User-Email", "X_SESSION_ID": "X-Session-Id"} {
			if v := os.Getenv(env); v != "" {
				m[h] = v
			}
		}
		return m
	}

	failed := false
	client := irisfast.NewClient(baseURL, irisfast.WithHeaderProvider(headers), irisfast.WithTimeout(8*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	cfg, err := client.GetConfig(ctx)
	cancel()
	if err != nil {
		failed = true
		log.Error("iris_config", zap.Error(err))
	} else {
		log.Info("iris_config", zap.Int("port", cfg.Port), zap.Int("polling", cfg.PollingSpeed), zap.Int("rate", cfg.MessageRate), zap.String("endpoint", cfg.WebserverEndpoint))
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		store, err := session.Open(ctx, redisURL, 0)
		cancel()
		if err != nil {
			failed = true
			log.Error("redis", zap.Error(err))
		} else {
			log.Info("redis", zap.String("status", "ok"))
			_ = store.Close()
		}
	}

	if name := os.Getenv("LICHESS_CHECK_USER"); name != "" {
		base := os.Getenv("LICHESS_BASE_URL")
		if base == "" {
			base = lichess.DefaultBaseURL
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		u, err := lichess.NewClient(base).User(ctx, name)
		cancel()
		if err != nil {
			failed = true
			log.Error("lichess", zap.Error(err))
		} else {
			rating, _ := u.PuzzleRating()
			log.Info("lichess", zap.String("user", name), zap.Int("puzzle_rating", rating))
		}
	}

	if wsURL := os.Getenv("IRIS_WS_URL"); wsURL != "" {
		ws := irisfast.NewWebSocket(wsURL, 0)
		ws.SetHeaderProvider(headers)
		ws.OnStateChange(func(state irisfast.WebSocketState) { log.Info("iris_ws_state", zap.String("state", state.String())) })
		ws.OnMessage(func(msg *irisfast.Message) {
			log.Info("iris_ws_message", zap.String("room", msg.Room), zap.String("from", msg.SenderName()), zap.String("text", msg.Msg))
		})
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := ws.Connect(cctx)
		ccancel()
		if err != nil {
			failed = true
			log.Error("iris_ws_connect", zap.Error(err))
		} else {
			// observe traffic for a short window
			time.Sleep(10 * time.Second)
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = ws.Close(sctx)
			scancel()
		}
	}

	if failed {
		obslog.Sync()
		os.Exit(1)
	}
}
