package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/bot"
	"github.com/park285/Cheese-Puzzle-bot/internal/builder"
	appcfg "github.com/park285/Cheese-Puzzle-bot/internal/config"
	"github.com/park285/Cheese-Puzzle-bot/internal/irisfast"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/presenter"
	"github.com/park285/Cheese-Puzzle-bot/internal/relay"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer obslog.Sync()
	log := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatal("config_error", zap.Error(err))
	}

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.XUserID != "" {
			h["X-User-Id"] = cfg.XUserID
		}
		if cfg.XUserEmail != "" {
			h["X-User-Email"] = cfg.XUserEmail
		}
		if cfg.XSessionID != "" {
			h["X-Session-Id"] = cfg.XSessionID
		}
		return h
	}

	client := irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(headers))
	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		log.Info("iris_ws_state", zap.String("state", state.String()))
	})

	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	deps, err := builder.New(initCtx, cfg)
	cancelInit()
	if err != nil {
		log.Fatal("init_error", zap.Error(err))
	}
	defer deps.Close()

	egress := irisfast.NewEgress(cfg.IrisEgress, false, client, ws)
	out := presenter.New(egress, render.NewBoardRenderer())
	b := bot.New(cfg.BotPrefix, cfg.AllowedRooms, deps.Dispatcher, out, deps.Relays,
		func(room string) relay.FrameSink { return out.Sink(room, cfg.RelayFrameGap) })
	ws.OnMessage(b.OnMessage)

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ws.Connect(cctx); err != nil {
		cancel()
		log.Fatal("iris_ws_connect", zap.Error(err))
	}
	cancel()
	log.Info("bot_started", zap.String("prefix", cfg.BotPrefix), zap.String("egress", cfg.IrisEgress), zap.Strings("rooms", cfg.AllowedRooms))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("bot_stopping", zap.String("signal", sig.String()))

	sctx, scancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer scancel()
	_ = ws.Close(sctx)
	if err := b.Shutdown(sctx); err != nil {
		log.Warn("bot_shutdown", zap.Error(err))
	}
}
