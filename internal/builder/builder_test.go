package builder

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/Cheese-Puzzle-bot/internal/bot"
	"github.com/park285/Cheese-Puzzle-bot/internal/config"
)

func TestNewWithoutDatabase(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	cfg := &config.AppConfig{
		BotPrefix:        "!",
		RedisURL:         fmt.Sprintf("redis://%s/0", mr.Addr()),
		SessionTTL:       time.Hour,
		ChallengeTTL:     time.Minute,
		RelayMaxLifetime: time.Minute,
		LichessBaseURL:   "http://127.0.0.1:1",
	}
	d, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Close()

	res := d.Dispatcher.Handle(context.Background(), bot.Event{ChannelID: "room", ActorID: "u1", ActorName: "A", Verb: "puzzle"})
	if !strings.Contains(res.Text, "No puzzle matches") {
		t.Fatalf("empty catalog: %+v", res)
	}
	res = d.Dispatcher.Handle(context.Background(), bot.Event{ChannelID: "room", ActorID: "u1", ActorName: "A", Verb: "help"})
	if !strings.Contains(res.Text, "!watch") {
		t.Fatalf("help: %q", res.Text)
	}
}

func TestNewRejectsBadRedis(t *testing.T) {
	if _, err := New(context.Background(), &config.AppConfig{RedisURL: "http://nope"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(context.Background(), nil); err == nil {
		t.Fatalf("expected nil config error")
	}
}
