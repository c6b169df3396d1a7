package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("IRIS_BASE_URL", "http://iris:3000")
	t.Setenv("IRIS_WS_URL", "ws://iris:3000/ws")
	t.Setenv("BOT_PREFIX", "!")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.ChallengeTTL != 10*time.Minute || cfg.RelayMaxLifetime != time.Hour {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.RatingWindowBelow != 100 || cfg.RatingWindowAbove != 200 {
		t.Fatalf("window: %d/%d", cfg.RatingWindowBelow, cfg.RatingWindowAbove)
	}
	if cfg.LichessBaseURL != "https://lichess.org" {
		t.Fatalf("base url: %s", cfg.LichessBaseURL)
	}
	if cfg.IrisEgress != "http" {
		t.Fatalf("egress: %s", cfg.IrisEgress)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SESSION_TTL", "3600")
	t.Setenv("RELAY_MAX_LIFETIME", "90m")
	t.Setenv("ALLOWED_ROOMS", " r1, ,r2 ")
	t.Setenv("LICHESS_BASE_URL", "http://localhost:8080/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != time.Hour || cfg.RelayMaxLifetime != 90*time.Minute {
		t.Fatalf("durations: %v %v", cfg.SessionTTL, cfg.RelayMaxLifetime)
	}
	if len(cfg.AllowedRooms) != 2 || cfg.AllowedRooms[1] != "r2" {
		t.Fatalf("rooms: %v", cfg.AllowedRooms)
	}
	if cfg.LichessBaseURL != "http://localhost:8080" {
		t.Fatalf("base url: %s", cfg.LichessBaseURL)
	}
}

func TestLoadErrors(t *testing.T) {
	setRequired(t)
	t.Setenv("CHALLENGE_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected duration error")
	}

	setRequired(t)
	t.Setenv("CHALLENGE_TTL", "")
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected REDIS_URL error")
	}

	setRequired(t)
	t.Setenv("IRIS_EGRESS", "pigeon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected IRIS_EGRESS error")
	}
}
