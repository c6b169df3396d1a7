package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	IrisBaseURL string
	IrisWSURL   string
	IrisEgress  string // http | ws | auto

	BotPrefix string

	XUserID    string
	XUserEmail string
	XSessionID string

	RedisURL    string
	DatabaseURL string

	AllowedRooms []string

	SessionTTL       time.Duration
	ChallengeTTL     time.Duration
	RelayMaxLifetime time.Duration
	RelayFrameGap    time.Duration

	LichessBaseURL string
	LichessToken   string

	MessagesDir string

	RatingWindowBelow int
	RatingWindowAbove int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		SessionTTL:        24 * time.Hour,
		ChallengeTTL:      10 * time.Minute,
		RelayMaxLifetime:  time.Hour,
		RelayFrameGap:     20 * time.Second,
		LichessBaseURL:    "https://lichess.org",
		RatingWindowBelow: 100,
		RatingWindowAbove: 200,
	}

	cfg.IrisBaseURL = strings.TrimSpace(os.Getenv("IRIS_BASE_URL"))
	cfg.IrisWSURL = strings.TrimSpace(os.Getenv("IRIS_WS_URL"))
	cfg.BotPrefix = strings.TrimSpace(os.Getenv("BOT_PREFIX"))
	cfg.IrisEgress = strings.ToLower(strings.TrimSpace(os.Getenv("IRIS_EGRESS")))
	if cfg.IrisEgress == "" {
		cfg.IrisEgress = "http"
	}

	cfg.XUserID = strings.TrimSpace(os.Getenv("X_USER_ID"))
	cfg.XUserEmail = strings.TrimSpace(os.Getenv("X_USER_EMAIL"))
	cfg.XSessionID = strings.TrimSpace(os.Getenv("X_SESSION_ID"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.AllowedRooms = splitList(os.Getenv("ALLOWED_ROOMS"))

	if v := strings.TrimSpace(os.Getenv("LICHESS_BASE_URL")); v != "" {
		cfg.LichessBaseURL = strings.TrimRight(v, "/")
	}
	cfg.LichessToken = strings.TrimSpace(os.Getenv("LICHESS_TOKEN"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	var err error
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.ChallengeTTL, err = durationEnv("CHALLENGE_TTL", cfg.ChallengeTTL); err != nil {
		return nil, err
	}
	if cfg.RelayMaxLifetime, err = durationEnv("RELAY_MAX_LIFETIME", cfg.RelayMaxLifetime); err != nil {
		return nil, err
	}
	if cfg.RelayFrameGap, err = durationEnv("RELAY_FRAME_GAP", cfg.RelayFrameGap); err != nil {
		return nil, err
	}
	if cfg.RatingWindowBelow, err = intEnv("RATING_WINDOW_BELOW", cfg.RatingWindowBelow); err != nil {
		return nil, err
	}
	if cfg.RatingWindowAbove, err = intEnv("RATING_WINDOW_ABOVE", cfg.RatingWindowAbove); err != nil {
		return nil, err
	}

	if cfg.IrisBaseURL == "" {
		return nil, errors.New("IRIS_BASE_URL is required")
	}
	if cfg.IrisWSURL == "" {
		return nil, errors.New("IRIS_WS_URL is required")
	}
	switch cfg.IrisEgress {
	case "http", "ws", "auto":
	default:
		return nil, fmt.Errorf("IRIS_EGRESS must be http, ws or auto, got %q", cfg.IrisEgress)
	}
	if cfg.BotPrefix == "" {
		return nil, errors.New("BOT_PREFIX is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// durationEnv accepts Go durations ("90m") or plain seconds ("3600").
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%s must be positive", key)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
