package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
)

const DefaultTTL = 24 * time.Hour

// Store keeps channel and relay rows in Redis. Every mutation of an existing
// row goes through an optimistic WATCH/MULTI/EXEC transaction on that row.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Open dials REDIS_URL and verifies the connection.
func Open(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for session store")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(rdb, ttl), nil
}

func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func channelKey(id string) string { return "chan:" + strings.TrimSpace(id) }
func relayKey(key string) string  { return "relay:" + strings.TrimSpace(key) }

// Channel loads the occupancy row of a channel.
func (s *Store) Channel(ctx context.Context, channelID string) (*Channel, error) {
	var c Channel
	if err := s.getJSON(ctx, s.rdb, channelKey(channelID), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateChannel runs fn against the current row (nil when absent) inside a
// WATCH transaction. fn returns the whole next row or nil to delete; a row
// equal to the stored one is not rewritten. An error wrapping ErrCorrupted deletes
// the row; any other error aborts without writing. A concurrent writer
// makes the call fail with ErrConcurrentUpdate.
func (s *Store) UpdateChannel(ctx context.Context, channelID string, fn func(cur *Channel) (*Channel, error)) (*Channel, error) {
	key := channelKey(channelID)
	var out *Channel
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var cur *Channel
		var c Channel
		var before []byte
		switch err := s.getJSON(ctx, tx, key, &c); {
		case err == nil:
			if !c.valid() {
				return s.dropCorrupted(ctx, tx, key, fmt.Errorf("%w: channel %s has no payload", ErrCorrupted, channelID))
			}
			before, _ = json.Marshal(&c)
			cur = &c
		case errors.Is(err, ErrCorrupted):
			return s.dropCorrupted(ctx, tx, key, err)
		case !errors.Is(err, ErrNotFound):
			return err
		}

		next, ferr := fn(cur)
		if ferr != nil {
			if errors.Is(ferr, ErrCorrupted) && cur != nil {
				return s.dropCorrupted(ctx, tx, key, ferr)
			}
			return ferr
		}
		if next != nil && before != nil {
			if after, _ := json.Marshal(next); string(after) == string(before) {
				out = next
				return nil
			}
		}
		pipe := tx.TxPipeline()
		if next == nil {
			pipe.Del(ctx, key)
		} else {
			next.ChannelID = strings.TrimSpace(channelID)
			next.UpdatedAt = time.Now()
			raw, merr := json.Marshal(next)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, raw, s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = next
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		obslog.L().Warn("session_concurrent_update", zap.String("channel", channelID))
		return nil, ErrConcurrentUpdate
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteChannel removes a channel row; absent rows are not an error.
func (s *Store) DeleteChannel(ctx context.Context, channelID string) error {
	return s.rdb.Del(ctx, channelKey(channelID)).Err()
}

// Relay loads the relay row bound to a message key.
func (s *Store) Relay(ctx context.Context, messageKey string) (*RelaySession, error) {
	var r RelaySession
	if err := s.getJSON(ctx, s.rdb, relayKey(messageKey), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PutRelay writes a relay row unconditionally.
func (s *Store) PutRelay(ctx context.Context, r *RelaySession) error {
	if r == nil || strings.TrimSpace(r.MessageKey) == "" {
		return fmt.Errorf("relay row requires a message key")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, relayKey(r.MessageKey), raw, s.relayTTL(r)).Err()
}

// UpdateRelay is the relay counterpart of UpdateChannel. A missing row is
// ErrNotFound and fn is not called; fn returning nil deletes the row.
func (s *Store) UpdateRelay(ctx context.Context, messageKey string, fn func(cur *RelaySession) (*RelaySession, error)) (*RelaySession, error) {
	key := relayKey(messageKey)
	var out *RelaySession
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var cur RelaySession
		if err := s.getJSON(ctx, tx, key, &cur); err != nil {
			if errors.Is(err, ErrCorrupted) {
				return s.dropCorrupted(ctx, tx, key, err)
			}
			return err
		}
		before, _ := json.Marshal(&cur)
		next, ferr := fn(&cur)
		if ferr != nil {
			return ferr
		}
		if next != nil && next.equal(before) {
			out = next
			return nil
		}
		pipe := tx.TxPipeline()
		if next == nil {
			pipe.Del(ctx, key)
		} else {
			raw, merr := json.Marshal(next)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, key, raw, s.relayTTL(next))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = next
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConcurrentUpdate
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRelay removes a relay row and reports whether it existed.
func (s *Store) DeleteRelay(ctx context.Context, messageKey string) (bool, error) {
	n, err := s.rdb.Del(ctx, relayKey(messageKey)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// streaming rows live until their deadline plus a grace period; finished rows use the store TTL
func (s *Store) relayTTL(r *RelaySession) time.Duration {
	if r.Mode == RelayStreaming && !r.ExpiresAt.IsZero() {
		if d := time.Until(r.ExpiresAt) + 5*time.Minute; d > 0 {
			return d
		}
	}
	return s.ttl
}

func (r *RelaySession) equal(raw []byte) bool {
	after, err := json.Marshal(r)
	return err == nil && string(after) == string(raw)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) getJSON(ctx context.Context, c getter, key string, dst any) error {
	raw, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, key, err)
	}
	return nil
}

func (s *Store) dropCorrupted(ctx context.Context, tx *redis.Tx, key string, cause error) error {
	pipe := tx.TxPipeline()
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.TxFailedErr) {
		return err
	}
	obslog.L().Error("session_corrupted_dropped", zap.String("key", key), zap.Error(cause))
	return cause
}

// ParseRedisURL converts redis://[:pass@]host:port/db into client options.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
