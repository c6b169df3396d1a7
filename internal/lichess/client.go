package lichess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
)

var (
	ErrNotFound    = errors.New("lichess: not found")
	ErrRateLimited = errors.New("lichess: rate limited")
	ErrServer      = errors.New("lichess: server error")
	ErrTimeout     = errors.New("lichess: timeout")
)

const DefaultBaseURL = "https://lichess.org"

type Client struct {
	baseURL string
	token   string
	http    *fasthttp.Client
	stream  *fasthttp.Client

	defaultTimeout time.Duration
	streamTimeout  time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

// WithStreamTimeout bounds how long a single game stream stays open.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Client) { c.streamTimeout = d }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithDial routes both clients through dial; tests pass an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) {
		c.http.Dial = dial
		c.stream.Dial = dial
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		stream:         &fasthttp.Client{StreamResponseBody: true, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		streamTimeout:  time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExportGame fetches the JSON export of a game including its final position.
func (c *Client) ExportGame(ctx context.Context, id string) (*Game, error) {
	var g Game
	q := url.Values{"lastFen": {"true"}, "clocks": {"false"}, "evals": {"false"}, "accuracy": {"false"}}
	if err := c.getJSON(ctx, "/game/export/"+url.PathEscape(strings.TrimSpace(id))+"?"+q.Encode(), &g); err != nil {
		return nil, err
	}
	if g.ID == "" {
		g.ID = strings.TrimSpace(id)
	}
	return &g, nil
}

// User fetches a public user document.
func (c *Client) User(ctx context.Context, name string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	var u User
	if err := c.getJSON(ctx, "/api/user/"+url.PathEscape(name), &u); err != nil {
		return nil, err
	}
	if u.Disabled {
		return nil, fmt.Errorf("%w: account %s is closed", ErrNotFound, name)
	}
	return &u, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	c.prepare(req, path, "application/json")

	start := time.Now()
	err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx, c.defaultTimeout))
	if err != nil {
		return classifyTransport(err)
	}
	if err := classifyStatus(resp.StatusCode(), resp.Body()); err != nil {
		obslog.L().Warn("lichess_http_error", zap.String("path", path), zap.Int("status", resp.StatusCode()), zap.Error(err))
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	obslog.L().Debug("lichess_http", zap.String("path", path), zap.Duration("took", time.Since(start)))
	return nil
}

func (c *Client) prepare(req *fasthttp.Request, path, accept string) {
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", accept)
	req.Header.SetUserAgent("cheese-puzzle-bot")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) computeDeadline(ctx context.Context, d time.Duration) time.Time {
	clientDL := time.Now().Add(d)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func classifyTransport(err error) error {
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServer, err)
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == fasthttp.StatusNotFound:
		return ErrNotFound
	case status == fasthttp.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return fmt.Errorf("%w: status=%d", ErrServer, status)
	}
	return fmt.Errorf("lichess api error: status=%d body=%s", status, truncate(string(body), 256))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
