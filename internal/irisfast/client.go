package irisfast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HeaderProvider returns the identity headers attached to every Iris call.
type HeaderProvider func() map[string]string

// Client is the bot's outbound side of Iris: config lookup, payload
// decryption and room replies.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	timeout  time.Duration
	attempts int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry bounds the attempts made for idempotent calls.
func WithRetry(n int) Option {
	return func(c *Client) { c.attempts = n }
}

// WithDial swaps the transport dialer. Tests use an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 64,
		},
		timeout:  10 * time.Second,
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// endpoint describes one Iris route. Only idempotent routes are retried;
// a reply that timed out may still have reached the room.
type endpoint struct {
	method     string
	path       string
	idempotent bool
}

var (
	configEndpoint  = endpoint{method: fasthttp.MethodGet, path: "/config", idempotent: true}
	decryptEndpoint = endpoint{method: fasthttp.MethodPost, path: "/decrypt", idempotent: true}
	replyEndpoint   = endpoint{method: fasthttp.MethodPost, path: "/reply"}
)

// StatusError is a non-2xx answer from Iris.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("iris %s: status=%d body=%s", e.Path, e.Code, e.Body)
}

// Temporary reports whether the gateway or Iris itself failed, as opposed
// to a rejected request.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case fasthttp.StatusInternalServerError, fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.call(ctx, configEndpoint, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) Decrypt(ctx context.Context, data string) (string, error) {
	var out DecryptResponse
	if err := c.call(ctx, decryptEndpoint, DecryptRequest{Data: data}, &out); err != nil {
		return "", err
	}
	return out.Decrypted, nil
}

func (c *Client) SendMessage(ctx context.Context, room, message string) error {
	return c.call(ctx, replyEndpoint, ReplyRequest{Type: "text", Room: room, Data: message}, nil)
}

// SendImage posts a base64 PNG to the room.
func (c *Client) SendImage(ctx context.Context, room, imageBase64 string) error {
	return c.call(ctx, replyEndpoint, ImageReplyRequest{Type: "image", Room: room, Data: imageBase64}, nil)
}

func (c *Client) call(ctx context.Context, ep endpoint, in, out any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := c.prepare(req, ep, in); err != nil {
		return err
	}

	tries := 1
	if ep.idempotent && c.attempts > 1 {
		tries = c.attempts
	}
	var err error
	for n := 1; n <= tries; n++ {
		if n > 1 {
			if waitErr := pause(ctx, retryDelay(n-1)); waitErr != nil {
				return err
			}
		}
		if err = c.roundTrip(req, resp, ep, c.deadline(ctx)); err == nil {
			break
		}
		if se, ok := err.(*StatusError); ok && !se.Temporary() {
			return err
		}
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("iris %s: decode: %w", ep.path, err)
	}
	return nil
}

func (c *Client) prepare(req *fasthttp.Request, ep endpoint, in any) error {
	req.Header.SetMethod(ep.method)
	req.SetRequestURI(c.baseURL + ep.path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
				continue
			}
			req.Header.Set(k, v)
		}
	}
	if in == nil {
		return nil
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("iris %s: encode: %w", ep.path, err)
	}
	req.SetBody(body)
	return nil
}

func (c *Client) roundTrip(req *fasthttp.Request, resp *fasthttp.Response, ep endpoint, dl time.Time) error {
	resp.Reset()
	if err := c.http.DoDeadline(req, resp, dl); err != nil {
		return fmt.Errorf("iris %s: %w", ep.path, err)
	}
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	body := resp.Body()
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{Path: ep.path, Code: code, Body: string(body)}
}

// deadline is the earlier of the context deadline and the client timeout.
func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryDelay is 100ms doubled per retry, flat after the sixth.
func retryDelay(n int) time.Duration {
	n = max(1, min(n, 6))
	return 100 * time.Millisecond << (n - 1)
}
