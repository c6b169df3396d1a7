package lichess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
)

// ErrFeedClosed is returned by Next after Close.
var ErrFeedClosed = errors.New("lichess: feed closed")

// Feed yields the frames of a game stream.
type Feed interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// StreamGame opens the NDJSON move stream of a game. The first frame
// describes the game and its current position.
func (c *Client) StreamGame(ctx context.Context, id string) (Feed, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	c.prepare(req, "/api/stream/game/"+url.PathEscape(strings.TrimSpace(id)), "application/x-ndjson")

	if err := c.stream.DoDeadline(req, resp, c.computeDeadline(ctx, c.streamTimeout)); err != nil {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, classifyTransport(err)
	}
	if err := classifyStatus(resp.StatusCode(), nil); err != nil {
		_ = resp.CloseBodyStream()
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, err
	}
	body := resp.BodyStream()
	if body == nil {
		body = bytes.NewReader(resp.Body())
	}
	return startFeed(body, func() {
		_ = resp.CloseBodyStream()
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}), nil
}

type frameOrErr struct {
	f   *Frame
	err error
}

// readerFeed decodes frames on its own goroutine so Next can honor ctx and
// Close while a read is blocked. After Close the goroutine releases the
// connection at the next line it reads, which on lichess is at most one
// keep-alive interval away; a silent peer holds it until the stream deadline.
type readerFeed struct {
	frames chan frameOrErr
	done   chan struct{}
	once   sync.Once
}

// NewFeed decodes an NDJSON game stream from r.
func NewFeed(r io.Reader) Feed { return startFeed(r, nil) }

func startFeed(r io.Reader, release func()) *readerFeed {
	f := &readerFeed{frames: make(chan frameOrErr), done: make(chan struct{})}
	go func() {
		if release != nil {
			defer release()
		}
		br := bufio.NewReader(r)
		for {
			fr, err := readFrame(br)
			if fr == nil && err == nil {
				select {
				case <-f.done:
					return
				default:
					continue
				}
			}
			select {
			case f.frames <- frameOrErr{fr, err}:
			case <-f.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return f
}

func (f *readerFeed) Next(ctx context.Context) (*Frame, error) {
	select {
	case <-f.done:
		return nil, ErrFeedClosed
	default:
	}
	select {
	case v := <-f.frames:
		return v.f, v.err
	case <-f.done:
		return nil, ErrFeedClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *readerFeed) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

// readFrame decodes the next line as a Frame. A blank keep-alive line yields
// a nil frame and nil error; the end of the body is io.EOF.
func readFrame(br *bufio.Reader) (*Frame, error) {
	line, err := br.ReadBytes('\n')
	line = bytes.TrimSpace(line)
	if len(line) > 0 {
		var fr Frame
		if jerr := json.Unmarshal(line, &fr); jerr != nil {
			return nil, fmt.Errorf("decode frame: %w", jerr)
		}
		return &fr, nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, classifyTransport(err)
	}
	return nil, nil
}
