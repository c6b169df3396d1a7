package lichess

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestClient(t *testing.T, h fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return NewClient("http://lichess.test", WithTimeout(2*time.Second), WithStreamTimeout(5*time.Second),
		WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
}

func TestExportGame(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if !strings.HasPrefix(string(ctx.Path()), "/game/export/") {
			ctx.SetStatusCode(404)
			return
		}
		if string(ctx.Request.Header.Peek("Accept")) != "application/json" {
			ctx.SetStatusCode(400)
			return
		}
		switch string(ctx.Path()) {
		case "/game/export/abcdefgh":
			ctx.SetBodyString(`{"id":"abcdefgh","rated":true,"speed":"blitz","status":"mate","lastFen":"8/8/8/8/8/8/8/8 w - - 0 1","clock":{"initial":180,"increment":2},"players":{"white":{"user":{"name":"alice"},"rating":1500,"ratingDiff":7},"black":{"aiLevel":3}}}`)
		case "/game/export/ratelimt":
			ctx.SetStatusCode(429)
		default:
			ctx.SetStatusCode(404)
		}
	})
	ctx := context.Background()
	g, err := c.ExportGame(ctx, "abcdefgh")
	if err != nil {
		t.Fatalf("ExportGame: %v", err)
	}
	if g.Ongoing() || !g.Streamable() || g.Players.White.User.Name != "alice" || !g.Players.Black.IsAI() {
		t.Fatalf("unexpected game %+v", g)
	}
	if g.Players.White.RatingDiff == nil || *g.Players.White.RatingDiff != 7 {
		t.Fatalf("rating diff not decoded")
	}

	if _, err := c.ExportGame(ctx, "missing1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := c.ExportGame(ctx, "ratelimt"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
}

func TestUserPuzzleRating(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/api/user/bob":
			ctx.SetBodyString(`{"id":"bob","username":"Bob","perfs":{"puzzle":{"games":40,"rating":1733,"rd":80}}}`)
		case "/api/user/gone":
			ctx.SetBodyString(`{"id":"gone","disabled":true}`)
		default:
			ctx.SetStatusCode(503)
		}
	})
	ctx := context.Background()
	u, err := c.User(ctx, "bob")
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if r, ok := u.PuzzleRating(); !ok || r != 1733 {
		t.Fatalf("rating %d %v", r, ok)
	}
	if _, err := c.User(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("closed account should be ErrNotFound, got %v", err)
	}
	if _, err := c.User(ctx, "x"); !errors.Is(err, ErrServer) {
		t.Fatalf("want ErrServer, got %v", err)
	}
}

func TestStreamGame(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/api/stream/game/abcdefgh" {
			ctx.SetStatusCode(404)
			return
		}
		ctx.SetContentType("application/x-ndjson")
		ctx.SetBodyString(strings.Join([]string{
			`{"id":"abcdefgh","fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1","lastMove":"e2e4"}`,
			``,
			`{"fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b","lm":"e2e4","wc":180,"bc":180}`,
			`{"fen":"rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w","lm":"e7e5"}`,
		}, "\n") + "\n")
	})
	ctx := context.Background()
	feed, err := c.StreamGame(ctx, "abcdefgh")
	if err != nil {
		t.Fatalf("StreamGame: %v", err)
	}
	defer feed.Close()

	first, err := feed.Next(ctx)
	if err != nil || first.Move() != "e2e4" || first.ID != "abcdefgh" {
		t.Fatalf("first frame %+v %v", first, err)
	}
	second, err := feed.Next(ctx)
	if err != nil || !second.HasClock() || second.Key() != first.Key() {
		t.Fatalf("second frame %+v %v", second, err)
	}
	third, err := feed.Next(ctx)
	if err != nil || third.HasClock() || third.Move() != "e7e5" {
		t.Fatalf("terminal frame %+v %v", third, err)
	}
	if _, err := feed.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("want EOF, got %v", err)
	}

	if _, err := c.StreamGame(ctx, "nothere1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

type blockingReader struct{ ch chan struct{} }

func (b blockingReader) Read([]byte) (int, error) { <-b.ch; return 0, io.EOF }

func TestFeedCloseUnblocksNext(t *testing.T) {
	br := blockingReader{ch: make(chan struct{})}
	defer close(br.ch)
	feed := NewFeed(br)
	go func() { time.Sleep(20 * time.Millisecond); _ = feed.Close() }()
	if _, err := feed.Next(context.Background()); !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("want ErrFeedClosed, got %v", err)
	}
}

func TestClosedFeedReleasesOnKeepAlive(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	released := make(chan struct{})
	feed := startFeed(pr, func() { close(released) })
	_ = feed.Close()

	if _, err := pw.Write([]byte("\n")); err != nil {
		t.Fatalf("write keep-alive: %v", err)
	}
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatalf("closed feed kept the body open after a keep-alive line")
	}
}

func TestParseGameRef(t *testing.T) {
	id, black := ParseGameRef("https://lichess.org/AbCdEfGh/black")
	if id != "AbCdEfGh" || !black {
		t.Fatalf("url ref: %s %v", id, black)
	}
	id, black = ParseGameRef("AbCdEfGh1234")
	if id != "AbCdEfGh" || black {
		t.Fatalf("id ref: %s %v", id, black)
	}
	if GIFURL("AbCdEfGh", "") != "https://lichess1.org/game/export/gif/white/AbCdEfGh.gif" {
		t.Fatalf("gif url")
	}
	if FENKey("8/8/8/8/8/8/8/8 w - - 0 1") != "8/8/8/8/8/8/8/8 w" {
		t.Fatalf("fen key")
	}
}
