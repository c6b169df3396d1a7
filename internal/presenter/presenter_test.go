package presenter

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-Puzzle-bot/internal/render"
)

type sent struct{ kind, room, data string }

type fakeEgress struct {
	mu  sync.Mutex
	out []sent
}

func (f *fakeEgress) SendText(_ context.Context, room, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{"text", room, message})
	return nil
}

func (f *fakeEgress) SendImage(_ context.Context, room, imageBase64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{"image", room, imageBase64})
	return nil
}

type fakeRenderer struct{ fail bool }

func (r fakeRenderer) RenderPNG(_ context.Context, v render.View) ([]byte, error) {
	if r.fail {
		return nil, render.ErrRender
	}
	return []byte("png:" + v.FEN), nil
}

func TestBoardSendsTextThenImage(t *testing.T) {
	eg := &fakeEgress{}
	p := New(eg, fakeRenderer{})
	if err := p.Board(context.Background(), "room", "hello", &render.View{FEN: "8/8/8/8/8/8/8/8 w - - 0 1"}); err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(eg.out) != 2 || eg.out[0].kind != "text" || eg.out[1].kind != "image" {
		t.Fatalf("unexpected sends: %+v", eg.out)
	}
	raw, _ := base64.StdEncoding.DecodeString(eg.out[1].data)
	if !strings.HasPrefix(string(raw), "png:8/8") {
		t.Fatalf("image payload: %q", raw)
	}

	eg.out = nil
	if err := p.Board(context.Background(), "room", "", nil); err != nil || len(eg.out) != 0 {
		t.Fatalf("empty board sent %+v, %v", eg.out, err)
	}
}

func TestRenderFailureKeepsText(t *testing.T) {
	eg := &fakeEgress{}
	p := New(eg, fakeRenderer{fail: true})
	err := p.Board(context.Background(), "room", "text", &render.View{FEN: "x"})
	if !errors.Is(err, render.ErrRender) {
		t.Fatalf("expected render error, got %v", err)
	}
	if len(eg.out) != 1 || eg.out[0].data != "text" {
		t.Fatalf("text lost: %+v", eg.out)
	}
}

func TestLongTextFolds(t *testing.T) {
	eg := &fakeEgress{}
	p := New(eg, nil)
	body := "Header\n" + strings.Repeat("line\n", 100)
	if err := p.Text(context.Background(), "r", body); err != nil {
		t.Fatal(err)
	}
	got := eg.out[0].data
	if !strings.HasPrefix(got, "Header"+zeroWidthSpace) || strings.Count(got, "Header") != 1 {
		t.Fatalf("fold: %q", got[:40])
	}
}

func TestSinkThrottles(t *testing.T) {
	eg := &fakeEgress{}
	s := New(eg, fakeRenderer{}).Sink("room", 10*time.Second)
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	v := render.View{FEN: "8/8/8/8/8/8/8/8 w - - 0 1"}

	_ = s.Frame(context.Background(), "k", v)
	now = now.Add(3 * time.Second)
	_ = s.Frame(context.Background(), "k", v)
	now = now.Add(10 * time.Second)
	_ = s.Frame(context.Background(), "k", v)
	if len(eg.out) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(eg.out))
	}
}

func TestFoldEmpty(t *testing.T) {
	if Fold("  ", "h") != "  " {
		t.Fatalf("blank body changed")
	}
}
