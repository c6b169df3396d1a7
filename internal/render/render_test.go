package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestRenderPNG(t *testing.T) {
	r := NewBoardRenderer()
	ctx := context.Background()
	white, err := r.RenderPNG(ctx, View{FEN: startFEN, Header: "Find the best move for white", Footer: "puzzle abc12"})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(white))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 8*64+64 {
		t.Fatalf("width=%d", img.Bounds().Dx())
	}

	black, err := r.RenderPNG(ctx, View{FEN: startFEN, Orientation: "black", Header: "Find the best move for white", Footer: "puzzle abc12"})
	if err != nil {
		t.Fatalf("RenderPNG flipped: %v", err)
	}
	if bytes.Equal(white, black) {
		t.Fatalf("flipped board should differ")
	}
}

func TestRenderPartialFENAndLastMove(t *testing.T) {
	r := NewBoardRenderer()
	out, err := r.RenderPNG(context.Background(), View{FEN: "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b", LastMove: "e2e4"})
	if err != nil || len(out) == 0 {
		t.Fatalf("RenderPNG: %v", err)
	}
}

func TestRenderErrors(t *testing.T) {
	r := NewBoardRenderer()
	if _, err := r.RenderPNG(context.Background(), View{FEN: "garbage"}); !errors.Is(err, ErrRender) {
		t.Fatalf("want ErrRender, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.RenderPNG(ctx, View{FEN: startFEN}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSquareRect(t *testing.T) {
	a1 := squareRect(0, 0, 10, image.Pt(0, 0), false)
	if a1.Min.X != 0 || a1.Min.Y != 70 {
		t.Fatalf("a1 white-bottom at %v", a1)
	}
	a1f := squareRect(0, 0, 10, image.Pt(0, 0), true)
	if a1f.Min.X != 70 || a1f.Min.Y != 0 {
		t.Fatalf("a1 black-bottom at %v", a1f)
	}
}
