package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/Cheese-Puzzle-bot/internal/notation"
)

var ErrRender = errors.New("board render failed")

// View is everything needed to draw one board image.
type View struct {
	FEN         string
	LastMove    string // UCI
	Orientation string // side at the bottom: "white" or "black"
	Header      string
	Footer      string
}

// Flipped reports whether black is drawn at the bottom.
func (v View) Flipped() bool { return strings.EqualFold(v.Orientation, "black") }

type Renderer interface {
	RenderPNG(ctx context.Context, v View) ([]byte, error)
}

type BoardRenderer struct {
	squareSize int
	textScale  int
}

func NewBoardRenderer() *BoardRenderer { return &BoardRenderer{squareSize: 64, textScale: 2} }

var (
	lightSquare    = color.RGBA{0xf2, 0xd0, 0xa2, 0xff}
	darkSquare     = color.RGBA{0xaa, 0x72, 0x49, 0xff}
	lastMoveTint   = color.NRGBA{R: 255, G: 228, B: 120, A: 130}
	backgroundFill = color.RGBA{0x26, 0x24, 0x21, 0xff}
	captionColor   = color.RGBA{0xec, 0xef, 0xff, 0xff}
	coordColor     = color.RGBA{0xc8, 0xc2, 0xb8, 0xff}
)

func (r *BoardRenderer) RenderPNG(ctx context.Context, v View) ([]byte, error) {
	g, err := notation.Load(notation.CompleteFEN(v.FEN))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	board := g.Position().Board()

	sq := r.squareSize
	margin := sq / 2
	lineH := basicfont.Face7x13.Height * r.textScale
	top, bottom := margin, margin
	if v.Header != "" {
		top += lineH + 8
	}
	if v.Footer != "" {
		bottom += lineH + 8
	}
	w := 8*sq + 2*margin
	h := 8*sq + top + bottom
	origin := image.Point{X: margin, Y: top}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, draw.Src)

	flipped := v.Flipped()
	from, to, hasLast := parseUCISquares(v.LastMove)
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			rect := squareRect(file, rank, sq, origin, flipped)
			clr := darkSquare
			if (file+rank)%2 == 1 {
				clr = lightSquare
			}
			draw.Draw(img, rect, image.NewUniform(clr), image.Point{}, draw.Src)
			s := nchess.NewSquare(nchess.File(file), nchess.Rank(rank))
			if hasLast && (s == from || s == to) {
				draw.Draw(img, rect, image.NewUniform(lastMoveTint), image.Point{}, draw.Over)
			}
			p := board.Piece(s)
			if p == nchess.NoPiece {
				continue
			}
			pimg, err := pieceImage(p, sq)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRender, err)
			}
			draw.Draw(img, rect, pimg, image.Point{}, draw.Over)
		}
	}
	r.drawCoordinates(img, sq, origin, flipped)
	if v.Header != "" {
		r.drawCaption(img, v.Header, image.Pt(margin, margin/2+lineH))
	}
	if v.Footer != "" {
		r.drawCaption(img, v.Footer, image.Pt(margin, top+8*sq+margin/2+lineH))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode png: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// squareRect maps a board square to pixels; rank 0 is rank 1.
func squareRect(file, rank, sq int, origin image.Point, flipped bool) image.Rectangle {
	col, row := file, 7-rank
	if flipped {
		col, row = 7-file, rank
	}
	x := origin.X + col*sq
	y := origin.Y + row*sq
	return image.Rect(x, y, x+sq, y+sq)
}

func parseUCISquares(uci string) (from, to nchess.Square, ok bool) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 {
		return 0, 0, false
	}
	f, okf := squareOf(uci[0:2])
	t, okt := squareOf(uci[2:4])
	return f, t, okf && okt
}

func squareOf(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

func (r *BoardRenderer) drawCoordinates(dst draw.Image, sq int, origin image.Point, flipped bool) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(coordColor), Face: face}
	for i := 0; i < 8; i++ {
		file, rank := i, 7-i
		if flipped {
			file, rank = 7-i, i
		}
		d.Dot = fixed.P(origin.X+i*sq+sq/2-3, origin.Y+8*sq+face.Height)
		d.DrawString(string(rune('a' + file)))
		d.Dot = fixed.P(origin.X-face.Width-4, origin.Y+i*sq+sq/2+4)
		d.DrawString(string(rune('1' + rank)))
	}
}

// drawCaption renders text with the bitmap face and scales it up.
func (r *BoardRenderer) drawCaption(dst draw.Image, text string, baseline image.Point) {
	face := basicfont.Face7x13
	maxW := dst.Bounds().Dx() - 2*baseline.X
	text = fitText(face, text, maxW/r.textScale)
	width := font.MeasureString(face, text).Ceil()
	if width <= 0 {
		return
	}
	small := image.NewRGBA(image.Rect(0, 0, width, face.Height))
	d := &font.Drawer{Dst: small, Src: image.NewUniform(captionColor), Face: face, Dot: fixed.P(0, face.Ascent)}
	d.DrawString(text)
	target := image.Rect(baseline.X, baseline.Y-face.Height*r.textScale, baseline.X+width*r.textScale, baseline.Y)
	draw.NearestNeighbor.Scale(dst, target, small, small.Bounds(), draw.Over, nil)
}

func fitText(face font.Face, text string, maxW int) string {
	if font.MeasureString(face, text).Ceil() <= maxW {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		cand := string(runes) + "..."
		if font.MeasureString(face, cand).Ceil() <= maxW {
			return cand
		}
	}
	return ""
}
