package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// piece outlines on a 100x100 canvas
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="50" cy="30" r="14"/>
<path d="M38 44 L62 44 L70 78 L30 78 Z"/>`,
	nchess.Rook: `<path d="M26 16 L36 16 L36 26 L45 26 L45 16 L55 16 L55 26 L64 26 L64 16 L74 16 L74 36 L67 36 L67 74 L33 74 L33 36 L26 36 Z"/>`,
	nchess.Knight: `<path d="M32 80 L72 80 C72 56 70 36 60 24 C54 16 44 12 34 14 L36 22 C28 26 20 38 22 48 L30 54 L40 46 C44 52 38 64 32 80 Z"/>
<circle cx="40" cy="28" r="3"/>`,
	nchess.Bishop: `<circle cx="50" cy="14" r="6"/>
<path d="M50 20 C34 32 30 52 40 66 L60 66 C70 52 66 32 50 20 Z"/>
<path d="M36 68 L64 68 L64 76 L36 76 Z"/>`,
	nchess.Queen: `<circle cx="20" cy="28" r="5"/><circle cx="35" cy="22" r="5"/><circle cx="50" cy="18" r="5"/><circle cx="65" cy="22" r="5"/><circle cx="80" cy="28" r="5"/>
<path d="M20 32 L32 62 L36 28 L46 58 L50 24 L54 58 L64 28 L68 62 L80 32 L72 78 L28 78 Z"/>`,
	nchess.King: `<path d="M46 6 L54 6 L54 14 L62 14 L62 22 L54 22 L54 30 L46 30 L46 22 L38 22 L38 14 L46 14 Z"/>
<path d="M28 40 C28 30 72 30 72 40 L64 76 L36 76 Z"/>`,
}

const pieceBase = `<path d="M22 80 L78 80 L78 92 L22 92 Z"/>`

func pieceSVG(p nchess.Piece) (string, error) {
	shape, ok := pieceShapes[p.Type()]
	if !ok {
		return "", fmt.Errorf("no shape for piece %v", p)
	}
	fill := "#f8f8f8"
	if p.Color() == nchess.Black {
		fill = "#2b2b2b"
	}
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100" width="100" height="100">`)
	fmt.Fprintf(&b, `<g fill="%s" stroke="#000000" stroke-width="3">`, fill)
	b.WriteString(shape)
	b.WriteString(pieceBase)
	b.WriteString(`</g></svg>`)
	return b.String(), nil
}

type pieceKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

// pieceImage rasterizes one piece at size×size, cached per size.
func pieceImage(p nchess.Piece, size int) (image.Image, error) {
	key := pieceKey{p, size}
	pieceCacheMu.RLock()
	img, ok := pieceCache[key]
	pieceCacheMu.RUnlock()
	if ok {
		return img, nil
	}

	src, err := pieceSVG(p)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = rgba
	pieceCacheMu.Unlock()
	return rgba, nil
}
