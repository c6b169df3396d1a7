package relay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
	"github.com/park285/Cheese-Puzzle-bot/internal/notation"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
)

// PlayerLine is one side of a summary.
type PlayerLine struct {
	Label      string
	RatingDiff *int
	Analysis   *lichess.Analysis
}

// Summary is the static result shown once a game is over.
type Summary struct {
	GameID string
	Title  string
	URL    string
	GIFURL string
	Status string
	Winner string
	White  PlayerLine
	Black  PlayerLine
	View   render.View
}

// Oriented returns a copy of s drawn from orientation.
func (s Summary) Oriented(orientation string) Summary {
	s.View.Orientation = orientation
	s.GIFURL = lichess.GIFURL(s.GameID, orientation)
	return s
}

func playerLabel(p lichess.Player) string {
	if p.User == nil {
		if p.AILevel > 0 {
			return fmt.Sprintf("Stockfish level %d", p.AILevel)
		}
		return "Anonymous"
	}
	var b strings.Builder
	if p.User.Title != "" {
		b.WriteString(p.User.Title)
		b.WriteString(" ")
	}
	b.WriteString(p.User.Name)
	if p.Rating > 0 {
		fmt.Fprintf(&b, " (%d", p.Rating)
		if p.Provisional {
			b.WriteString("?")
		}
		b.WriteString(")")
	}
	return b.String()
}

var camelWord = regexp.MustCompile(`[A-Z0-9]?[a-z]+|[A-Z0-9]+`)

// gameTitle reads like "Rated Blitz game (3+2)".
func gameTitle(g *lichess.Game) string {
	var parts []string
	if g.Rated {
		parts = append(parts, "Rated")
	} else {
		parts = append(parts, "Casual")
	}
	if v := strings.ToLower(strings.Join(camelWord.FindAllString(g.Variant, -1), " ")); v != "" && v != "standard" {
		parts = append(parts, v)
	}
	if g.Speed != "" {
		parts = append(parts, strings.ToUpper(g.Speed[:1])+g.Speed[1:])
	}
	parts = append(parts, "game")
	title := strings.Join(parts, " ")
	if g.Clock != nil {
		base := fmt.Sprintf("%d", g.Clock.Initial/60)
		if s := g.Clock.Initial % 60; s != 0 {
			base += fmt.Sprintf(":%02d", s)
		}
		title += fmt.Sprintf(" (%s+%d)", base, g.Clock.Increment)
	}
	return title
}

// orientationFor applies the watcher's choice unless one side is the
// engine, in which case the human side goes to the bottom.
func orientationFor(g *lichess.Game, wantBlack bool) string {
	switch {
	case g.Players.White.IsAI():
		return "black"
	case g.Players.Black.IsAI():
		return "white"
	case wantBlack:
		return "black"
	}
	return "white"
}

func summarize(g *lichess.Game, orientation string) *Summary {
	s := &Summary{
		GameID: g.ID,
		Title:  gameTitle(g),
		URL:    lichess.GameURL(g.ID),
		GIFURL: lichess.GIFURL(g.ID, orientation),
		Status: g.Status,
		Winner: g.Winner,
		White:  PlayerLine{Label: playerLabel(g.Players.White), RatingDiff: g.Players.White.RatingDiff, Analysis: g.Players.White.Analysis},
		Black:  PlayerLine{Label: playerLabel(g.Players.Black), RatingDiff: g.Players.Black.RatingDiff, Analysis: g.Players.Black.Analysis},
	}
	fen, last := finalPosition(g)
	s.View = render.View{FEN: fen, LastMove: last, Orientation: orientation, Header: s.Title, Footer: s.White.Label + " vs " + s.Black.Label}
	return s
}

// finalPosition prefers the exported last FEN and falls back to replaying
// the SAN move list.
func finalPosition(g *lichess.Game) (fen, lastMove string) {
	if g.LastFEN != "" {
		return g.LastFEN, g.LastMove
	}
	start := g.InitialFEN
	if start == "" {
		start = startFEN
	}
	cg, err := notation.Load(notation.CompleteFEN(start))
	if err != nil {
		return start, ""
	}
	for _, san := range strings.Fields(g.Moves) {
		mv, err := notation.Resolve(cg.Position(), san)
		if err != nil {
			break
		}
		if err := cg.Move(mv, nil); err != nil {
			break
		}
	}
	return cg.FEN(), notation.LastMoveUCI(cg)
}

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// clockText formats seconds as "1h 02m 03s", "4m 05s" or "9s".
func clockText(seconds *int) string {
	if seconds == nil {
		return "-"
	}
	sec := *seconds
	switch {
	case sec >= 3600:
		return fmt.Sprintf("%dh %02dm %02ds", sec/3600, sec%3600/60, sec%60)
	case sec >= 60:
		return fmt.Sprintf("%dm %02ds", sec/60, sec%60)
	}
	return fmt.Sprintf("%ds", sec)
}
