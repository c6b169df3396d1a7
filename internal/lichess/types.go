package lichess

import (
	"regexp"
	"strings"
)

// Game is the subset of the game export JSON the bot reads.
type Game struct {
	ID         string  `json:"id"`
	Rated      bool    `json:"rated"`
	Variant    string  `json:"variant"`
	Speed      string  `json:"speed"`
	Perf       string  `json:"perf"`
	Status     string  `json:"status"`
	Winner     string  `json:"winner,omitempty"`
	Moves      string  `json:"moves,omitempty"`
	InitialFEN string  `json:"initialFen,omitempty"`
	LastFEN    string  `json:"lastFen,omitempty"`
	LastMove   string  `json:"lastMove,omitempty"`
	Clock      *Clock  `json:"clock,omitempty"`
	Players    Players `json:"players"`
}

type Players struct {
	White Player `json:"white"`
	Black Player `json:"black"`
}

type Player struct {
	User        *UserRef  `json:"user,omitempty"`
	Rating      int       `json:"rating,omitempty"`
	RatingDiff  *int      `json:"ratingDiff,omitempty"`
	Provisional bool      `json:"provisional,omitempty"`
	AILevel     int       `json:"aiLevel,omitempty"`
	Analysis    *Analysis `json:"analysis,omitempty"`
}

type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

type Analysis struct {
	Inaccuracy int `json:"inaccuracy"`
	Mistake    int `json:"mistake"`
	Blunder    int `json:"blunder"`
	ACPL       int `json:"acpl"`
}

type Clock struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
}

// IsAI reports whether the seat is taken by the engine.
func (p Player) IsAI() bool { return p.User == nil && p.AILevel > 0 }

// Ongoing reports whether the game can still produce moves.
func (g *Game) Ongoing() bool { return g.Status == "created" || g.Status == "started" }

// Streamable is false for correspondence and untimed games.
func (g *Game) Streamable() bool {
	return g.Speed != "correspondence" && g.Speed != "unlimited" && g.Clock != nil
}

// Frame is one line of the game stream. The first line carries the game
// object; later lines carry fen, lm, wc and bc. A later line without clocks
// means the game is over.
type Frame struct {
	FEN        string `json:"fen"`
	LM         string `json:"lm,omitempty"`
	LastMove   string `json:"lastMove,omitempty"`
	WhiteClock *int   `json:"wc,omitempty"`
	BlackClock *int   `json:"bc,omitempty"`
	ID         string `json:"id,omitempty"`
	Status     *struct {
		Name string `json:"name"`
	} `json:"status,omitempty"`
}

// Move returns the last move in UCI, whichever key carried it.
func (f *Frame) Move() string {
	if f.LM != "" {
		return f.LM
	}
	return f.LastMove
}

// HasClock is false on the terminal frame.
func (f *Frame) HasClock() bool { return f.WhiteClock != nil && f.BlackClock != nil }

// Key is the placement and side-to-move fields of the FEN, which is how
// stream frames are compared.
func (f *Frame) Key() string { return FENKey(f.FEN) }

func FENKey(fen string) string {
	parts := strings.Fields(fen)
	if len(parts) < 2 {
		return strings.Join(parts, " ")
	}
	return parts[0] + " " + parts[1]
}

// User is the subset of the public user document the bot reads.
type User struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Title    string          `json:"title,omitempty"`
	Disabled bool            `json:"disabled,omitempty"`
	Perfs    map[string]Perf `json:"perfs"`
	Count    struct {
		All int `json:"all"`
		Win int `json:"win"`
	} `json:"count"`
	PlayTime struct {
		Total int `json:"total"`
	} `json:"playTime"`
}

type Perf struct {
	Games  int  `json:"games"`
	Rating int  `json:"rating"`
	RD     int  `json:"rd"`
	Prog   int  `json:"prog"`
	Prov   bool `json:"prov,omitempty"`
	Runs   int  `json:"runs,omitempty"`
	Score  int  `json:"score,omitempty"`
}

// PuzzleRating returns the user's puzzle rating if they have one.
func (u *User) PuzzleRating() (int, bool) {
	if u == nil {
		return 0, false
	}
	p, ok := u.Perfs["puzzle"]
	if !ok || p.Rating == 0 {
		return 0, false
	}
	return p.Rating, true
}

var gameURL = regexp.MustCompile(`^https?://(?:www\.)?lichess\.org/([A-Za-z0-9]{8})`)

// ParseGameRef accepts a bare game ID or a game URL. The orientation is
// black when the reference mentions black.
func ParseGameRef(ref string) (id string, black bool) {
	ref = strings.TrimSpace(ref)
	if m := gameURL.FindStringSubmatch(ref); m != nil {
		id = m[1]
	} else if len(ref) >= 8 {
		id = ref[:8]
	} else {
		id = ref
	}
	return id, strings.Contains(ref, "black")
}

func GameURL(id string) string { return "https://lichess.org/" + id }

// GIFURL is the animated replay of a finished game.
func GIFURL(id, orientation string) string {
	if orientation != "black" {
		orientation = "white"
	}
	return "https://lichess1.org/game/export/gif/" + orientation + "/" + id + ".gif"
}
