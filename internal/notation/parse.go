package notation

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ParseStatus is the outcome of one ordered parse attempt.
type ParseStatus int

const (
	ParseOK ParseStatus = iota
	IllegalSAN
	IllegalUCI
)

func (s ParseStatus) String() string {
	switch s {
	case ParseOK:
		return "ok"
	case IllegalSAN:
		return "illegal_san"
	case IllegalUCI:
		return "illegal_uci"
	}
	return "unknown"
}

// ParseResult carries the move when Status is ParseOK.
type ParseResult struct {
	Status ParseStatus
	Move   *nchess.Move
}

func (r ParseResult) OK() bool { return r.Status == ParseOK && r.Move != nil }

// Parse tries strict SAN first, then UCI. A failed parse reports the last
// attempt made.
func Parse(pos *nchess.Position, text string) ParseResult {
	if res := ParseSAN(pos, text); res.OK() {
		return res
	}
	return ParseUCI(pos, text)
}

// ParseSAN matches text against the SAN of every legal move. Case matters
// (bxc3 is a pawn, Bxc3 a bishop); check and annotation suffixes do not.
func ParseSAN(pos *nchess.Position, text string) ParseResult {
	want := cleanSAN(text)
	if want == "" {
		return ParseResult{Status: IllegalSAN}
	}
	for _, mv := range LegalMoves(pos) {
		san, _ := Canonical(pos, mv)
		if cleanSAN(san) == want {
			return ParseResult{Status: ParseOK, Move: mv}
		}
	}
	return ParseResult{Status: IllegalSAN}
}

// ParseUCI matches text against the UCI of every legal move, case-insensitively.
func ParseUCI(pos *nchess.Position, text string) ParseResult {
	want := strings.ToLower(strings.TrimSpace(text))
	if len(want) < 4 || len(want) > 5 {
		return ParseResult{Status: IllegalUCI}
	}
	for _, mv := range LegalMoves(pos) {
		if _, uci := Canonical(pos, mv); uci == want {
			return ParseResult{Status: ParseOK, Move: mv}
		}
	}
	return ParseResult{Status: IllegalUCI}
}

func cleanSAN(s string) string {
	s = sanSuffixes.Replace(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "0-0-0", "O-O-O")
	s = strings.ReplaceAll(s, "0-0", "O-O")
	return strings.TrimSpace(s)
}
