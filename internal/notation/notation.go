package notation

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalInput = errors.New("move does not match any legal move")
	ErrInvalidFEN   = errors.New("invalid fen")
)

// SpoilerDelimiter wraps answers that should stay hidden in chat until clicked.
const SpoilerDelimiter = "||"

var decorations = strings.NewReplacer("|", "", "#", "", "+", "", "x", "")

var sanSuffixes = strings.NewReplacer("+", "", "#", "", "!", "", "?", "", "e.p.", "")

// Normalize reduces a SAN or UCI string to a comparable token: no whitespace,
// lower case, and no check/mate/capture/spoiler decoration.
func Normalize(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), "")
	return decorations.Replace(s)
}

// StripSpoiler removes a surrounding ||…|| pair and reports whether it was present.
func StripSpoiler(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if len(t) > 2*len(SpoilerDelimiter) && strings.HasPrefix(t, SpoilerDelimiter) && strings.HasSuffix(t, SpoilerDelimiter) {
		return strings.TrimSpace(t[len(SpoilerDelimiter) : len(t)-len(SpoilerDelimiter)]), true
	}
	return t, false
}

// Spoiler wraps s in spoiler markup when wrapped is set.
func Spoiler(s string, wrapped bool) string {
	if !wrapped {
		return s
	}
	return SpoilerDelimiter + s + SpoilerDelimiter
}

// Load builds a game positioned at fen.
func Load(fen string) (*nchess.Game, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return nchess.NewGame(opt), nil
}

// LegalMoves lists the legal moves of pos in generator order.
func LegalMoves(pos *nchess.Position) []*nchess.Move {
	if pos == nil {
		return nil
	}
	valid := pos.ValidMoves()
	out := make([]*nchess.Move, 0, len(valid))
	for i := range valid {
		out = append(out, &valid[i])
	}
	return out
}

// Canonical returns the SAN and lower-case UCI forms of mv played from pos.
func Canonical(pos *nchess.Position, mv *nchess.Move) (san, uci string) {
	if pos == nil || mv == nil {
		return "", ""
	}
	san = nchess.AlgebraicNotation{}.Encode(pos, mv)
	uci = strings.ToLower(nchess.UCINotation{}.Encode(pos, mv))
	return san, uci
}

// Matches reports whether input names mv, either as SAN with decorations
// stripped or as UCI.
func Matches(pos *nchess.Position, mv *nchess.Move, input string) bool {
	inner, _ := StripSpoiler(input)
	n := Normalize(inner)
	if n == "" {
		return false
	}
	san, uci := Canonical(pos, mv)
	return n == Normalize(san) || n == uci
}

// FindUCI returns the legal move of pos whose UCI form is uci.
func FindUCI(pos *nchess.Position, uci string) (*nchess.Move, error) {
	res := ParseUCI(pos, uci)
	if !res.OK() {
		return nil, fmt.Errorf("%w: %s", ErrIllegalInput, strings.TrimSpace(uci))
	}
	return res.Move, nil
}

// Resolve turns user text into a legal move: strict SAN, then UCI, then a
// scan of every legal move comparing normalized forms.
func Resolve(pos *nchess.Position, text string) (*nchess.Move, error) {
	inner, _ := StripSpoiler(text)
	if inner == "" {
		return nil, ErrIllegalInput
	}
	if res := Parse(pos, inner); res.OK() {
		return res.Move, nil
	}
	for _, mv := range LegalMoves(pos) {
		if Matches(pos, mv, inner) {
			return mv, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrIllegalInput, inner)
}

// IsMating reports whether playing mv from pos delivers checkmate. pos is not modified.
func IsMating(pos *nchess.Position, mv *nchess.Move) bool {
	if pos == nil || mv == nil {
		return false
	}
	next := pos.Update(mv)
	return next != nil && next.Status() == nchess.Checkmate
}

// IsCheckmateAnswer tries text as SAN, then UCI, then with a capitalized
// first letter, then against the normalized form of every legal move, and
// reports whether any legal reading mates. Stalemates never count.
func IsCheckmateAnswer(pos *nchess.Position, text string) bool {
	_, mv := MatingMove(pos, text)
	return mv != nil
}

// MatingMove is IsCheckmateAnswer returning the mating move and its SAN.
func MatingMove(pos *nchess.Position, text string) (string, *nchess.Move) {
	inner, _ := StripSpoiler(text)
	if inner == "" || pos == nil {
		return "", nil
	}
	for _, candidate := range []string{inner, capitalize(inner)} {
		if res := Parse(pos, candidate); res.OK() && IsMating(pos, res.Move) {
			san, _ := Canonical(pos, res.Move)
			return san, res.Move
		}
	}
	for _, mv := range LegalMoves(pos) {
		if Matches(pos, mv, inner) && IsMating(pos, mv) {
			san, _ := Canonical(pos, mv)
			return san, mv
		}
	}
	return "", nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// PieceName names the piece type in plain English.
func PieceName(pt nchess.PieceType) string {
	switch pt {
	case nchess.King:
		return "king"
	case nchess.Queen:
		return "queen"
	case nchess.Rook:
		return "rook"
	case nchess.Bishop:
		return "bishop"
	case nchess.Knight:
		return "knight"
	default:
		return "pawn"
	}
}

// SideName is "white" or "black".
func SideName(c nchess.Color) string {
	if c == nchess.Black {
		return "black"
	}
	return "white"
}

// CompleteFEN pads a partial FEN (stream frames carry only placement and
// side to move) with default castling, en passant and clock fields.
func CompleteFEN(fen string) string {
	parts := strings.Fields(fen)
	defaults := []string{"", "w", "-", "-", "0", "1"}
	if len(parts) == 0 || len(parts) >= len(defaults) {
		return strings.Join(parts, " ")
	}
	return strings.Join(append(parts, defaults[len(parts):]...), " ")
}

// Replay loads fen and applies the UCI moves in order.
func Replay(fen string, moves []string) (*nchess.Game, error) {
	g, err := Load(fen)
	if err != nil {
		return nil, err
	}
	for i, uci := range moves {
		mv, err := FindUCI(g.Position(), uci)
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", i+1, err)
		}
		if err := g.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("move %d %s: %w", i+1, uci, err)
		}
	}
	return g, nil
}

// LastMoveUCI returns the UCI of the game's last move, or "".
func LastMoveUCI(g *nchess.Game) string {
	moves := g.Moves()
	if len(moves) == 0 {
		return ""
	}
	return strings.ToLower(moves[len(moves)-1].String())
}
