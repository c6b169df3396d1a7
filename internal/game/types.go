package game

import (
	"errors"
	"time"

	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

var (
	ErrInvalidArgs    = errors.New("invalid game arguments")
	ErrNotSeated      = errors.New("not seated in this game")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrAlreadyStarted = errors.New("game already has moves")
	ErrNoDrawOffer    = errors.New("no draw offer to accept")
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Player is a seat candidate.
type Player struct {
	ID   string
	Name string
}

// Result of a finished game, by color.
type Result string

const (
	ResultWhite   Result = "white"
	ResultBlack   Result = "black"
	ResultDraw    Result = "draw"
	ResultAborted Result = "aborted"
)

// PGN maps the result to a PGN result token.
func (r Result) PGN() string {
	switch r {
	case ResultWhite:
		return "1-0"
	case ResultBlack:
		return "0-1"
	case ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

type Method string

const (
	MethodCheckmate            Method = "checkmate"
	MethodStalemate            Method = "stalemate"
	MethodInsufficientMaterial Method = "insufficient material"
	MethodFivefold             Method = "fivefold repetition"
	MethodSeventyFive          Method = "seventy-five move rule"
	MethodResignation          Method = "resignation"
	MethodAgreement            Method = "agreement"
	MethodAborted              Method = "aborted"
)

// Outcome describes how a game ended.
type Outcome struct {
	Result   Result
	Method   Method
	WinnerID string
	Winner   string
}

// View is the renderable state after a command. Orientation puts the side
// that just moved at the bottom.
type View struct {
	GameID      string
	FEN         string
	LastMove    string
	SideToMove  string
	Orientation string
	WhiteName   string
	BlackName   string
	MovesSAN    []string
}

type MoveResult struct {
	SAN     string
	Mover   string
	View    View
	Outcome *Outcome
}

// Record is a finished game as persisted.
type Record struct {
	Game      session.GameSession
	ChannelID string
	Outcome   Outcome
	EndedAt   time.Time
}
