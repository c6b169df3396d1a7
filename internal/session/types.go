package session

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrConflict         = errors.New("channel is busy with another session")
	ErrConcurrentUpdate = errors.New("concurrent update detected")
	ErrCorrupted        = errors.New("session state corrupted")
)

// Kind says which session occupies a channel.
type Kind string

const (
	KindPuzzle Kind = "puzzle"
	KindGame   Kind = "game"
)

// PuzzleSession is an in-progress puzzle. Remaining shrinks from the front;
// StartFEN plus Played always reproduces FEN.
type PuzzleSession struct {
	PuzzleID  string    `json:"puzzle_id"`
	StartFEN  string    `json:"start_fen"`
	Played    []string  `json:"played"`
	Remaining []string  `json:"remaining"`
	FEN       string    `json:"fen"`
	Themes    []string  `json:"themes,omitempty"`
	Rating    int       `json:"rating,omitempty"`
	URL       string    `json:"url,omitempty"`
	ShownBy   string    `json:"shown_by,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GameSession is a two-player game seated in one channel.
type GameSession struct {
	ID          string    `json:"id"`
	WhiteID     string    `json:"white_id"`
	WhiteName   string    `json:"white_name"`
	BlackID     string    `json:"black_id"`
	BlackName   string    `json:"black_name"`
	FEN         string    `json:"fen"`
	WhitesTurn  bool      `json:"whites_turn"`
	LastMove    string    `json:"last_move,omitempty"`
	LastMoveAt  time.Time `json:"last_move_at,omitempty"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	DrawOfferBy string    `json:"draw_offer_by,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Seat returns "white", "black" or "" for a user.
func (g *GameSession) Seat(userID string) string {
	if g == nil || userID == "" {
		return ""
	}
	if g.WhiteID == userID {
		return "white"
	}
	if g.BlackID == userID {
		return "black"
	}
	return ""
}

// Opponent returns the other seated player's ID.
func (g *GameSession) Opponent(userID string) string {
	switch g.Seat(userID) {
	case "white":
		return g.BlackID
	case "black":
		return g.WhiteID
	}
	return ""
}

// Channel is the single occupancy row of a chat channel.
type Channel struct {
	ChannelID string         `json:"channel_id"`
	Kind      Kind           `json:"kind"`
	Puzzle    *PuzzleSession `json:"puzzle,omitempty"`
	Game      *GameSession   `json:"game,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func NewPuzzleChannel(channelID string, p *PuzzleSession) *Channel {
	return &Channel{ChannelID: channelID, Kind: KindPuzzle, Puzzle: p, UpdatedAt: time.Now()}
}

func NewGameChannel(channelID string, g *GameSession) *Channel {
	return &Channel{ChannelID: channelID, Kind: KindGame, Game: g, UpdatedAt: time.Now()}
}

// valid reports whether exactly one payload matching Kind is set.
func (c *Channel) valid() bool {
	if c == nil {
		return false
	}
	switch c.Kind {
	case KindPuzzle:
		return c.Puzzle != nil && c.Game == nil
	case KindGame:
		return c.Game != nil && c.Puzzle == nil
	}
	return false
}

// RelayMode is the lifecycle stage of a relay message.
type RelayMode string

const (
	RelayStreaming RelayMode = "streaming"
	RelayFinished  RelayMode = "finished"
)

// RelaySession tracks one posted relay message.
type RelaySession struct {
	MessageKey  string    `json:"message_key"`
	ChannelID   string    `json:"channel_id"`
	WatcherID   string    `json:"watcher_id"`
	GameID      string    `json:"game_id"`
	Orientation string    `json:"orientation"`
	Mode        RelayMode `json:"mode"`
	AnchorFEN   string    `json:"anchor_fen,omitempty"`
	LastFEN     string    `json:"last_fen,omitempty"`
	LastMove    string    `json:"last_move,omitempty"`
	Header      string    `json:"header,omitempty"`
	Footer      string    `json:"footer,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
