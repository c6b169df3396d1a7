package challenge

import (
	"strings"
	"time"
)

type ColorChoice string

const (
	ColorWhite  ColorChoice = "white"
	ColorBlack  ColorChoice = "black"
	ColorRandom ColorChoice = "random"
)

func ParseColorChoice(s string) ColorChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return ColorWhite
	case "black", "b":
		return ColorBlack
	default:
		return ColorRandom
	}
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
)

// Challenge is an invitation to play in one channel. An empty TargetID is
// an open challenge anyone but the challenger may accept.
type Challenge struct {
	ID             string
	ChannelID      string
	ChallengerID   string
	ChallengerName string
	TargetID       string
	TargetName     string
	Color          ColorChoice
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         Status
}

func (c *Challenge) Open() bool { return c.TargetID == "" }

func (c *Challenge) pendingAt(now time.Time) bool {
	return c.Status == StatusPending && now.Before(c.ExpiresAt)
}
