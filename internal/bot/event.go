package bot

import (
	"strings"

	"github.com/park285/Cheese-Puzzle-bot/internal/relay"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
)

// Event is one inbound command, already stripped of the bot prefix.
type Event struct {
	ChannelID  string
	MessageKey string
	ActorID    string
	ActorName  string
	Verb       string
	Args       []string
}

type Kind string

const (
	KindNone  Kind = "none"
	KindText  Kind = "text"
	KindBoard Kind = "board"
)

// Result is what the transport should post back. Terminal marks the end of
// a puzzle, game or relay. Stream is set when a live relay is ready to run.
type Result struct {
	Kind     Kind
	Text     string
	Board    *render.View
	Terminal bool
	RelayKey string
	Stream   *relay.Stream
}

var aliases = map[string]string{
	"p":       "puzzle",
	"a":       "answer",
	"ans":     "answer",
	"h":       "hint",
	"giveup":  "reveal",
	"b":       "board",
	"status":  "board",
	"quit":    "abandon",
	"c":       "challenge",
	"m":       "move",
	"mv":      "move",
	"w":       "watch",
	"stop":    "unwatch",
	"rating":  "rating",
	"profile": "rating",
}

// ParseCommand splits "<prefix><verb> args..." into a verb and its
// arguments. ok is false when text does not carry the prefix.
func ParseCommand(prefix, text string) (verb string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return "help", nil, true
	}
	verb = strings.ToLower(fields[0])
	if a, found := aliases[verb]; found {
		verb = a
	}
	return verb, fields[1:], true
}
