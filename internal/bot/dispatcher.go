package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/catalog"
	"github.com/park285/Cheese-Puzzle-bot/internal/challenge"
	"github.com/park285/Cheese-Puzzle-bot/internal/game"
	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
	"github.com/park285/Cheese-Puzzle-bot/internal/msgcat"
	"github.com/park285/Cheese-Puzzle-bot/internal/notation"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/player"
	"github.com/park285/Cheese-Puzzle-bot/internal/puzzle"
	"github.com/park285/Cheese-Puzzle-bot/internal/relay"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

type Deps struct {
	Prefix     string
	Messages   *msgcat.Catalog
	Selector   *catalog.Selector
	Puzzles    *puzzle.Manager
	Games      *game.Manager
	Challenges *challenge.Manager
	Relays     *relay.Manager
	Players    *player.Service
}

// Dispatcher maps chat commands onto the session managers and turns their
// results and errors into replies.
type Dispatcher struct {
	Deps
}

func NewDispatcher(d Deps) *Dispatcher {
	if d.Messages == nil {
		d.Messages = msgcat.MustDefault()
	}
	return &Dispatcher{Deps: d}
}

type vars map[string]any

// Handle runs one command. It never fails: errors become reply text.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) *Result {
	res, err := d.route(ctx, ev)
	if err != nil {
		return d.failure(ev, err)
	}
	if res == nil {
		return &Result{Kind: KindNone}
	}
	return res
}

func (d *Dispatcher) route(ctx context.Context, ev Event) (*Result, error) {
	switch ev.Verb {
	case "help":
		return d.text("help", nil), nil
	case "puzzle":
		return d.puzzle(ctx, ev)
	case "answer":
		return d.answer(ctx, ev)
	case "hint":
		return d.hint(ctx, ev)
	case "reveal":
		return d.reveal(ctx, ev)
	case "board":
		return d.board(ctx, ev)
	case "abandon":
		if err := d.Puzzles.Abandon(ctx, ev.ChannelID); err != nil {
			return nil, err
		}
		return &Result{Kind: KindText, Text: d.say("puzzle.abandoned", nil), Terminal: true}, nil
	case "themes":
		return d.themes(), nil
	case "challenge":
		return d.challenge(ev)
	case "accept":
		return d.accept(ctx, ev)
	case "decline":
		return d.decline(ev)
	case "cancel":
		if _, err := d.Challenges.Cancel(ev.ChannelID, ev.ActorID); err != nil {
			return nil, err
		}
		return d.text("challenge.cancelled", nil), nil
	case "move":
		return d.move(ctx, ev)
	case "resign":
		out, err := d.Games.Resign(ctx, ev.ChannelID, ev.ActorID)
		if err != nil {
			return nil, err
		}
		return d.ended(out, nil), nil
	case "draw":
		return d.draw(ctx, ev)
	case "abort":
		out, err := d.Games.Abort(ctx, ev.ChannelID, ev.ActorID)
		if err != nil {
			return nil, err
		}
		return d.ended(out, nil), nil
	case "watch":
		return d.watch(ctx, ev)
	case "flip":
		return d.flip(ctx, ev)
	case "unwatch":
		return d.unwatch(ctx, ev)
	case "rating":
		return d.rating(ctx, ev), nil
	}
	return d.text("common.unknown", nil), nil
}

func (d *Dispatcher) puzzle(ctx context.Context, ev Event) (*Result, error) {
	f, reject := d.filter(ctx, ev)
	if reject != nil {
		return reject, nil
	}
	p, err := d.Selector.Pick(ctx, f)
	if err != nil {
		return nil, err
	}
	v, err := d.Puzzles.Show(ctx, ev.ChannelID, ev.ActorID, p)
	if err != nil {
		return nil, err
	}
	d.Players.RefreshAsync(ev.ActorID)
	text := d.say("puzzle.shown", vars{"ID": v.PuzzleID, "Rating": v.Rating, "Side": capitalize(v.SideToMove), "URL": v.URL})
	return d.withBoard(text, puzzleBoard(v), false), nil
}

// filter reads "puzzle [id | lo-hi | lo hi | theme <name> [any]]". No
// argument selects around the caller's rating, or uniformly without one.
func (d *Dispatcher) filter(ctx context.Context, ev Event) (catalog.Filter, *Result) {
	args := ev.Args
	if len(args) == 0 {
		return catalog.Filter{Rating: d.Players.Rating(ctx, ev.ActorID)}, nil
	}
	if strings.EqualFold(args[0], "theme") {
		rest := args[1:]
		if len(rest) == 0 {
			return catalog.Filter{}, d.usage("puzzle theme <name> [any]")
		}
		ignore := false
		if len(rest) > 1 && strings.EqualFold(rest[len(rest)-1], "any") {
			ignore, rest = true, rest[:len(rest)-1]
		}
		name := strings.Join(rest, " ")
		tag, ok := catalog.ThemeTag(name)
		if !ok {
			return catalog.Filter{}, d.text("puzzle.unknown_theme", vars{"Theme": name})
		}
		return catalog.Filter{Theme: tag, Rating: d.Players.Rating(ctx, ev.ActorID), IgnoreRating: ignore}, nil
	}
	if lo, hi, ok := parseRange(args); ok {
		return catalog.Filter{HasRange: true, Min: lo, Max: hi}, nil
	}
	return catalog.Filter{ID: args[0]}, nil
}

func parseRange(args []string) (int, int, bool) {
	var a, b string
	switch {
	case len(args) == 1 && strings.Count(args[0], "-") == 1:
		a, b, _ = strings.Cut(args[0], "-")
	case len(args) == 2:
		a, b = args[0], args[1]
	default:
		return 0, 0, false
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(a))
	hi, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

func (d *Dispatcher) answer(ctx context.Context, ev Event) (*Result, error) {
	text := strings.Join(ev.Args, " ")
	if strings.TrimSpace(text) == "" {
		return d.usage("answer <move>"), nil
	}
	r, err := d.Puzzles.Answer(ctx, ev.ChannelID, ev.ActorID, text)
	if err != nil {
		return nil, err
	}
	switch r.Outcome {
	case puzzle.Incorrect:
		return d.text("puzzle.incorrect", nil), nil
	case puzzle.Solved:
		text := d.say("puzzle.solved", vars{"Move": notation.Spoiler(r.MoveSAN, r.Wrapped), "Mate": r.Mate, "URL": r.View.URL})
		return d.withBoard(text, puzzleBoard(&r.View), true), nil
	}
	text = d.say("puzzle.correct", vars{"Move": notation.Spoiler(r.MoveSAN, r.Wrapped), "Reply": notation.Spoiler(r.ReplySAN, r.Wrapped)})
	return d.withBoard(text, puzzleBoard(&r.View), false), nil
}

func (d *Dispatcher) reveal(ctx context.Context, ev Event) (*Result, error) {
	r, err := d.Puzzles.Reveal(ctx, ev.ChannelID)
	if err != nil {
		return nil, err
	}
	if r.Outcome == puzzle.Solved {
		return d.withBoard(d.say("puzzle.revealed_solved", vars{"Move": r.MoveSAN, "URL": r.View.URL}), puzzleBoard(&r.View), true), nil
	}
	return d.withBoard(d.say("puzzle.revealed", vars{"Move": r.MoveSAN, "Reply": r.ReplySAN}), puzzleBoard(&r.View), false), nil
}

func (d *Dispatcher) hint(ctx context.Context, ev Event) (*Result, error) {
	h, err := d.Puzzles.Hint(ctx, ev.ChannelID)
	if err != nil {
		return nil, err
	}
	return d.text("puzzle.hint", vars{"Piece": h.Piece, "Themes": strings.Join(h.Themes, ", ")}), nil
}

// board shows whichever session the channel holds.
func (d *Dispatcher) board(ctx context.Context, ev Event) (*Result, error) {
	pv, err := d.Puzzles.Board(ctx, ev.ChannelID)
	if err == nil {
		return d.withBoard("", puzzleBoard(pv), false), nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	gv, err := d.Games.Board(ctx, ev.ChannelID)
	if err != nil {
		return nil, err
	}
	return d.withBoard("", gameBoard(gv), false), nil
}

func (d *Dispatcher) themes() *Result {
	names := make([]string, 0, len(catalog.Themes))
	for _, t := range catalog.Themes {
		names = append(names, t.Name)
	}
	return d.text("puzzle.themes", vars{"Themes": strings.Join(names, ", ")})
}

func (d *Dispatcher) challenge(ev Event) (*Result, error) {
	args := ev.Args
	color := challenge.ColorRandom
	if n := len(args); n > 0 && isColorWord(args[n-1]) {
		color, args = challenge.ParseColorChoice(args[n-1]), args[:n-1]
	}
	target := strings.TrimSpace(strings.TrimPrefix(strings.Join(args, " "), "@"))
	ch, err := d.Challenges.Create(ev.ChannelID, ev.ActorID, ev.ActorName, target, target, color)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("challenge_create", zap.String("channel", ev.ChannelID), zap.String("id", ch.ID), zap.Bool("open", ch.Open()))
	if ch.Open() {
		return d.text("challenge.created_open", vars{"Challenger": ev.ActorName, "Color": string(color)}), nil
	}
	minutes := int(ch.ExpiresAt.Sub(ch.CreatedAt).Minutes())
	return d.text("challenge.created", vars{"Challenger": ev.ActorName, "Target": target, "Color": string(color), "Minutes": minutes}), nil
}

func isColorWord(s string) bool {
	switch strings.ToLower(s) {
	case "white", "black", "random", "w", "b":
		return true
	}
	return false
}

func (d *Dispatcher) accept(ctx context.Context, ev Event) (*Result, error) {
	ch, err := d.Challenges.Peek(ev.ChannelID, ev.ActorID, ev.ActorName)
	if err != nil {
		return nil, err
	}
	initiator := game.Player{ID: ch.ChallengerID, Name: ch.ChallengerName}
	v, err := d.Games.Accept(ctx, ev.ChannelID, initiator, game.Player{ID: ev.ActorID, Name: ev.ActorName}, ch.Color)
	if err != nil {
		return nil, err
	}
	if _, err := d.Challenges.Take(ev.ChannelID, ch.ID, ev.ActorID); err != nil {
		obslog.L().Warn("challenge_settle", zap.String("channel", ev.ChannelID), zap.String("id", ch.ID), zap.Error(err))
	}
	return d.withBoard(d.say("game.started", vars{"White": v.WhiteName, "Black": v.BlackName}), gameBoard(v), false), nil
}

func (d *Dispatcher) decline(ev Event) (*Result, error) {
	ch, err := d.Challenges.Decline(ev.ChannelID, ev.ActorID, ev.ActorName)
	if err != nil {
		return nil, err
	}
	return d.text("challenge.declined", vars{"Name": ev.ActorName, "Challenger": ch.ChallengerName}), nil
}

func (d *Dispatcher) move(ctx context.Context, ev Event) (*Result, error) {
	text := strings.Join(ev.Args, " ")
	if strings.TrimSpace(text) == "" {
		return d.usage("move <move>"), nil
	}
	r, err := d.Games.Move(ctx, ev.ChannelID, ev.ActorID, text)
	if err != nil {
		return nil, err
	}
	if r.Outcome != nil {
		return d.ended(r.Outcome, &r.View), nil
	}
	mover, next := r.View.WhiteName, r.View.BlackName
	if r.Mover == "black" {
		mover, next = next, mover
	}
	text = d.say("game.moved", vars{"Mover": mover, "SAN": r.SAN, "Next": next})
	return d.withBoard(text, gameBoard(&r.View), false), nil
}

func (d *Dispatcher) draw(ctx context.Context, ev Event) (*Result, error) {
	if len(ev.Args) > 0 && strings.EqualFold(ev.Args[0], "accept") {
		out, err := d.Games.AcceptDraw(ctx, ev.ChannelID, ev.ActorID)
		if err != nil {
			return nil, err
		}
		return d.ended(out, nil), nil
	}
	out, err := d.Games.OfferDraw(ctx, ev.ChannelID, ev.ActorID)
	if err != nil {
		return nil, err
	}
	if out != nil {
		return d.ended(out, nil), nil
	}
	return d.text("game.draw_offered", vars{"Name": ev.ActorName}), nil
}

func (d *Dispatcher) ended(out *game.Outcome, v *game.View) *Result {
	var text string
	if out.Result == game.ResultAborted {
		text = d.say("game.aborted", nil)
	} else {
		text = d.say("game.over", vars{"Winner": out.Winner, "Method": string(out.Method), "Result": out.Result.PGN()})
	}
	res := &Result{Kind: KindText, Text: text, Terminal: true}
	if v != nil {
		res.Kind, res.Board = KindBoard, gameBoard(v)
	}
	return res
}

func (d *Dispatcher) watch(ctx context.Context, ev Event) (*Result, error) {
	if len(ev.Args) == 0 {
		return d.usage("watch <lichess game url or id> [white|black]"), nil
	}
	req := relay.OpenRequest{MessageKey: ev.MessageKey, ChannelID: ev.ChannelID, WatcherID: ev.ActorID, GameRef: ev.Args[0]}
	if len(ev.Args) > 1 {
		req.Color = strings.ToLower(ev.Args[1])
	}
	o, err := d.Relays.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	if o.State == relay.Finished {
		res := d.withBoard(d.SummaryText(o.Summary), &o.Summary.View, true)
		res.RelayKey = o.MessageKey
		return res, nil
	}
	text := d.say("relay.opened", vars{"Title": o.View.Header, "Players": o.View.Footer, "Key": o.MessageKey})
	res := d.withBoard(text, &o.View, false)
	res.RelayKey, res.Stream = o.MessageKey, o.Stream
	return res, nil
}

func (d *Dispatcher) flip(ctx context.Context, ev Event) (*Result, error) {
	if len(ev.Args) == 0 {
		return d.usage("flip <key>"), nil
	}
	key := ev.Args[0]
	r, err := d.Relays.Flip(ctx, key, ev.ActorID, "")
	if err != nil {
		return nil, err
	}
	if r.State == relay.Finished && r.Summary != nil {
		res := d.withBoard(d.SummaryText(r.Summary), &r.Summary.View, false)
		res.RelayKey = key
		return res, nil
	}
	return &Result{Kind: KindText, Text: d.say("relay.flipped", vars{"Orientation": r.Orientation}), RelayKey: key}, nil
}

func (d *Dispatcher) unwatch(ctx context.Context, ev Event) (*Result, error) {
	if len(ev.Args) == 0 {
		return d.usage("unwatch <key>"), nil
	}
	if err := d.Relays.Cancel(ctx, ev.Args[0]); err != nil {
		return nil, err
	}
	return &Result{Kind: KindText, Text: d.say("relay.stopped", nil), Terminal: true, RelayKey: ev.Args[0]}, nil
}

// Ended turns the end of a live relay into its summary post. Aborted relays
// post nothing.
func (d *Dispatcher) Ended(key string, e *relay.Ended) *Result {
	if e == nil || e.State != relay.Finished || e.Summary == nil {
		return &Result{Kind: KindNone, Terminal: true, RelayKey: key}
	}
	res := d.withBoard(d.SummaryText(e.Summary), &e.Summary.View, true)
	res.RelayKey = key
	return res
}

// SummaryText formats a finished game.
func (d *Dispatcher) SummaryText(s *relay.Summary) string {
	return d.say("relay.summary", vars{
		"Title":  s.Title,
		"Status": s.Status,
		"Winner": s.Winner,
		"White":  lineText(s.White),
		"Black":  lineText(s.Black),
		"URL":    s.URL,
		"GIF":    s.GIFURL,
	})
}

func lineText(p relay.PlayerLine) string {
	if p.Label == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Label)
	if p.RatingDiff != nil {
		fmt.Fprintf(&b, " %+d", *p.RatingDiff)
	}
	if a := p.Analysis; a != nil {
		fmt.Fprintf(&b, " · %d inaccuracies, %d mistakes, %d blunders, ACPL %d", a.Inaccuracy, a.Mistake, a.Blunder, a.ACPL)
	}
	return b.String()
}

func (d *Dispatcher) rating(ctx context.Context, ev Event) *Result {
	r, err := d.Players.Refresh(ctx, ev.ActorID)
	if err != nil {
		if !errors.Is(err, player.ErrNotFound) {
			obslog.L().Warn("rating_refresh", zap.String("user_id", ev.ActorID), zap.Error(err))
		}
		r = d.Players.Rating(ctx, ev.ActorID)
	}
	if r <= 0 {
		return d.text("rating.unknown", vars{"Name": ev.ActorName})
	}
	return d.text("rating.show", vars{"Name": ev.ActorName, "Rating": r})
}

var (
	puzzleVerbs = map[string]bool{"answer": true, "hint": true, "reveal": true, "abandon": true}
	gameVerbs   = map[string]bool{"move": true, "resign": true, "draw": true, "abort": true}
)

// failure classifies err into a reply. Expected outcomes are logged at
// debug level, the rest as errors.
func (d *Dispatcher) failure(ev Event, err error) *Result {
	key, expected, terminal := "common.failed", true, false
	switch {
	case errors.Is(err, game.ErrNotSeated):
		key = "game.not_seated"
	case errors.Is(err, game.ErrNotYourTurn):
		key = "game.not_your_turn"
	case errors.Is(err, game.ErrNoDrawOffer):
		key = "game.no_draw_offer"
	case errors.Is(err, game.ErrAlreadyStarted):
		key = "game.already_started"
	case errors.Is(err, challenge.ErrSelfChallenge):
		key = "challenge.self"
	case errors.Is(err, challenge.ErrAlreadyPending):
		key = "challenge.pending"
	case errors.Is(err, challenge.ErrNoPending):
		key = "challenge.none"
	case errors.Is(err, challenge.ErrInvalidArgs), errors.Is(err, game.ErrInvalidArgs):
		key = "common.unknown"
	case errors.Is(err, relay.ErrNotWatcher):
		key = "relay.not_watcher"
	case errors.Is(err, relay.ErrNotFound), errors.Is(err, lichess.ErrNotFound):
		key = "relay.not_found"
	case errors.Is(err, catalog.ErrNotFound):
		key = "puzzle.none"
	case errors.Is(err, puzzle.ErrBadPuzzle):
		key, expected = "puzzle.bad", false
	case errors.Is(err, notation.ErrIllegalInput):
		key = "common.illegal"
	case errors.Is(err, session.ErrCorrupted):
		key, expected, terminal = "common.corrupted", false, true
	case errors.Is(err, session.ErrConcurrentUpdate):
		key = "common.concurrent"
	case errors.Is(err, session.ErrConflict):
		key = "common.conflict"
	case errors.Is(err, session.ErrNotFound):
		switch {
		case puzzleVerbs[ev.Verb]:
			key = "puzzle.none_active"
		case gameVerbs[ev.Verb]:
			key = "game.none_active"
		default:
			key = "common.not_found"
		}
	case errors.Is(err, lichess.ErrServer), errors.Is(err, lichess.ErrRateLimited), errors.Is(err, lichess.ErrTimeout), errors.Is(err, render.ErrRender):
		key = "common.upstream"
	default:
		expected = false
	}
	fields := []zap.Field{zap.String("channel", ev.ChannelID), zap.String("verb", ev.Verb), zap.String("user_id", ev.ActorID), zap.Error(err)}
	if expected {
		obslog.L().Debug("command_rejected", fields...)
	} else {
		obslog.L().Error("command_failed", fields...)
	}
	return &Result{Kind: KindText, Text: d.say(key, nil), Terminal: terminal}
}

func (d *Dispatcher) say(key string, v vars) string {
	data := map[string]any{"P": d.Prefix}
	for k, val := range v {
		data[k] = val
	}
	return d.Messages.Text(key, data)
}

func (d *Dispatcher) text(key string, v vars) *Result {
	return &Result{Kind: KindText, Text: d.say(key, v)}
}

func (d *Dispatcher) usage(usage string) *Result {
	return d.text("common.usage", vars{"Usage": usage})
}

func (d *Dispatcher) withBoard(text string, v *render.View, terminal bool) *Result {
	return &Result{Kind: KindBoard, Text: text, Board: v, Terminal: terminal}
}

func puzzleBoard(v *puzzle.View) *render.View {
	return &render.View{
		FEN:         v.FEN,
		LastMove:    v.LastMove,
		Orientation: v.Orientation,
		Header:      fmt.Sprintf("Puzzle %s (%d)", v.PuzzleID, v.Rating),
		Footer:      capitalize(v.SideToMove) + " to move",
	}
}

func gameBoard(v *game.View) *render.View {
	return &render.View{
		FEN:         v.FEN,
		LastMove:    v.LastMove,
		Orientation: v.Orientation,
		Header:      v.WhiteName + " vs " + v.BlackName,
		Footer:      capitalize(v.SideToMove) + " to move",
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
