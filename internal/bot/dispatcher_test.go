package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/Cheese-Puzzle-bot/internal/catalog"
	"github.com/park285/Cheese-Puzzle-bot/internal/challenge"
	"github.com/park285/Cheese-Puzzle-bot/internal/game"
	"github.com/park285/Cheese-Puzzle-bot/internal/irisfast"
	"github.com/park285/Cheese-Puzzle-bot/internal/lichess"
	"github.com/park285/Cheese-Puzzle-bot/internal/msgcat"
	"github.com/park285/Cheese-Puzzle-bot/internal/puzzle"
	"github.com/park285/Cheese-Puzzle-bot/internal/relay"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
	"github.com/park285/Cheese-Puzzle-bot/internal/session"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type missingGames struct{}

func (missingGames) ExportGame(context.Context, string) (*lichess.Game, error) { return nil, lichess.ErrNotFound }

func (missingGames) StreamGame(context.Context, string) (lichess.Feed, error) { return nil, lichess.ErrNotFound }

func newDispatcher(t *testing.T) (*Dispatcher, *game.MemoryRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	store, err := session.Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), time.Hour)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	src := catalog.NewMemorySource(catalog.Puzzle{ID: "fool1", FEN: startFEN, Moves: []string{"f2f3", "e7e5", "g2g4", "d8h4"}, Rating: 600, Themes: []string{"mateIn2"}})
	repo := &game.MemoryRepository{}
	d := NewDispatcher(Deps{
		Prefix:     "!",
		Messages:   msgcat.MustDefault(),
		Selector:   catalog.NewSelector(src, catalog.DefaultWindow),
		Puzzles:    puzzle.NewManager(store, nil),
		Games:      game.NewManager(store, repo),
		Challenges: challenge.NewManager(time.Minute),
		Relays:     relay.NewManager(store, missingGames{}, time.Minute),
	})
	return d, repo
}

func ev(actor, name, verb string, args ...string) Event {
	return Event{ChannelID: "room", ActorID: actor, ActorName: name, Verb: verb, Args: args}
}

func TestParseCommand(t *testing.T) {
	verb, args, ok := ParseCommand("!", "  !A ||Qh4#|| ")
	if !ok || verb != "answer" || len(args) != 1 || args[0] != "||Qh4#||" {
		t.Fatalf("got %q %v %v", verb, args, ok)
	}
	if verb, _, ok := ParseCommand("!", "!"); !ok || verb != "help" {
		t.Fatalf("bare prefix: %q %v", verb, ok)
	}
	if _, _, ok := ParseCommand("!", "hello"); ok {
		t.Fatalf("unprefixed text parsed")
	}
}

func TestPuzzleFlow(t *testing.T) {
	d, _ := newDispatcher(t)
	ctx := context.Background()

	res := d.Handle(ctx, ev("u1", "Alice", "puzzle", "fool1"))
	if res.Kind != KindBoard || !strings.Contains(res.Text, "fool1") || res.Board.Orientation != "black" {
		t.Fatalf("show: %+v", res)
	}

	res = d.Handle(ctx, ev("u1", "Alice", "answer", "Nf6"))
	if res.Kind != KindText || !strings.Contains(res.Text, "Not the move") {
		t.Fatalf("incorrect: %+v", res)
	}

	res = d.Handle(ctx, ev("u1", "Alice", "answer", "||e5||"))
	if res.Terminal || !strings.Contains(res.Text, "||e5||") || !strings.Contains(res.Text, "||g4||") {
		t.Fatalf("correct: %+v", res)
	}

	res = d.Handle(ctx, ev("u1", "Alice", "hint"))
	if !strings.Contains(res.Text, "queen") || !strings.Contains(res.Text, "Mate in 2") {
		t.Fatalf("hint: %q", res.Text)
	}

	res = d.Handle(ctx, ev("u2", "Bob", "answer", "Qh4"))
	if !res.Terminal || !strings.Contains(res.Text, "checkmate") {
		t.Fatalf("solve: %+v", res)
	}

	res = d.Handle(ctx, ev("u1", "Alice", "hint"))
	if !strings.Contains(res.Text, "no puzzle in this room") {
		t.Fatalf("after solve: %q", res.Text)
	}
}

func TestPuzzleFilters(t *testing.T) {
	d, _ := newDispatcher(t)
	ctx := context.Background()
	if res := d.Handle(ctx, ev("u1", "A", "puzzle", "2000-2100")); !strings.Contains(res.Text, "No puzzle matches") {
		t.Fatalf("range: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u1", "A", "puzzle", "theme", "mate", "in", "two")); res.Kind != KindBoard {
		t.Fatalf("theme: %+v", res)
	}
	if res := d.Handle(ctx, ev("u1", "A", "puzzle", "theme", "zugzwangish")); !strings.Contains(res.Text, "Unknown theme") {
		t.Fatalf("bad theme: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u1", "A", "themes")); !strings.Contains(res.Text, "Mate in two") {
		t.Fatalf("themes: %q", res.Text)
	}

	f, _ := d.filter(ctx, ev("u1", "A", "puzzle", "1800", "1500"))
	if !f.HasRange || f.Min != 1800 || f.Max != 1500 {
		t.Fatalf("two-number range: %+v", f)
	}
	f, _ = d.filter(ctx, ev("u1", "A", "puzzle", "00008"))
	if f.ID != "00008" {
		t.Fatalf("numeric id: %+v", f)
	}
}

func TestGameFlow(t *testing.T) {
	d, repo := newDispatcher(t)
	ctx := context.Background()

	res := d.Handle(ctx, ev("u1", "Alice", "challenge", "@Bob", "white"))
	if !strings.Contains(res.Text, "Alice challenges Bob") {
		t.Fatalf("challenge: %q", res.Text)
	}
	res = d.Handle(ctx, ev("u1", "Alice", "challenge", "@Carol"))
	if !strings.Contains(res.Text, "already pending") {
		t.Fatalf("second challenge: %q", res.Text)
	}

	res = d.Handle(ctx, ev("u2", "Bob", "accept"))
	if res.Kind != KindBoard || !strings.Contains(res.Text, "Alice (white) vs Bob (black)") {
		t.Fatalf("accept: %+v", res)
	}

	res = d.Handle(ctx, ev("u2", "Bob", "move", "e5"))
	if !strings.Contains(res.Text, "not your turn") {
		t.Fatalf("turn: %q", res.Text)
	}
	res = d.Handle(ctx, ev("u3", "Eve", "move", "e4"))
	if !strings.Contains(res.Text, "not playing") {
		t.Fatalf("seat: %q", res.Text)
	}
	res = d.Handle(ctx, ev("u1", "Alice", "move", "Ke2"))
	if !strings.Contains(res.Text, "not legal") {
		t.Fatalf("illegal: %q", res.Text)
	}

	for _, step := range []struct{ actor, name, mv string }{{"u1", "Alice", "f3"}, {"u2", "Bob", "e5"}, {"u1", "Alice", "g2g4"}} {
		res = d.Handle(ctx, ev(step.actor, step.name, "move", step.mv))
		if res.Kind != KindBoard || res.Terminal {
			t.Fatalf("move %s: %+v", step.mv, res)
		}
	}
	if !strings.Contains(res.Text, "Alice played g4. Bob to move") {
		t.Fatalf("moved text: %q", res.Text)
	}

	res = d.Handle(ctx, ev("u2", "Bob", "move", "Qh4#"))
	if !res.Terminal || !strings.Contains(res.Text, "Bob wins by checkmate (0-1)") {
		t.Fatalf("mate: %+v", res)
	}
	if len(repo.Records) != 1 {
		t.Fatalf("expected a stored result, got %d", len(repo.Records))
	}

	res = d.Handle(ctx, ev("u1", "Alice", "resign"))
	if !strings.Contains(res.Text, "no game in this room") {
		t.Fatalf("after game: %q", res.Text)
	}
}

func TestDrawAndAbort(t *testing.T) {
	d, _ := newDispatcher(t)
	ctx := context.Background()
	d.Handle(ctx, ev("u1", "Alice", "challenge"))
	if res := d.Handle(ctx, ev("u1", "Alice", "accept")); !strings.Contains(res.Text, "no pending challenge") {
		t.Fatalf("self accept: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u2", "Bob", "accept")); res.Kind != KindBoard {
		t.Fatalf("open accept: %+v", res)
	}

	if res := d.Handle(ctx, ev("u1", "Alice", "draw", "accept")); !strings.Contains(res.Text, "no draw offer") {
		t.Fatalf("draw accept: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u1", "Alice", "draw")); !strings.Contains(res.Text, "Alice offers a draw") {
		t.Fatalf("offer: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u2", "Bob", "draw")); !res.Terminal || !strings.Contains(res.Text, "Draw by agreement") {
		t.Fatalf("agree: %+v", res)
	}

	d.Handle(ctx, ev("u1", "Alice", "challenge", "@Bob"))
	d.Handle(ctx, ev("u2", "Bob", "accept"))
	if res := d.Handle(ctx, ev("u2", "Bob", "abort")); !res.Terminal || res.Text != "Game aborted." {
		t.Fatalf("abort: %+v", res)
	}
}

func TestRelayAndFallbacks(t *testing.T) {
	d, _ := newDispatcher(t)
	ctx := context.Background()
	if res := d.Handle(ctx, ev("u1", "A", "watch", "https://lichess.org/abcdefgh")); !strings.Contains(res.Text, "cannot be watched") {
		t.Fatalf("watch: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u1", "A", "flip", "deadbeef")); !strings.Contains(res.Text, "cannot be watched") {
		t.Fatalf("flip: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u1", "A", "watch")); !strings.HasPrefix(res.Text, "Usage: !watch") {
		t.Fatalf("usage: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u1", "A", "frobnicate")); !strings.Contains(res.Text, "!help") {
		t.Fatalf("unknown: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u1", "A", "board")); !strings.Contains(res.Text, "nothing to act on") {
		t.Fatalf("board: %q", res.Text)
	}
	if res := d.Handle(ctx, ev("u1", "A", "rating")); !strings.Contains(res.Text, "no puzzle rating") {
		t.Fatalf("rating: %q", res.Text)
	}
}

func TestSummaryText(t *testing.T) {
	d, _ := newDispatcher(t)
	diff := -7
	s := &relay.Summary{Title: "Rated Blitz game (3+2)", Status: "mate", Winner: "white", URL: "u", GIFURL: "g",
		White: relay.PlayerLine{Label: "Alice (2000)", Analysis: &lichess.Analysis{Inaccuracy: 1, ACPL: 20}},
		Black: relay.PlayerLine{Label: "Bob (1990)", RatingDiff: &diff}}
	got := d.SummaryText(s)
	want := "Rated Blitz game (3+2): mate, white won\n⚪ Alice (2000) · 1 inaccuracies, 0 mistakes, 0 blunders, ACPL 20\n⚫ Bob (1990) -7\nu\ng"
	if got != want {
		t.Fatalf("summary:\n%q\nwant\n%q", got, want)
	}

	got = d.SummaryText(&relay.Summary{Title: "T", URL: "u", GIFURL: "g"})
	if got != "T\nu\ng" {
		t.Fatalf("bare summary: %q", got)
	}
}

type recordingPoster struct {
	mu    sync.Mutex
	texts []string
	done  chan struct{}
}

func (p *recordingPoster) Text(_ context.Context, _ string, message string) error {
	p.mu.Lock()
	p.texts = append(p.texts, message)
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func (p *recordingPoster) Board(ctx context.Context, room, message string, _ *render.View) error {
	return p.Text(ctx, room, message)
}

func TestBotFiltersAndReplies(t *testing.T) {
	d, _ := newDispatcher(t)
	post := &recordingPoster{done: make(chan struct{}, 4)}
	b := New("!", []string{"room"}, d, post, nil, nil)
	name := "Alice"

	b.OnMessage(&irisfast.Message{Msg: "!help", Room: "other", Sender: &name})
	b.OnMessage(&irisfast.Message{Msg: "help", Room: "room", Sender: &name})
	b.OnMessage(&irisfast.Message{Msg: "!help", Room: "room", Sender: &name})
	select {
	case <-post.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("no reply")
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(post.texts) != 1 || !strings.Contains(post.texts[0], "!puzzle") {
		t.Fatalf("replies: %q", post.texts)
	}

	b.OnMessage(&irisfast.Message{Msg: "!help", Room: "room", Sender: &name})
	if len(post.texts) != 1 {
		t.Fatalf("message handled after shutdown")
	}
}

func TestAcceptIntoBusyRoomKeepsChallenge(t *testing.T) {
	d, _ := newDispatcher(t)
	ctx := context.Background()
	d.Handle(ctx, ev("u1", "Alice", "challenge", "@Bob"))
	if res := d.Handle(ctx, ev("u2", "Bob", "accept")); res.Kind != KindBoard {
		t.Fatalf("first accept: %+v", res)
	}

	d.Handle(ctx, ev("u3", "Carol", "challenge", "@Dave"))
	if res := d.Handle(ctx, ev("u4", "Dave", "accept")); !strings.Contains(res.Text, "busy with another session") {
		t.Fatalf("accept over game: %q", res.Text)
	}

	if res := d.Handle(ctx, ev("u2", "Bob", "abort")); !res.Terminal {
		t.Fatalf("abort: %+v", res)
	}
	res := d.Handle(ctx, ev("u4", "Dave", "accept"))
	if res.Kind != KindBoard || !strings.Contains(res.Text, "Carol") {
		t.Fatalf("challenge should still be pending: %+v", res)
	}
}
