package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Puzzle-bot/internal/irisfast"
	"github.com/park285/Cheese-Puzzle-bot/internal/obslog"
	"github.com/park285/Cheese-Puzzle-bot/internal/relay"
	"github.com/park285/Cheese-Puzzle-bot/internal/render"
)

// Poster sends replies to a room.
type Poster interface {
	Text(ctx context.Context, room, message string) error
	Board(ctx context.Context, room, message string, v *render.View) error
}

// Runner drives a live relay until it ends.
type Runner interface {
	Run(ctx context.Context, st *relay.Stream, sink relay.FrameSink) (*relay.Ended, error)
}

// Bot connects inbound chat messages to the dispatcher and posts replies.
// Each command runs in its own goroutine; live relays run until their game
// ends or Shutdown is called.
type Bot struct {
	prefix  string
	allowed map[string]bool
	disp    *Dispatcher
	post    Poster
	runner  Runner
	sink    func(room string) relay.FrameSink
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(prefix string, allowedRooms []string, disp *Dispatcher, post Poster, runner Runner, sink func(room string) relay.FrameSink) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		prefix:  prefix,
		disp:    disp,
		post:    post,
		runner:  runner,
		sink:    sink,
		timeout: 30 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
	}
	if len(allowedRooms) > 0 {
		b.allowed = make(map[string]bool, len(allowedRooms))
		for _, r := range allowedRooms {
			b.allowed[r] = true
		}
	}
	return b
}

// OnMessage is the irisfast.MessageCallback for inbound chat events.
func (b *Bot) OnMessage(msg *irisfast.Message) {
	if msg == nil || msg.Msg == "" || b.ctx.Err() != nil {
		return
	}
	if b.allowed != nil && !b.allowed[msg.Room] {
		obslog.L().Debug("room_not_allowed", zap.String("room", msg.Room))
		return
	}
	verb, args, ok := ParseCommand(b.prefix, msg.Msg)
	if !ok {
		return
	}
	ev := Event{
		ChannelID: msg.Room,
		ActorID:   msg.UserID(),
		ActorName: msg.SenderName(),
		Verb:      verb,
		Args:      args,
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handle(ev)
	}()
}

func (b *Bot) handle(ev Event) {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	start := time.Now()
	res := b.disp.Handle(ctx, ev)
	obslog.L().Info("command",
		zap.String("channel", ev.ChannelID),
		zap.String("verb", ev.Verb),
		zap.String("user_id", ev.ActorID),
		zap.String("kind", string(res.Kind)),
		zap.Bool("terminal", res.Terminal),
		zap.Duration("took", time.Since(start)),
	)
	b.deliver(ctx, ev.ChannelID, res)
	if res.Stream != nil {
		b.startRelay(ev.ChannelID, res.Stream)
	}
}

func (b *Bot) deliver(ctx context.Context, room string, res *Result) {
	var err error
	switch res.Kind {
	case KindNone:
		return
	case KindBoard:
		err = b.post.Board(ctx, room, res.Text, res.Board)
	default:
		err = b.post.Text(ctx, room, res.Text)
	}
	if err != nil {
		obslog.L().Warn("reply_failed", zap.String("room", room), zap.String("kind", string(res.Kind)), zap.Error(err))
	}
}

func (b *Bot) startRelay(room string, st *relay.Stream) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ended, err := b.runner.Run(b.ctx, st, b.sink(room))
		if err != nil {
			obslog.L().Warn("relay_run", zap.String("key", st.MessageKey()), zap.Error(err))
			return
		}
		if b.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		b.deliver(ctx, room, b.disp.Ended(st.MessageKey(), ended))
	}()
}

// Shutdown stops live relays and waits for in-flight commands.
func (b *Bot) Shutdown(ctx context.Context) error {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
