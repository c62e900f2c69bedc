package hub

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatfeed/internal/bus"
	"github.com/matheus3301/chatfeed/internal/security"
	"github.com/matheus3301/chatfeed/internal/wire"
	"go.uber.org/zap"
)

// KindGenerated is the bus event kind published after a message is generated.
const KindGenerated = "feed.message_generated"

var (
	senders = []string{"Alice", "Bob", "Charlie", "Diana", "Eve", "Server"}
	bodies  = []string{
		"New update available!",
		"Check out this feature",
		"Meeting reminder",
		"Task completed",
		"Please review this",
		"Thanks for the update",
		"Got it!",
		"On my way",
		"Will do",
		"Sounds good",
	}
)

// MessageStore is the part of the store the generator writes through.
type MessageStore interface {
	ChatIDs(ctx context.Context) ([]int64, error)
	InsertMessage(ctx context.Context, chatID, ts int64, sender, body string) (int64, error)
}

// Audience receives generated messages.
type Audience interface {
	Len() int
	Broadcast(evt wire.NewMessage) int
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// Rand and Now are replaced in tests.
	Rand *rand.Rand
	Now  func() time.Time
}

// Generator produces synthetic messages at random intervals while anyone is listening.
type Generator struct {
	store    MessageStore
	audience Audience
	bus      *bus.Bus
	logger   *zap.Logger
	opts     GeneratorOptions

	rngMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}

	generated atomic.Int64
	lastAt    atomic.Int64
}

// NewGenerator creates a generator. b may be nil.
func NewGenerator(store MessageStore, audience Audience, b *bus.Bus, logger *zap.Logger, opts GeneratorOptions) *Generator {
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = opts.MinInterval
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{
		store:    store,
		audience: audience,
		bus:      b,
		logger:   logger,
		opts:     opts,
	}
}

// Start begins generating in the background.
func (g *Generator) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		g.loop(ctx)
	}()
}

// Stop stops the loop and waits for an in-flight tick to finish.
func (g *Generator) Stop() {
	if g.cancel == nil {
		return
	}
	g.cancel()
	<-g.done
}

// Stats is a point-in-time summary of the feed.
type Stats struct {
	Subscribers     int
	Generated       int64
	LastGeneratedAt int64
}

// Stats reports subscriber and generation counters.
func (g *Generator) Stats() Stats {
	return Stats{
		Subscribers:     g.audience.Len(),
		Generated:       g.generated.Load(),
		LastGeneratedAt: g.lastAt.Load(),
	}
}

// Generated returns how many messages have been generated since start.
func (g *Generator) Generated() int64 { return g.generated.Load() }

// LastGeneratedAt returns the timestamp (unix ms) of the latest generated message, or 0.
func (g *Generator) LastGeneratedAt() int64 { return g.lastAt.Load() }

func (g *Generator) loop(ctx context.Context) {
	timer := time.NewTimer(g.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			g.Tick(ctx)
			timer.Reset(g.nextInterval())
		case <-ctx.Done():
			return
		}
	}
}

// nextInterval draws uniformly from [MinInterval, MaxInterval].
func (g *Generator) nextInterval() time.Duration {
	span := g.opts.MaxInterval - g.opts.MinInterval
	if span <= 0 {
		return g.opts.MinInterval
	}
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return g.opts.MinInterval + time.Duration(g.opts.Rand.Int64N(int64(span)+1))
}

func (g *Generator) pick(chatIDs []int64) (int64, string, string) {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	r := g.opts.Rand
	return chatIDs[r.IntN(len(chatIDs))], senders[r.IntN(len(senders))], bodies[r.IntN(len(bodies))]
}

// Tick generates one message if there is at least one subscriber. It reports
// whether a message was persisted. Failures are logged and skip the tick.
func (g *Generator) Tick(ctx context.Context) (wire.NewMessage, bool) {
	if g.audience.Len() == 0 {
		return wire.NewMessage{}, false
	}

	chatIDs, err := g.store.ChatIDs(ctx)
	if err != nil {
		g.logger.Error("failed to list chats", zap.Error(err))
		return wire.NewMessage{}, false
	}
	if len(chatIDs) == 0 {
		g.logger.Debug("no chats to generate into")
		return wire.NewMessage{}, false
	}

	chatID, sender, body := g.pick(chatIDs)
	ts := g.opts.Now().UnixMilli()

	msgID, err := g.store.InsertMessage(ctx, chatID, ts, sender, body)
	if err != nil {
		g.logger.Error("failed to insert generated message", zap.Error(err), zap.Int64("chat_id", chatID))
		return wire.NewMessage{}, false
	}

	evt := wire.NewMessage{ChatID: chatID, MessageID: msgID, TS: ts, Sender: sender, Body: body}
	g.generated.Add(1)
	g.lastAt.Store(ts)

	delivered := g.audience.Broadcast(evt)
	g.logger.Debug("generated message",
		zap.Int64("chat_id", chatID),
		zap.Int64("message_id", msgID),
		zap.String("sender", sender),
		security.RedactBody(body),
		zap.Int("delivered", delivered),
	)
	if g.bus != nil {
		g.bus.Publish(bus.NewEvent(KindGenerated, evt))
	}
	return evt, true
}
