// Package link maintains a client connection to the feed server: it dials,
// sends heartbeats, delivers inbound messages on a channel and reconnects with
// exponential backoff when the link drops without being asked to.
package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatfeed/internal/bus"
	"github.com/matheus3301/chatfeed/internal/status"
	"github.com/matheus3301/chatfeed/internal/wire"
	"go.uber.org/zap"
)

// KindReconnectExhausted is published when the session stops retrying.
const KindReconnectExhausted = "session.reconnect_exhausted"

// ErrNotConnected is returned by operations that need an open link.
var ErrNotConnected = errors.New("not connected")

// Exhausted is the payload of a KindReconnectExhausted event.
type Exhausted struct {
	Source   string
	Attempts int
}

// Options configures a Session. Zero values take the defaults noted per field.
type Options struct {
	URL string
	// Name labels this session in logs and status events.
	Name string

	HeartbeatInterval    time.Duration // 10s
	ReconnectBase        time.Duration // 1s
	ReconnectCap         time.Duration // 30s
	MaxReconnectAttempts int           // 10
	// PongTimeout drops the link when a ping has gone unanswered for this long,
	// checked on each heartbeat. Zero disables it.
	PongTimeout time.Duration
	EventBuffer int // 256

	Dialer Dialer
	Bus    *bus.Bus
	Logger *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.Name == "" {
		o.Name = "link"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = 30 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{HandshakeTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Session is a single logical link to the feed server.
//
// All state is guarded by mu. Every dial, reader, heartbeat and reconnect
// timer is tagged with the epoch current when it started; bumping the epoch
// turns any of them still in flight into a no-op.
type Session struct {
	opts    Options
	logger  *zap.Logger
	machine *status.Machine

	mu             sync.Mutex
	epoch          uint64
	transport      Transport
	dialCancel     context.CancelFunc
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	attempts       int
	lastPong       time.Time
	// pingSentAt is when the oldest unanswered ping went out; zero when none is pending.
	pingSentAt time.Time
	closed         bool

	events  chan wire.NewMessage
	dropped atomic.Uint64
}

// New creates an idle session. Nothing happens until Connect.
func New(opts Options) *Session {
	opts.applyDefaults()
	return &Session{
		opts:    opts,
		logger:  opts.Logger.With(zap.String("session", opts.Name)),
		machine: status.NewMachine(opts.Bus, opts.Name),
		events:  make(chan wire.NewMessage, opts.EventBuffer),
	}
}

// Events returns the channel of inbound messages, in server send order.
// It is closed by Close.
func (s *Session) Events() <-chan wire.NewMessage { return s.events }

// Dropped returns how many inbound messages were discarded because Events was full.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// State returns the current session state.
func (s *Session) State() status.State { return s.machine.Current() }

// Attempts returns the number of reconnects scheduled since the last successful open.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// LastPong returns when the latest pong arrived, or the zero time.
func (s *Session) LastPong() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

// Connect starts opening the link. It returns immediately; progress is
// reported through status changes. No-op while connecting, connected or closed.
// After reconnecting gave up, Connect starts a fresh retry budget.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.attempts = 0
	}
	s.connectLocked()
}

// Disconnect tears the link down voluntarily: no reconnect follows.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
}

// Close disconnects, refuses further Connect calls and closes Events.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// SimulateDisconnect asks the server to drop this connection. The drop is
// involuntary from the session's point of view and triggers a reconnect.
func (s *Session) SimulateDisconnect() error {
	s.mu.Lock()
	t := s.transport
	connected := s.machine.Current() == status.Connected
	s.mu.Unlock()
	if t == nil || !connected {
		return ErrNotConnected
	}
	return t.WriteMessage(wire.Control(wire.TypeSimulateDisconnect))
}

func (s *Session) connectLocked() {
	if s.closed {
		return
	}
	switch s.machine.Current() {
	case status.Connecting, status.Connected:
		return
	}
	s.stopReconnectLocked()
	if !s.setState(status.Connecting) {
		return
	}

	s.epoch++
	epoch := s.epoch
	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel
	go s.dial(ctx, epoch)
}

func (s *Session) dial(ctx context.Context, epoch uint64) {
	t, err := s.opts.Dialer.Dial(ctx, s.opts.URL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if err != nil {
		s.logger.Warn("connect failed", zap.String("url", s.opts.URL), zap.Error(err))
		s.linkLostLocked()
		return
	}

	s.transport = t
	if !s.setState(status.Connected) {
		_ = t.Close()
		s.transport = nil
		return
	}
	s.attempts = 0
	s.pingSentAt = time.Time{}
	s.logger.Info("connected", zap.String("url", s.opts.URL))

	stop := make(chan struct{})
	s.heartbeatStop = stop
	go s.heartbeat(epoch, t, stop)
	go s.read(epoch, t)
}

func (s *Session) read(epoch uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if epoch == s.epoch {
				s.logger.Info("link closed", zap.Error(err))
				s.linkLostLocked()
			}
			s.mu.Unlock()
			return
		}

		f, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case wire.TypePong:
			s.mu.Lock()
			if epoch == s.epoch {
				s.lastPong = time.Now()
				s.pingSentAt = time.Time{}
			}
			s.mu.Unlock()
		case wire.TypeNewMessage:
			evt, err := f.NewMessage()
			if err != nil {
				s.logger.Warn("discarding malformed frame", zap.Error(err))
				continue
			}
			s.deliver(epoch, evt)
		default:
			s.logger.Warn("discarding unexpected frame", zap.String("type", string(f.Type)))
		}
	}
}

func (s *Session) deliver(epoch uint64, evt wire.NewMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.closed {
		return
	}
	select {
	case s.events <- evt:
	default:
		s.dropped.Add(1)
	}
}

func (s *Session) heartbeat(epoch uint64, t Transport, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		if s.opts.PongTimeout > 0 && !s.pingSentAt.IsZero() && time.Since(s.pingSentAt) > s.opts.PongTimeout {
			s.logger.Warn("no pong received, dropping link", zap.Duration("timeout", s.opts.PongTimeout))
			s.linkLostLocked()
			s.mu.Unlock()
			return
		}
		if s.pingSentAt.IsZero() {
			s.pingSentAt = time.Now()
		}
		s.mu.Unlock()

		if err := t.WriteMessage(wire.Control(wire.TypePing)); err != nil {
			// The reader sees the broken transport and handles the loss.
			s.logger.Debug("ping failed", zap.Error(err))
		}
	}
}

// linkLostLocked handles an involuntary loss: dial failure, transport close or
// missed pong.
func (s *Session) linkLostLocked() {
	s.epoch++
	s.stopHeartbeatLocked()
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	if s.machine.Current() != status.Disconnected {
		s.setState(status.Disconnected)
	}
	s.scheduleReconnectLocked()
}

func (s *Session) scheduleReconnectLocked() {
	if s.closed {
		return
	}
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.logger.Warn("giving up reconnecting", zap.Int("attempts", s.attempts))
		if s.opts.Bus != nil {
			s.opts.Bus.Publish(bus.NewEvent(KindReconnectExhausted, Exhausted{Source: s.opts.Name, Attempts: s.attempts}))
		}
		return
	}

	delay := Backoff(s.attempts, s.opts.ReconnectBase, s.opts.ReconnectCap)
	if !s.setState(status.Reconnecting) {
		return
	}
	s.attempts++
	s.logger.Info("reconnect scheduled", zap.Int("attempt", s.attempts), zap.Duration("delay", delay))

	epoch := s.epoch
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if epoch != s.epoch {
			return
		}
		s.reconnectTimer = nil
		s.connectLocked()
	})
}

func (s *Session) disconnectLocked() {
	s.epoch++
	s.stopReconnectLocked()
	s.stopHeartbeatLocked()
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	s.attempts = 0
	if s.machine.Current() != status.Disconnected {
		s.setState(status.Disconnected)
		s.logger.Info("disconnected")
	}
}

func (s *Session) stopReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) stopHeartbeatLocked() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

func (s *Session) setState(to status.State) bool {
	if err := s.machine.Transition(to); err != nil {
		s.logger.Error("state change rejected", zap.Error(err))
		return false
	}
	return true
}
