// Package hub tracks open subscriber connections, answers their control
// frames and fans generated messages out to them.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatfeed/internal/wire"
	"go.uber.org/zap"
)

// maxInboundFrame caps what a subscriber may send; its frames are all bodiless controls.
const maxInboundFrame = 512

// Options tunes connection handling.
type Options struct {
	// IdleTimeout closes a connection that sends nothing for this long. Zero disables it.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Hub is the registry of open subscriber connections.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates an empty hub.
func New(logger *zap.Logger, opts Options) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		conns:  make(map[string]*Conn),
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscribers are not authenticated; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register adds a connection to the fan-out set.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("subscriber connected", zap.String("conn_id", c.ID()), zap.String("remote", c.RemoteAddr()), zap.Int("subscribers", n))
}

// Unregister removes a connection from the fan-out set.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c.ID()]
	delete(h.conns, c.ID())
	n := len(h.conns)
	h.mu.Unlock()
	if ok {
		h.logger.Info("subscriber disconnected", zap.String("conn_id", c.ID()), zap.Int("subscribers", n))
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast delivers evt to every open connection and returns how many
// accepted it. Failures are per recipient and never stop the fan-out.
func (h *Hub) Broadcast(evt wire.NewMessage) int {
	f, err := wire.NewMessageFrame(evt)
	if err != nil {
		h.logger.Error("encode event", zap.Error(err))
		return 0
	}
	data, err := f.Encode()
	if err != nil {
		h.logger.Error("encode event", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if !c.IsOpen() {
			continue
		}
		if err := c.Send(data); err != nil {
			h.logger.Debug("fan-out skipped subscriber", zap.String("conn_id", c.ID()), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll closes every registered connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		_ = c.Close()
	}
}

// ServeHTTP upgrades the request to a websocket and serves it until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.serve(newConn(ws, h.opts.WriteTimeout))
}

func (h *Hub) serve(c *Conn) {
	c.ws.SetReadLimit(maxInboundFrame)
	h.Register(c)
	defer func() {
		h.Unregister(c)
		_ = c.Close()
	}()

	for {
		if h.opts.IdleTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))
		}
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("subscriber read ended", zap.String("conn_id", c.ID()), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			h.logger.Warn("discarding non-text frame", zap.String("conn_id", c.ID()), zap.Int("type", msgType))
			continue
		}

		f, err := wire.Decode(data)
		if err != nil {
			h.logger.Warn("discarding malformed frame", zap.String("conn_id", c.ID()), zap.Error(err))
			continue
		}

		switch f.Type {
		case wire.TypePing:
			if err := c.Send(wire.Control(wire.TypePong)); err != nil {
				h.logger.Debug("pong not queued", zap.String("conn_id", c.ID()), zap.Error(err))
			}
		case wire.TypeSimulateDisconnect:
			h.logger.Info("closing subscriber on request", zap.String("conn_id", c.ID()))
			return
		default:
			h.logger.Warn("discarding unexpected frame", zap.String("conn_id", c.ID()), zap.String("type", string(f.Type)))
		}
	}
}
