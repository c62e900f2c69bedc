package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrConnClosed is returned when sending to a connection that is no longer open.
	ErrConnClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when a connection's outgoing queue is full.
	ErrSlowConsumer = errors.New("outgoing queue full")
)

const (
	outgoingQueue = 64
	closeGrace    = time.Second
)

// Conn is one subscriber connection. All writes go through a single writer
// goroutine fed by a bounded queue, so frames reach the peer in Send order.
type Conn struct {
	id           string
	remote       string
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	open         atomic.Bool
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	c := &Conn{
		id:           uuid.NewString(),
		remote:       ws.RemoteAddr().String(),
		ws:           ws,
		send:         make(chan []byte, outgoingQueue),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.open.Store(true)
	go c.writePump()
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remote }

// IsOpen reports whether the transport is still open.
func (c *Conn) IsOpen() bool { return c.open.Load() }

// Send queues a text frame without blocking.
func (c *Conn) Send(data []byte) error {
	if !c.open.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSlowConsumer
	}
}

// Close sends a close frame and releases the transport. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writePump() {
	for {
		select {
		case data := <-c.send:
			if c.writeTimeout > 0 {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
