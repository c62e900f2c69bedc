package hub

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatfeed/internal/wire"
	"go.uber.org/zap"
)

func testServer(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	h := New(zap.NewNop(), opts)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.CloseAll()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readFrame(t *testing.T, ws *websocket.Conn) wire.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func TestPingGetsPong(t *testing.T) {
	_, url := testServer(t, Options{})
	ws := dial(t, url)

	if err := ws.WriteMessage(websocket.TextMessage, wire.Control(wire.TypePing)); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Type != wire.TypePong {
		t.Errorf("reply type = %q, want pong", f.Type)
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	_, url := testServer(t, Options{})
	ws := dial(t, url)

	for _, junk := range []string{"hello", `{"type":`, `{}`, `{"type":"bogus"}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(junk)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ws.WriteMessage(websocket.TextMessage, wire.Control(wire.TypePing)); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Type != wire.TypePong {
		t.Errorf("reply type = %q, want pong", f.Type)
	}
}

func TestSimulateDisconnectClosesConnection(t *testing.T) {
	h, url := testServer(t, Options{})
	ws := dial(t, url)
	waitFor(t, "registration", func() bool { return h.Len() == 1 })

	if err := ws.WriteMessage(websocket.TextMessage, wire.Control(wire.TypeSimulateDisconnect)); err != nil {
		t.Fatal(err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected read error after simulate_disconnect")
	}
	waitFor(t, "unregistration", func() bool { return h.Len() == 0 })
}

func TestIdleTimeoutEvicts(t *testing.T) {
	h, url := testServer(t, Options{IdleTimeout: 50 * time.Millisecond})
	dial(t, url)
	waitFor(t, "registration", func() bool { return h.Len() == 1 })
	waitFor(t, "eviction", func() bool { return h.Len() == 0 })
}

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	h, url := testServer(t, Options{})
	a := dial(t, url)
	b := dial(t, url)
	waitFor(t, "registration", func() bool { return h.Len() == 2 })

	evt := wire.NewMessage{ChatID: 3, MessageID: 9, TS: 1000, Sender: "Eve", Body: "Will do"}
	if n := h.Broadcast(evt); n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}

	for _, ws := range []*websocket.Conn{a, b} {
		f := readFrame(t, ws)
		if f.Type != wire.TypeNewMessage {
			t.Fatalf("type = %q, want new_message", f.Type)
		}
		got, err := f.NewMessage()
		if err != nil {
			t.Fatal(err)
		}
		if got != evt {
			t.Errorf("payload = %+v, want %+v", got, evt)
		}
	}
}

func TestBroadcastSkipsDepartedSubscriber(t *testing.T) {
	h, url := testServer(t, Options{})
	keep := dial(t, url)
	gone := dial(t, url)
	waitFor(t, "registration", func() bool { return h.Len() == 2 })

	_ = gone.Close()
	waitFor(t, "unregistration", func() bool { return h.Len() == 1 })

	if n := h.Broadcast(wire.NewMessage{ChatID: 1, MessageID: 1, TS: 1, Sender: "Bob", Body: "Got it!"}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if f := readFrame(t, keep); f.Type != wire.TypeNewMessage {
		t.Errorf("type = %q, want new_message", f.Type)
	}
}

func TestBroadcastPreservesOrder(t *testing.T) {
	h, url := testServer(t, Options{})
	ws := dial(t, url)
	waitFor(t, "registration", func() bool { return h.Len() == 1 })

	const n = 20
	for i := 1; i <= n; i++ {
		h.Broadcast(wire.NewMessage{ChatID: 1, MessageID: int64(i), TS: int64(i), Sender: "Alice", Body: "x"})
	}
	for i := 1; i <= n; i++ {
		got, err := readFrame(t, ws).NewMessage()
		if err != nil {
			t.Fatal(err)
		}
		if got.MessageID != int64(i) {
			t.Fatalf("message %d arrived as %d", i, got.MessageID)
		}
	}
}

func TestBroadcastAfterCloseAll(t *testing.T) {
	h, url := testServer(t, Options{})
	dial(t, url)
	waitFor(t, "registration", func() bool { return h.Len() == 1 })

	h.CloseAll()
	waitFor(t, "unregistration", func() bool { return h.Len() == 0 })
	if n := h.Broadcast(wire.NewMessage{ChatID: 1}); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	h, url := testServer(t, Options{})
	ws := dial(t, url)
	waitFor(t, "registration", func() bool { return h.Len() == 1 })

	big := `{"type":"ping","pad":"` + strings.Repeat("x", 4096) + `"}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatal(err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected read error after oversized frame")
	}
	waitFor(t, "unregistration", func() bool { return h.Len() == 0 })
}

func TestConnAccessors(t *testing.T) {
	h, url := testServer(t, Options{})
	dial(t, url)
	dial(t, url)
	waitFor(t, "registration", func() bool { return h.Len() == 2 })

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.conns {
		if c.ID() != id {
			t.Errorf("ID() = %q, registered as %q", c.ID(), id)
		}
		if !strings.HasPrefix(c.RemoteAddr(), "127.0.0.1:") {
			t.Errorf("RemoteAddr() = %q, want loopback", c.RemoteAddr())
		}
	}
}
