package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "charla/contracts/chat/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(testLogger(), NewMetrics(nil))
}

func recvFrame(t *testing.T, c *Client) v1.MensajeFrame {
	t.Helper()

	select {
	case data := <-c.Send:
		var f v1.MensajeFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return v1.MensajeFrame{}
	}
}

func TestBroadcastScopedToConversation(t *testing.T) {
	hub := newTestHub(t)

	a := NewClient("a", 8)
	b := NewClient("b", 8)
	c := NewClient("c", 8)
	for _, cl := range []*Client{a, b, c} {
		hub.Accept(cl)
	}

	hub.Subscribe(a, 1)
	hub.Subscribe(b, 1)
	hub.Subscribe(c, 2)

	hub.Broadcast(1, v1.NewMensajeFrame(v1.Mensaje{ID: 10, ConversacionID: 1, Cuerpo: "hola"}))

	if f := recvFrame(t, a); f.ID != 10 {
		t.Fatalf("a got frame %+v", f)
	}
	if f := recvFrame(t, b); f.ID != 10 {
		t.Fatalf("b got frame %+v", f)
	}
	select {
	case data := <-c.Send:
		t.Fatalf("subscriber of another conversation received %s", data)
	default:
	}
}

func TestBroadcastOrderPerClient(t *testing.T) {
	hub := newTestHub(t)

	a := NewClient("a", 8)
	b := NewClient("b", 8)
	hub.Accept(a)
	hub.Accept(b)
	hub.Subscribe(a, 1)
	hub.Subscribe(b, 1)

	for i := int64(1); i <= 3; i++ {
		hub.Broadcast(1, v1.NewMensajeFrame(v1.Mensaje{ID: i, ConversacionID: 1}))
	}

	for _, cl := range []*Client{a, b} {
		for want := int64(1); want <= 3; want++ {
			if f := recvFrame(t, cl); f.ID != want {
				t.Fatalf("client %s: got id %d, want %d", cl.SessionID, f.ID, want)
			}
		}
	}
}

func TestBroadcastDropsOnFullQueue(t *testing.T) {
	hub := newTestHub(t)

	full := NewClient("full", 1)
	healthy := NewClient("healthy", 8)
	hub.Accept(full)
	hub.Accept(healthy)
	hub.Subscribe(full, 1)
	hub.Subscribe(healthy, 1)

	hub.Broadcast(1, v1.NewMensajeFrame(v1.Mensaje{ID: 1, ConversacionID: 1}))
	hub.Broadcast(1, v1.NewMensajeFrame(v1.Mensaje{ID: 2, ConversacionID: 1}))

	// The slow client keeps only the first frame; the healthy one gets both.
	if f := recvFrame(t, full); f.ID != 1 {
		t.Fatalf("full client got %d, want 1", f.ID)
	}
	select {
	case data := <-full.Send:
		t.Fatalf("full client should have dropped the second frame, got %s", data)
	default:
	}

	if f := recvFrame(t, healthy); f.ID != 1 {
		t.Fatalf("healthy client first frame = %d", f.ID)
	}
	if f := recvFrame(t, healthy); f.ID != 2 {
		t.Fatalf("healthy client second frame = %d", f.ID)
	}
}

func TestBroadcastSkipsClosedClients(t *testing.T) {
	hub := newTestHub(t)

	gone := NewClient("gone", 8)
	hub.Accept(gone)
	hub.Subscribe(gone, 1)
	gone.Close()

	hub.Broadcast(1, v1.NewMensajeFrame(v1.Mensaje{ID: 1, ConversacionID: 1}))

	select {
	case data := <-gone.Send:
		t.Fatalf("closed client received %s", data)
	default:
	}
}

func TestSubscribeUnknownClientIgnored(t *testing.T) {
	hub := newTestHub(t)

	stranger := NewClient("stranger", 8)
	hub.Subscribe(stranger, 1)

	if n := hub.Subscribers(1); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	hub := newTestHub(t)

	c := NewClient("c", 8)
	hub.Accept(c)
	hub.Subscribe(c, 1)
	hub.Subscribe(c, 2)

	if n := hub.Connections(); n != 1 {
		t.Fatalf("connections = %d, want 1", n)
	}

	hub.Remove(c)
	hub.Remove(c)

	if n := hub.Connections(); n != 0 {
		t.Fatalf("connections after remove = %d, want 0", n)
	}
	if n := hub.Subscribers(1); n != 0 {
		t.Fatalf("conversation 1 still has %d subscribers", n)
	}
	if n := hub.Subscribers(2); n != 0 {
		t.Fatalf("conversation 2 still has %d subscribers", n)
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("removed client not signalled")
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	c := NewClient("x", 4)
	c.Close()
	c.Close() // must not panic

	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
}
