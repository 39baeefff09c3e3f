package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	v1 "charla/contracts/chat/v1"
	"charla/internal/chat"
	"charla/internal/session"
)

type testServer struct {
	srv      *httptest.Server
	store    *chat.MemoryStore
	hub      *chat.Hub
	verifier *session.JWTVerifier
}

func newChatServer(t *testing.T) *testServer {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := chat.NewMemoryStore()
	metrics := chat.NewMetrics(nil)
	hub := chat.NewHub(log, metrics)
	verifier := session.NewJWTVerifier("secreto-test", "token")
	handler := chat.NewHandler(log, store, verifier, hub, metrics)
	gw := chat.NewWSGateway(log, hub, chat.WSGatewayConfig{SendQueueSize: 256})

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/ws", gw)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, store: store, hub: hub, verifier: verifier}
}

// clientFor builds an HTTP client whose cookie jar carries userID's session.
func (ts *testServer) clientFor(t *testing.T, userID int64) *http.Client {
	t.Helper()

	tok, err := ts.verifier.Sign(userID, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("jar: %v", err)
	}
	u, err := url.Parse(ts.srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	jar.SetCookies(u, []*http.Cookie{ts.verifier.Cookie(tok)})

	return &http.Client{Jar: jar}
}

func dialAs(t *testing.T, ts *testServer, userID, conversationID int64) *Reconciler {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := Dial(ctx, Config{
		BaseURL:        ts.srv.URL,
		ConversationID: conversationID,
		HTTPClient:     ts.clientFor(t, userID),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRoundTripBothSidesSeeMessageOnce(t *testing.T) {
	ts := newChatServer(t)
	alice := ts.store.AddUser("Alice")
	bruno := ts.store.AddUser("Bruno")
	conv := ts.store.AddDirectConversation(alice, bruno)

	ra := dialAs(t, ts, alice, conv)
	rb := dialAs(t, ts, bruno, conv)

	// Both must be subscribed before the send, or the broadcast passes them by.
	waitFor(t, func() bool { return ts.hub.Subscribers(conv) == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sent, err := ra.Send(ctx, "hola")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.ID == 0 || sent.Cuerpo != "hola" {
		t.Fatalf("send response = %+v", sent)
	}

	isHola := func(m v1.Mensaje) bool { return m.ID == sent.ID }
	if _, ok := ra.WaitFor(3*time.Second, isHola); !ok {
		t.Fatal("sender never saw the message on the live stream")
	}
	if _, ok := rb.WaitFor(3*time.Second, isHola); !ok {
		t.Fatal("peer never saw the message")
	}

	// Exactly one entry on each side: no duplicate from the HTTP response.
	for name, r := range map[string]*Reconciler{"alice": ra, "bruno": rb} {
		count := 0
		for _, m := range r.Messages() {
			if m.ID == sent.ID {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("%s timeline has %d copies of message %d", name, count, sent.ID)
		}
	}
}

func TestHistoryMergedAndDeduplicated(t *testing.T) {
	ts := newChatServer(t)
	alice := ts.store.AddUser("Alice")
	bruno := ts.store.AddUser("Bruno")
	conv := ts.store.AddDirectConversation(alice, bruno)

	old, err := ts.store.CreateMessage(context.Background(), conv, bruno, "mensaje antiguo")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := dialAs(t, ts, alice, conv)

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].ID != old.ID {
		t.Fatalf("history snapshot = %+v", msgs)
	}

	// A replayed broadcast of the same id must not duplicate the entry.
	waitFor(t, func() bool { return ts.hub.Subscribers(conv) == 1 })
	ts.hub.Broadcast(conv, v1.NewMensajeFrame(v1.Mensaje{
		ID:             old.ID,
		ConversacionID: conv,
		RemitenteID:    bruno,
		Cuerpo:         "mensaje antiguo",
		CreadoEn:       old.CreatedAt,
	}))

	// Give the read loop a moment to process the duplicate.
	time.Sleep(100 * time.Millisecond)
	if got := len(r.Messages()); got != 1 {
		t.Fatalf("timeline length = %d after duplicate broadcast, want 1", got)
	}
}

func TestIgnoresOtherConversations(t *testing.T) {
	ts := newChatServer(t)
	alice := ts.store.AddUser("Alice")
	bruno := ts.store.AddUser("Bruno")
	conv := ts.store.AddDirectConversation(alice, bruno)
	other := ts.store.AddDirectConversation(alice, bruno)

	r := dialAs(t, ts, alice, conv)
	waitFor(t, func() bool { return ts.hub.Subscribers(conv) == 1 })

	// Even if a frame for another conversation reaches the socket, the
	// reconciler filters it by conversation id.
	ts.hub.Broadcast(conv, v1.NewMensajeFrame(v1.Mensaje{
		ID:             500,
		ConversacionID: other,
		RemitenteID:    bruno,
		Cuerpo:         "equivocado",
	}))

	time.Sleep(100 * time.Millisecond)
	if got := len(r.Messages()); got != 0 {
		t.Fatalf("timeline = %+v, want empty", r.Messages())
	}
}

func TestHistoryFailureStillGoesLive(t *testing.T) {
	ts := newChatServer(t)
	alice := ts.store.AddUser("Alice")
	bruno := ts.store.AddUser("Bruno")
	conv := ts.store.AddDirectConversation(alice, bruno)

	// No session cookie: the history fetch is rejected with 401, but the
	// websocket layer is unauthenticated and the session still comes up.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := Dial(ctx, Config{
		BaseURL:        ts.srv.URL,
		ConversationID: conv,
		HTTPClient:     &http.Client{},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	if got := len(r.Messages()); got != 0 {
		t.Fatalf("timeline should start empty, got %d", got)
	}

	waitFor(t, func() bool { return ts.hub.Subscribers(conv) == 1 })
	ts.hub.Broadcast(conv, v1.NewMensajeFrame(v1.Mensaje{
		ID:             1,
		ConversacionID: conv,
		RemitenteID:    bruno,
		Cuerpo:         "en vivo",
		CreadoEn:       time.Now().UTC(),
	}))

	if _, ok := r.WaitFor(3*time.Second, func(m v1.Mensaje) bool { return m.Cuerpo == "en vivo" }); !ok {
		t.Fatal("live message never arrived")
	}
}

func TestWaitForSurvivesUpdateBackpressure(t *testing.T) {
	ts := newChatServer(t)
	alice := ts.store.AddUser("Alice")
	bruno := ts.store.AddUser("Bruno")
	conv := ts.store.AddDirectConversation(alice, bruno)

	r := dialAs(t, ts, alice, conv)
	waitFor(t, func() bool { return ts.hub.Subscribers(conv) == 1 })

	// Nobody consumes Updates, so its buffer overflows and notifications
	// get dropped. WaitFor polls the timeline and must still find the last
	// message.
	const total = 100
	for i := 1; i <= total; i++ {
		ts.hub.Broadcast(conv, v1.NewMensajeFrame(v1.Mensaje{
			ID:             int64(i),
			ConversacionID: conv,
			RemitenteID:    bruno,
			Cuerpo:         "ráfaga",
			CreadoEn:       time.Now().UTC(),
		}))
	}

	if _, ok := r.WaitFor(3*time.Second, func(m v1.Mensaje) bool { return m.ID == total }); !ok {
		t.Fatalf("last message not observed; timeline has %d entries", len(r.Messages()))
	}
	if got := len(r.Messages()); got != total {
		t.Fatalf("timeline = %d entries, want %d", got, total)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ts := newChatServer(t)
	alice := ts.store.AddUser("Alice")
	bruno := ts.store.AddUser("Bruno")
	conv := ts.store.AddDirectConversation(alice, bruno)

	r := dialAs(t, ts, alice, conv)
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
