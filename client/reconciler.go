// Package client implements the realtime reconciler used by Charla frontends
// and tooling: it merges the HTTP message history of a conversation with the
// live websocket stream into one deduplicated, ordered timeline.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "charla/contracts/chat/v1"

	"github.com/coder/websocket"
)

// Config configures a reconciler session for one conversation.
type Config struct {
	// BaseURL is the server's HTTP base, e.g. "http://localhost:8080".
	BaseURL string

	// WSURL overrides the websocket endpoint. When empty it is derived from
	// BaseURL ("/ws", scheme switched to ws/wss).
	WSURL string

	ConversationID int64

	// HTTPClient carries the session cookie; it is used for both the history
	// fetch and the websocket handshake. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Reconciler holds the merged timeline of one conversation.
//
// Lifecycle: Dial fetches history, connects, joins, and starts the read loop.
// Messages returns an ordered snapshot at any point; Close is idempotent.
type Reconciler struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger

	conn *websocket.Conn

	mu       sync.Mutex
	messages []v1.Mensaje
	seen     map[int64]struct{}

	updates chan v1.Mensaje

	done      chan struct{}
	closeOnce sync.Once
}

// Dial establishes a reconciler session: history first, then the live stream.
//
// A history fetch failure is logged and tolerated; the timeline starts empty
// and fills from live events. A websocket failure is fatal.
func Dial(ctx context.Context, cfg Config) (*Reconciler, error) {
	if cfg.ConversationID <= 0 {
		return nil, errors.New("client: missing conversation id")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("client: missing base url")
	}

	r := &Reconciler{
		cfg:     cfg,
		http:    cfg.HTTPClient,
		log:     cfg.Logger,
		seen:    make(map[int64]struct{}),
		updates: make(chan v1.Mensaje, 64),
		done:    make(chan struct{}),
	}
	if r.http == nil {
		r.http = http.DefaultClient
	}
	if r.log == nil {
		r.log = slog.Default()
	}

	if err := r.fetchHistory(ctx); err != nil {
		r.log.Info("client.history.fail", "conversacion_id", cfg.ConversationID, "err", err)
	}

	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = deriveWSURL(cfg.BaseURL)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: r.http,
	})
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", wsURL, err)
	}
	r.conn = conn

	join := v1.JoinFrame{Tipo: v1.TipoJoin, ConversacionID: cfg.ConversationID}
	data, err := json.Marshal(join)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join encode")
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		_ = conn.Close(websocket.StatusAbnormalClosure, "join write")
		return nil, fmt.Errorf("client: join: %w", err)
	}

	go r.readLoop()

	return r, nil
}

// Messages returns an ordered snapshot of the merged timeline.
func (r *Reconciler) Messages() []v1.Mensaje {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]v1.Mensaje, len(r.messages))
	copy(out, r.messages)
	return out
}

// Updates delivers live messages as they are appended to the timeline.
// Delivery is best-effort: a slow consumer misses notifications (the
// message is still in Messages). The channel closes when the session ends.
func (r *Reconciler) Updates() <-chan v1.Mensaje {
	return r.updates
}

// Send posts a new message over HTTP. The timeline is NOT mutated locally;
// the authoritative copy arrives back through the websocket broadcast.
func (r *Reconciler) Send(ctx context.Context, cuerpo string) (v1.Mensaje, error) {
	body, err := json.Marshal(map[string]any{
		"conversacionId": r.cfg.ConversationID,
		"cuerpo":         cuerpo,
	})
	if err != nil {
		return v1.Mensaje{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(r.cfg.BaseURL, "/")+"/mensajes", bytes.NewReader(body))
	if err != nil {
		return v1.Mensaje{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return v1.Mensaje{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return v1.Mensaje{}, fmt.Errorf("client: send: status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var m v1.Mensaje
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return v1.Mensaje{}, err
	}
	return m, nil
}

// Close tears the session down. Safe to call more than once.
func (r *Reconciler) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		if r.conn != nil {
			_ = r.conn.Close(websocket.StatusNormalClosure, "bye")
		}
	})
	return nil
}

func (r *Reconciler) fetchHistory(ctx context.Context) error {
	url := fmt.Sprintf("%s/conversaciones/%d/mensajes",
		strings.TrimRight(r.cfg.BaseURL, "/"), r.cfg.ConversationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var history []v1.Mensaje
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range history {
		if _, dup := r.seen[m.ID]; dup {
			continue
		}
		r.seen[m.ID] = struct{}{}
		r.messages = append(r.messages, m)
	}
	return nil
}

func (r *Reconciler) readLoop() {
	defer close(r.updates)
	defer r.Close()

	ctx := context.Background()

	for {
		select {
		case <-r.done:
			return
		default:
		}

		_, data, err := r.conn.Read(ctx)
		if err != nil {
			select {
			case <-r.done:
			default:
				r.log.Info("client.read.fail", "err", err)
			}
			return
		}

		tipo, err := v1.PeekTipo(data)
		if err != nil {
			r.log.Info("client.frame.bad_json", "err", err)
			continue
		}

		switch tipo {
		case v1.TipoMensaje:
			var frame v1.MensajeFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				r.log.Info("client.mensaje.bad", "err", err)
				continue
			}
			r.accept(frame.Mensaje)
		case v1.TipoError:
			var frame v1.ErrorFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			r.log.Info("client.server_error", "error", frame.Error)
		default:
			r.log.Debug("client.frame.ignored", "tipo", tipo)
		}
	}
}

// accept appends a live message if it belongs to this conversation and has
// not been seen, then signals Updates without ever blocking the read loop.
func (r *Reconciler) accept(m v1.Mensaje) {
	if m.ConversacionID != r.cfg.ConversationID {
		return
	}

	r.mu.Lock()
	if _, dup := r.seen[m.ID]; dup {
		r.mu.Unlock()
		return
	}
	r.seen[m.ID] = struct{}{}
	r.messages = append(r.messages, m)
	r.mu.Unlock()

	select {
	case r.updates <- m:
	default:
	}
}

// deriveWSURL flips an http(s) base URL into the ws(s) endpoint.
func deriveWSURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

// WaitFor blocks until the timeline contains a message matching pred or the
// timeout elapses. It polls Messages rather than consuming Updates, so a
// dropped update notification cannot make it miss a delivered message.
// Intended for tests and smoke tooling.
func (r *Reconciler) WaitFor(timeout time.Duration, pred func(v1.Mensaje) bool) (v1.Mensaje, bool) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, m := range r.Messages() {
			if pred(m) {
				return m, true
			}
		}

		select {
		case <-deadline:
			return v1.Mensaje{}, false
		case <-ticker.C:
		}
	}
}
