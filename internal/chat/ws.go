package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	v1 "charla/contracts/chat/v1"

	"github.com/coder/websocket"
)

// WSGatewayConfig carries the tunable knobs of the gateway.
// Zero values fall back to the package defaults.
type WSGatewayConfig struct {
	// AllowedOriginPatterns is passed to websocket.Accept for cross-origin
	// handshakes (host patterns, e.g. "localhost", "app.example.com").
	AllowedOriginPatterns []string

	SendQueueSize int
	WriteTimeout  time.Duration

	// PingInterval paces server-initiated pings. A peer that stops
	// answering pongs is evicted; an idle but live listener is not.
	PingInterval time.Duration
}

// WSGateway is the websocket entrypoint. It accepts connections, registers
// them with the hub, subscribes them on join frames, and drains their send
// queues. No authentication happens at this layer.
type WSGateway struct {
	log *slog.Logger
	hub *Hub

	originPatterns []string
	sendQueueSize  int
	writeTimeout   time.Duration
	pingInterval   time.Duration
}

// NewWSGateway constructs a gateway bound to hub.
func NewWSGateway(log *slog.Logger, hub *Hub, cfg WSGatewayConfig) *WSGateway {
	g := &WSGateway{
		log:            log,
		hub:            hub,
		originPatterns: cfg.AllowedOriginPatterns,
		sendQueueSize:  cfg.SendQueueSize,
		writeTimeout:   cfg.WriteTimeout,
		pingInterval:   cfg.PingInterval,
	}
	if g.sendQueueSize < minSendQueueSize {
		g.sendQueueSize = defaultSendQueueSize
	}
	if g.writeTimeout <= 0 {
		g.writeTimeout = defaultWriteTimeout
	}
	if g.pingInterval <= 0 {
		g.pingInterval = defaultPingInterval
	}
	return g
}

// ServeHTTP adapter so the gateway can be mounted as an http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the connection's realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}

	client := NewClient(sessionID, g.sendQueueSize)
	g.hub.Accept(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown is idempotent. Removal from the hub happens before the
	// connection close so broadcasters stop targeting this client first.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Remove(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case data := <-client.Send:
				if err := g.write(ctx, conn, data); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	// Liveness is probed with server pings, not a read deadline: a
	// listen-only subscriber never sends frames and must stay connected.
	// Pongs are consumed by the concurrent Read below.
	go func() {
		ticker := time.NewTicker(g.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, g.writeTimeout)
				err := conn.Ping(pingCtx)
				pingCancel()
				if err != nil {
					select {
					case <-ctx.Done():
					default:
						g.log.Info("ws.ping.fail", "session_id", sessionID, "err", err)
						shutdown(websocket.StatusAbnormalClosure, "ping failed")
					}
					return
				}
			}
		}
	}()

readLoop:
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "bye")
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue readLoop
		}

		// Only frames that are not valid JSON get the error frame; the
		// connection stays open either way.
		if !json.Valid(data) {
			g.log.Info("ws.frame.bad_json", "session_id", sessionID)
			g.sendError(client, v1.ErrInternoWebSocket)
			continue readLoop
		}

		tipo, err := v1.PeekTipo(data)
		if err != nil || tipo != v1.TipoJoin {
			// Well-formed JSON of any other shape is logged and ignored.
			g.log.Info("ws.frame.ignored", "session_id", sessionID, "tipo", tipo)
			continue readLoop
		}

		var join v1.JoinFrame
		if err := json.Unmarshal(data, &join); err != nil || join.ConversacionID <= 0 {
			g.log.Info("ws.frame.ignored", "session_id", sessionID, "tipo", tipo)
			continue readLoop
		}
		g.hub.Subscribe(client, join.ConversacionID)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
}

func (g *WSGateway) write(parent context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// sendError enqueues an error frame to a single client, best effort.
func (g *WSGateway) sendError(client *Client, text string) {
	data, err := json.Marshal(v1.NewErrorFrame(text))
	if err != nil {
		return
	}

	select {
	case <-client.Done():
	case client.Send <- data:
	default:
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
