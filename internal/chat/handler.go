package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	v1 "charla/contracts/chat/v1"
	"charla/internal/session"
)

// Handler serves the chat HTTP surface: the message delivery endpoint,
// conversation history, and conversation listing/creation.
type Handler struct {
	log      *slog.Logger
	store    Store
	sessions session.Verifier
	hub      Broadcaster
	metrics  *Metrics

	maxBodyChars int
}

// HandlerOption configures optional Handler behavior.
type HandlerOption func(*Handler)

// WithMaxBodyChars overrides the message body length limit (in runes).
func WithMaxBodyChars(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyChars = n
		}
	}
}

// NewHandler constructs the chat HTTP handler.
func NewHandler(log *slog.Logger, store Store, sessions session.Verifier, hub Broadcaster, metrics *Metrics, opts ...HandlerOption) *Handler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	h := &Handler{
		log:          log,
		store:        store,
		sessions:     sessions,
		hub:          hub,
		metrics:      metrics,
		maxBodyChars: defaultMaxBodyChars,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register mounts the chat routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /mensajes", h.handleSendMessage)
	mux.HandleFunc("GET /conversaciones/{id}/mensajes", h.handleHistory)
	mux.HandleFunc("GET /conversaciones", h.handleListConversations)
	mux.HandleFunc("POST /conversaciones", h.handleEnsureConversation)
}

type sendMessageRequest struct {
	ConversacionID int64  `json:"conversacionId"`
	Cuerpo         string `json:"cuerpo"`
}

// handleSendMessage is the message delivery endpoint: authorize, persist,
// respond, and fan out. Persistence happens strictly before broadcast; the
// broadcast is fire-and-forget and never blocks the HTTP response.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := h.sessions.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "No autenticado")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Cuerpo de la petición inválido")
		return
	}

	// Trimming is for the emptiness check only; the body is persisted and
	// broadcast exactly as sent.
	if req.ConversacionID <= 0 || strings.TrimSpace(req.Cuerpo) == "" {
		writeError(w, http.StatusBadRequest, "conversacionId y cuerpo son requeridos")
		return
	}
	if len([]rune(req.Cuerpo)) > h.maxBodyChars {
		writeError(w, http.StatusBadRequest, "El mensaje es demasiado largo")
		return
	}

	ok, err := h.store.IsParticipant(r.Context(), userID, req.ConversacionID)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "Conversación no encontrada")
			return
		}
		h.log.Error("mensajes.participant_check.fail", "err", err, "conversacion_id", req.ConversacionID)
		writeError(w, http.StatusInternalServerError, "Error al enviar mensaje")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "No eres participante de esta conversación")
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), req.ConversacionID, userID, req.Cuerpo)
	if err != nil {
		h.log.Error("mensajes.create.fail", "err", err, "conversacion_id", req.ConversacionID)
		writeError(w, http.StatusInternalServerError, "Error al enviar mensaje")
		return
	}
	h.metrics.MessagesCreated.Inc()

	formatted := toWire(msg)
	h.hub.Broadcast(msg.ConversationID, v1.NewMensajeFrame(formatted))

	writeJSON(w, http.StatusCreated, formatted)
}

// handleHistory returns the ordered message history of a conversation,
// readable only by its participants.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := h.sessions.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "No autenticado")
		return
	}

	convID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || convID <= 0 {
		writeError(w, http.StatusBadRequest, "ID de conversación inválido")
		return
	}

	ok, err := h.store.IsParticipant(r.Context(), userID, convID)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "Conversación no encontrada")
			return
		}
		h.log.Error("historial.participant_check.fail", "err", err, "conversacion_id", convID)
		writeError(w, http.StatusInternalServerError, "Error al cargar mensajes")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "No eres participante de esta conversación")
		return
	}

	msgs, err := h.store.History(r.Context(), convID)
	if err != nil {
		h.log.Error("historial.fetch.fail", "err", err, "conversacion_id", convID)
		writeError(w, http.StatusInternalServerError, "Error al cargar mensajes")
		return
	}

	out := make([]v1.Mensaje, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toWire(m))
	}
	writeJSON(w, http.StatusOK, out)
}

type conversationResponse struct {
	ID                int64  `json:"id"`
	Tipo              string `json:"tipo"`
	ContraparteID     int64  `json:"contraparteId"`
	ContraparteNombre string `json:"contraparteNombre"`
	CreadoEn          string `json:"creadoEn"`
}

// handleListConversations lists the caller's conversations with the
// counterpart's display identity.
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := h.sessions.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "No autenticado")
		return
	}

	convs, err := h.store.Conversations(r.Context(), userID)
	if err != nil {
		h.log.Error("conversaciones.list.fail", "err", err, "usuario_id", userID)
		writeError(w, http.StatusInternalServerError, "Error al cargar conversaciones")
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse{
			ID:                c.ID,
			Tipo:              c.Kind,
			ContraparteID:     c.PeerID,
			ContraparteNombre: c.PeerName,
			CreadoEn:          c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type ensureConversationRequest struct {
	DestinatarioID int64 `json:"destinatarioId"`
}

// handleEnsureConversation finds or creates the direct conversation between
// the caller and the given peer.
func (h *Handler) handleEnsureConversation(w http.ResponseWriter, r *http.Request) {
	userID, err := h.sessions.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "No autenticado")
		return
	}

	var req ensureConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DestinatarioID <= 0 {
		writeError(w, http.StatusBadRequest, "destinatarioId es requerido")
		return
	}

	id, err := h.store.EnsureDirectConversation(r.Context(), userID, req.DestinatarioID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSelfConversation):
			writeError(w, http.StatusBadRequest, "No puedes crear una conversación contigo mismo")
		case errors.Is(err, ErrUserNotFound):
			writeError(w, http.StatusNotFound, "Usuario no encontrado")
		default:
			h.log.Error("conversaciones.ensure.fail", "err", err, "usuario_id", userID)
			writeError(w, http.StatusInternalServerError, "Error al crear conversación")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"conversacionId": id})
}

func toWire(m Message) v1.Mensaje {
	return v1.Mensaje{
		ID:              m.ID,
		ConversacionID:  m.ConversationID,
		RemitenteID:     m.SenderID,
		RemitenteNombre: m.SenderName,
		Cuerpo:          m.Body,
		CreadoEn:        m.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
