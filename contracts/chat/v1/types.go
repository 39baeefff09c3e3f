// Package v1 defines the Charla chat wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire format authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Tipo constants (wire-stable).
const (
	// TipoJoin subscribes a connection to a conversation (client -> server).
	TipoJoin = "join"
	// TipoMensaje carries a newly created message (server -> subscribers).
	TipoMensaje = "mensaje"
	// TipoError is sent to a single connection on malformed input (server -> client).
	TipoError = "error"
)

// ErrInternoWebSocket is the error text sent back on malformed frames.
// The string is part of the wire contract; clients match on it.
const ErrInternoWebSocket = "Error interno WebSocket"

// Mensaje is the canonical message record exchanged over HTTP and WebSocket.
//
// On the wire it appears under two field-naming conventions
// (conversacionId/conversacion_id and so on); UnmarshalJSON accepts either
// and this struct marshals the canonical camelCase form.
type Mensaje struct {
	ID              int64     `json:"id"`
	ConversacionID  int64     `json:"conversacionId"`
	RemitenteID     int64     `json:"remitenteId"`
	RemitenteNombre string    `json:"remitenteNombre,omitempty"`
	Cuerpo          string    `json:"cuerpo"`
	CreadoEn        time.Time `json:"creadoEn"`
}

// mensajeWire mirrors both naming conventions seen in history payloads.
type mensajeWire struct {
	ID                  int64      `json:"id"`
	ConversacionID      *int64     `json:"conversacionId"`
	ConversacionIDSnake *int64     `json:"conversacion_id"`
	RemitenteID         *int64     `json:"remitenteId"`
	RemitenteIDSnake    *int64     `json:"remitente_id"`
	RemitenteNombre     string     `json:"remitenteNombre"`
	Cuerpo              string     `json:"cuerpo"`
	CreadoEn            *time.Time `json:"creadoEn"`
	CreadoEnSnake       *time.Time `json:"creado_en"`
}

// UnmarshalJSON normalizes either field-naming convention into the canonical shape.
func (m *Mensaje) UnmarshalJSON(b []byte) error {
	var w mensajeWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	out := Mensaje{
		ID:              w.ID,
		RemitenteNombre: w.RemitenteNombre,
		Cuerpo:          w.Cuerpo,
	}

	switch {
	case w.ConversacionID != nil:
		out.ConversacionID = *w.ConversacionID
	case w.ConversacionIDSnake != nil:
		out.ConversacionID = *w.ConversacionIDSnake
	}

	switch {
	case w.RemitenteID != nil:
		out.RemitenteID = *w.RemitenteID
	case w.RemitenteIDSnake != nil:
		out.RemitenteID = *w.RemitenteIDSnake
	}

	switch {
	case w.CreadoEn != nil:
		out.CreadoEn = *w.CreadoEn
	case w.CreadoEnSnake != nil:
		out.CreadoEn = *w.CreadoEnSnake
	}

	*m = out
	return nil
}

// MensajeFrame is the broadcast envelope: the message fields inlined next to tipo.
type MensajeFrame struct {
	Tipo string `json:"tipo"`
	Mensaje
}

// NewMensajeFrame wraps a message for broadcast.
func NewMensajeFrame(m Mensaje) MensajeFrame {
	return MensajeFrame{Tipo: TipoMensaje, Mensaje: m}
}

// UnmarshalJSON is explicit because the embedded Mensaje has a custom decoder
// that would otherwise swallow the tipo tag.
func (f *MensajeFrame) UnmarshalJSON(b []byte) error {
	var head struct {
		Tipo string `json:"tipo"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	f.Tipo = head.Tipo
	return json.Unmarshal(b, &f.Mensaje)
}

// JoinFrame subscribes the sending connection to a conversation.
type JoinFrame struct {
	Tipo           string `json:"tipo"`
	ConversacionID int64  `json:"conversacionId"`
}

// Validate checks the structural requirements of a join frame.
func (f JoinFrame) Validate() error {
	if f.Tipo != TipoJoin {
		return fmt.Errorf("unexpected tipo: %q", f.Tipo)
	}
	if f.ConversacionID <= 0 {
		return errors.New("missing conversacionId")
	}
	return nil
}

// ErrorFrame is sent to a single connection, never broadcast.
type ErrorFrame struct {
	Tipo  string `json:"tipo"`
	Error string `json:"error"`
}

// NewErrorFrame builds an error frame with the given text.
func NewErrorFrame(text string) ErrorFrame {
	return ErrorFrame{Tipo: TipoError, Error: text}
}

// PeekTipo reads only the tipo tag of a raw frame so callers can route it.
func PeekTipo(b []byte) (string, error) {
	var head struct {
		Tipo string `json:"tipo"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return "", err
	}
	return head.Tipo, nil
}
