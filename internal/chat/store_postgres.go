package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Schema (Spanish, inherited from the web application):
//
//	usuario(id bigserial PK, nombre text, ...)
//	conversacion(id bigserial PK, tipo text, creado_en timestamptz)
//	participante_conversacion(conversacion_id, usuario_id, rol, PK(conversacion_id, usuario_id))
//	mensaje(id bigserial PK, conversacion_id, remitente_id, cuerpo text,
//	        creado_en timestamptz, editado_en timestamptz NULL, eliminado_en timestamptz NULL)
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "public").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// CreateMessage inserts a message and resolves the sender display name in one round trip.
func (s *PostgresStore) CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	mensajes := pgIdent(s.schema, "mensaje")
	usuarios := pgIdent(s.schema, "usuario")

	var m Message
	err := s.pool.QueryRow(ctx,
		`WITH nuevo AS (
		   INSERT INTO `+mensajes+` (conversacion_id, remitente_id, cuerpo)
		   VALUES ($1, $2, $3)
		   RETURNING id, conversacion_id, remitente_id, cuerpo, creado_en
		 )
		 SELECT n.id, n.conversacion_id, n.remitente_id, u.nombre, n.cuerpo, n.creado_en
		   FROM nuevo n
		   JOIN `+usuarios+` u ON u.id = n.remitente_id`,
		conversationID, senderID, body,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Body, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert mensaje: %w", err)
	}
	return m, nil
}

// History returns non-deleted messages ordered by creation (oldest first).
func (s *PostgresStore) History(ctx context.Context, conversationID int64) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mensajes := pgIdent(s.schema, "mensaje")
	usuarios := pgIdent(s.schema, "usuario")

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.conversacion_id, m.remitente_id, u.nombre, m.cuerpo,
		        m.creado_en, m.editado_en, m.eliminado_en
		   FROM `+mensajes+` m
		   JOIN `+usuarios+` u ON u.id = m.remitente_id
		  WHERE m.conversacion_id = $1
		    AND m.eliminado_en IS NULL
		  ORDER BY m.creado_en ASC, m.id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Body,
			&m.CreatedAt, &m.EditedAt, &m.DeletedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsParticipant checks membership; an unknown conversation yields ErrConversationNotFound.
func (s *PostgresStore) IsParticipant(ctx context.Context, userID, conversationID int64) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	conversaciones := pgIdent(s.schema, "conversacion")
	participantes := pgIdent(s.schema, "participante_conversacion")

	var exists, member bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+conversaciones+` WHERE id = $1),
		        EXISTS (SELECT 1 FROM `+participantes+` WHERE conversacion_id = $1 AND usuario_id = $2)`,
		conversationID, userID,
	).Scan(&exists, &member)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrConversationNotFound
	}
	return member, nil
}

// Conversations lists the user's conversations with the counterpart's identity.
func (s *PostgresStore) Conversations(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversaciones := pgIdent(s.schema, "conversacion")
	participantes := pgIdent(s.schema, "participante_conversacion")
	usuarios := pgIdent(s.schema, "usuario")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.tipo, c.creado_en, u.id, u.nombre
		   FROM `+conversaciones+` c
		   JOIN `+participantes+` yo   ON yo.conversacion_id = c.id AND yo.usuario_id = $1
		   JOIN `+participantes+` otro ON otro.conversacion_id = c.id AND otro.usuario_id <> $1
		   JOIN `+usuarios+` u ON u.id = otro.usuario_id
		  ORDER BY c.creado_en DESC, c.id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ID, &c.Kind, &c.CreatedAt, &c.PeerID, &c.PeerName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureDirectConversation finds or creates the direct conversation between
// the two users. Creation inserts the conversation and both participant rows
// in one transaction so the two-distinct-participants invariant holds.
func (s *PostgresStore) EnsureDirectConversation(ctx context.Context, userID, peerID int64) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("chat: nil store")
	}
	if userID == peerID {
		return 0, ErrSelfConversation
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	conversaciones := pgIdent(s.schema, "conversacion")
	participantes := pgIdent(s.schema, "participante_conversacion")
	usuarios := pgIdent(s.schema, "usuario")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+usuarios+` WHERE id = $1`, peerID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`SELECT c.id
		   FROM `+conversaciones+` c
		   JOIN `+participantes+` a ON a.conversacion_id = c.id AND a.usuario_id = $1
		   JOIN `+participantes+` b ON b.conversacion_id = c.id AND b.usuario_id = $2
		  WHERE c.tipo = 'directa'
		  LIMIT 1`,
		userID, peerID,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx,
		`INSERT INTO `+conversaciones+` (tipo, creado_en) VALUES ('directa', $1) RETURNING id`,
		time.Now().UTC(),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert conversacion: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+participantes+` (conversacion_id, usuario_id, rol) VALUES ($1, $2, 'miembro'), ($1, $3, 'miembro')`,
		id, userID, peerID,
	); err != nil {
		return 0, fmt.Errorf("insert participantes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

var _ Store = (*PostgresStore)(nil)

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
