package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"duo/cmd/internal/pgschema"
)

// PostgresStore is a Store backed by PostgreSQL. The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string

	chats     string
	messages  string
	reactions string
}

type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the chat tables (default "duo").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgschema.ValidIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	st := &PostgresStore{pool: pool, schema: pgschema.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	st.chats = pgschema.Table(st.schema, "chats")
	st.messages = pgschema.Table(st.schema, "messages")
	st.reactions = pgschema.Table(st.schema, "message_reactions")
	return st, nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const chatColumns = `id, user_a, user_b, COALESCE(last_message_id, ''), last_activity, message_count, created_at`

func scanChat(row pgx.Row) (Chat, error) {
	var c Chat
	if err := row.Scan(&c.ID, &c.UserA, &c.UserB, &c.LastMessageID, &c.LastActivity, &c.MessageCount, &c.CreatedAt); err != nil {
		return Chat{}, err
	}
	c.LastActivity = c.LastActivity.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

const messageColumns = `id, chat_id, sender_id, content, message_type, COALESCE(reply_to, ''),
	COALESCE(client_action_id, ''), created_at, updated_at, version`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.MessageType, &m.ReplyTo,
		&m.ClientActionID, &m.CreatedAt, &m.UpdatedAt, &m.Version); err != nil {
		return Message{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func (s *PostgresStore) CreateChat(ctx context.Context, id, userA, userB string, now time.Time) (Chat, bool, error) {
	if userA == "" || userB == "" || userA == userB {
		return Chat{}, false, ErrSelfChat
	}
	a, b := orderedPair(userA, userB)

	c, err := scanChat(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.chats+` (id, user_a, user_b, last_activity, created_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_a, user_b) DO NOTHING
		 RETURNING `+chatColumns,
		id, a, b, now,
	))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, false, fmt.Errorf("chat.CreateChat: %w", err)
	}
	c, err = s.ChatByPair(ctx, a, b)
	return c, false, err
}

func (s *PostgresStore) ChatByID(ctx context.Context, id string) (Chat, error) {
	c, err := scanChat(s.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM `+s.chats+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrChatNotFound
	}
	return c, err
}

func (s *PostgresStore) ChatByPair(ctx context.Context, userA, userB string) (Chat, error) {
	a, b := orderedPair(userA, userB)
	c, err := scanChat(s.pool.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM `+s.chats+` WHERE user_a = $1 AND user_b = $2`, a, b))
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrChatNotFound
	}
	return c, err
}

func (s *PostgresStore) ChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chatColumns+` FROM `+s.chats+`
		  WHERE user_a = $1 OR user_b = $1
		  ORDER BY last_activity DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chat.ChatsForUser: %w", err)
	}
	defer rows.Close()

	out := make([]Chat, 0, 8)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	const op = "chat.InsertMessage"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if m.MessageType == "" {
		m.MessageType = "text"
	}

	stored, err := scanMessage(tx.QueryRow(ctx,
		`INSERT INTO `+s.messages+` (
		     id, chat_id, sender_id, content, message_type, reply_to, client_action_id, created_at, updated_at, version
		   ) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $8, 1)
		 ON CONFLICT (sender_id, client_action_id) WHERE client_action_id IS NOT NULL DO NOTHING
		 RETURNING `+messageColumns,
		m.ID, m.ChatID, m.SenderID, m.Content, m.MessageType, m.ReplyTo, m.ClientActionID, m.CreatedAt,
	))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		prev, err := scanMessage(tx.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM `+s.messages+` WHERE sender_id = $1 AND client_action_id = $2`,
			m.SenderID, m.ClientActionID,
		))
		if err != nil {
			return Message{}, false, fmt.Errorf("%s: dedupe lookup: %w", op, err)
		}
		if err := s.attachReactions(ctx, tx, []*Message{&prev}); err != nil {
			return Message{}, false, err
		}
		return prev, true, tx.Commit(ctx)
	case err != nil:
		if pgschema.IsForeignKeyViolation(err) {
			return Message{}, false, ErrChatNotFound
		}
		return Message{}, false, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.chats+`
		    SET last_message_id = $2,
		        last_activity = GREATEST(last_activity, $3),
		        message_count = message_count + 1
		  WHERE id = $1`,
		stored.ChatID, stored.ID, stored.CreatedAt,
	); err != nil {
		return Message{}, false, fmt.Errorf("%s: touch chat: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, false, err
	}
	stored.Reactions = []Reaction{}
	return stored, false, nil
}

func (s *PostgresStore) MessageByID(ctx context.Context, id string) (Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM `+s.messages+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if err := s.attachReactions(ctx, s.pool, []*Message{&m}); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (s *PostgresStore) MessagesByID(ctx context.Context, ids []string) (map[string]Message, error) {
	out := make(map[string]Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	msgs, err := s.queryMessages(ctx, `SELECT `+messageColumns+` FROM `+s.messages+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, emoji, userID string, now time.Time) (Message, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var chatID string
	err = tx.QueryRow(ctx, `SELECT chat_id FROM `+s.messages+` WHERE id = $1 FOR UPDATE`, messageID).Scan(&chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+s.reactions+` WHERE message_id = $1 AND emoji = $2 AND user_id = $3`,
		messageID, emoji, userID,
	)
	if err != nil {
		return Message{}, fmt.Errorf("chat.ToggleReaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.reactions+` (message_id, emoji, user_id, created_at) VALUES ($1, $2, $3, $4)`,
			messageID, emoji, userID, now,
		); err != nil {
			return Message{}, fmt.Errorf("chat.ToggleReaction: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.chats+` SET last_activity = GREATEST(last_activity, $2) WHERE id = $1`, chatID, now,
	); err != nil {
		return Message{}, err
	}

	m, err := scanMessage(tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM `+s.messages+` WHERE id = $1`, messageID))
	if err != nil {
		return Message{}, err
	}
	if err := s.attachReactions(ctx, tx, []*Message{&m}); err != nil {
		return Message{}, err
	}
	return m, tx.Commit(ctx)
}

func (s *PostgresStore) UpdateContent(ctx context.Context, messageID, senderID, content string, now time.Time) (Message, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`WITH m AS (
		     UPDATE `+s.messages+`
		        SET content = $3, updated_at = $4, version = version + 1
		      WHERE id = $1 AND sender_id = $2
		  RETURNING id, chat_id
		 )
		 UPDATE `+s.chats+` c
		    SET last_activity = GREATEST(c.last_activity, $4)
		   FROM m
		  WHERE c.id = m.chat_id
		 RETURNING m.id`,
		messageID, senderID, content, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, s.missOrForeign(ctx, messageID)
	}
	if err != nil {
		return Message{}, fmt.Errorf("chat.UpdateContent: %w", err)
	}
	return s.MessageByID(ctx, id)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID, senderID string, now time.Time) error {
	var id string
	err := s.pool.QueryRow(ctx,
		`WITH d AS (
		     DELETE FROM `+s.messages+`
		      WHERE id = $1 AND sender_id = $2
		  RETURNING id, chat_id
		 )
		 UPDATE `+s.chats+` c
		    SET last_activity = GREATEST(c.last_activity, $3),
		        last_message_id = CASE WHEN c.last_message_id = d.id THEN (
		            SELECT p.id FROM `+s.messages+` p
		             WHERE p.chat_id = d.chat_id AND p.id <> d.id
		             ORDER BY p.created_at DESC, p.id DESC
		             LIMIT 1
		        ) ELSE c.last_message_id END
		   FROM d
		  WHERE c.id = d.chat_id
		 RETURNING d.id`,
		messageID, senderID, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missOrForeign(ctx, messageID)
	}
	if err != nil {
		return fmt.Errorf("chat.DeleteMessage: %w", err)
	}
	return nil
}

// missOrForeign explains a zero-row author-scoped write.
func (s *PostgresStore) missOrForeign(ctx context.Context, messageID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM `+s.messages+` WHERE id = $1`, messageID).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrMessageNotFound
	case err != nil:
		return err
	default:
		return ErrNotAuthor
	}
}

func (s *PostgresStore) MessagesSince(ctx context.Context, chatID string, since time.Time, afterID string, limit int) ([]Message, error) {
	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM `+s.messages+`
		  WHERE chat_id = $1
		    AND ($2::timestamptz IS NULL OR created_at > $2)
		    AND ($3 = '' OR id > $3)
		  ORDER BY created_at ASC, id ASC
		  LIMIT $4`,
		chatID, sinceArg, afterID, limit,
	)
}

func (s *PostgresStore) MessagesPage(ctx context.Context, chatID string, offset, limit int) ([]Message, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.messages+` WHERE chat_id = $1`, chatID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("chat.MessagesPage: %w", err)
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT * FROM (
		     SELECT `+messageColumns+` FROM `+s.messages+`
		      WHERE chat_id = $1
		      ORDER BY created_at DESC, id DESC
		     OFFSET $2 LIMIT $3
		 ) page
		 ORDER BY created_at ASC, id ASC`,
		chatID, offset, limit,
	)
	return msgs, total, err
}

func (s *PostgresStore) queryMessages(ctx context.Context, sql string, args ...any) ([]Message, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*Message, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := s.attachReactions(ctx, s.pool, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

// attachReactions loads reactions for msgs, emoji groups ordered by first reaction.
func (s *PostgresStore) attachReactions(ctx context.Context, q querier, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[string]*Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
		m.Reactions = []Reaction{}
	}

	rows, err := q.Query(ctx,
		`SELECT message_id, emoji, user_id FROM `+s.reactions+`
		  WHERE message_id = ANY($1)
		  ORDER BY message_id,
		           MIN(created_at) OVER (PARTITION BY message_id, emoji),
		           emoji,
		           created_at`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("chat: load reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, emoji, userID string
		if err := rows.Scan(&msgID, &emoji, &userID); err != nil {
			return err
		}
		m := byID[msgID]
		n := len(m.Reactions)
		if n > 0 && m.Reactions[n-1].Emoji == emoji {
			m.Reactions[n-1].UserIDs = append(m.Reactions[n-1].UserIDs, userID)
			continue
		}
		m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, UserIDs: []string{userID}})
	}
	return rows.Err()
}
