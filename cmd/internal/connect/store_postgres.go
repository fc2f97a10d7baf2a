package connect

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"duo/cmd/internal/pgschema"
)

// PostgresStore persists keys and requests in PostgreSQL.
type PostgresStore struct {
	pool     *pgxpool.Pool
	schema   string
	keys     string
	requests string
}

type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default "duo").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgschema.ValidIdent(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgschema.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	st.keys = pgschema.Table(st.schema, "shareable_keys")
	st.requests = pgschema.Table(st.schema, "chat_requests")
	return st, nil
}

const keyColumns = `user_id, key, expires_at, active, created_at`

func scanKey(row pgx.Row) (Key, error) {
	var k Key
	if err := row.Scan(&k.UserID, &k.Key, &k.ExpiresAt, &k.Active, &k.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Key{}, ErrKeyNotFound
		}
		return Key{}, err
	}
	k.ExpiresAt = k.ExpiresAt.UTC()
	k.CreatedAt = k.CreatedAt.UTC()
	return k, nil
}

func (s *PostgresStore) PutKey(ctx context.Context, k Key) (Key, error) {
	if err := ctx.Err(); err != nil {
		return Key{}, err
	}
	if k.UserID == "" || k.Key == "" {
		return Key{}, ErrInvalidInput
	}
	out, err := scanKey(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.keys+` (user_id, key, expires_at, active, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		    SET key = EXCLUDED.key,
		        expires_at = EXCLUDED.expires_at,
		        active = EXCLUDED.active,
		        created_at = EXCLUDED.created_at
		 RETURNING `+keyColumns,
		k.UserID, k.Key, k.ExpiresAt, k.Active, k.CreatedAt,
	))
	if err != nil {
		if c, ok := pgschema.IsUniqueViolation(err); ok && c == "uq_shareable_keys_key" {
			return Key{}, ErrKeyTaken
		}
		return Key{}, err
	}
	return out, nil
}

func (s *PostgresStore) KeyByUser(ctx context.Context, userID string) (Key, error) {
	return scanKey(s.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM `+s.keys+` WHERE user_id = $1`, userID))
}

func (s *PostgresStore) KeyByValue(ctx context.Context, key string) (Key, error) {
	return scanKey(s.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM `+s.keys+` WHERE key = $1`, key))
}

const requestColumns = `id, from_user, to_user, status, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	var status string
	if err := row.Scan(&r.ID, &r.FromUser, &r.ToUser, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Request{}, err
	}
	r.Status = Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, r Request) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	if r.ID == "" || r.FromUser == "" || r.ToUser == "" {
		return Request{}, ErrInvalidInput
	}
	if r.FromUser == r.ToUser {
		return Request{}, ErrSelfRequest
	}
	out, err := scanRequest(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.requests+` (id, from_user, to_user, status, created_at, updated_at)
		 VALUES ($1, $2, $3, 'pending', $4, $4)
		 RETURNING `+requestColumns,
		r.ID, r.FromUser, r.ToUser, r.CreatedAt,
	))
	if err != nil {
		if c, ok := pgschema.IsUniqueViolation(err); ok && c == "uq_chat_requests_pending_pair" {
			return Request{}, ErrRequestExists
		}
		return Request{}, err
	}
	return out, nil
}

func (s *PostgresStore) PendingFor(ctx context.Context, toUser string) ([]Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+`
		   FROM `+s.requests+`
		  WHERE to_user = $1 AND status = 'pending'
		  ORDER BY created_at DESC, id DESC`,
		toUser,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Resolve is a single conditional UPDATE, so two concurrent decisions cannot both succeed.
func (s *PostgresStore) Resolve(ctx context.Context, id, toUser string, status Status, now time.Time) (Request, error) {
	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	out, err := scanRequest(s.pool.QueryRow(ctx,
		`UPDATE `+s.requests+`
		    SET status = $1, updated_at = $2
		  WHERE id = $3
		    AND to_user = $4
		    AND status = 'pending'
		RETURNING `+requestColumns,
		string(status), now, id, toUser,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrRequestNotFound
	}
	return out, err
}
