package identity

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

// PostgresStore implements Store over PostgreSQL. The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the users table (default "duo").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgschema.ValidIdent(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
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
	return st, nil
}

func (s *PostgresStore) users() string { return pgschema.Table(s.schema, "users") }

const userColumns = `id, username, username_norm, email, email_norm, created_at, last_active`

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var u User
	dest := append([]any{&u.ID, &u.Username, &u.UsernameNorm, &u.Email, &u.EmailNorm, &u.CreatedAt, &u.LastActive}, extra...)
	if err := row.Scan(dest...); err != nil {
		return User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.LastActive = u.LastActive.UTC()
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, in NewUser) (User, error) {
	const op = "identity.CreateUser"

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.users()+` (
		     id, username, username_norm, email, email_norm, password_hash, passkey_hash, created_at, last_active
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 RETURNING `+userColumns,
		in.ID, in.Username, NormalizeUsername(in.Username), in.Email, NormalizeEmail(in.Email),
		in.PasswordHash, in.PasskeyHash, in.Now,
	)
	u, err := scanUser(row)
	if err != nil {
		if c, ok := pgschema.IsUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: conflictField(c)}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.UserByID"

	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM `+s.users()+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) CredentialsByUsername(ctx context.Context, username string) (User, Credentials, error) {
	const op = "identity.CredentialsByUsername"

	var c Credentials
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash, passkey_hash FROM `+s.users()+` WHERE username_norm = $1`,
		NormalizeUsername(username),
	), &c.PasswordHash, &c.PasskeyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, Credentials{}, notFound(op)
		}
		return User{}, Credentials{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, c, nil
}

func (s *PostgresStore) SetPasskeyHash(ctx context.Context, userID, hash string) error {
	const op = "identity.SetPasskeyHash"

	tag, err := s.pool.Exec(ctx, `UPDATE `+s.users()+` SET passkey_hash = $2 WHERE id = $1`, userID, hash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func (s *PostgresStore) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	const op = "identity.TouchLastActive"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.users()+` SET last_active = GREATEST(last_active, $2) WHERE id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func (s *PostgresStore) UsersByID(ctx context.Context, ids []string) (map[string]User, error) {
	const op = "identity.UsersByID"

	out := make(map[string]User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM `+s.users()+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func conflictField(constraint string) string {
	switch {
	case strings.Contains(constraint, "username"):
		return "username"
	case strings.Contains(constraint, "email"):
		return "email"
	default:
		return "unique"
	}
}
