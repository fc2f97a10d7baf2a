// Package pgschema owns the duo Postgres schema and identifier helpers shared by the stores.
package pgschema

import (
	"context"
	_ "embed"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is used when a store is built without WithSchema.
const DefaultSchema = "duo"

//go:embed schema.sql
var schemaSQL string

var (
	ErrInvalidIdent = errors.New("pgschema: invalid identifier")

	identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ValidIdent reports whether s is a plain Postgres identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Table quotes a schema-qualified table name: "schema"."name".
func Table(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// SQL renders the schema DDL for the given schema name.
func SQL(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if !ValidIdent(schema) {
		return "", ErrInvalidIdent
	}
	return strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize()), nil
}

// Apply creates the schema and all tables idempotently.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	ddl, err := SQL(schema)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, ddl)
	return err
}

// IsUniqueViolation reports a 23505 error and returns its constraint name.
func IsUniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	return strings.ToLower(pgErr.ConstraintName), true
}

// IsForeignKeyViolation reports a 23503 error.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
