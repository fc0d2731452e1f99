// Package db provides PostgreSQL-backed repositories for preventive
// maintenance. Repositories accept a DBTX, satisfied by both *pgxpool.Pool
// and pgx.Tx, so the same code runs inside or outside a transaction.
package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ID prefixes for generated identifiers.
const (
	PrefixTemplate   = "pmt"
	PrefixOccurrence = "occ"
	PrefixWorkOrder  = "wo"
)

// NewID returns a prefixed random identifier such as "pmt_<uuid>".
func NewID(prefix string) string {
	return prefix + "_" + uuid.New().String()
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign key
// violation (23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
