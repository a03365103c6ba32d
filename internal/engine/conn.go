package engine

import (
	"context"
	"database/sql"
)

// Conn is the database surface the engine needs. *sql.DB satisfies it
// directly; storage.Connection satisfies it by embedding.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// TransactionStatusReporter is an optional Conn extension that reports
// whether the connection currently sits inside an open transaction.
// Connections that cannot tell are treated as in-transaction, so
// CONCURRENTLY variants that PostgreSQL forbids inside a transaction are
// never attempted on them.
type TransactionStatusReporter interface {
	InTransaction() bool
}
