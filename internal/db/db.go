// Package db defines the minimal pgx surface every store in carbroker
// depends on, so stores can run against a pool, a single connection, or a
// transaction interchangeably — and so tests can substitute a fake.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner is satisfied by anything that can start a transaction, i.e.
// *pgxpool.Pool and *pgxpool.Conn. Stores whose writes must be atomic
// (AvailabilityStore.AppendPartial's seq allocation, the agreement and
// health stores' row-locked updates) take a Beginner; booking.Store opens
// its booking-then-idempotency-key transaction on a *pgxpool.Pool instead.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
