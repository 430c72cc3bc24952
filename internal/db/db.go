// Package db wraps a pgx pool behind the narrow surface the runner
// needs: autocommit statement execution, row capture, and
// rolled-back transaction scopes.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const pingTimeout = 3 * time.Second

// Rows holds captured query output as server-rendered text.
type Rows struct {
	Columns   []string
	Values    [][]string
	Truncated bool
}

// RowCount returns the number of captured rows.
func (r Rows) RowCount() int {
	return len(r.Values)
}

// Conn executes statements on some connection scope.
type Conn interface {
	Exec(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string) (Rows, error)
}

// Session is the run-scoped database handle owned by the executor.
type Session interface {
	Conn
	// WithRollback runs fn inside a transaction that is always rolled
	// back, even when fn succeeds.
	WithRollback(ctx context.Context, fn func(Conn) error) error
	Close()
}

// DB implements Session on a pgxpool.Pool.
type DB struct {
	pool    *pgxpool.Pool
	maxRows int
}

// Open connects to the database, pins search_path to the run schema,
// and verifies the connection with a ping. The simple query protocol
// is used so captured values arrive in the server's text rendering,
// the same form psql would print.
func Open(ctx context.Context, dsn string, schema string, maxRows int) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema + ", public"
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "new pool")
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping")
	}
	return &DB{pool: pool, maxRows: maxRows}, nil
}

// Exec runs a statement in autocommit mode. The returned error is the
// server error verbatim; reports quote it unmodified.
func (d *DB) Exec(ctx context.Context, sql string) error {
	_, err := d.pool.Exec(ctx, sql)
	return err
}

// Query runs a statement and captures up to maxRows rows of output.
func (d *DB) Query(ctx context.Context, sql string) (Rows, error) {
	rows, err := d.pool.Query(ctx, sql)
	if err != nil {
		return Rows{}, err
	}
	return capture(rows, d.maxRows)
}

// WithRollback runs fn in a transaction and unconditionally rolls it
// back, so invocation examples never leak state into each other.
func (d *DB) WithRollback(ctx context.Context, fn func(Conn) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pingTimeout)
		defer cancel()
		_ = tx.Rollback(rctx)
	}()
	return fn(txConn{tx: tx, maxRows: d.maxRows})
}

// Close releases the pool.
func (d *DB) Close() {
	d.pool.Close()
}

type txConn struct {
	tx      pgx.Tx
	maxRows int
}

func (c txConn) Exec(ctx context.Context, sql string) error {
	_, err := c.tx.Exec(ctx, sql)
	return err
}

func (c txConn) Query(ctx context.Context, sql string) (Rows, error) {
	rows, err := c.tx.Query(ctx, sql)
	if err != nil {
		return Rows{}, err
	}
	return capture(rows, c.maxRows)
}

func capture(rows pgx.Rows, maxRows int) (Rows, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	out := Rows{Columns: make([]string, 0, len(fields))}
	for _, fd := range fields {
		out.Columns = append(out.Columns, fd.Name)
	}
	for rows.Next() {
		if maxRows > 0 && len(out.Values) >= maxRows {
			out.Truncated = true
			break
		}
		raw := rows.RawValues()
		row := make([]string, 0, len(raw))
		for _, v := range raw {
			if v == nil {
				row = append(row, "NULL")
			} else {
				row = append(row, string(v))
			}
		}
		out.Values = append(out.Values, row)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	return out, nil
}
