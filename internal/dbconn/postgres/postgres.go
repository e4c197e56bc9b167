// Package postgres implements the Postgres-family connector using pgx v5.
// It serves both the "postgres" and "redshift" dialects (Redshift speaks the
// Postgres wire protocol).
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mapload/internal/dbconn"
)

// newPool is a test hook pointing at pgxpool.New by default. Tests may
// replace it to avoid real connections.
var newPool = pgxpool.New

// init registers the "postgres" connector with the factory.
func init() {
	dbconn.Register("postgres", func(ctx context.Context, cfg dbconn.Config) (dbconn.Conn, error) {
		pool, err := newPool(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		return &conn{pool: pool}, nil
	})
}

type conn struct {
	pool *pgxpool.Pool
}

func (c *conn) Query(ctx context.Context, query string, args ...any) (dbconn.Rows, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	flds := rows.FieldDescriptions()
	cols := make([]string, len(flds))
	for i, f := range flds {
		cols[i] = f.Name
	}
	return &pgRows{rows: rows, cols: cols}, nil
}

func (c *conn) QueryValue(ctx context.Context, query string, args ...any) (any, error) {
	var v any
	err := c.pool.QueryRow(ctx, query, args...).Scan(&v)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (c *conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *conn) Close() error {
	c.pool.Close()
	return nil
}

type pgRows struct {
	rows pgx.Rows
	cols []string
}

func (r *pgRows) Next() bool             { return r.rows.Next() }
func (r *pgRows) Columns() []string      { return r.cols }
func (r *pgRows) Err() error             { return r.rows.Err() }
func (r *pgRows) Close()                 { r.rows.Close() }
func (r *pgRows) Values() ([]any, error) { return r.rows.Values() }
