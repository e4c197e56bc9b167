// database/sql-backed Conn shared by the connectors that speak through the
// standard driver interface (mysql, mssql, sqlite). The pgx connector has its
// own native implementation.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLConn adapts a *sql.DB to the Conn interface.
type SQLConn struct {
	DB *sql.DB
}

// Query runs query and wraps the standard rows cursor.
func (c *SQLConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

// QueryValue returns the first column of the first row, or nil on an empty
// result.
func (c *SQLConn) QueryValue(ctx context.Context, query string, args ...any) (any, error) {
	var v any
	err := c.DB.QueryRowContext(ctx, query, args...).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// Exec runs a statement and returns the affected-row count when available.
func (c *SQLConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report the count; the statement still ran.
		return 0, nil
	}
	return n, nil
}

// Close closes the underlying pool.
func (c *SQLConn) Close() error { return c.DB.Close() }

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func (r *sqlRows) Next() bool        { return r.rows.Next() }
func (r *sqlRows) Columns() []string { return r.cols }
func (r *sqlRows) Err() error        { return r.rows.Err() }
func (r *sqlRows) Close()            { _ = r.rows.Close() }

// Values scans the current row into a fresh []any.
func (r *sqlRows) Values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return vals, nil
}
