package sqlite

import (
	"context"
	"testing"

	"mapload/internal/dbconn"
)

// TestOpenAndRoundTrip opens an in-memory database through the registry and
// exercises Exec, Query, and QueryValue end to end.
func TestOpenAndRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn, err := dbconn.Open(ctx, dbconn.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec(ctx, "CREATE TABLE t (id INTEGER, name TEXT)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	n, err := conn.Exec(ctx, "INSERT INTO t (id, name) VALUES (?, ?), (?, ?)", 1, "a", 2, "b")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 2 {
		t.Errorf("affected = %d, want 2", n)
	}

	v, err := conn.QueryValue(ctx, "SELECT COUNT(*) FROM t")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if v.(int64) != 2 {
		t.Errorf("count = %v", v)
	}

	rows, err := conn.Query(ctx, "SELECT id, name FROM t ORDER BY id")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	if got := rows.Columns(); len(got) != 2 || got[0] != "id" || got[1] != "name" {
		t.Fatalf("columns = %v", got)
	}
	var seen int
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			t.Fatalf("values: %v", err)
		}
		seen++
		if vals[0].(int64) != int64(seen) {
			t.Errorf("row %d id = %v", seen, vals[0])
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if seen != 2 {
		t.Errorf("rows = %d, want 2", seen)
	}

	// Empty single-value result is nil, not an error.
	v, err = conn.QueryValue(ctx, "SELECT id FROM t WHERE id = 99")
	if err != nil || v != nil {
		t.Errorf("empty QueryValue = %v, %v", v, err)
	}
}
