package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mapload/internal/config"
	"mapload/internal/dbconn"
	"mapload/internal/dialect"
)

// countConn answers only the planner's row-count query.
type countConn struct {
	v   any
	err error
}

func (c *countConn) Query(context.Context, string, ...any) (dbconn.Rows, error) {
	return nil, errors.New("unexpected Query")
}
func (c *countConn) QueryValue(context.Context, string, ...any) (any, error) { return c.v, c.err }
func (c *countConn) Exec(context.Context, string, ...any) (int64, error) {
	return 0, errors.New("unexpected Exec")
}
func (c *countConn) Close() error { return nil }

func planDialect(t *testing.T) *dialect.Profile {
	t.Helper()
	d, err := dialect.Lookup("postgres")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return d
}

// TestPlanSequentialReasons covers every path that forces a single sequential
// pass: parallel off, an order-sensitive checkpoint strategy, a failed row
// estimate, and a row count below the threshold.
func TestPlanSequentialReasons(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := planDialect(t)

	cases := []struct {
		name      string
		conn      *countConn
		par       config.Parallel
		chunkSafe bool
		reason    string
	}{
		{
			name:      "parallel disabled",
			conn:      &countConn{v: int64(1 << 20)},
			par:       config.Parallel{},
			chunkSafe: true,
			reason:    "parallel disabled",
		},
		{
			name:      "not chunk safe",
			conn:      &countConn{v: int64(1 << 20)},
			par:       config.Parallel{Enabled: true},
			chunkSafe: false,
			reason:    "sequential",
		},
		{
			name:      "estimation failed",
			conn:      &countConn{err: errors.New("count timed out")},
			par:       config.Parallel{Enabled: true},
			chunkSafe: true,
			reason:    "estimation failed",
		},
		{
			name:      "below threshold",
			conn:      &countConn{v: int64(10)},
			par:       config.Parallel{Enabled: true, MinRows: 100},
			chunkSafe: true,
			reason:    "below parallel threshold",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := planChunks(ctx, tc.conn, d, "SELECT 1", tc.par, tc.chunkSafe)
			if !p.Sequential {
				t.Fatalf("plan not sequential: %+v", p)
			}
			if !strings.Contains(p.Reason, tc.reason) {
				t.Errorf("reason = %q, want substring %q", p.Reason, tc.reason)
			}
			if len(p.Chunks) != 1 || p.Chunks[0].Limit != 0 {
				t.Errorf("sequential plan must carry one unbounded chunk: %+v", p.Chunks)
			}
		})
	}
}

// TestPlanChunkLayout: chunks are disjoint, contiguous, in index order, and
// together cover exactly [0, estimated rows).
func TestPlanChunkLayout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := planDialect(t)
	conn := &countConn{v: int64(125000)}
	par := config.Parallel{Enabled: true, ChunkSize: 50000, MinRows: 100000}

	p := planChunks(ctx, conn, d, "SELECT 1", par, true)
	if p.Sequential {
		t.Fatalf("plan sequential (%s), want chunked", p.Reason)
	}
	if p.EstimatedRows != 125000 {
		t.Errorf("estimated = %d", p.EstimatedRows)
	}
	if len(p.Chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(p.Chunks))
	}

	var next int64
	for i, ch := range p.Chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has index %d", i, ch.Index)
		}
		if ch.Offset != next {
			t.Errorf("chunk %d offset = %d, want %d (gap or overlap)", i, ch.Offset, next)
		}
		if ch.Limit <= 0 {
			t.Errorf("chunk %d limit = %d", i, ch.Limit)
		}
		next = ch.Offset + ch.Limit
	}
	if next != p.EstimatedRows {
		t.Errorf("chunks cover [0, %d), want [0, %d)", next, p.EstimatedRows)
	}
	if last := p.Chunks[2]; last.Limit != 25000 {
		t.Errorf("last chunk limit = %d, want trimmed 25000", last.Limit)
	}
}

// TestEstimateRows accepts the count in whatever shape the driver returns it.
func TestEstimateRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := planDialect(t)

	ok := []struct {
		v    any
		want int64
	}{
		{int64(7), 7},
		{int32(8), 8},
		{int(9), 9},
		{uint64(10), 10},
		{float64(11), 11},
		{[]byte("12"), 12},
		{"13", 13},
	}
	for _, tc := range ok {
		got, err := estimateRows(ctx, &countConn{v: tc.v}, d, "SELECT 1")
		if err != nil {
			t.Errorf("estimateRows(%T): %v", tc.v, err)
			continue
		}
		if got != tc.want {
			t.Errorf("estimateRows(%T) = %d, want %d", tc.v, got, tc.want)
		}
	}

	for _, v := range []any{nil, true, "not-a-number"} {
		if _, err := estimateRows(ctx, &countConn{v: v}, d, "SELECT 1"); err == nil {
			t.Errorf("estimateRows(%#v) should fail", v)
		}
	}
}
