package engine

import (
	"context"
	"fmt"
	"log"

	"mapload/internal/config"
	"mapload/internal/dbconn"
	"mapload/internal/dialect"
)

// Plan is the planner's decision: a single sequential pass, or a set of
// disjoint contiguous chunks covering [0, EstimatedRows).
type Plan struct {
	Sequential    bool
	Reason        string // why the sequential path was chosen
	EstimatedRows int64
	Chunks        []Chunk
}

// planChunks sizes the work for the resolved source query (resume predicate
// already substituted). Estimation failure is non-fatal and degrades to the
// sequential path.
func planChunks(ctx context.Context, conn dbconn.Conn, d *dialect.Profile, query string, par config.Parallel, chunkSafe bool) Plan {
	if !par.Enabled {
		return sequentialPlan("parallel disabled")
	}
	if !chunkSafe {
		// Row-by-row checkpoint evaluation has no defined order across
		// chunks.
		return sequentialPlan("checkpoint strategy requires sequential execution")
	}

	minRows := par.MinRows
	if minRows <= 0 {
		minRows = config.DefaultMinRows
	}
	chunkSize := int64(par.ChunkSize)
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}

	estimated, err := estimateRows(ctx, conn, d, query)
	if err != nil {
		log.Printf("plan: row estimation failed, falling back to sequential: %v", err)
		return sequentialPlan("estimation failed")
	}
	if estimated < minRows {
		p := sequentialPlan(fmt.Sprintf("estimated %d rows below parallel threshold %d", estimated, minRows))
		p.EstimatedRows = estimated
		return p
	}

	var chunks []Chunk
	for offset := int64(0); offset < estimated; offset += chunkSize {
		limit := chunkSize
		if offset+limit > estimated {
			limit = estimated - offset
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Offset: offset, Limit: limit})
	}
	return Plan{EstimatedRows: estimated, Chunks: chunks}
}

func sequentialPlan(reason string) Plan {
	return Plan{
		Sequential: true,
		Reason:     reason,
		Chunks:     []Chunk{{Index: 0}}, // unbounded pseudo-chunk
	}
}

// estimateRows wraps the resolved source query in the dialect's COUNT form
// and runs it.
func estimateRows(ctx context.Context, conn dbconn.Conn, d *dialect.Profile, query string) (int64, error) {
	v, err := conn.QueryValue(ctx, d.CountWrap(query))
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case int64:
		return t, nil
	case int32:
		return int64(t), nil
	case int:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case []byte:
		var n int64
		if _, err := fmt.Sscan(string(t), &n); err != nil {
			return 0, fmt.Errorf("unparseable count %q", t)
		}
		return n, nil
	case string:
		var n int64
		if _, err := fmt.Sscan(t, &n); err != nil {
			return 0, fmt.Errorf("unparseable count %q", t)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("count query returned no rows")
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}
