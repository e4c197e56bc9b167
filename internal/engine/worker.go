package engine

import (
	"context"
	"fmt"

	"mapload/internal/checkpoint"
	"mapload/internal/dbconn"
	"mapload/internal/transform"
)

// pendingRow carries a transformed row together with the source-side context
// needed to report a merge failure.
type pendingRow struct {
	row      transform.Row
	index    int64 // source row index within the chunk
	snapshot map[string]any
}

// runChunk processes one chunk on its own dedicated connections: read a
// batch, transform it, merge it, repeat. A started chunk runs to completion;
// the stop flag is only consulted before chunks start.
func (e *Engine) runChunk(ctx context.Context, ch Chunk) ChunkResult {
	res := ChunkResult{Chunk: ch.Index}

	src, err := e.srcFactory(ctx)
	if err != nil {
		res.Err = fmt.Errorf("engine: chunk %d: open source: %w", ch.Index, err)
		return res
	}
	defer src.Close()

	tgt, err := e.tgtFactory(ctx)
	if err != nil {
		res.Err = fmt.Errorf("engine: chunk %d: open target: %w", ch.Index, err)
		return res
	}
	defer tgt.Close()

	query := e.query
	var skip int64
	if ch.Limit > 0 {
		query = e.srcD.LimitClause(e.query, ch.Limit, ch.Offset)
		if e.srcD.ClientSideOffset() {
			skip = ch.Offset
		}
	}

	rows, err := src.Query(ctx, query)
	if err != nil {
		res.Err = fmt.Errorf("engine: chunk %d: source query: %w", ch.Index, err)
		return res
	}
	defer rows.Close()
	cols := rows.Columns()

	batch := make([]pendingRow, 0, e.batchSize)
	var index int64
	for rows.Next() {
		if skip > 0 {
			skip--
			continue
		}
		vals, err := rows.Values()
		if err != nil {
			res.Err = fmt.Errorf("engine: chunk %d: read row: %w", ch.Index, err)
			return res
		}
		srcRow := make(map[string]any, len(cols))
		for i, c := range cols {
			if i < len(vals) {
				srcRow[c] = vals[i]
			}
		}
		res.RowsRead++

		if e.ckpt.Enabled() {
			tuple, err := e.ckpt.Extract(srcRow)
			if err != nil {
				res.Err = fmt.Errorf("engine: chunk %d: %w", ch.Index, err)
				return res
			}
			if res.MaxKey == nil || checkpoint.Compare(tuple, res.MaxKey) > 0 {
				res.MaxKey = tuple
			}
		}

		out, err := e.tr.Apply(srcRow, index)
		if err != nil {
			res.RowsFailed++
			res.Errors = append(res.Errors, RowError{
				Chunk:    ch.Index,
				Row:      index,
				Code:     CodeTransform,
				Message:  err.Error(),
				Snapshot: srcRow,
			})
			index++
			continue
		}
		batch = append(batch, pendingRow{row: out, index: index, snapshot: srcRow})
		index++

		if len(batch) >= e.batchSize {
			e.mergeBatch(ctx, tgt, ch.Index, batch, &res)
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		res.Err = fmt.Errorf("engine: chunk %d: cursor: %w", ch.Index, err)
		return res
	}
	if len(batch) > 0 {
		e.mergeBatch(ctx, tgt, ch.Index, batch, &res)
	}
	return res
}

// mergeBatch applies one batch and folds the outcome into res. A permanently
// failed batch is recorded as one RowError per row; the chunk continues with
// the next batch.
func (e *Engine) mergeBatch(ctx context.Context, tgt dbconn.Conn, chunk int, batch []pendingRow, res *ChunkResult) {
	trows := make([]transform.Row, len(batch))
	for i := range batch {
		trows[i] = batch[i].row
	}
	if _, err := e.merger.MergeBatch(ctx, tgt, trows); err != nil {
		res.RowsFailed += int64(len(batch))
		for i := range batch {
			res.Errors = append(res.Errors, RowError{
				Chunk:    chunk,
				Row:      batch[i].index,
				Code:     CodeMerge,
				Message:  err.Error(),
				Snapshot: batch[i].snapshot,
			})
		}
		return
	}
	res.RowsSucceeded += int64(len(batch))
}
