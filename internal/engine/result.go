package engine

import "time"

// Status is the terminal status of one execution.
type Status string

const (
	// StatusDone means every chunk succeeded with zero row errors.
	StatusDone Status = "DONE"
	// StatusPartial means all chunks completed but some rows failed.
	StatusPartial Status = "PARTIAL"
	// StatusFailed means an unrecoverable error terminated processing.
	StatusFailed Status = "FAILED"
	// StatusStopped means a stop request was honored.
	StatusStopped Status = "STOPPED"
)

// Error codes attached to RowError records, mirroring the failure taxonomy:
// per-row transformation, per-batch merge, per-chunk setup.
const (
	CodeTransform = "TRANSFORM"
	CodeMerge     = "MERGE"
	CodeChunk     = "CHUNK"
)

// RowError records one failed row (or one chunk-level failure attributed to
// the rows it would have carried). Append-only, never deduplicated.
type RowError struct {
	Chunk    int            `json:"chunk"`
	Row      int64          `json:"row"` // source row index within the chunk
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Snapshot map[string]any `json:"snapshot,omitempty"` // raw source row, for diagnostics
}

// Chunk describes one disjoint slice of the estimated row space. Created by
// the planner, consumed exactly once by one worker, never mutated.
type Chunk struct {
	Index  int
	Offset int64
	// Limit is the number of rows in the slice; 0 means unbounded (the
	// sequential pseudo-chunk reads to the end of the cursor).
	Limit int64
}

// ChunkResult is what one worker hands back to the coordinator.
type ChunkResult struct {
	Chunk   int
	Skipped bool // stop request observed before the chunk started

	RowsRead      int64
	RowsSucceeded int64
	RowsFailed    int64

	// MaxKey is the chunk's highest checkpoint tuple, nil when checkpointing
	// is off or no rows were read.
	MaxKey []any

	Errors []RowError

	// Err is a chunk-fatal error (connection or query setup); the chunk
	// contributed whatever counters it reached before failing.
	Err error
}

// Result is the final aggregate returned across the engine boundary.
type Result struct {
	Job    string `json:"job"`
	RunID  string `json:"run_id"`
	Status Status `json:"status"`

	RowsRead      int64 `json:"rows_read"`
	RowsSucceeded int64 `json:"rows_succeeded"`
	RowsFailed    int64 `json:"rows_failed"`

	ChunksCompleted int `json:"chunks_completed"`
	ChunksSkipped   int `json:"chunks_skipped"`
	ChunksTotal     int `json:"chunks_total"`

	// Checkpoint is the committed high-water mark, nil when none was written.
	Checkpoint []any `json:"checkpoint,omitempty"`

	Errors  []RowError    `json:"errors,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}
