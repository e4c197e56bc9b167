// Package progress aggregates row and chunk counters for a run and flushes
// durable snapshots at a bounded cadence, so a job-status observer gets a
// live view without the engine hammering the progress store on every chunk.
//
// Flush failures are logged and swallowed: losing a progress snapshot must
// never fail the job.
package progress

import (
	"context"
	"log"
	"sync"
	"time"
)

// Snapshot is one durable progress record for a run.
type Snapshot struct {
	Job   string
	RunID string

	RowsRead      int64
	RowsSucceeded int64
	RowsFailed    int64

	ChunksCompleted int
	ChunksSkipped   int
	ChunksTotal     int

	Status    string
	UpdatedAt time.Time
}

// Store persists progress snapshots, one logical record per run.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
}

// DefaultFlushEvery is the default number of chunk completions between
// durable flushes. The final snapshot is always flushed.
const DefaultFlushEvery = 5

// Reporter accumulates counters under a single mutex. The mutex is never
// held across store I/O; flushes work on a copied snapshot.
type Reporter struct {
	store      Store
	flushEvery int

	mu         sync.Mutex
	snap       Snapshot
	sinceFlush int
}

// NewReporter creates a reporter for one run. flushEvery <= 0 selects
// DefaultFlushEvery. A nil store disables durable snapshots (counters still
// aggregate).
func NewReporter(job, runID string, chunksTotal int, store Store, flushEvery int) *Reporter {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &Reporter{
		store:      store,
		flushEvery: flushEvery,
		snap: Snapshot{
			Job:         job,
			RunID:       runID,
			ChunksTotal: chunksTotal,
			Status:      "RUNNING",
		},
	}
}

// ChunkDone records one completed chunk's counters and flushes a snapshot
// when the cadence is due. Sums are commutative, so out-of-order chunk
// completion is safe.
func (r *Reporter) ChunkDone(ctx context.Context, read, succeeded, failed int64) {
	r.mu.Lock()
	r.snap.RowsRead += read
	r.snap.RowsSucceeded += succeeded
	r.snap.RowsFailed += failed
	r.snap.ChunksCompleted++
	r.sinceFlush++
	due := r.sinceFlush >= r.flushEvery
	if due {
		r.sinceFlush = 0
	}
	snap := r.snap
	r.mu.Unlock()

	if due {
		r.flush(ctx, snap)
	}
}

// ChunkSkipped records a chunk that was never started (stop-request
// truncation). Skipped chunks are not "completed"; they are accounted
// separately so the final snapshot distinguishes truncation from work.
func (r *Reporter) ChunkSkipped() {
	r.mu.Lock()
	r.snap.ChunksSkipped++
	r.mu.Unlock()
}

// Final sets the terminal status and always flushes a last snapshot.
func (r *Reporter) Final(ctx context.Context, status string) {
	r.mu.Lock()
	r.snap.Status = status
	snap := r.snap
	r.mu.Unlock()

	r.flush(ctx, snap)
}

// Totals returns the current aggregate counters.
func (r *Reporter) Totals() (read, succeeded, failed int64, chunksCompleted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.RowsRead, r.snap.RowsSucceeded, r.snap.RowsFailed, r.snap.ChunksCompleted
}

func (r *Reporter) flush(ctx context.Context, snap Snapshot) {
	if r.store == nil {
		return
	}
	snap.UpdatedAt = time.Now().UTC()
	if err := r.store.Save(ctx, snap); err != nil {
		log.Printf("progress: flush failed (ignored): %v", err)
	}
}
