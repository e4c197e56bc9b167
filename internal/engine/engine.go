// Package engine executes one mapping job: it plans the work into chunks,
// runs them sequentially or on a bounded worker pool, and aggregates the
// outcome into a single ExecutionResult-style value.
//
// The coordinator owns all shared state. Workers process their chunk on
// dedicated connections and hand back a ChunkResult; aggregation happens
// under one mutex on the coordinator side, never inside a worker.
//
// Cancellation is cooperative and polled: the stop flag is consulted before
// any chunk is submitted and again at the start of each chunk, before the
// worker opens connections. A chunk that has started runs to completion so
// the target never holds a half-written chunk.
package engine

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"

	"mapload/internal/checkpoint"
	"mapload/internal/config"
	"mapload/internal/dbconn"
	"mapload/internal/dialect"
	"mapload/internal/metrics"
	"mapload/internal/progress"
	"mapload/internal/scd"
	"mapload/internal/transform"
)

// StopFunc is the polled stop-request flag. The engine never originates a
// stop; it only honors one.
type StopFunc func(ctx context.Context) bool

// Options carries the injectable collaborators. Zero values select the
// defaults: connections opened from the job's DSNs, a checkpoint store on
// the target database, no durable progress, no stop flag.
type Options struct {
	// SourceFactory and TargetFactory mint per-worker connections. When nil
	// they are derived from the job's dialect and DSN via dbconn.
	SourceFactory dbconn.Factory
	TargetFactory dbconn.Factory

	// CheckpointStore persists the resume position. When nil and a
	// checkpoint strategy is enabled, a SQL store on the target database
	// (table checkpoint.DefaultTable) is used.
	CheckpointStore checkpoint.Store

	// ProgressStore receives durable progress snapshots. Nil disables
	// durable progress; counters still aggregate in memory.
	ProgressStore progress.Store

	// Stop is the polled stop-request flag. Nil means never stopped.
	Stop StopFunc

	// FlushEvery overrides the progress flush cadence (chunk completions per
	// durable snapshot).
	FlushEvery int

	// RunID identifies this execution in progress records and the result.
	// Empty generates a fresh UUID.
	RunID string
}

// Engine executes one job. Build with New, run with Execute; an Engine is
// good for a single Execute call.
type Engine struct {
	job   config.Job
	runID string

	srcD *dialect.Profile
	tgtD *dialect.Profile

	srcFactory dbconn.Factory
	tgtFactory dbconn.Factory

	tr     *transform.Transformer
	merger *scd.Merger
	ckpt   *checkpoint.Manager

	progressStore progress.Store
	flushEvery    int
	stop          StopFunc
	batchSize     int

	// ownedStore is the lazily-opened default checkpoint store; closed at
	// the end of Execute. Nil when a store was injected.
	ownedStore *lazyCheckpointStore

	query string // source query with the resume predicate substituted
}

// New validates the job configuration and assembles an engine. Validation
// failures are ConfigError-class: the job fails fast before any I/O.
func New(job config.Job, opts Options) (*Engine, error) {
	issues := config.ValidateJob(job)
	for _, is := range issues {
		log.Printf("config: %s", is.Error())
	}
	if config.HasError(issues) {
		return nil, fmt.Errorf("engine: invalid job configuration (%d issues)", len(issues))
	}

	srcD, err := dialect.Lookup(job.Source.Dialect)
	if err != nil {
		return nil, fmt.Errorf("engine: source: %w", err)
	}
	tgtD, err := dialect.Lookup(job.Target.Dialect)
	if err != nil {
		return nil, fmt.Errorf("engine: target: %w", err)
	}

	srcFactory := opts.SourceFactory
	if srcFactory == nil {
		srcFactory, err = defaultFactory(job.Source)
		if err != nil {
			return nil, fmt.Errorf("engine: source: %w", err)
		}
	}
	tgtFactory := opts.TargetFactory
	if tgtFactory == nil {
		tgtFactory, err = defaultFactory(job.Target)
		if err != nil {
			return nil, fmt.Errorf("engine: target: %w", err)
		}
	}

	tr, err := transform.New(job.Mappings)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	merger, err := scd.New(job.Name, tgtD, job.Target.Schema, job.Target.Table, job.Scd, tr)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		job:           job,
		runID:         opts.RunID,
		srcD:          srcD,
		tgtD:          tgtD,
		srcFactory:    srcFactory,
		tgtFactory:    tgtFactory,
		tr:            tr,
		merger:        merger,
		progressStore: opts.ProgressStore,
		flushEvery:    opts.FlushEvery,
		stop:          opts.Stop,
		batchSize:     job.BatchSize,
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	if e.batchSize <= 0 {
		e.batchSize = config.DefaultBatchSize
	}

	ckptStore := opts.CheckpointStore
	if ckptStore == nil && job.Checkpoint.Strategy != "" && job.Checkpoint.Strategy != config.CheckpointNone {
		e.ownedStore = &lazyCheckpointStore{factory: tgtFactory, d: tgtD}
		ckptStore = e.ownedStore
	}
	e.ckpt, err = checkpoint.NewManager(job.Checkpoint, srcD, ckptStore)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return e, nil
}

func defaultFactory(ep config.Endpoint) (dbconn.Factory, error) {
	kind, err := dbconn.DriverKind(ep.Dialect)
	if err != nil {
		return nil, err
	}
	return dbconn.NewFactory(dbconn.Config{Kind: kind, DSN: ep.DSN}), nil
}

func (e *Engine) stopped(ctx context.Context) bool {
	return e.stop != nil && e.stop(ctx)
}

// Execute runs the job to completion (or to a honored stop request) and
// returns the aggregate result. The result is non-nil even on error.
func (e *Engine) Execute(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{Job: e.job.Name, RunID: e.runID, Status: StatusFailed}
	defer func() {
		res.Elapsed = time.Since(start)
		metrics.RecordRun(e.job.Name, string(res.Status), res.Elapsed)
		if e.ownedStore != nil {
			e.ownedStore.Close()
		}
	}()

	// Resume position: read once, before any other I/O.
	st, found, err := e.ckpt.Load(ctx, e.job.Name)
	if err != nil {
		return res, fmt.Errorf("engine: load checkpoint: %w", err)
	}
	e.query = strings.ReplaceAll(e.job.Source.Query, config.PredicateSlot, e.ckpt.ResumePredicate(st, found))

	plan := e.planWork(ctx)
	res.ChunksTotal = len(plan.Chunks)
	if plan.Sequential {
		log.Printf("engine: %s: sequential run (%s)", e.job.Name, plan.Reason)
	} else {
		log.Printf("engine: %s: %d chunks over ~%d estimated rows", e.job.Name, len(plan.Chunks), plan.EstimatedRows)
	}

	reporter := progress.NewReporter(e.job.Name, e.runID, len(plan.Chunks), e.progressStore, e.flushEvery)
	results, stopSeen := e.dispatch(ctx, plan, reporter)
	e.aggregate(res, results, stopSeen)

	// The final snapshot waits for the checkpoint outcome: a failed commit
	// flips the run to FAILED, and the durable record must say so.
	if err := e.commitCheckpoint(ctx, res, results); err != nil {
		log.Printf("engine: %s: checkpoint commit failed: %v", e.job.Name, err)
		res.Status = StatusFailed
		reporter.Final(ctx, string(res.Status))
		return res, fmt.Errorf("engine: commit checkpoint: %w", err)
	}
	reporter.Final(ctx, string(res.Status))

	log.Printf("engine: %s: run %s finished status=%s read=%d ok=%d failed=%d chunks=%d/%d skipped=%d in %s",
		e.job.Name, e.runID, res.Status, res.RowsRead, res.RowsSucceeded, res.RowsFailed,
		res.ChunksCompleted, res.ChunksTotal, res.ChunksSkipped, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// planWork produces the plan. The estimation connection is opened only when
// the planner actually needs a row estimate; failing to open it degrades to
// the sequential path like any other estimation failure instead of failing
// the run.
func (e *Engine) planWork(ctx context.Context) Plan {
	par := e.job.Parallel
	chunkSafe := e.ckpt.Strategy() != config.CheckpointProgrammatic
	if !par.Enabled {
		return sequentialPlan("parallel disabled")
	}
	if !chunkSafe {
		return sequentialPlan("checkpoint strategy requires sequential execution")
	}

	conn, err := e.srcFactory(ctx)
	if err != nil {
		log.Printf("plan: open source for estimation failed, falling back to sequential: %v", err)
		return sequentialPlan("estimation failed")
	}
	defer conn.Close()
	return planChunks(ctx, conn, e.srcD, e.query, par, chunkSafe)
}

// dispatch runs the plan's chunks and collects their results. It reports
// whether a stop request was observed.
func (e *Engine) dispatch(ctx context.Context, plan Plan, reporter *progress.Reporter) ([]ChunkResult, bool) {
	if plan.Sequential {
		return e.runSequential(ctx, plan, reporter)
	}
	return e.runParallel(ctx, plan, reporter)
}

// runSequential executes chunks in order on the calling goroutine.
func (e *Engine) runSequential(ctx context.Context, plan Plan, reporter *progress.Reporter) ([]ChunkResult, bool) {
	var (
		results  []ChunkResult
		stopSeen bool
	)
	for _, ch := range plan.Chunks {
		if stopSeen || e.stopped(ctx) {
			stopSeen = true
			results = append(results, ChunkResult{Chunk: ch.Index, Skipped: true})
			reporter.ChunkSkipped()
			metrics.RecordChunk(e.job.Name, "skipped", 0)
			continue
		}
		results = append(results, e.finishChunk(ctx, ch, reporter))
	}
	return results, stopSeen
}

// runParallel fans chunks out to a bounded worker pool. Chunks are submitted
// in index order; once a stop request is observed no further chunk starts,
// while in-flight chunks run to completion.
func (e *Engine) runParallel(ctx context.Context, plan Plan, reporter *progress.Reporter) ([]ChunkResult, bool) {
	workers := e.job.Parallel.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
	}
	if workers < 1 {
		workers = 1
	}
	log.Printf("engine: %s: worker pool size %d", e.job.Name, workers)

	var (
		mu       sync.Mutex
		results  []ChunkResult
		stopSeen bool
	)
	collect := func(r ChunkResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}
	markStopped := func() {
		mu.Lock()
		stopSeen = true
		mu.Unlock()
	}
	isStopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return stopSeen
	}

	sem := semaphore.NewWeighted(int64(workers))
	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range plan.Chunks {
		ch := ch

		// Coordinator-side check, before the chunk is submitted.
		if isStopped() || e.stopped(ctx) {
			markStopped()
			collect(ChunkResult{Chunk: ch.Index, Skipped: true})
			reporter.ChunkSkipped()
			metrics.RecordChunk(e.job.Name, "skipped", 0)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			collect(ChunkResult{Chunk: ch.Index, Err: fmt.Errorf("engine: chunk %d: %w", ch.Index, err)})
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			// Worker-side check at chunk start, before opening connections.
			if isStopped() || e.stopped(gctx) {
				markStopped()
				collect(ChunkResult{Chunk: ch.Index, Skipped: true})
				reporter.ChunkSkipped()
				metrics.RecordChunk(e.job.Name, "skipped", 0)
				return nil
			}
			collect(e.finishChunk(gctx, ch, reporter))
			return nil
		})
	}
	g.Wait()
	return results, isStopped()
}

// finishChunk runs one chunk and feeds its counters to the reporter and the
// metrics backend.
func (e *Engine) finishChunk(ctx context.Context, ch Chunk, reporter *progress.Reporter) ChunkResult {
	t0 := time.Now()
	r := e.runChunk(ctx, ch)
	d := time.Since(t0)

	reporter.ChunkDone(ctx, r.RowsRead, r.RowsSucceeded, r.RowsFailed)
	outcome := "done"
	if r.Err != nil {
		outcome = "failed"
		log.Printf("engine: %s: chunk %d failed: %v", e.job.Name, ch.Index, r.Err)
	}
	metrics.RecordChunk(e.job.Name, outcome, d)
	metrics.RecordRows(e.job.Name, "read", r.RowsRead)
	metrics.RecordRows(e.job.Name, "succeeded", r.RowsSucceeded)
	metrics.RecordRows(e.job.Name, "failed", r.RowsFailed)
	return r
}

// aggregate folds the chunk results into the final counters and derives the
// terminal status. Chunk-fatal errors dominate a stop request; a stop
// dominates row-level failures.
func (e *Engine) aggregate(res *Result, results []ChunkResult, stopSeen bool) {
	var chunkFatal bool
	for _, r := range results {
		if r.Skipped {
			res.ChunksSkipped++
			continue
		}
		res.RowsRead += r.RowsRead
		res.RowsSucceeded += r.RowsSucceeded
		res.RowsFailed += r.RowsFailed
		res.Errors = append(res.Errors, r.Errors...)
		if r.Err != nil {
			chunkFatal = true
			res.Errors = append(res.Errors, RowError{
				Chunk:   r.Chunk,
				Code:    CodeChunk,
				Message: r.Err.Error(),
			})
			continue
		}
		res.ChunksCompleted++
	}

	switch {
	case chunkFatal:
		res.Status = StatusFailed
	case stopSeen:
		res.Status = StatusStopped
	case res.RowsFailed > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusDone
	}
}

// commitCheckpoint writes the new high-water mark exactly once, after every
// chunk has reported. FAILED never advances the checkpoint; a STOPPED run
// advances only under a chunk-safe strategy. The mark is taken over the
// contiguous prefix of completed chunks only: workers poll the stop flag
// independently, so chunk i can be skipped while chunk j > i (already past
// its check) runs to completion, and committing j's key would permanently
// exclude i's unprocessed rows from every future resume.
func (e *Engine) commitCheckpoint(ctx context.Context, res *Result, results []ChunkResult) error {
	if !e.ckpt.Enabled() {
		return nil
	}

	switch res.Status {
	case StatusDone, StatusPartial:
	case StatusStopped:
		if !e.ckpt.ChunkSafe() {
			return nil
		}
	default:
		return nil
	}

	byIndex := make(map[int]ChunkResult, len(results))
	for _, r := range results {
		byIndex[r.Chunk] = r
	}

	var max []any
	for i := 0; i < res.ChunksTotal; i++ {
		r, ok := byIndex[i]
		if !ok || r.Skipped || r.Err != nil {
			break
		}
		if r.MaxKey != nil && (max == nil || checkpoint.Compare(r.MaxKey, max) > 0) {
			max = r.MaxKey
		}
	}
	if max == nil {
		return nil
	}
	res.Checkpoint = max
	return e.ckpt.Commit(ctx, e.job.Name, max, res.Status != StatusStopped)
}

// lazyCheckpointStore is the default checkpoint store: a SQL store on the
// target database, opened on first use and closed by Execute.
type lazyCheckpointStore struct {
	factory dbconn.Factory
	d       *dialect.Profile

	mu    sync.Mutex
	conn  dbconn.Conn
	store checkpoint.Store
}

func (s *lazyCheckpointStore) get(ctx context.Context) (checkpoint.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}
	conn, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	s.conn = conn
	s.store = checkpoint.NewSQLStore(conn, s.d, "")
	return s.store, nil
}

// Load implements checkpoint.Store.
func (s *lazyCheckpointStore) Load(ctx context.Context, job string) (checkpoint.State, bool, error) {
	st, err := s.get(ctx)
	if err != nil {
		return checkpoint.State{}, false, err
	}
	return st.Load(ctx, job)
}

// Save implements checkpoint.Store.
func (s *lazyCheckpointStore) Save(ctx context.Context, job string, state checkpoint.State) error {
	st, err := s.get(ctx)
	if err != nil {
		return err
	}
	return st.Save(ctx, job, state)
}

// Close releases the underlying connection, if one was opened.
func (s *lazyCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.store = nil, nil
	return err
}
