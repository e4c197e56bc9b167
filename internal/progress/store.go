// Progress persistence: a SQL-backed store writing one record per run, and
// an in-memory store for tests.
package progress

import (
	"context"
	"fmt"
	"sync"

	"mapload/internal/dbconn"
	"mapload/internal/dialect"
)

// DefaultTable is the progress table name used when none is configured.
const DefaultTable = "mapload_progress"

// SQLStore persists snapshots in a relational table keyed by run id:
//
//	job_name, run_id, rows_read, rows_succeeded, rows_failed,
//	chunks_completed, chunks_skipped, chunks_total, status, updated_at
type SQLStore struct {
	conn  dbconn.Conn
	d     *dialect.Profile
	table string
}

// NewSQLStore binds a store to an open connection and dialect. An empty
// table name selects DefaultTable.
func NewSQLStore(conn dbconn.Conn, d *dialect.Profile, table string) *SQLStore {
	if table == "" {
		table = DefaultTable
	}
	return &SQLStore{conn: conn, d: d, table: table}
}

// Save implements Store with update-then-insert semantics.
func (s *SQLStore) Save(ctx context.Context, snap Snapshot) error {
	q := s.d.QuoteIdent

	upd := fmt.Sprintf(
		"UPDATE %s SET %s = %s, %s = %s, %s = %s, %s = %s, %s = %s, %s = %s, %s = %s WHERE %s = %s",
		q(s.table),
		q("rows_read"), s.d.Placeholder(1),
		q("rows_succeeded"), s.d.Placeholder(2),
		q("rows_failed"), s.d.Placeholder(3),
		q("chunks_completed"), s.d.Placeholder(4),
		q("chunks_skipped"), s.d.Placeholder(5),
		q("status"), s.d.Placeholder(6),
		q("updated_at"), s.d.Placeholder(7),
		q("run_id"), s.d.Placeholder(8),
	)
	n, err := s.conn.Exec(ctx, upd,
		snap.RowsRead, snap.RowsSucceeded, snap.RowsFailed,
		snap.ChunksCompleted, snap.ChunksSkipped, snap.Status, snap.UpdatedAt, snap.RunID,
	)
	if err != nil {
		return fmt.Errorf("progress: save run %q: %w", snap.RunID, err)
	}
	if n > 0 {
		return nil
	}

	ins := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s) VALUES (%s)",
		q(s.table),
		q("job_name"), q("run_id"),
		q("rows_read"), q("rows_succeeded"), q("rows_failed"),
		q("chunks_completed"), q("chunks_skipped"), q("chunks_total"),
		q("status"), q("updated_at"),
		s.d.Placeholders(1, 10),
	)
	if _, err := s.conn.Exec(ctx, ins,
		snap.Job, snap.RunID,
		snap.RowsRead, snap.RowsSucceeded, snap.RowsFailed,
		snap.ChunksCompleted, snap.ChunksSkipped, snap.ChunksTotal,
		snap.Status, snap.UpdatedAt,
	); err != nil {
		return fmt.Errorf("progress: save run %q: %w", snap.RunID, err)
	}
	return nil
}

// MemStore is an in-memory Store that keeps every snapshot it receives, in
// order. Useful for asserting flush cadence in tests.
type MemStore struct {
	mu    sync.Mutex
	snaps []Snapshot
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore { return &MemStore{} }

// Save implements Store.
func (m *MemStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

// Snapshots returns a copy of everything saved so far.
func (m *MemStore) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.snaps))
	copy(out, m.snaps)
	return out
}
