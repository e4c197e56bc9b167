// Package checkpoint derives resume predicates from persisted checkpoint
// state, extracts checkpoint values from processed rows, and commits the new
// high-water mark once a run finishes.
//
// A checkpoint is a single logical record per job: the last processed key
// value (a scalar for KEY, an ordered tuple for COMPOSITE_KEY), a completed
// flag, and a timestamp. It is read once at the start of a run and written
// once at the end; it is never advanced per chunk, so observers can never see
// a torn high-water mark.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mapload/internal/config"
	"mapload/internal/dialect"
	"mapload/internal/expr"
)

// State is the persisted resume position for one job.
type State struct {
	// Values is the ordered checkpoint tuple; one element under the KEY
	// strategy. Empty means no checkpoint has ever been committed.
	Values []any

	// Completed marks the last run as fully finished (as opposed to an
	// intentionally truncated but consistent stop).
	Completed bool

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// Store persists checkpoint records keyed by job name.
type Store interface {
	// Load returns the job's checkpoint and whether one exists.
	Load(ctx context.Context, job string) (State, bool, error)
	// Save writes (or replaces) the job's checkpoint.
	Save(ctx context.Context, job string, st State) error
}

// Manager implements the checkpoint contract for one job configuration.
type Manager struct {
	strategy string
	columns  []string
	prog     *expr.Program // PROGRAMMATIC only
	d        *dialect.Profile
	store    Store
}

// NewManager validates the checkpoint configuration and binds it to the
// source dialect (used to render predicate literals) and a store.
func NewManager(cp config.Checkpoint, d *dialect.Profile, store Store) (*Manager, error) {
	strategy := cp.Strategy
	if strategy == "" {
		strategy = config.CheckpointNone
	}
	m := &Manager{strategy: strategy, columns: cp.Columns, d: d, store: store}
	switch strategy {
	case config.CheckpointNone:
	case config.CheckpointKey:
		if len(cp.Columns) != 1 {
			return nil, fmt.Errorf("checkpoint: KEY strategy requires exactly one column, got %d", len(cp.Columns))
		}
	case config.CheckpointCompositeKey:
		if len(cp.Columns) < 2 {
			return nil, fmt.Errorf("checkpoint: COMPOSITE_KEY strategy requires two or more columns, got %d", len(cp.Columns))
		}
	case config.CheckpointProgrammatic:
		// The programmatic strategy computes its resume value by evaluating a
		// custom expression row by row, which is only well-defined on the
		// sequential path (see ChunkSafe).
		if cp.Expression == "" {
			return nil, fmt.Errorf("checkpoint: PROGRAMMATIC strategy requires an expression")
		}
		prog, err := expr.Compile(cp.Expression)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: compile expression: %w", err)
		}
		m.prog = prog
	default:
		return nil, fmt.Errorf("checkpoint: unknown strategy %q", cp.Strategy)
	}
	return m, nil
}

// Strategy returns the effective strategy name.
func (m *Manager) Strategy() string { return m.strategy }

// Enabled reports whether any checkpointing is configured.
func (m *Manager) Enabled() bool { return m.strategy != config.CheckpointNone }

// ChunkSafe reports whether partial progress from completed chunks may be
// committed after a stop request. Only the monotonic key strategies qualify;
// the programmatic strategy depends on row-by-row evaluation order and must
// not commit a partial mark.
func (m *Manager) ChunkSafe() bool {
	return m.strategy == config.CheckpointKey || m.strategy == config.CheckpointCompositeKey
}

// Load reads the persisted checkpoint for job. A NONE strategy always
// reports no checkpoint without touching the store.
func (m *Manager) Load(ctx context.Context, job string) (State, bool, error) {
	if !m.Enabled() {
		return State{}, false, nil
	}
	return m.store.Load(ctx, job)
}

// ResumePredicate renders the SQL fragment substituted for the
// {{CHECKPOINT_PREDICATE}} slot. With no usable checkpoint it degenerates to
// a tautology so the query shape stays stable.
//
// For a composite tuple (a, b) > (va, vb) the fragment expands to the
// lexicographic form (a > va) OR (a = va AND b > vb), which every supported
// dialect accepts.
func (m *Manager) ResumePredicate(st State, found bool) string {
	if !m.Enabled() || !found || len(st.Values) == 0 || len(m.columns) == 0 {
		// A programmatic checkpoint without predicate columns cannot narrow
		// the query; the run re-scans and relies on merge idempotence.
		return "1=1"
	}

	n := len(m.columns)
	if len(st.Values) < n {
		n = len(st.Values)
	}

	var terms []string
	for i := 0; i < n; i++ {
		var parts []string
		for j := 0; j < i; j++ {
			parts = append(parts, fmt.Sprintf("%s = %s", m.d.QuoteIdent(m.columns[j]), m.d.Literal(st.Values[j])))
		}
		parts = append(parts, fmt.Sprintf("%s > %s", m.d.QuoteIdent(m.columns[i]), m.d.Literal(st.Values[i])))
		terms = append(terms, "("+strings.Join(parts, " AND ")+")")
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// Extract pulls the checkpoint tuple out of a source row. The row is keyed
// by source column name, as returned by the reader. Under the PROGRAMMATIC
// strategy the tuple is the single value of the configured expression.
func (m *Manager) Extract(row map[string]any) ([]any, error) {
	if !m.Enabled() {
		return nil, nil
	}
	if m.prog != nil {
		v, err := m.prog.Eval(row)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: evaluate expression: %w", err)
		}
		return []any{v}, nil
	}
	out := make([]any, len(m.columns))
	for i, c := range m.columns {
		v, ok := row[c]
		if !ok {
			return nil, fmt.Errorf("checkpoint: source row is missing column %q", c)
		}
		out[i] = v
	}
	return out, nil
}

// Commit persists the new checkpoint. Callers invoke it exactly once per
// run, after confirming every chunk has reported (or after a chunk-safe
// truncation).
func (m *Manager) Commit(ctx context.Context, job string, values []any, completed bool) error {
	if !m.Enabled() || len(values) == 0 {
		return nil
	}
	return m.store.Save(ctx, job, State{
		Values:    values,
		Completed: completed,
		UpdatedAt: time.Now().UTC(),
	})
}

// Compare orders two checkpoint tuples lexicographically. It returns -1, 0,
// or 1. A nil tuple sorts before any non-nil tuple.
func Compare(a, b []any) int {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return -1
	case len(b) == 0:
		return 1
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareValue(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// compareValue orders two scalar values of compatible types. Numeric types
// are widened before comparison so driver differences (int32 vs int64) do
// not matter.
func compareValue(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if fa, aok := asFloat(a); aok {
		if fb, bok := asFloat(b); bok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}

	if ta, aok := a.(time.Time); aok {
		if tb, bok := b.(time.Time); bok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			}
			return 0
		}
	}

	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
