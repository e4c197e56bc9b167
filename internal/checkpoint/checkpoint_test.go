package checkpoint

import (
	"context"
	"testing"
	"time"

	"mapload/internal/config"
	"mapload/internal/dialect"
)

func pg(t *testing.T) *dialect.Profile {
	t.Helper()
	d, err := dialect.Lookup("postgres")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return d
}

// TestNewManager checks strategy/column arity validation.
func TestNewManager(t *testing.T) {
	t.Parallel()

	d := pg(t)
	cases := []struct {
		name    string
		cp      config.Checkpoint
		wantErr bool
	}{
		{"none", config.Checkpoint{}, false},
		{"key", config.Checkpoint{Strategy: config.CheckpointKey, Columns: []string{"id"}}, false},
		{"key two columns", config.Checkpoint{Strategy: config.CheckpointKey, Columns: []string{"a", "b"}}, true},
		{"composite", config.Checkpoint{Strategy: config.CheckpointCompositeKey, Columns: []string{"a", "b"}}, false},
		{"composite one column", config.Checkpoint{Strategy: config.CheckpointCompositeKey, Columns: []string{"a"}}, true},
		{"programmatic", config.Checkpoint{Strategy: config.CheckpointProgrammatic, Expression: "id"}, false},
		{"programmatic no expression", config.Checkpoint{Strategy: config.CheckpointProgrammatic}, true},
		{"programmatic bad expression", config.Checkpoint{Strategy: config.CheckpointProgrammatic, Expression: "x = 1"}, true},
		{"unknown", config.Checkpoint{Strategy: "CURSOR"}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewManager(tc.cp, d, NewMemStore())
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewManager(%+v) err = %v, wantErr %v", tc.cp, err, tc.wantErr)
			}
		})
	}
}

// TestChunkSafe: only the monotonic key strategies may commit partial
// progress after a stop.
func TestChunkSafe(t *testing.T) {
	t.Parallel()

	d := pg(t)
	key, _ := NewManager(config.Checkpoint{Strategy: config.CheckpointKey, Columns: []string{"id"}}, d, NewMemStore())
	if !key.ChunkSafe() {
		t.Errorf("KEY should be chunk-safe")
	}
	none, _ := NewManager(config.Checkpoint{}, d, NewMemStore())
	if none.ChunkSafe() || none.Enabled() {
		t.Errorf("NONE should be neither enabled nor chunk-safe")
	}
	prog, _ := NewManager(config.Checkpoint{Strategy: config.CheckpointProgrammatic, Expression: "id"}, d, NewMemStore())
	if prog.ChunkSafe() {
		t.Errorf("PROGRAMMATIC must not be chunk-safe")
	}
}

// TestResumePredicate checks the tautology fallback, the scalar form, and the
// lexicographic composite expansion.
func TestResumePredicate(t *testing.T) {
	t.Parallel()

	d := pg(t)

	key, _ := NewManager(config.Checkpoint{Strategy: config.CheckpointKey, Columns: []string{"id"}}, d, NewMemStore())
	if got := key.ResumePredicate(State{}, false); got != "1=1" {
		t.Errorf("no checkpoint predicate = %q", got)
	}
	if got := key.ResumePredicate(State{Values: []any{int64(42)}}, true); got != `("id" > 42)` {
		t.Errorf("scalar predicate = %q", got)
	}
	if got := key.ResumePredicate(State{Values: []any{"x'y"}}, true); got != `("id" > 'x''y')` {
		t.Errorf("escaped predicate = %q", got)
	}

	comp, _ := NewManager(config.Checkpoint{Strategy: config.CheckpointCompositeKey, Columns: []string{"a", "b"}}, d, NewMemStore())
	want := `(("a" > 1) OR ("a" = 1 AND "b" > 2))`
	if got := comp.ResumePredicate(State{Values: []any{int64(1), int64(2)}}, true); got != want {
		t.Errorf("composite predicate:\n got  %q\n want %q", got, want)
	}
}

// TestExtract covers column extraction, the missing-column error, and the
// programmatic expression path.
func TestExtract(t *testing.T) {
	t.Parallel()

	d := pg(t)

	comp, _ := NewManager(config.Checkpoint{Strategy: config.CheckpointCompositeKey, Columns: []string{"a", "b"}}, d, NewMemStore())
	got, err := comp.Extract(map[string]any{"a": int64(1), "b": "x", "c": true})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 2 || got[0] != int64(1) || got[1] != "x" {
		t.Errorf("Extract = %v", got)
	}
	if _, err := comp.Extract(map[string]any{"a": int64(1)}); err == nil {
		t.Errorf("Extract should fail on a missing column")
	}

	prog, _ := NewManager(config.Checkpoint{Strategy: config.CheckpointProgrammatic, Expression: "id * 10"}, d, NewMemStore())
	got, err = prog.Extract(map[string]any{"id": int64(4)})
	if err != nil {
		t.Fatalf("programmatic Extract: %v", err)
	}
	if len(got) != 1 || got[0] != int64(40) {
		t.Errorf("programmatic Extract = %v", got)
	}
}

// TestCommitAndLoad round-trips a checkpoint through the in-memory store.
func TestCommitAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemStore()
	m, _ := NewManager(config.Checkpoint{Strategy: config.CheckpointKey, Columns: []string{"id"}}, pg(t), store)

	if _, found, err := m.Load(ctx, "job1"); err != nil || found {
		t.Fatalf("Load empty = found %v, err %v", found, err)
	}
	if err := m.Commit(ctx, "job1", []any{int64(99)}, true); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	st, found, err := m.Load(ctx, "job1")
	if err != nil || !found {
		t.Fatalf("Load = found %v, err %v", found, err)
	}
	if st.Values[0] != int64(99) || !st.Completed || st.UpdatedAt.IsZero() {
		t.Errorf("Load = %+v", st)
	}

	// NONE strategy never touches the store.
	none, _ := NewManager(config.Checkpoint{}, pg(t), nil)
	if err := none.Commit(ctx, "job1", []any{int64(1)}, true); err != nil {
		t.Errorf("NONE Commit should be a no-op: %v", err)
	}
}

// TestCompare covers the lexicographic tuple ordering across value types.
func TestCompare(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		a, b []any
		want int
	}{
		{nil, nil, 0},
		{nil, []any{int64(1)}, -1},
		{[]any{int64(1)}, nil, 1},
		{[]any{int64(1)}, []any{int64(2)}, -1},
		{[]any{int64(2)}, []any{int64(2)}, 0},
		{[]any{int32(3)}, []any{int64(2)}, 1}, // widths widen before comparing
		{[]any{int64(1), "b"}, []any{int64(1), "c"}, -1},
		{[]any{int64(1), "c"}, []any{int64(1), "b"}, 1},
		{[]any{"a"}, []any{"a", "b"}, -1}, // shorter tuple sorts first
		{[]any{now}, []any{now.Add(time.Second)}, -1},
		{[]any{nil}, []any{int64(0)}, -1}, // nil sorts before any value
	}
	for i, tc := range cases {
		if got := Compare(tc.a, tc.b); got != tc.want {
			t.Errorf("case %d: Compare(%v, %v) = %d, want %d", i, tc.a, tc.b, got, tc.want)
		}
	}
}

// TestTupleRoundTrip checks the tagged encoding preserves types through the
// text column.
func TestTupleRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	in := []any{int64(7), "x", 2.5, true, ts, nil}
	enc, err := encodeTuple(in)
	if err != nil {
		t.Fatalf("encodeTuple: %v", err)
	}
	out, err := decodeTuple(enc)
	if err != nil {
		t.Fatalf("decodeTuple: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d values, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] == nil {
			if out[i] != nil {
				t.Errorf("out[%d] = %v, want nil", i, out[i])
			}
			continue
		}
		if tin, ok := in[i].(time.Time); ok {
			if !tin.Equal(out[i].(time.Time)) {
				t.Errorf("out[%d] = %v, want %v", i, out[i], tin)
			}
			continue
		}
		if out[i] != in[i] {
			t.Errorf("out[%d] = %#v, want %#v", i, out[i], in[i])
		}
	}

	if _, err := encodeTuple([]any{struct{}{}}); err == nil {
		t.Errorf("encodeTuple should reject unsupported types")
	}
}
