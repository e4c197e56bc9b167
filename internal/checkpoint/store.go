// Checkpoint persistence: a SQL-backed store writing one record per job, and
// an in-memory store for tests and dry runs.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mapload/internal/dbconn"
	"mapload/internal/dialect"
)

// DefaultTable is the checkpoint table name used when none is configured.
const DefaultTable = "mapload_checkpoint"

// SQLStore persists checkpoints in a relational table:
//
//	job_name    TEXT (unique per job)
//	ckpt_value  TEXT (JSON-encoded tuple)
//	completed   SMALLINT (0/1)
//	updated_at  TIMESTAMP
//
// The table is expected to exist; creating it is deployment concern, not
// engine concern.
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

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, job string) (State, bool, error) {
	q := fmt.Sprintf(
		"SELECT %s, %s, %s FROM %s WHERE %s = %s",
		s.d.QuoteIdent("ckpt_value"), s.d.QuoteIdent("completed"), s.d.QuoteIdent("updated_at"),
		s.d.QuoteIdent(s.table), s.d.QuoteIdent("job_name"), s.d.Placeholder(1),
	)
	rows, err := s.conn.Query(ctx, q, job)
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: load %q: %w", job, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return State{}, false, rows.Err()
	}
	vals, err := rows.Values()
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: load %q: %w", job, err)
	}

	var st State
	raw, _ := vals[0].(string)
	if b, ok := vals[0].([]byte); ok {
		raw = string(b)
	}
	st.Values, err = decodeTuple(raw)
	if err != nil {
		return State{}, false, fmt.Errorf("checkpoint: load %q: %w", job, err)
	}
	st.Completed = truthy(vals[1])
	if ts, ok := vals[2].(time.Time); ok {
		st.UpdatedAt = ts
	}
	return st, true, nil
}

// Save implements Store with update-then-insert semantics, which every
// supported dialect handles without merge syntax.
func (s *SQLStore) Save(ctx context.Context, job string, st State) error {
	enc, err := encodeTuple(st.Values)
	if err != nil {
		return fmt.Errorf("checkpoint: save %q: %w", job, err)
	}
	completed := 0
	if st.Completed {
		completed = 1
	}

	upd := fmt.Sprintf(
		"UPDATE %s SET %s = %s, %s = %s, %s = %s WHERE %s = %s",
		s.d.QuoteIdent(s.table),
		s.d.QuoteIdent("ckpt_value"), s.d.Placeholder(1),
		s.d.QuoteIdent("completed"), s.d.Placeholder(2),
		s.d.QuoteIdent("updated_at"), s.d.Placeholder(3),
		s.d.QuoteIdent("job_name"), s.d.Placeholder(4),
	)
	n, err := s.conn.Exec(ctx, upd, enc, completed, st.UpdatedAt, job)
	if err != nil {
		return fmt.Errorf("checkpoint: save %q: %w", job, err)
	}
	if n > 0 {
		return nil
	}

	ins := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s) VALUES (%s)",
		s.d.QuoteIdent(s.table),
		s.d.QuoteIdent("job_name"), s.d.QuoteIdent("ckpt_value"),
		s.d.QuoteIdent("completed"), s.d.QuoteIdent("updated_at"),
		s.d.Placeholders(1, 4),
	)
	if _, err := s.conn.Exec(ctx, ins, job, enc, completed, st.UpdatedAt); err != nil {
		return fmt.Errorf("checkpoint: save %q: %w", job, err)
	}
	return nil
}

// tuple encoding: each element is tagged with its type so values survive the
// text round-trip without the driver guessing.
type taggedValue struct {
	T string `json:"t"` // "s", "i", "f", "b", "ts", "null"
	V string `json:"v,omitempty"`
}

func encodeTuple(values []any) (string, error) {
	tagged := make([]taggedValue, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case nil:
			tagged[i] = taggedValue{T: "null"}
		case string:
			tagged[i] = taggedValue{T: "s", V: t}
		case []byte:
			tagged[i] = taggedValue{T: "s", V: string(t)}
		case int:
			tagged[i] = taggedValue{T: "i", V: fmt.Sprint(t)}
		case int32:
			tagged[i] = taggedValue{T: "i", V: fmt.Sprint(t)}
		case int64:
			tagged[i] = taggedValue{T: "i", V: fmt.Sprint(t)}
		case float32, float64:
			tagged[i] = taggedValue{T: "f", V: fmt.Sprint(t)}
		case bool:
			tagged[i] = taggedValue{T: "b", V: fmt.Sprint(t)}
		case time.Time:
			tagged[i] = taggedValue{T: "ts", V: t.UTC().Format(time.RFC3339Nano)}
		default:
			return "", fmt.Errorf("unsupported checkpoint value type %T", v)
		}
	}
	b, err := json.Marshal(tagged)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTuple(raw string) ([]any, error) {
	if raw == "" {
		return nil, nil
	}
	var tagged []taggedValue
	if err := json.Unmarshal([]byte(raw), &tagged); err != nil {
		return nil, err
	}
	out := make([]any, len(tagged))
	for i, tv := range tagged {
		switch tv.T {
		case "null":
			out[i] = nil
		case "s":
			out[i] = tv.V
		case "i":
			var n int64
			if _, err := fmt.Sscan(tv.V, &n); err != nil {
				return nil, fmt.Errorf("bad int checkpoint value %q", tv.V)
			}
			out[i] = n
		case "f":
			var f float64
			if _, err := fmt.Sscan(tv.V, &f); err != nil {
				return nil, fmt.Errorf("bad float checkpoint value %q", tv.V)
			}
			out[i] = f
		case "b":
			out[i] = tv.V == "true"
		case "ts":
			ts, err := time.Parse(time.RFC3339Nano, tv.V)
			if err != nil {
				return nil, fmt.Errorf("bad timestamp checkpoint value %q", tv.V)
			}
			out[i] = ts
		default:
			return nil, fmt.Errorf("unknown checkpoint value tag %q", tv.T)
		}
	}
	return out, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int32:
		return t != 0
	case int:
		return t != 0
	case []byte:
		return len(t) > 0 && t[0] != '0'
	case string:
		return t != "" && t != "0" && t != "false"
	}
	return false
}

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	mu    sync.Mutex
	byJob map[string]State
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{byJob: map[string]State{}}
}

// Load implements Store.
func (m *MemStore) Load(_ context.Context, job string) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byJob[job]
	return st, ok, nil
}

// Save implements Store.
func (m *MemStore) Save(_ context.Context, job string, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byJob[job] = st
	return nil
}
