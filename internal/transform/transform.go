// Package transform maps source rows onto target rows according to the job's
// column mappings: straight copies with type coercion, sandboxed derivation
// expressions, and a deterministic change-detection hash over the VALUE
// columns.
//
// Failures are per-row and fail-soft: a row that cannot be transformed is
// reported to the caller as an error and excluded from the write set; it
// never aborts the batch it travels in.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mapload/internal/config"
	"mapload/internal/expr"
)

// Row is one transformed target row.
type Row struct {
	// Index is the source row ordinal within the run (0-based across the
	// whole source result, chunk offsets included).
	Index int64

	// Values are positional and aligned to Transformer.Columns().
	Values []any

	// Hash is the change-detection hash over the VALUE columns, hex-encoded.
	Hash string
}

// Transformer applies a fixed mapping list to source rows. Build once per
// job; Apply is safe for concurrent use from multiple chunk workers.
type Transformer struct {
	mappings []config.ColumnMapping
	programs []*expr.Program // nil entry = plain copy
	columns  []string
	valueIdx []int // indexes of VALUE-role mappings, in mapping order
}

// New compiles the mapping list, including any derivation expressions.
func New(mappings []config.ColumnMapping) (*Transformer, error) {
	if len(mappings) == 0 {
		return nil, fmt.Errorf("transform: no column mappings")
	}

	t := &Transformer{
		mappings: mappings,
		programs: make([]*expr.Program, len(mappings)),
		columns:  make([]string, len(mappings)),
	}
	for i, m := range mappings {
		t.columns[i] = m.Target
		if m.Role == config.RoleValue {
			t.valueIdx = append(t.valueIdx, i)
		}
		if m.Expression == "" {
			continue
		}
		p, err := expr.Compile(m.Expression)
		if err != nil {
			return nil, fmt.Errorf("transform: mapping %q: %w", m.Target, err)
		}
		t.programs[i] = p
	}
	return t, nil
}

// Columns returns the target column names in mapping order.
func (t *Transformer) Columns() []string { return t.columns }

// ValueColumns returns the VALUE-role target column names in mapping order.
func (t *Transformer) ValueColumns() []string {
	out := make([]string, len(t.valueIdx))
	for i, idx := range t.valueIdx {
		out[i] = t.columns[idx]
	}
	return out
}

// Apply transforms one source row. The source row is keyed by source column
// name. An error means the row is rejected; the caller records it and moves
// on.
func (t *Transformer) Apply(src map[string]any, index int64) (Row, error) {
	values := make([]any, len(t.mappings))

	for i, m := range t.mappings {
		var raw any
		if p := t.programs[i]; p != nil {
			v, err := p.Eval(src)
			if err != nil {
				return Row{}, fmt.Errorf("column %q: %w", m.Target, err)
			}
			raw = v
		} else {
			raw = src[m.Source]
		}

		v, err := coerce(raw, m)
		if err != nil {
			return Row{}, fmt.Errorf("column %q: %w", m.Target, err)
		}
		values[i] = v
	}

	return Row{
		Index:  index,
		Values: values,
		Hash:   t.hashValues(values),
	}, nil
}

// coerce converts raw into the mapping's target type. nil passes through for
// nullable columns; non-nullable columns fall back to the configured default
// or reject the row.
func coerce(raw any, m config.ColumnMapping) (any, error) {
	if raw == nil {
		if m.Nullable {
			return nil, nil
		}
		if m.Default == "" {
			return nil, fmt.Errorf("null value for non-nullable column")
		}
		raw = m.Default
	}

	switch m.Type {
	case "", "text":
		return toString(raw), nil
	case "int":
		return toInt64(raw)
	case "float":
		return toFloat64(raw)
	case "bool":
		return toBool(raw)
	case "date":
		return toTime(raw, pickLayout(m.Layout, "2006-01-02"))
	case "timestamp":
		return toTime(raw, pickLayout(m.Layout, time.RFC3339))
	default:
		return nil, fmt.Errorf("unknown target type %q", m.Type)
	}
}

func pickLayout(layout, def string) string {
	if layout != "" {
		return layout
	}
	return def
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case float32:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to int", t)
		}
		return i, nil
	case []byte:
		return toInt64(string(t))
	default:
		return 0, fmt.Errorf("cannot coerce %T to int", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to float", t)
		}
		return f, nil
	case []byte:
		return toFloat64(string(t))
	default:
		return 0, fmt.Errorf("cannot coerce %T to float", v)
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("cannot coerce %q to bool", t)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot coerce %T to bool", v)
	}
}

func toTime(v any, layout string) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		ts, err := time.Parse(layout, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, fmt.Errorf("cannot parse %q with layout %q", t, layout)
		}
		return ts, nil
	case []byte:
		return toTime(string(t), layout)
	default:
		return time.Time{}, fmt.Errorf("cannot coerce %T to time", v)
	}
}
