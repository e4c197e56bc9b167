// Package scd applies slowly-changing-dimension merge semantics to batches
// of transformed rows.
//
// Type 1 overwrites VALUE columns in place when the change-detection hash
// differs; Type 2 historizes: the existing current row is expired first, then
// a fresh current row is inserted, so no moment after the operation returns
// has two current rows for the same natural key.
//
// Batches are retried a bounded number of times with backoff for transient
// errors. A batch that keeps failing is reported back to the caller, which
// records one row error per affected row and moves on with the next batch;
// a bad batch never kills its chunk.
package scd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mapload/internal/config"
	"mapload/internal/dbconn"
	"mapload/internal/dialect"
	"mapload/internal/metrics"
	"mapload/internal/transform"
)

const (
	// maxAttempts bounds the per-batch retry loop.
	maxAttempts = 3
	// lookupKeysPerQuery bounds how many natural keys a single lookup query
	// carries, keeping statement size and placeholder counts sane.
	lookupKeysPerQuery = 200
)

// retryBackoff is a seam for tests; production waits 250ms, 500ms, ...
var retryBackoff = func(attempt int) time.Duration {
	return time.Duration(attempt) * 250 * time.Millisecond
}

// Outcome summarizes one merged batch.
type Outcome struct {
	Inserted  int64
	Updated   int64 // Type 1 in-place updates
	Expired   int64 // Type 2 rows closed out
	Unchanged int64 // hash matches, no write
}

// Merger applies one job's SCD rule. Build once per job; MergeBatch takes
// the worker's own connection, so a single Merger is safe to share across
// chunk workers.
type Merger struct {
	job   string
	d     *dialect.Profile
	table string // qualified target table
	rule  config.ScdRule
	tr    *transform.Transformer

	columns []string // all target columns, mapping order
	keyIdx  []int    // natural-key positions within columns
	hashCol string   // optional stored-hash column

	effectiveCol string
	expiryCol    string
	currentCol   string
}

// New validates the rule against the transformer's columns and prepares the
// merger. job labels retry metrics.
func New(job string, d *dialect.Profile, schema, table string, rule config.ScdRule, tr *transform.Transformer) (*Merger, error) {
	if rule.Type != 1 && rule.Type != 2 {
		return nil, fmt.Errorf("scd: unsupported type %d", rule.Type)
	}
	if len(rule.NaturalKeys) == 0 {
		return nil, fmt.Errorf("scd: no natural key columns")
	}

	m := &Merger{
		job:          job,
		d:            d,
		table:        d.QualifiedTable(schema, table),
		rule:         rule,
		tr:           tr,
		columns:      tr.Columns(),
		hashCol:      rule.HashColumn,
		effectiveCol: pick(rule.EffectiveColumn, "effective_from"),
		expiryCol:    pick(rule.ExpiryColumn, "effective_to"),
		currentCol:   pick(rule.CurrentColumn, "is_current"),
	}

	pos := map[string]int{}
	for i, c := range m.columns {
		pos[c] = i
	}
	for _, k := range rule.NaturalKeys {
		i, ok := pos[k]
		if !ok {
			return nil, fmt.Errorf("scd: natural key %q is not a mapped target column", k)
		}
		m.keyIdx = append(m.keyIdx, i)
	}
	return m, nil
}

func pick(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// MergeBatch applies the rule to one batch over the given target connection.
// The returned error means the whole batch failed permanently (after
// retries); the caller records it per row.
func (m *Merger) MergeBatch(ctx context.Context, conn dbconn.Conn, rows []transform.Row) (Outcome, error) {
	if len(rows) == 0 {
		return Outcome{}, nil
	}

	var out Outcome
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.RecordMergeRetry(m.job)
			select {
			case <-time.After(retryBackoff(attempt - 1)):
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
		o, err := m.applyOnce(ctx, conn, rows)
		if err == nil {
			return o, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return out, fmt.Errorf("scd: batch failed after %d attempts: %w", maxAttempts, lastErr)
}

func (m *Merger) applyOnce(ctx context.Context, conn dbconn.Conn, rows []transform.Row) (Outcome, error) {
	existing, err := m.lookup(ctx, conn, rows)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup: %w", err)
	}

	var out Outcome
	for i := range rows {
		row := &rows[i]
		key := m.keyString(row.Values)
		old, found := existing[key]

		switch {
		case !found:
			if err := m.insert(ctx, conn, row); err != nil {
				return out, fmt.Errorf("insert key=%s: %w", key, err)
			}
			out.Inserted++
			// Later duplicates of the same key within this batch compare
			// against what we just wrote.
			existing[key] = row.Hash

		case old == row.Hash:
			out.Unchanged++

		case m.rule.Type == 1:
			if err := m.updateInPlace(ctx, conn, row); err != nil {
				return out, fmt.Errorf("update key=%s: %w", key, err)
			}
			out.Updated++
			existing[key] = row.Hash

		default: // Type 2, changed: expire first, then insert.
			if err := m.expire(ctx, conn, row); err != nil {
				return out, fmt.Errorf("expire key=%s: %w", key, err)
			}
			out.Expired++
			if err := m.insert(ctx, conn, row); err != nil {
				return out, fmt.Errorf("insert key=%s: %w", key, err)
			}
			out.Inserted++
			existing[key] = row.Hash
		}
	}
	return out, nil
}

// lookup fetches the matching target rows (the current ones under Type 2)
// and returns their value hash keyed by natural-key string.
func (m *Merger) lookup(ctx context.Context, conn dbconn.Conn, rows []transform.Row) (map[string]string, error) {
	out := make(map[string]string, len(rows))

	// Deduplicate key tuples, preserving batch order.
	var tuples [][]any
	seen := map[string]bool{}
	for i := range rows {
		key := m.keyString(rows[i].Values)
		if seen[key] {
			continue
		}
		seen[key] = true
		tuples = append(tuples, m.keyValues(rows[i].Values))
	}

	for start := 0; start < len(tuples); start += lookupKeysPerQuery {
		end := start + lookupKeysPerQuery
		if end > len(tuples) {
			end = len(tuples)
		}
		if err := m.lookupPage(ctx, conn, tuples[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Merger) lookupPage(ctx context.Context, conn dbconn.Conn, tuples [][]any, out map[string]string) error {
	selectCols := append([]string{}, m.rule.NaturalKeys...)
	if m.hashCol != "" {
		selectCols = append(selectCols, m.hashCol)
	} else {
		selectCols = append(selectCols, m.tr.ValueColumns()...)
	}

	var (
		args  []any
		terms []string
	)
	n := 1
	var prefix string
	if m.rule.Type == 2 {
		prefix = fmt.Sprintf("%s = %s AND ", m.d.QuoteIdent(m.currentCol), m.d.Placeholder(n))
		args = append(args, true)
		n++
	}
	for _, tuple := range tuples {
		var parts []string
		for i, k := range m.rule.NaturalKeys {
			parts = append(parts, fmt.Sprintf("%s = %s", m.d.QuoteIdent(k), m.d.Placeholder(n)))
			args = append(args, tuple[i])
			n++
		}
		terms = append(terms, "("+strings.Join(parts, " AND ")+")")
	}
	where := strings.Join(terms, " OR ")
	if prefix != "" {
		where = prefix + "(" + where + ")"
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(m.d.QuoteIdents(selectCols), ", "), m.table, where)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	nKeys := len(m.rule.NaturalKeys)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return err
		}
		key := joinKeyParts(vals[:nKeys])
		if m.hashCol != "" {
			out[key] = asString(vals[nKeys])
			continue
		}
		named := make(map[string]any, len(selectCols)-nKeys)
		for i, c := range m.tr.ValueColumns() {
			named[c] = vals[nKeys+i]
		}
		out[key] = m.tr.HashNamed(named)
	}
	return rows.Err()
}

// insert writes a fresh row. Under Type 2 the bookkeeping columns are set to
// effective=now, expiry=NULL, current=true using the dialect's timestamp
// expression, evaluated by the database so all rows in a statement share its
// clock.
func (m *Merger) insert(ctx context.Context, conn dbconn.Conn, row *transform.Row) error {
	cols := append([]string{}, m.columns...)
	exprs := make([]string, 0, len(cols)+4)
	args := make([]any, 0, len(cols)+1)

	n := 1
	for i := range m.columns {
		exprs = append(exprs, m.d.Placeholder(n))
		args = append(args, row.Values[i])
		n++
	}
	if m.hashCol != "" {
		cols = append(cols, m.hashCol)
		exprs = append(exprs, m.d.Placeholder(n))
		args = append(args, row.Hash)
		n++
	}
	if m.rule.Type == 2 {
		cols = append(cols, m.effectiveCol, m.expiryCol, m.currentCol)
		exprs = append(exprs, m.d.CurrentTimestamp(), "NULL", m.d.Placeholder(n))
		args = append(args, true)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		m.table, strings.Join(m.d.QuoteIdents(cols), ", "), strings.Join(exprs, ", "))
	_, err := conn.Exec(ctx, stmt, args...)
	return err
}

// updateInPlace overwrites the VALUE columns (and stored hash) of the row
// matching the natural key. Type 1 only.
func (m *Merger) updateInPlace(ctx context.Context, conn dbconn.Conn, row *transform.Row) error {
	pos := map[string]int{}
	for i, c := range m.columns {
		pos[c] = i
	}

	var (
		sets []string
		args []any
	)
	n := 1
	for _, c := range m.tr.ValueColumns() {
		sets = append(sets, fmt.Sprintf("%s = %s", m.d.QuoteIdent(c), m.d.Placeholder(n)))
		args = append(args, row.Values[pos[c]])
		n++
	}
	if m.hashCol != "" {
		sets = append(sets, fmt.Sprintf("%s = %s", m.d.QuoteIdent(m.hashCol), m.d.Placeholder(n)))
		args = append(args, row.Hash)
		n++
	}

	where, args2, _ := m.keyPredicate(row, n)
	args = append(args, args2...)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", m.table, strings.Join(sets, ", "), where)
	_, err := conn.Exec(ctx, stmt, args...)
	return err
}

// expire closes out the current row for the natural key: expiry=now,
// current=false. Always issued before the replacement insert.
func (m *Merger) expire(ctx context.Context, conn dbconn.Conn, row *transform.Row) error {
	n := 1
	set := fmt.Sprintf("%s = %s, %s = %s",
		m.d.QuoteIdent(m.expiryCol), m.d.CurrentTimestamp(),
		m.d.QuoteIdent(m.currentCol), m.d.Placeholder(n))
	args := []any{false}
	n++

	where, args2, n := m.keyPredicate(row, n)
	args = append(args, args2...)
	where = fmt.Sprintf("%s AND %s = %s", where, m.d.QuoteIdent(m.currentCol), m.d.Placeholder(n))
	args = append(args, true)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", m.table, set, where)
	_, err := conn.Exec(ctx, stmt, args...)
	return err
}

// keyPredicate renders "k1 = ? AND k2 = ?" starting at placeholder n and
// returns the bound args and the next placeholder index.
func (m *Merger) keyPredicate(row *transform.Row, n int) (string, []any, int) {
	var (
		parts []string
		args  []any
	)
	for i, k := range m.rule.NaturalKeys {
		parts = append(parts, fmt.Sprintf("%s = %s", m.d.QuoteIdent(k), m.d.Placeholder(n)))
		args = append(args, row.Values[m.keyIdx[i]])
		n++
	}
	return strings.Join(parts, " AND "), args, n
}

func (m *Merger) keyValues(values []any) []any {
	out := make([]any, len(m.keyIdx))
	for i, idx := range m.keyIdx {
		out[i] = values[idx]
	}
	return out
}

func (m *Merger) keyString(values []any) string {
	return joinKeyParts(m.keyValues(values))
}

// joinKeyParts builds the in-memory map key for a natural-key tuple.
// Numeric widths are normalized so int32(7) from one driver matches int64(7)
// from another.
func joinKeyParts(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
			parts[i] = "\x00"
		case []byte:
			parts[i] = string(t)
		case int:
			parts[i] = fmt.Sprintf("%d", t)
		case int32:
			parts[i] = fmt.Sprintf("%d", t)
		case int64:
			parts[i] = fmt.Sprintf("%d", t)
		case time.Time:
			parts[i] = t.UTC().Format(time.RFC3339Nano)
		default:
			parts[i] = fmt.Sprint(t)
		}
	}
	return strings.Join(parts, "\x1f")
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
