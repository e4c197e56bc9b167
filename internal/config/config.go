// Package config defines the canonical, JSON-serializable configuration model
// for a mapping job. It is intentionally small, explicit, and dependency-free
// so that job definitions can be produced by an external configuration store,
// loaded from disk, and passed through the program without additional glue
// code.
//
// Design goals:
//
//  1. Stability: changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: field names in Go mirror the JSON structure of job files.
//  3. Minimalism: no third-party config libraries; decoding is performed by
//     the standard library, with a light Options helper for typed access.
//
// Example (trimmed):
//
//	{
//	  "job": "load_customers",
//	  "source": { "dialect": "postgres", "dsn": "postgresql://...",
//	              "query": "SELECT id, name FROM src WHERE {{CHECKPOINT_PREDICATE}} ORDER BY id" },
//	  "target": { "dialect": "snowflake", "dsn": "...", "schema": "dw", "table": "dim_customer" },
//	  "mappings": [
//	    { "source": "id",   "target": "customer_id", "type": "int",  "role": "KEY" },
//	    { "source": "name", "target": "name",        "type": "text", "role": "VALUE" }
//	  ],
//	  "scd": { "type": 2, "natural_keys": ["customer_id"] },
//	  "checkpoint": { "strategy": "KEY", "columns": ["id"] },
//	  "parallel": { "enabled": true, "chunk_size": 50000, "min_rows": 100000 }
//	}
package config

import "encoding/json"

// Dialect identifiers accepted in Endpoint.Dialect. The engine generates SQL
// for each of these families; whether a live connection can be opened depends
// on the connectors compiled into the binary (see internal/dbconn).
const (
	DialectOracle    = "oracle"
	DialectPostgres  = "postgres"
	DialectMySQL     = "mysql"
	DialectSQLServer = "sqlserver"
	DialectSybase    = "sybase"
	DialectRedshift  = "redshift"
	DialectSnowflake = "snowflake"
	DialectDB2       = "db2"
	DialectHive      = "hive"
)

// Column roles. KEY columns participate in natural-key matching, VALUE
// columns carry business attributes and feed the change-detection hash,
// AUDIT columns are bookkeeping (load timestamps, run ids) and never
// influence change detection.
const (
	RoleKey   = "KEY"
	RoleValue = "VALUE"
	RoleAudit = "AUDIT"
)

// Checkpoint strategies.
const (
	CheckpointNone         = "NONE"
	CheckpointKey          = "KEY"
	CheckpointCompositeKey = "COMPOSITE_KEY"

	// CheckpointProgrammatic marks jobs whose resume position is computed by
	// a custom expression evaluated row by row. Such jobs are forced onto the
	// sequential path regardless of row count; the evaluation order across
	// chunks would otherwise be undefined.
	CheckpointProgrammatic = "PROGRAMMATIC"
)

// PredicateSlot is the placeholder in Endpoint.Query that the engine replaces
// with the resume predicate derived from the persisted checkpoint.
const PredicateSlot = "{{CHECKPOINT_PREDICATE}}"

// Job describes one mapping job execution. It is created once per invocation
// by the external configuration resolver and is read-only for the engine's
// lifetime.
type Job struct {
	// Name identifies the job; it keys checkpoint records and metric labels.
	Name string `json:"job"`

	// Source describes the database the rows are read from, including the
	// resolved source query with its {{CHECKPOINT_PREDICATE}} slot.
	Source Endpoint `json:"source"`

	// Target describes the database and table the transformed rows are
	// written to.
	Target Endpoint `json:"target"`

	// Mappings lists the ordered per-column transformation rules. The order
	// defines the positional layout of transformed rows.
	Mappings []ColumnMapping `json:"mappings"`

	// Scd selects the merge semantics applied to VALUE columns.
	Scd ScdRule `json:"scd"`

	// Checkpoint configures how the resume position is derived and persisted.
	Checkpoint Checkpoint `json:"checkpoint"`

	// Parallel tunes chunked execution. When disabled (or when the estimated
	// row count is below Parallel.MinRows) the job runs sequentially.
	Parallel Parallel `json:"parallel"`

	// BatchSize is the number of rows per write batch on the sequential path
	// and inside each chunk. Defaults to 1000 when zero.
	BatchSize int `json:"batch_size"`
}

// Endpoint identifies one side of the job: a dialect, a connection string,
// and either a source query or a target table.
type Endpoint struct {
	// Dialect is one of the Dialect* constants.
	Dialect string `json:"dialect"`

	// DSN is the driver-specific connection string.
	DSN string `json:"dsn"`

	// Query is the resolved source SQL text. Source side only. It must
	// contain the {{CHECKPOINT_PREDICATE}} slot when a checkpoint strategy
	// other than NONE is configured, and must be ordered by the checkpoint
	// columns for KEY and COMPOSITE_KEY strategies.
	Query string `json:"query,omitempty"`

	// Schema and Table name the write destination. Target side only.
	// Schema may be empty; for dialects where schema and database are the
	// same concept the schema prefix is omitted from generated SQL even when
	// set (the active connection already selects the database).
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`
}

// ColumnMapping maps one source column (or derivation expression) onto one
// target column.
type ColumnMapping struct {
	// Source names the source column the value is copied from. Ignored when
	// Expression is set.
	Source string `json:"source,omitempty"`

	// Expression is an optional derivation evaluated against the source row
	// in a sandboxed interpreter (see internal/expr). Arithmetic, string
	// operations, conditionals, and column references only; no I/O.
	Expression string `json:"expression,omitempty"`

	// Target is the destination column name.
	Target string `json:"target"`

	// Type is the logical target type: "int", "float", "text", "bool",
	// "date", "timestamp". It selects the coercion applied to copied values.
	Type string `json:"type"`

	// Role is one of KEY, VALUE, AUDIT.
	Role string `json:"role"`

	// Nullable permits NULL in the target column. Non-nullable columns with
	// a NULL value after transformation reject the row.
	Nullable bool `json:"nullable,omitempty"`

	// Default is the value substituted when the source value is NULL and the
	// column is not nullable. Interpreted according to Type.
	Default string `json:"default,omitempty"`

	// Layout optionally overrides the date/timestamp parse layout for this
	// column (Go reference layout).
	Layout string `json:"layout,omitempty"`
}

// ScdRule selects the slowly-changing-dimension semantics for the job's
// VALUE columns.
type ScdRule struct {
	// Type is 1 (overwrite in place) or 2 (historize with effective/expiry
	// timestamps and a current-row flag).
	Type int `json:"type"`

	// NaturalKeys lists the target columns used to match incoming rows to
	// existing target rows. Usually the KEY-role columns.
	NaturalKeys []string `json:"natural_keys"`

	// Type-2 bookkeeping column names. Defaults: "effective_from",
	// "effective_to", "is_current".
	EffectiveColumn string `json:"effective_column,omitempty"`
	ExpiryColumn    string `json:"expiry_column,omitempty"`
	CurrentColumn   string `json:"current_column,omitempty"`

	// HashColumn optionally names a target column that stores the value hash
	// alongside the row, sparing the lookup a recomputation on later runs.
	HashColumn string `json:"hash_column,omitempty"`
}

// Checkpoint configures resume behavior.
type Checkpoint struct {
	// Strategy is one of NONE, KEY, COMPOSITE_KEY, PROGRAMMATIC.
	Strategy string `json:"strategy"`

	// Columns names the source columns whose values form the checkpoint.
	// Exactly one column for KEY; two or more for COMPOSITE_KEY, compared in
	// lexicographic tuple order.
	Columns []string `json:"columns,omitempty"`

	// Expression is the custom resume-position expression for the
	// PROGRAMMATIC strategy.
	Expression string `json:"expression,omitempty"`
}

// Parallel tunes chunked execution.
type Parallel struct {
	// Enabled turns chunk-parallel execution on. Even when enabled, jobs
	// below MinRows run sequentially.
	Enabled bool `json:"enabled"`

	// ChunkSize is the number of source rows per chunk. Defaults to 50000.
	ChunkSize int `json:"chunk_size,omitempty"`

	// MinRows is the minimum estimated row count before the planner chooses
	// the parallel path. Defaults to 100000.
	MinRows int64 `json:"min_rows,omitempty"`

	// MaxWorkers bounds the worker pool. Defaults to available
	// parallelism - 1.
	MaxWorkers int `json:"max_workers,omitempty"`
}

// Defaults applied by the engine when the corresponding field is zero.
const (
	DefaultBatchSize = 1000
	DefaultChunkSize = 50000
	DefaultMinRows   = 100000
)

// Marshal renders a Job back to indented JSON, e.g. for diagnostics or for
// tooling that round-trips job files.
func Marshal(j Job) ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}

// Options is a small helper to fetch typed values from arbitrary JSON maps
// without introducing third-party configuration libraries. It performs only
// minimal type coercion and returns the provided default when a key is absent
// or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so both float64 and int are accepted.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
