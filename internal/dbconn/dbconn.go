// Package dbconn contains driver-agnostic connection contracts and the
// factory that maps driver-family kinds to concrete connectors.
//
// Concrete connectors (postgres, mysql, mssql, sqlite, ...) live in
// subpackages and register themselves with this factory at init time; the
// blank-import package dbconn/all wires all built-in connectors into a
// binary. The rest of the engine depends only on the Conn and Rows
// interfaces, never on a driver.
//
// The engine opens one dedicated Conn per chunk worker via a Factory;
// connections are never shared across workers.
package dbconn

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Rows is a forward-only cursor over a query result.
type Rows interface {
	// Next advances to the next row and reports whether one is available.
	Next() bool
	// Values returns the current row as positional values.
	Values() ([]any, error)
	// Columns returns the result column names.
	Columns() []string
	// Err returns the error, if any, that ended iteration.
	Err() error
	// Close releases the cursor. Safe to call more than once.
	Close()
}

// Conn is a single database connection (or a small pool owned by one
// worker). Implementations must be safe to use from the owning goroutine
// only; cross-worker sharing is a caller bug.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	// QueryValue runs a single-value query (COUNT, MAX, ...) and returns the
	// first column of the first row, or nil when the result is empty.
	QueryValue(ctx context.Context, query string, args ...any) (any, error)
	// Exec runs a statement and returns the number of affected rows when the
	// driver reports it, otherwise 0.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Close() error
}

// Config selects and parameterizes a connector.
type Config struct {
	// Kind is the driver-family kind, e.g. "postgres", "mysql", "mssql".
	Kind string
	// DSN is the driver-specific connection string.
	DSN string
}

// Factory mints a fresh Conn per call; the engine hands one Factory to each
// chunk worker so every worker owns its connections outright.
type Factory func(ctx context.Context) (Conn, error)

// OpenFunc constructs a Conn for a registered kind.
type OpenFunc func(ctx context.Context, cfg Config) (Conn, error)

var (
	regMu   sync.RWMutex
	openFns = map[string]OpenFunc{}
)

// Register registers (or replaces) the connector for the given kind. It is
// typically called from connector packages' init() functions; tests may
// re-register a kind to inject fakes.
func Register(kind string, open OpenFunc) {
	regMu.Lock()
	defer regMu.Unlock()
	openFns[kind] = open
}

// ListKinds returns the registered connector kinds, sorted.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(openFns))
	for k := range openFns {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open constructs a Conn for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Conn, error) {
	regMu.RLock()
	open, ok := openFns[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported dbconn.kind=%s", cfg.Kind)
	}
	return open(ctx, cfg)
}

// NewFactory binds a Config into a Factory.
func NewFactory(cfg Config) Factory {
	return func(ctx context.Context) (Conn, error) {
		return Open(ctx, cfg)
	}
}

// driverKinds maps dialect identifiers to the driver-family kind serving
// them. Families without a bundled Go driver map to their own name so a
// connector can be registered externally (or faked in tests).
var driverKinds = map[string]string{
	"postgres":  "postgres",
	"redshift":  "postgres",
	"mysql":     "mysql",
	"sqlserver": "mssql",
	"sybase":    "mssql",
	"oracle":    "oracle",
	"snowflake": "snowflake",
	"db2":       "db2",
	"hive":      "hive",
}

// DriverKind resolves the connector kind for a dialect identifier.
func DriverKind(dialect string) (string, error) {
	k, ok := driverKinds[dialect]
	if !ok {
		return "", fmt.Errorf("no driver-family mapping for dialect %q", dialect)
	}
	return k, nil
}
