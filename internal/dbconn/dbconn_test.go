package dbconn

import (
	"context"
	"errors"
	"testing"
)

// stubConn is a minimal Conn for registry tests.
type stubConn struct{ dsn string }

func (s *stubConn) Query(context.Context, string, ...any) (Rows, error)    { return nil, nil }
func (s *stubConn) QueryValue(context.Context, string, ...any) (any, error) { return nil, nil }
func (s *stubConn) Exec(context.Context, string, ...any) (int64, error)    { return 0, nil }
func (s *stubConn) Close() error                                           { return nil }

// TestRegisterAndOpen checks the connector registry round trip and the
// unsupported-kind error.
func TestRegisterAndOpen(t *testing.T) {
	ctx := context.Background()

	Register("testkind", func(_ context.Context, cfg Config) (Conn, error) {
		return &stubConn{dsn: cfg.DSN}, nil
	})

	conn, err := Open(ctx, Config{Kind: "testkind", DSN: "dsn://x"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if conn.(*stubConn).dsn != "dsn://x" {
		t.Errorf("DSN not threaded through: %+v", conn)
	}

	if _, err := Open(ctx, Config{Kind: "never-registered"}); err == nil {
		t.Errorf("Open of an unregistered kind should fail")
	}

	found := false
	for _, k := range ListKinds() {
		if k == "testkind" {
			found = true
		}
	}
	if !found {
		t.Errorf("ListKinds misses testkind: %v", ListKinds())
	}
}

// TestNewFactory binds a config and mints connections on demand.
func TestNewFactory(t *testing.T) {
	ctx := context.Background()

	wantErr := errors.New("boom")
	Register("flaky", func(context.Context, Config) (Conn, error) {
		return nil, wantErr
	})

	f := NewFactory(Config{Kind: "flaky"})
	if _, err := f(ctx); !errors.Is(err, wantErr) {
		t.Fatalf("factory err = %v, want %v", err, wantErr)
	}
}

// TestDriverKind maps every dialect to its driver family, with the Postgres
// and SQL Server families shared.
func TestDriverKind(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
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
	for dialect, want := range cases {
		got, err := DriverKind(dialect)
		if err != nil {
			t.Errorf("DriverKind(%q): %v", dialect, err)
			continue
		}
		if got != want {
			t.Errorf("DriverKind(%q) = %q, want %q", dialect, got, want)
		}
	}
	if _, err := DriverKind("dbase"); err == nil {
		t.Errorf("DriverKind(dbase) should fail")
	}
}
