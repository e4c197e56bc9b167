// Package mssql implements the SQL Server-family connector over database/sql
// using go-mssqldb. It serves both the "sqlserver" and "sybase" dialects;
// Sybase ASE descends from the same TDS protocol the driver speaks.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"mapload/internal/dbconn"
)

// init registers the "mssql" connector with the factory.
func init() {
	dbconn.Register("mssql", open)
}

func open(ctx context.Context, cfg dbconn.Config) (dbconn.Conn, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &dbconn.SQLConn{DB: db}, nil
}
