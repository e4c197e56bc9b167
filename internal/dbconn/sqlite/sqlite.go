// Package sqlite implements a SQLite connector over database/sql. It is not
// one of the nine SQL-generation dialects; it exists for local smoke runs and
// for the SQL-backed checkpoint/progress stores in single-binary setups.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mapload/internal/dbconn"
)

// init registers the "sqlite" connector with the factory.
func init() {
	dbconn.Register("sqlite", open)
}

func open(ctx context.Context, cfg dbconn.Config) (dbconn.Conn, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &dbconn.SQLConn{DB: db}, nil
}
