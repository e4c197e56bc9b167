// Package mysql implements the MySQL-family connector over database/sql
// using the go-sql-driver.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"mapload/internal/dbconn"
)

// init registers the "mysql" connector with the factory.
func init() {
	dbconn.Register("mysql", open)
}

func open(ctx context.Context, cfg dbconn.Config) (dbconn.Conn, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &dbconn.SQLConn{DB: db}, nil
}
