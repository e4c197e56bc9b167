// Package all wires all built-in connectors into the dbconn factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete connector to run, which
// in turn register their factories with the dbconn package.
//
// In other words, importing this package makes the following connector kinds
// available at runtime:
//
//   - "postgres" (mapload/internal/dbconn/postgres) — also serves Redshift
//   - "mysql"    (mapload/internal/dbconn/mysql)
//   - "mssql"    (mapload/internal/dbconn/mssql) — also serves Sybase
//   - "sqlite"   (mapload/internal/dbconn/sqlite)
//
// Binaries that only need a subset of connectors can blank-import the
// individual packages instead.
package all

import (
	_ "mapload/internal/dbconn/mssql"
	_ "mapload/internal/dbconn/mysql"
	_ "mapload/internal/dbconn/postgres"
	_ "mapload/internal/dbconn/sqlite"
)
