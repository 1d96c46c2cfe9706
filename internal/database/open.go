package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open dials a GORM connection for one of the engine's supported SQL
// drivers. driver/dsn match the pair internal/migration accepts, so a
// plan run against the same config an operator already ran `ychaosctl
// migrate up` with finds its tables in place.
//
// The sqlite dialect is the pure-Go glebarez/sqlite (modernc.org/sqlite
// underneath) rather than the CGO mattn/go-sqlite3-backed
// gorm.io/driver/sqlite, so ychaosctl stays a CGO-free binary even with
// the sqlite backend selected; golang-migrate's own sqlite3 driver
// (internal/migration) is a separate, CGO-requiring concern that only
// the `migrate` subcommand pays for.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", driver)
	}
}
