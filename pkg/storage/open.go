package storage

import (
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
)

// DefaultSQLitePath is used when Open receives an empty DSN.
const DefaultSQLitePath = "later.db"

// Open connects to dsn and returns a storage ready for Migrate.
// postgres:// and postgresql:// DSNs use PostgreSQL; anything else is a
// SQLite path or URI.
func Open(dsn string, opts ...PoolOption) (*GormStorage, error) {
	db, err := gorm.Open(dialectorFor(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, core.StorageFailure("open", err)
	}
	return NewGormStorageWithPool(db, opts...)
}

func dialectorFor(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(sqliteDSN(dsn))
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = DefaultSQLitePath
	}
	if dsn == ":memory:" || strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}
