package store

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	sqlite "github.com/glebarez/sqlite"
)

// Open opens a gorm.DB for dbType against dsn, applies pool tuning, and
// returns the wrapping PoolManager. It does not touch the schema: the server
// runs Store.AutoMigrate at startup, and the migrate subcommand runs Migrator.
func Open(dbType DatabaseType, dsn string, poolCfg PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	var dialector gorm.Dialector
	switch dbType {
	case DatabaseTypePostgres:
		dialector = postgres.Open(dsn)
	case DatabaseTypeMySQL:
		dialector = mysql.Open(dsn)
	case DatabaseTypeSQLite, "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported database type %q", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	return NewPoolManager(db, poolCfg, logger)
}
