package db

import (
	stdlog "log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/quota"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dialector picks the driver from the DSN: "sqlite:<path>" or a "file:" URI
// selects SQLite, anything else is a MySQL DSN.
func dialector(dsn string) (gorm.Dialector, string) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:")), "sqlite"
	case strings.HasPrefix(dsn, "file:"):
		return sqlite.Open(dsn), "sqlite"
	default:
		return mysql.Open(dsn), "mysql"
	}
}

func Connect(dsn string) (*gorm.DB, error) {
	d, driver := dialector(dsn)
	gdb, err := gorm.Open(d, &gorm.Config{
		Logger: logger.New(stdlog.New(log.Logger, "", 0), logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	log.Info().Str("driver", driver).Msg("database connected")
	return gdb, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&quota.UserCapacity{},
		&quota.IPCapacity{},
		&bdoc.Business{},
		&bdoc.SQLScript{},
		&bdoc.PDF{},
		&bdoc.RequestRecord{},
		&bdoc.Job{},
	)
}
