package datastore

import (
	"log"
	"os"
	"time"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold is the duration after which GORM logs a query as slow.
const slowQueryThreshold = 1 * time.Second

// createGormLogger configures the GORM logger. Query noise is suppressed
// unless a query exceeds the slow threshold or fails.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.New(log.New(os.Stdout, "", log.LstdFlags), gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// performAutoMigration creates or updates the schema for all stored models.
func performAutoMigration(db *gorm.DB, dbType string) error {
	if err := db.AutoMigrate(&Note{}, &Results{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}
	return nil
}
