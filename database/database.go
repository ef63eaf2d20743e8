// Package database opens the Postgres connection shared by the
// recording and detection GORM stores, the same DSN/logger style the
// teacher used for its own Postgres connection.
package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"edge-nvr/config"
)

// Initialize opens the database connection. Schema migration is left to
// each store's own constructor (recording.NewGormStore,
// detection.NewGormSink) rather than centralized here, since the two
// persistence ports are independently owned collaborators (§6) and
// neither needs to know about the other's tables.
func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("database connection established")
	return db, nil
}
