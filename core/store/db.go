package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"edu-cti/config"
	"edu-cti/core/utils"
)

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.TrimSpace(cfg.DBDriver)
	if driver == "" {
		driver = "postgres"
	}
	var db *sql.DB
	var err error
	switch driver {
	case "postgres":
		db, err = sql.Open("pgx", cfg.DBURL)
	case "sqlite":
		db, err = sql.Open("sqlite", cfg.DBURL)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// modernc sqlite serializes writes; a single connection avoids
		// SQLITE_BUSY under concurrent test access.
		db.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if logger != nil {
		logger.Printf("db connected driver=%s", driver)
	}
	return db, nil
}
