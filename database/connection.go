// database/connection.go
package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mihara/supplycheck/config"
)

var DB *sql.DB

// InitDB initializes the connection pool for the optional fetch-audit store.
// The application runs fine without it; callers should only invoke this when
// a database host is configured.
func InitDB(cfg config.DatabaseConfig) error {
	var err error
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
	)

	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(10)
	DB.SetMaxIdleConns(10)
	DB.SetConnMaxLifetime(5 * time.Minute)

	if err = DB.Ping(); err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database: Connected to fetch-audit store.")
	return nil
}

// CloseDB closes the connection pool. Called on shutdown.
func CloseDB() {
	if DB != nil {
		DB.Close()
		log.Println("Database: Connection closed.")
	}
}
