package utils

import (
	"database/sql"
	"fmt"
	"time"

	"rank-tracker-service/config"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

func mysqlAddress(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}

// DBConnect opens the MySQL connection pool and waits for the database to
// become reachable, retrying the ping with exponential backoff.
func DBConnect(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", mysqlAddress(cfg))
	if err != nil {
		log.Errorf("Failed to open database connection: %v", err)
		return nil, err
	}
	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	waitInterval := 1 * time.Second
	const maxWait = 32 * time.Second
	for {
		if err := db.Ping(); err == nil {
			break
		} else if waitInterval > maxWait {
			db.Close()
			return nil, fmt.Errorf("database not reachable: %w", err)
		} else {
			log.WithError(err).Warnf("Database connection failed, retrying in %v", waitInterval)
			time.Sleep(waitInterval)
			waitInterval *= 2
		}
	}

	log.Info("Established db connection.")
	return db, nil
}
