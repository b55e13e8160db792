package database

import (
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// InitSchema creates the necessary database tables if they don't exist
func InitSchema(db *sql.DB) error {
	log.Info("Initializing rank tracker database schema...")

	reportsTableSQL := `
	CREATE TABLE IF NOT EXISTS rank_reports(
		id INT NOT NULL AUTO_INCREMENT,
		business_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		keywords JSON NOT NULL,
		radius_km DOUBLE NOT NULL,
		grid_size INT NOT NULL,
		frequency ENUM('none', 'weekly', 'monthly') NOT NULL DEFAULT 'none',
		schedule_day INT NOT NULL DEFAULT 0,
		schedule_hour INT NOT NULL DEFAULT 0,
		notify_email VARCHAR(255),
		status ENUM('active', 'paused', 'archived') NOT NULL DEFAULT 'active',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX business_id_index (business_id),
		INDEX status_index (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

	if _, err := db.Exec(reportsTableSQL); err != nil {
		return fmt.Errorf("failed to create rank_reports table: %w", err)
	}
	log.Info("Rank_reports table created/verified")

	runsTableSQL := `
	CREATE TABLE IF NOT EXISTS rank_runs(
		id INT NOT NULL AUTO_INCREMENT,
		report_id INT NOT NULL,
		status ENUM('pending', 'running', 'completed', 'failed') NOT NULL DEFAULT 'pending',
		points_total INT NOT NULL,
		points_completed INT NOT NULL DEFAULT 0,
		avg_rank DOUBLE,
		failure_reason VARCHAR(255),
		started_at TIMESTAMP NULL,
		completed_at TIMESTAMP NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX report_id_index (report_id),
		INDEX report_status_index (report_id, status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

	if _, err := db.Exec(runsTableSQL); err != nil {
		return fmt.Errorf("failed to create rank_runs table: %w", err)
	}
	log.Info("Rank_runs table created/verified")

	resultsTableSQL := `
	CREATE TABLE IF NOT EXISTS rank_results(
		run_id INT NOT NULL,
		keyword VARCHAR(255) NOT NULL,
		grid_row INT NOT NULL,
		grid_col INT NOT NULL,
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		rank_position INT,
		top_result_name VARCHAR(255),
		failed BOOL NOT NULL DEFAULT false,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY run_cell_index (run_id, keyword, grid_row, grid_col),
		INDEX run_id_index (run_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

	if _, err := db.Exec(resultsTableSQL); err != nil {
		return fmt.Errorf("failed to create rank_results table: %w", err)
	}
	log.Info("Rank_results table created/verified")

	addFKConstraints(db)

	log.Info("Rank tracker database schema initialization completed")
	return nil
}

// addFKConstraints adds foreign key constraints for referential integrity
func addFKConstraints(db *sql.DB) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM information_schema.TABLE_CONSTRAINTS
		WHERE CONSTRAINT_SCHEMA = DATABASE()
		AND CONSTRAINT_NAME = 'fk_rank_runs_report_id'
	`).Scan(&count)

	if err != nil {
		log.Warnf("Could not check for existing foreign key constraints: %v", err)
		return
	}

	if count == 0 {
		_, err := db.Exec(`
			ALTER TABLE rank_runs
			ADD CONSTRAINT fk_rank_runs_report_id
			FOREIGN KEY (report_id) REFERENCES rank_reports(id) ON DELETE CASCADE
		`)
		if err != nil {
			log.Warnf("Could not add foreign key constraint for rank_runs: %v", err)
		} else {
			log.Info("Added foreign key constraint for rank_runs")
		}
	}

	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM information_schema.TABLE_CONSTRAINTS
		WHERE CONSTRAINT_SCHEMA = DATABASE()
		AND CONSTRAINT_NAME = 'fk_rank_results_run_id'
	`).Scan(&count)

	if err != nil {
		log.Warnf("Could not check for existing rank_results foreign key constraint: %v", err)
		return
	}

	if count == 0 {
		_, err := db.Exec(`
			ALTER TABLE rank_results
			ADD CONSTRAINT fk_rank_results_run_id
			FOREIGN KEY (run_id) REFERENCES rank_runs(id) ON DELETE CASCADE
		`)
		if err != nil {
			log.Warnf("Could not add foreign key constraint for rank_results: %v", err)
		} else {
			log.Info("Added foreign key constraint for rank_results")
		}
	}
}
