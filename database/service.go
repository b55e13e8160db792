package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rank-tracker-service/models"

	"github.com/apex/log"
)

// ErrRunInProgress is returned when a run cannot be created because the
// report already has a pending or running one.
var ErrRunInProgress = errors.New("report already has a run in progress")

type RankService struct {
	db *sql.DB
}

func NewRankService(db *sql.DB) *RankService {
	return &RankService{db: db}
}

// CreateReport persists a validated report configuration.
func (s *RankService) CreateReport(ctx context.Context, req *models.CreateReportRequest) (*models.RankReport, error) {
	keywords, err := json.Marshal(req.Keywords)
	if err != nil {
		return nil, err
	}

	frequency := req.Frequency
	if frequency == "" {
		frequency = models.FrequencyNone
	}

	result, err := s.db.ExecContext(ctx, `INSERT
		INTO rank_reports (business_id, name, keywords, radius_km, grid_size, frequency, schedule_day, schedule_hour, notify_email, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.BusinessID, req.Name, string(keywords), req.RadiusKm, req.GridSize,
		frequency, req.ScheduleDay, req.ScheduleHour, nullString(req.NotifyEmail), models.ReportStatusActive)
	if err != nil {
		log.Errorf("Error inserting report: %v", err)
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	log.Infof("Created report %d for business %s", id, req.BusinessID)

	return s.GetReport(ctx, id)
}

// GetReport fetches a single report by id.
func (s *RankService) GetReport(ctx context.Context, id int64) (*models.RankReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, name, keywords, radius_km, grid_size, frequency,
		       schedule_day, schedule_hour, notify_email, status, created_at, updated_at
		FROM rank_reports WHERE id = ?`, id)
	return scanReport(row)
}

// ListReports returns all reports owned by a business, newest first.
func (s *RankService) ListReports(ctx context.Context, businessID string) ([]models.RankReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, name, keywords, radius_km, grid_size, frequency,
		       schedule_day, schedule_hour, notify_email, status, created_at, updated_at
		FROM rank_reports WHERE business_id = ? ORDER BY id DESC`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []models.RankReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

// UpdateReportStatus moves a report between active, paused and archived.
func (s *RankService) UpdateReportStatus(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE rank_reports SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	log.Infof("Report %d status set to %s", id, status)
	return nil
}

// CreateRunIfIdle atomically creates a pending run for the report unless a
// pending or running one already exists. The conditional INSERT is the
// check-and-set that keeps concurrent schedulers and manual triggers from
// racing into duplicate runs.
func (s *RankService) CreateRunIfIdle(ctx context.Context, reportID int64, pointsTotal int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rank_runs (report_id, status, points_total)
		SELECT ?, 'pending', ?
		FROM DUAL
		WHERE NOT EXISTS (
			SELECT 1 FROM rank_runs
			WHERE report_id = ? AND status IN ('pending', 'running')
		)`, reportID, pointsTotal, reportID)
	if err != nil {
		log.Errorf("Error creating run for report %d: %v", reportID, err)
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrRunInProgress
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	log.Infof("Created run %d for report %d (%d points)", runID, reportID, pointsTotal)
	return runID, nil
}

// MarkRunRunning transitions a pending run to running and stamps started_at.
func (s *RankService) MarkRunRunning(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rank_runs SET status = 'running', started_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'`, runID)
	return err
}

// SaveResult upserts the result for one (run, keyword, row, col) cell. A
// retried unit replaces its prior attempt rather than duplicating it.
func (s *RankService) SaveResult(ctx context.Context, r *models.RankResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rank_results (run_id, keyword, grid_row, grid_col, latitude, longitude, rank_position, top_result_name, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			rank_position = VALUES(rank_position),
			top_result_name = VALUES(top_result_name),
			failed = VALUES(failed)`,
		r.RunID, r.Keyword, r.GridRow, r.GridCol, r.Latitude, r.Longitude,
		nullInt(r.Rank), nullString(r.TopResultName), r.Failed)
	return err
}

// IncrementRunProgress bumps points_completed by one. Increments are
// independent and commutative, so a single atomic UPDATE suffices.
func (s *RankService) IncrementRunProgress(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rank_runs SET points_completed = points_completed + 1 WHERE id = ?`, runID)
	return err
}

// ComputeAvgRank returns the arithmetic mean of the non-null ranks for a
// run. AVG ignores NULL rows, so a run with zero ranked points yields nil.
func (s *RankService) ComputeAvgRank(ctx context.Context, runID int64) (*float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(rank_position) FROM rank_results WHERE run_id = ?`, runID).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// CompleteRun transitions a run to completed with its final average rank.
// Terminal states are never overwritten.
func (s *RankService) CompleteRun(ctx context.Context, runID int64, avgRank *float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rank_runs
		SET status = 'completed', avg_rank = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('pending', 'running')`,
		nullFloat(avgRank), runID)
	if err != nil {
		return err
	}
	log.Infof("Run %d completed", runID)
	return nil
}

// FailRun transitions a run to failed with a reason, leaving whatever
// results were written in place.
func (s *RankService) FailRun(ctx context.Context, runID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rank_runs
		SET status = 'failed', failure_reason = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('pending', 'running')`, reason, runID)
	if err != nil {
		return err
	}
	log.Warnf("Run %d failed: %s", runID, reason)
	return nil
}

// GetRun fetches a run snapshot. Safe to call at any time, including while
// workers are still writing results.
func (s *RankService) GetRun(ctx context.Context, runID int64) (*models.RankRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, report_id, status, points_total, points_completed, avg_rank,
		       failure_reason, started_at, completed_at, created_at
		FROM rank_runs WHERE id = ?`, runID)
	return scanRun(row)
}

// GetLatestRun returns the most recent run for a report, or nil if none.
func (s *RankService) GetLatestRun(ctx context.Context, reportID int64) (*models.RankRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, report_id, status, points_total, points_completed, avg_rank,
		       failure_reason, started_at, completed_at, created_at
		FROM rank_runs WHERE report_id = ? ORDER BY id DESC LIMIT 1`, reportID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetRunResults returns all results written for a run so far, in row-major
// order per keyword.
func (s *RankService) GetRunResults(ctx context.Context, runID int64) ([]models.RankResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, keyword, grid_row, grid_col, latitude, longitude,
		       rank_position, top_result_name, failed, created_at
		FROM rank_results WHERE run_id = ?
		ORDER BY keyword, grid_row, grid_col`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.RankResult
	for rows.Next() {
		var r models.RankResult
		var rank sql.NullInt64
		var topName sql.NullString
		if err := rows.Scan(&r.RunID, &r.Keyword, &r.GridRow, &r.GridCol,
			&r.Latitude, &r.Longitude, &rank, &topName, &r.Failed, &r.CreatedAt); err != nil {
			return nil, err
		}
		if rank.Valid {
			v := int(rank.Int64)
			r.Rank = &v
		}
		r.TopResultName = topName.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// ScheduleCandidate is an active recurring report together with the start
// time of its last run, for the scheduler's due computation.
type ScheduleCandidate struct {
	Report       models.RankReport
	LastRunStart *time.Time
	HasActiveRun bool
}

// ListScheduleCandidates returns every active report with a recurrence,
// joined with its latest run start and whether a non-terminal run exists.
func (s *RankService) ListScheduleCandidates(ctx context.Context) ([]ScheduleCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.business_id, r.name, r.keywords, r.radius_km, r.grid_size, r.frequency,
		       r.schedule_day, r.schedule_hour, r.notify_email, r.status, r.created_at, r.updated_at,
		       (SELECT MAX(started_at) FROM rank_runs WHERE report_id = r.id) AS last_run_start,
		       EXISTS (SELECT 1 FROM rank_runs WHERE report_id = r.id AND status IN ('pending', 'running')) AS has_active_run
		FROM rank_reports r
		WHERE r.status = 'active' AND r.frequency != 'none'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []ScheduleCandidate
	for rows.Next() {
		var c ScheduleCandidate
		var keywords string
		var notifyEmail sql.NullString
		var lastRunStart sql.NullTime
		if err := rows.Scan(&c.Report.ID, &c.Report.BusinessID, &c.Report.Name, &keywords,
			&c.Report.RadiusKm, &c.Report.GridSize, &c.Report.Frequency,
			&c.Report.ScheduleDay, &c.Report.ScheduleHour, &notifyEmail,
			&c.Report.Status, &c.Report.CreatedAt, &c.Report.UpdatedAt,
			&lastRunStart, &c.HasActiveRun); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &c.Report.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords for report %d: %w", c.Report.ID, err)
		}
		c.Report.NotifyEmail = notifyEmail.String
		if lastRunStart.Valid {
			t := lastRunStart.Time
			c.LastRunStart = &t
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*models.RankReport, error) {
	var report models.RankReport
	var keywords string
	var notifyEmail sql.NullString
	err := row.Scan(&report.ID, &report.BusinessID, &report.Name, &keywords,
		&report.RadiusKm, &report.GridSize, &report.Frequency,
		&report.ScheduleDay, &report.ScheduleHour, &notifyEmail,
		&report.Status, &report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywords), &report.Keywords); err != nil {
		return nil, fmt.Errorf("failed to decode keywords for report %d: %w", report.ID, err)
	}
	report.NotifyEmail = notifyEmail.String
	return &report, nil
}

func scanRun(row rowScanner) (*models.RankRun, error) {
	var run models.RankRun
	var avgRank sql.NullFloat64
	var failureReason sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&run.ID, &run.ReportID, &run.Status, &run.PointsTotal,
		&run.PointsCompleted, &avgRank, &failureReason, &startedAt, &completedAt, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if avgRank.Valid {
		run.AvgRank = &avgRank.Float64
	}
	run.FailureReason = failureReason.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
