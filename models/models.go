package models

import (
	"fmt"
	"strings"
	"time"
)

// Report lifecycle statuses
const (
	ReportStatusActive   = "active"
	ReportStatusPaused   = "paused"
	ReportStatusArchived = "archived"
)

// Recurrence frequencies
const (
	FrequencyNone    = "none"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Run statuses
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run failure reasons set by the orchestrator
const (
	FailureReasonTimeout   = "timeout"
	FailureReasonCancelled = "cancelled"
)

const (
	MaxKeywords  = 5
	MaxRadiusKm  = 50.0
)

// AllowedGridSizes are the grid dimensions a report may be configured with.
// Sizes are odd so a sample point always sits exactly on the business
// location. Size 1 degenerates to the center point alone.
var AllowedGridSizes = map[int]bool{1: true, 5: true, 7: true, 9: true, 13: true}

// RankReport is a user-defined tracking configuration.
type RankReport struct {
	ID           int64     `json:"id"`
	BusinessID   string    `json:"business_id"`
	Name         string    `json:"name"`
	Keywords     []string  `json:"keywords"`
	RadiusKm     float64   `json:"radius_km"`
	GridSize     int       `json:"grid_size"`
	Frequency    string    `json:"frequency"`
	ScheduleDay  int       `json:"schedule_day"`
	ScheduleHour int       `json:"schedule_hour"`
	NotifyEmail  string    `json:"notify_email,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RankRun is one execution of a report.
type RankRun struct {
	ID              int64      `json:"id"`
	ReportID        int64      `json:"report_id"`
	Status          string     `json:"status"`
	PointsTotal     int        `json:"points_total"`
	PointsCompleted int        `json:"points_completed"`
	AvgRank         *float64   `json:"avg_rank"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Terminal reports whether the run reached a final state.
func (r *RankRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// RankResult is the outcome for one (grid point, keyword) pair within a run.
// Rank is nil when the business was not found in the observed window or the
// query failed; Failed distinguishes the two.
type RankResult struct {
	RunID         int64     `json:"run_id"`
	Keyword       string    `json:"keyword"`
	GridRow       int       `json:"grid_row"`
	GridCol       int       `json:"grid_col"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Rank          *int      `json:"rank"`
	TopResultName string    `json:"top_result_name,omitempty"`
	Failed        bool      `json:"failed"`
	CreatedAt     time.Time `json:"created_at"`
}

// BusinessIdentity is the canonical identity a listing is matched against,
// owned by the business-profile subsystem.
type BusinessIdentity struct {
	BusinessID string  `json:"business_id"`
	Name       string  `json:"name"`
	PlaceID    string  `json:"place_id,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

// CreateReportRequest is the payload for POST /reports.
type CreateReportRequest struct {
	BusinessID   string   `json:"business_id"`
	Name         string   `json:"name"`
	Keywords     []string `json:"keywords"`
	RadiusKm     float64  `json:"radius_km"`
	GridSize     int      `json:"grid_size"`
	Frequency    string   `json:"frequency"`
	ScheduleDay  int      `json:"schedule_day"`
	ScheduleHour int      `json:"schedule_hour"`
	NotifyEmail  string   `json:"notify_email"`
}

// UpdateReportStatusRequest is the payload for PATCH /reports/:id/status.
type UpdateReportStatusRequest struct {
	Status string `json:"status"`
}

// RunSnapshot is the polling response: the run plus whatever results have
// been written so far.
type RunSnapshot struct {
	Run     RankRun      `json:"run"`
	Results []RankResult `json:"results"`
}

// ReportWithLatestRun pairs a report with its most recent run, if any.
type ReportWithLatestRun struct {
	Report    RankReport `json:"report"`
	LatestRun *RankRun   `json:"latest_run,omitempty"`
}

// RunProgress is the websocket progress message for a run.
type RunProgress struct {
	RunID           int64  `json:"run_id"`
	Status          string `json:"status"`
	PointsTotal     int    `json:"points_total"`
	PointsCompleted int    `json:"points_completed"`
}

// Validate checks the report configuration invariants and normalizes the
// keyword list (trim, drop empties, dedupe preserving order).
func (r *CreateReportRequest) Validate() error {
	if strings.TrimSpace(r.BusinessID) == "" {
		return fmt.Errorf("business_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}

	seen := make(map[string]bool)
	keywords := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		keywords = append(keywords, kw)
	}
	if len(keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	if len(keywords) > MaxKeywords {
		return fmt.Errorf("at most %d keywords are allowed, got %d", MaxKeywords, len(keywords))
	}
	r.Keywords = keywords

	if r.RadiusKm <= 0 || r.RadiusKm > MaxRadiusKm {
		return fmt.Errorf("radius_km must be in (0, %g], got %g", MaxRadiusKm, r.RadiusKm)
	}
	if !AllowedGridSizes[r.GridSize] {
		return fmt.Errorf("grid_size must be one of 1, 5, 7, 9, 13, got %d", r.GridSize)
	}

	switch r.Frequency {
	case "":
		r.Frequency = FrequencyNone
	case FrequencyNone:
	case FrequencyWeekly:
		if r.ScheduleDay < 0 || r.ScheduleDay > 6 {
			return fmt.Errorf("schedule_day must be 0-6 for weekly reports, got %d", r.ScheduleDay)
		}
	case FrequencyMonthly:
		if r.ScheduleDay < 1 || r.ScheduleDay > 28 {
			return fmt.Errorf("schedule_day must be 1-28 for monthly reports, got %d", r.ScheduleDay)
		}
	default:
		return fmt.Errorf("frequency must be none, weekly or monthly, got %q", r.Frequency)
	}
	if r.Frequency != FrequencyNone {
		if r.ScheduleHour < 0 || r.ScheduleHour > 23 {
			return fmt.Errorf("schedule_hour must be 0-23, got %d", r.ScheduleHour)
		}
	}

	return nil
}

// ValidReportStatus reports whether s is a known report lifecycle status.
func ValidReportStatus(s string) bool {
	return s == ReportStatusActive || s == ReportStatusPaused || s == ReportStatusArchived
}
