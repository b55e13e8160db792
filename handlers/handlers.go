package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"rank-tracker-service/database"
	"rank-tracker-service/models"
	"rank-tracker-service/orchestrator"
	"rank-tracker-service/profile"
	"rank-tracker-service/ws"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"
)

type RankHandler struct {
	rankService  *database.RankService
	orchestrator *orchestrator.Orchestrator
	profiles     *profile.Client
	hub          *ws.ProgressHub
}

func NewRankHandler(rankService *database.RankService, orch *orchestrator.Orchestrator, profiles *profile.Client, hub *ws.ProgressHub) *RankHandler {
	return &RankHandler{
		rankService:  rankService,
		orchestrator: orch,
		profiles:     profiles,
		hub:          hub,
	}
}

// HealthCheck returns a simple health status
func (h *RankHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "rank-tracker-service",
	})
}

// CreateReport validates a report configuration, persists it and starts the
// initial run.
func (h *RankHandler) CreateReport(c *gin.Context) {
	args := &models.CreateReportRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to parse create report request: %v", err)
		return
	}

	if err := args.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := h.profiles.GetBusiness(c.Request.Context(), args.BusinessID)
	if err != nil {
		log.Errorf("Error looking up business %s: %v", args.BusinessID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown business: %v", err)})
		return
	}

	report, err := h.rankService.CreateReport(c.Request.Context(), args)
	if err != nil {
		log.Errorf("Error creating report: %v", err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	runID, err := h.orchestrator.StartRun(c.Request.Context(), report, *identity)
	if err != nil {
		// The report exists; the initial run can be triggered again later.
		log.Errorf("Error starting initial run for report %d: %v", report.ID, err)
		c.JSON(http.StatusCreated, gin.H{"report": report})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"report": report, "run_id": runID})
}

// ListReports returns all reports for a business.
func (h *RankHandler) ListReports(c *gin.Context) {
	businessID, ok := c.GetQuery("business_id")
	if !ok || businessID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "business_id query parameter is required"})
		return
	}

	reports, err := h.rankService.ListReports(c.Request.Context(), businessID)
	if err != nil {
		log.Errorf("Error listing reports for business %s: %v", businessID, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// GetReport returns a report with its latest run.
func (h *RankHandler) GetReport(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	report, err := h.rankService.GetReport(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err, "report")
		return
	}

	latest, err := h.rankService.GetLatestRun(c.Request.Context(), id)
	if err != nil {
		log.Errorf("Error fetching latest run for report %d: %v", id, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	c.JSON(http.StatusOK, models.ReportWithLatestRun{Report: *report, LatestRun: latest})
}

// UpdateReportStatus pauses, reactivates or archives a report.
func (h *RankHandler) UpdateReportStatus(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	args := &models.UpdateReportStatusRequest{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to parse status update request: %v", err)
		return
	}
	if !models.ValidReportStatus(args.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid status %q", args.Status)})
		return
	}

	if err := h.rankService.UpdateReportStatus(c.Request.Context(), id, args.Status); err != nil {
		h.notFoundOrError(c, err, "report")
		return
	}

	c.Status(http.StatusOK)
}

// TriggerRun starts a run for a report on demand, subject to the same
// one-run-at-a-time rule as the scheduler.
func (h *RankHandler) TriggerRun(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	report, err := h.rankService.GetReport(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err, "report")
		return
	}
	if report.Status == models.ReportStatusArchived {
		c.JSON(http.StatusConflict, gin.H{"error": "report is archived"})
		return
	}

	identity, err := h.profiles.GetBusiness(c.Request.Context(), report.BusinessID)
	if err != nil {
		log.Errorf("Error looking up business %s: %v", report.BusinessID, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	runID, err := h.orchestrator.StartRun(c.Request.Context(), report, *identity)
	if err != nil {
		if errors.Is(err, database.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress for this report"})
			return
		}
		log.Errorf("Error starting run for report %d: %v", id, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

// GetRun returns the run snapshot with whatever results exist so far. Safe
// to poll mid-run.
func (h *RankHandler) GetRun(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	run, err := h.rankService.GetRun(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err, "run")
		return
	}

	results, err := h.rankService.GetRunResults(c.Request.Context(), id)
	if err != nil {
		log.Errorf("Error fetching results for run %d: %v", id, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	c.JSON(http.StatusOK, models.RunSnapshot{Run: *run, Results: results})
}

// GetRunGeoJSON returns the run's results as a GeoJSON FeatureCollection
// for map rendering.
func (h *RankHandler) GetRunGeoJSON(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if _, err := h.rankService.GetRun(c.Request.Context(), id); err != nil {
		h.notFoundOrError(c, err, "run")
		return
	}

	results, err := h.rankService.GetRunResults(c.Request.Context(), id)
	if err != nil {
		log.Errorf("Error fetching results for run %d: %v", id, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, r := range results {
		feature := geojson.NewPointFeature([]float64{r.Longitude, r.Latitude})
		feature.SetProperty("keyword", r.Keyword)
		feature.SetProperty("row", r.GridRow)
		feature.SetProperty("col", r.GridCol)
		feature.SetProperty("failed", r.Failed)
		if r.Rank != nil {
			feature.SetProperty("rank", *r.Rank)
		}
		if r.TopResultName != "" {
			feature.SetProperty("top_result_name", r.TopResultName)
		}
		fc.AddFeature(feature)
	}

	c.JSON(http.StatusOK, fc)
}

// CancelRun requests best-effort cancellation of a run.
func (h *RankHandler) CancelRun(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if h.orchestrator.CancelRun(id) {
		c.Status(http.StatusAccepted)
		return
	}

	// Not executing in this process: either already terminal or orphaned by
	// a restart. Orphaned non-terminal runs are failed directly.
	run, err := h.rankService.GetRun(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err, "run")
		return
	}
	if run.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("run is already %s", run.Status)})
		return
	}

	if err := h.rankService.FailRun(c.Request.Context(), id, models.FailureReasonCancelled); err != nil {
		log.Errorf("Error cancelling run %d: %v", id, err)
		c.String(http.StatusInternalServerError, fmt.Sprint(err))
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *RankHandler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return id, true
}

func (h *RankHandler) notFoundOrError(c *gin.Context, err error, what string) {
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	log.Errorf("Error fetching %s: %v", what, err)
	c.String(http.StatusInternalServerError, fmt.Sprint(err))
}
