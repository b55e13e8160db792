package orchestrator

import (
	"context"
	"sync"
	"time"

	"rank-tracker-service/grid"
	"rank-tracker-service/models"

	"github.com/apex/log"
)

// Store is the slice of the rank store the orchestrator needs.
type Store interface {
	CreateRunIfIdle(ctx context.Context, reportID int64, pointsTotal int) (int64, error)
	MarkRunRunning(ctx context.Context, runID int64) error
	SaveResult(ctx context.Context, r *models.RankResult) error
	IncrementRunProgress(ctx context.Context, runID int64) error
	ComputeAvgRank(ctx context.Context, runID int64) (*float64, error)
	CompleteRun(ctx context.Context, runID int64, avgRank *float64) error
	FailRun(ctx context.Context, runID int64, reason string) error
}

// QueryExecutor resolves one (point, keyword) unit.
type QueryExecutor interface {
	Query(ctx context.Context, point grid.Point, keyword string, identity models.BusinessIdentity) (*models.RankResult, error)
}

// ProgressBroadcaster pushes live progress to subscribed clients. Optional;
// polling GetRun remains the source of truth.
type ProgressBroadcaster interface {
	BroadcastProgress(progress models.RunProgress)
}

// Notifier is told when a run completes for a report with a notification
// target. Delivery is an external concern.
type Notifier interface {
	RunCompleted(report *models.RankReport, runID int64, avgRank *float64) error
}

// Orchestrator owns run executions: it fans (point x keyword) units out over
// a bounded worker pool, tracks progress, and finalizes the run.
type Orchestrator struct {
	store          Store
	executor       QueryExecutor
	workers        int
	maxRunDuration time.Duration
	broadcaster    ProgressBroadcaster
	notifier       Notifier

	mu   sync.Mutex
	runs map[int64]*runHandle
}

type runHandle struct {
	cancel        context.CancelFunc
	mu            sync.Mutex
	userCancelled bool
	fatalReason   string
}

func (h *runHandle) recordFatal(reason string) {
	h.mu.Lock()
	if h.fatalReason == "" {
		h.fatalReason = reason
	}
	h.mu.Unlock()
	h.cancel()
}

type unit struct {
	point   grid.Point
	keyword string
}

// NewOrchestrator creates a new run orchestrator. The worker count bounds
// total outbound provider concurrency regardless of grid size.
func NewOrchestrator(store Store, executor QueryExecutor, workers int, maxRunDuration time.Duration) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		store:          store,
		executor:       executor,
		workers:        workers,
		maxRunDuration: maxRunDuration,
		runs:           make(map[int64]*runHandle),
	}
}

// SetBroadcaster wires an optional live-progress broadcaster.
func (o *Orchestrator) SetBroadcaster(b ProgressBroadcaster) {
	o.broadcaster = b
}

// SetNotifier wires an optional run-completed notifier.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// StartRun creates a run for the report and begins executing it in the
// background. Returns database.ErrRunInProgress (propagated from the store's
// check-and-set) when the report already has a non-terminal run.
func (o *Orchestrator) StartRun(ctx context.Context, report *models.RankReport, identity models.BusinessIdentity) (int64, error) {
	points, err := grid.Compute(identity.Latitude, identity.Longitude, report.RadiusKm, report.GridSize)
	if err != nil {
		return 0, err
	}
	pointsTotal := len(points) * len(report.Keywords)

	runID, err := o.store.CreateRunIfIdle(ctx, report.ID, pointsTotal)
	if err != nil {
		return 0, err
	}

	go o.execute(runID, report, identity, points)
	return runID, nil
}

// CancelRun requests best-effort cancellation of a run started by this
// process. Dispatch stops, in-flight calls finish or time out, and the run
// is finalized as failed with reason "cancelled".
func (o *Orchestrator) CancelRun(runID int64) bool {
	o.mu.Lock()
	handle, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	handle.mu.Lock()
	handle.userCancelled = true
	handle.mu.Unlock()
	handle.cancel()
	log.Infof("Run %d cancellation requested", runID)
	return true
}

func (o *Orchestrator) execute(runID int64, report *models.RankReport, identity models.BusinessIdentity, points []grid.Point) {
	runCtx, cancel := context.WithTimeout(context.Background(), o.maxRunDuration)
	handle := &runHandle{cancel: cancel}

	o.mu.Lock()
	o.runs[runID] = handle
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.runs, runID)
		o.mu.Unlock()
		cancel()
	}()

	// Store writes must survive run cancellation, so they use their own context.
	storeCtx := context.Background()

	if err := o.store.MarkRunRunning(storeCtx, runID); err != nil {
		log.Errorf("Run %d: failed to mark running: %v", runID, err)
		return
	}
	log.Infof("Run %d started: %d points x %d keywords", runID, len(points), len(report.Keywords))

	pointsTotal := len(points) * len(report.Keywords)
	var completed int
	var completedMu sync.Mutex

	jobs := make(chan unit)
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				o.executeUnit(runCtx, storeCtx, runID, u, identity, handle, pointsTotal, &completed, &completedMu)
			}
		}()
	}

	for _, point := range points {
		for _, keyword := range report.Keywords {
			jobs <- unit{point: point, keyword: keyword}
		}
	}
	close(jobs)
	wg.Wait()

	o.finalize(storeCtx, runID, report, handle, runCtx.Err())
}

func (o *Orchestrator) executeUnit(runCtx, storeCtx context.Context, runID int64, u unit,
	identity models.BusinessIdentity, handle *runHandle, pointsTotal int, completed *int, completedMu *sync.Mutex) {

	result, err := o.executor.Query(runCtx, u.point, u.keyword, identity)
	if err != nil {
		if runCtx.Err() != nil {
			// Cancellation or timeout; the finalizer names the reason.
			return
		}
		log.Errorf("Run %d: fatal provider error on point (%d,%d) keyword %q: %v",
			runID, u.point.Row, u.point.Col, u.keyword, err)
		handle.recordFatal(err.Error())
		return
	}

	result.RunID = runID
	if err := o.store.SaveResult(storeCtx, result); err != nil {
		// The unit's result is lost; do not count it complete.
		log.Errorf("Run %d: failed to save result for point (%d,%d) keyword %q: %v",
			runID, u.point.Row, u.point.Col, u.keyword, err)
		return
	}
	if err := o.store.IncrementRunProgress(storeCtx, runID); err != nil {
		log.Errorf("Run %d: failed to increment progress: %v", runID, err)
		return
	}

	completedMu.Lock()
	*completed++
	done := *completed
	completedMu.Unlock()

	if o.broadcaster != nil {
		o.broadcaster.BroadcastProgress(models.RunProgress{
			RunID:           runID,
			Status:          models.RunStatusRunning,
			PointsTotal:     pointsTotal,
			PointsCompleted: done,
		})
	}
}

func (o *Orchestrator) finalize(storeCtx context.Context, runID int64, report *models.RankReport, handle *runHandle, ctxErr error) {
	handle.mu.Lock()
	fatalReason := handle.fatalReason
	userCancelled := handle.userCancelled
	handle.mu.Unlock()

	var status string
	switch {
	case fatalReason != "":
		status = models.RunStatusFailed
		if err := o.store.FailRun(storeCtx, runID, fatalReason); err != nil {
			log.Errorf("Run %d: failed to record failure: %v", runID, err)
		}
	case userCancelled:
		status = models.RunStatusFailed
		if err := o.store.FailRun(storeCtx, runID, models.FailureReasonCancelled); err != nil {
			log.Errorf("Run %d: failed to record cancellation: %v", runID, err)
		}
	case ctxErr == context.DeadlineExceeded:
		status = models.RunStatusFailed
		if err := o.store.FailRun(storeCtx, runID, models.FailureReasonTimeout); err != nil {
			log.Errorf("Run %d: failed to record timeout: %v", runID, err)
		}
	default:
		avgRank, err := o.store.ComputeAvgRank(storeCtx, runID)
		if err != nil {
			log.Errorf("Run %d: failed to compute avg rank: %v", runID, err)
			if err := o.store.FailRun(storeCtx, runID, "aggregation failed"); err != nil {
				log.Errorf("Run %d: failed to record aggregation failure: %v", runID, err)
			}
			status = models.RunStatusFailed
			break
		}
		if err := o.store.CompleteRun(storeCtx, runID, avgRank); err != nil {
			log.Errorf("Run %d: failed to complete: %v", runID, err)
			return
		}
		status = models.RunStatusCompleted
		if o.notifier != nil && report.NotifyEmail != "" {
			if err := o.notifier.RunCompleted(report, runID, avgRank); err != nil {
				log.Warnf("Run %d: failed to emit completion notification: %v", runID, err)
			}
		}
	}

	if o.broadcaster != nil {
		o.broadcaster.BroadcastProgress(models.RunProgress{RunID: runID, Status: status})
	}
	log.Infof("Run %d finished with status %s", runID, status)
}
