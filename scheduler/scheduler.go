package scheduler

import (
	"context"
	"errors"
	"time"

	"rank-tracker-service/database"
	"rank-tracker-service/models"

	"github.com/apex/log"
)

// Store is the slice of the rank store the scheduler needs.
type Store interface {
	ListScheduleCandidates(ctx context.Context) ([]database.ScheduleCandidate, error)
}

// ProfileLookup resolves a business's canonical identity and coordinates.
type ProfileLookup interface {
	GetBusiness(ctx context.Context, businessID string) (*models.BusinessIdentity, error)
}

// RunStarter starts a run for a report.
type RunStarter interface {
	StartRun(ctx context.Context, report *models.RankReport, identity models.BusinessIdentity) (int64, error)
}

// Scheduler is the process-wide recurrence loop. Each tick it starts a run
// for every active recurring report whose next due time has passed, at most
// one per report per tick, so downtime never produces a backlog storm.
type Scheduler struct {
	store    Store
	profiles ProfileLookup
	runner   RunStarter
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewScheduler creates a new recurrence scheduler
func NewScheduler(store Store, profiles ProfileLookup, runner RunStarter, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		profiles: profiles,
		runner:   runner,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// SetClock overrides the scheduler's time source. Used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start starts the scheduler loop
func (s *Scheduler) Start() {
	log.Infof("Starting recurrence scheduler, polling every %v", s.interval)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(context.Background())
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop stops the scheduler loop
func (s *Scheduler) Stop() {
	log.Info("Stopping recurrence scheduler...")
	close(s.stopChan)
}

// Tick runs one scheduler pass. Exported so tests can drive it directly
// with a controlled clock.
func (s *Scheduler) Tick(ctx context.Context) {
	candidates, err := s.store.ListScheduleCandidates(ctx)
	if err != nil {
		log.Errorf("Scheduler: failed to list candidates: %v", err)
		return
	}

	now := s.now()
	for _, c := range candidates {
		if c.HasActiveRun {
			continue
		}

		base := c.Report.CreatedAt
		if c.LastRunStart != nil {
			base = *c.LastRunStart
		}
		due := NextDue(c.Report.Frequency, c.Report.ScheduleDay, c.Report.ScheduleHour, base)
		if due.IsZero() || now.Before(due) {
			continue
		}

		identity, err := s.profiles.GetBusiness(ctx, c.Report.BusinessID)
		if err != nil {
			log.Errorf("Scheduler: failed to look up business %s for report %d: %v",
				c.Report.BusinessID, c.Report.ID, err)
			continue
		}

		report := c.Report
		runID, err := s.runner.StartRun(ctx, &report, *identity)
		if err != nil {
			if errors.Is(err, database.ErrRunInProgress) {
				// Lost the race to a manual trigger or another scheduler.
				continue
			}
			log.Errorf("Scheduler: failed to start run for report %d: %v", report.ID, err)
			continue
		}
		log.Infof("Scheduler: started run %d for report %d (due %v)", runID, report.ID, due)
	}
}

// NextDue computes the next due time strictly after the given base time for
// a (frequency, schedule_day, schedule_hour) recurrence. Times are in UTC,
// the service's reference timezone. Returns the zero time for frequency
// "none".
func NextDue(frequency string, scheduleDay, scheduleHour int, after time.Time) time.Time {
	after = after.UTC()
	switch frequency {
	case models.FrequencyWeekly:
		due := time.Date(after.Year(), after.Month(), after.Day(), scheduleHour, 0, 0, 0, time.UTC)
		daysAhead := (scheduleDay - int(due.Weekday()) + 7) % 7
		due = due.AddDate(0, 0, daysAhead)
		if !due.After(after) {
			due = due.AddDate(0, 0, 7)
		}
		return due
	case models.FrequencyMonthly:
		due := time.Date(after.Year(), after.Month(), scheduleDay, scheduleHour, 0, 0, 0, time.UTC)
		if !due.After(after) {
			due = time.Date(after.Year(), after.Month()+1, scheduleDay, scheduleHour, 0, 0, 0, time.UTC)
		}
		return due
	default:
		return time.Time{}
	}
}
