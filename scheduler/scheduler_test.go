package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"rank-tracker-service/database"
	"rank-tracker-service/models"
)

type fakeSchedStore struct {
	candidates []database.ScheduleCandidate
}

func (s *fakeSchedStore) ListScheduleCandidates(ctx context.Context) ([]database.ScheduleCandidate, error) {
	return s.candidates, nil
}

type fakeProfiles struct{}

func (p *fakeProfiles) GetBusiness(ctx context.Context, businessID string) (*models.BusinessIdentity, error) {
	return &models.BusinessIdentity{
		BusinessID: businessID,
		Name:       "Blue Bottle Coffee",
		Latitude:   30.2672,
		Longitude:  -97.7431,
	}, nil
}

type fakeRunner struct {
	mu      sync.Mutex
	started []int64
	err     error
}

func (r *fakeRunner) StartRun(ctx context.Context, report *models.RankReport, identity models.BusinessIdentity) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.started = append(r.started, report.ID)
	return int64(len(r.started)), nil
}

func weeklyReport(createdAt time.Time) models.RankReport {
	return models.RankReport{
		ID:           7,
		BusinessID:   "biz-1",
		Name:         "Downtown coffee",
		Keywords:     []string{"coffee shop"},
		RadiusKm:     5,
		GridSize:     5,
		Frequency:    models.FrequencyWeekly,
		ScheduleDay:  1, // Monday
		ScheduleHour: 9,
		Status:       models.ReportStatusActive,
		CreatedAt:    createdAt,
	}
}

func TestNextDue(t *testing.T) {
	// 2026-08-26 is a Wednesday.
	wed := time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC)

	testCases := []struct {
		name      string
		frequency string
		day       int
		hour      int
		after     time.Time
		want      time.Time
	}{
		{
			name:      "weekly later in week",
			frequency: models.FrequencyWeekly,
			day:       5, hour: 9, // Friday 09:00
			after: wed,
			want:  time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly wraps to next week",
			frequency: models.FrequencyWeekly,
			day:       1, hour: 9, // Monday 09:00
			after: wed,
			want:  time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly same day earlier hour wraps",
			frequency: models.FrequencyWeekly,
			day:       3, hour: 9, // Wednesday 09:00, already past at 14:30
			after: wed,
			want:  time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly same day later hour is today",
			frequency: models.FrequencyWeekly,
			day:       3, hour: 18,
			after: wed,
			want:  time.Date(2026, 8, 26, 18, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly later this month",
			frequency: models.FrequencyMonthly,
			day:       28, hour: 6,
			after: wed,
			want:  time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly wraps to next month",
			frequency: models.FrequencyMonthly,
			day:       15, hour: 6,
			after: wed,
			want:  time.Date(2026, 9, 15, 6, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly wraps across year boundary",
			frequency: models.FrequencyMonthly,
			day:       10, hour: 0,
			after: time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2027, 1, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "none never recurs",
			frequency: models.FrequencyNone,
			day:       1, hour: 9,
			after: wed,
			want:  time.Time{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextDue(tc.frequency, tc.day, tc.hour, tc.after)
			if !got.Equal(tc.want) {
				t.Errorf("NextDue = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTickStartsDueReport(t *testing.T) {
	lastRun := time.Date(2026, 8, 3, 9, 0, 5, 0, time.UTC) // Monday run
	store := &fakeSchedStore{candidates: []database.ScheduleCandidate{
		{Report: weeklyReport(lastRun.AddDate(0, -1, 0)), LastRunStart: &lastRun},
	}}
	runner := &fakeRunner{}

	s := NewScheduler(store, &fakeProfiles{}, runner, time.Minute)
	// Three weeks after the last run: the report is overdue.
	s.SetClock(func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) })

	s.Tick(context.Background())

	if len(runner.started) != 1 || runner.started[0] != 7 {
		t.Fatalf("Expected one run for report 7, got %v", runner.started)
	}
}

func TestTickStaleReportGetsSingleCatchUpRun(t *testing.T) {
	// Last run three weeks ago; a single tick must start exactly one run,
	// not one per missed slot.
	lastRun := time.Date(2026, 8, 3, 9, 0, 5, 0, time.UTC)
	store := &fakeSchedStore{candidates: []database.ScheduleCandidate{
		{Report: weeklyReport(lastRun.AddDate(0, -2, 0)), LastRunStart: &lastRun},
	}}
	runner := &fakeRunner{}

	s := NewScheduler(store, &fakeProfiles{}, runner, time.Minute)
	s.SetClock(func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) })

	s.Tick(context.Background())
	if len(runner.started) != 1 {
		t.Fatalf("Expected exactly one catch-up run, got %d", len(runner.started))
	}

	// Once the catch-up run has started, the next tick sees it as the last
	// run and the report is no longer due.
	newLast := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	store.candidates[0].LastRunStart = &newLast
	s.Tick(context.Background())
	if len(runner.started) != 1 {
		t.Fatalf("Report started again while not due, runs: %d", len(runner.started))
	}
}

func TestTickSkipsReportNotYetDue(t *testing.T) {
	lastRun := time.Date(2026, 8, 24, 9, 0, 3, 0, time.UTC) // Monday run just happened
	store := &fakeSchedStore{candidates: []database.ScheduleCandidate{
		{Report: weeklyReport(lastRun.AddDate(0, -1, 0)), LastRunStart: &lastRun},
	}}
	runner := &fakeRunner{}

	s := NewScheduler(store, &fakeProfiles{}, runner, time.Minute)
	s.SetClock(func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) })

	s.Tick(context.Background())
	if len(runner.started) != 0 {
		t.Fatalf("Expected no runs for a report that is not due, got %d", len(runner.started))
	}
}

func TestTickSkipsReportWithActiveRun(t *testing.T) {
	lastRun := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	store := &fakeSchedStore{candidates: []database.ScheduleCandidate{
		{Report: weeklyReport(lastRun.AddDate(0, -1, 0)), LastRunStart: &lastRun, HasActiveRun: true},
	}}
	runner := &fakeRunner{}

	s := NewScheduler(store, &fakeProfiles{}, runner, time.Minute)
	s.SetClock(func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) })

	s.Tick(context.Background())
	if len(runner.started) != 0 {
		t.Fatalf("Expected overdue report with active run to be skipped, got %d runs", len(runner.started))
	}
}

func TestTickUsesCreatedAtBeforeFirstRun(t *testing.T) {
	created := time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC) // Monday, after the 09:00 slot
	store := &fakeSchedStore{candidates: []database.ScheduleCandidate{
		{Report: weeklyReport(created)},
	}}
	runner := &fakeRunner{}

	s := NewScheduler(store, &fakeProfiles{}, runner, time.Minute)

	// Before the first Monday 09:00 after creation: nothing due.
	s.SetClock(func() time.Time { return time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC) })
	s.Tick(context.Background())
	if len(runner.started) != 0 {
		t.Fatalf("Report due before its first scheduled slot, runs: %d", len(runner.started))
	}

	// After it: due.
	s.SetClock(func() time.Time { return time.Date(2026, 8, 17, 9, 30, 0, 0, time.UTC) })
	s.Tick(context.Background())
	if len(runner.started) != 1 {
		t.Fatalf("Expected first scheduled run after creation, got %d", len(runner.started))
	}
}

func TestTickToleratesRunInProgressRace(t *testing.T) {
	lastRun := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	store := &fakeSchedStore{candidates: []database.ScheduleCandidate{
		{Report: weeklyReport(lastRun.AddDate(0, -1, 0)), LastRunStart: &lastRun},
	}}
	runner := &fakeRunner{err: database.ErrRunInProgress}

	s := NewScheduler(store, &fakeProfiles{}, runner, time.Minute)
	s.SetClock(func() time.Time { return time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC) })

	// Must not panic or retry in a loop; the race loser just moves on.
	s.Tick(context.Background())
	if len(runner.started) != 0 {
		t.Fatalf("Expected no started runs, got %d", len(runner.started))
	}
}
