package models

import (
	"reflect"
	"testing"
)

func validRequest() CreateReportRequest {
	return CreateReportRequest{
		BusinessID: "biz-1",
		Name:       "Downtown coffee",
		Keywords:   []string{"coffee shop"},
		RadiusKm:   5,
		GridSize:   5,
	}
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	req := validRequest()
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if req.Frequency != FrequencyNone {
		t.Errorf("Empty frequency should default to none, got %q", req.Frequency)
	}
}

func TestValidateNormalizesKeywords(t *testing.T) {
	req := validRequest()
	req.Keywords = []string{" coffee shop ", "", "Coffee Shop", "espresso bar", "  "}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	want := []string{"coffee shop", "espresso bar"}
	if !reflect.DeepEqual(req.Keywords, want) {
		t.Errorf("Keywords normalized to %v, want %v", req.Keywords, want)
	}
}

func TestValidateRejections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(r *CreateReportRequest)
	}{
		{name: "missing business id", mutate: func(r *CreateReportRequest) { r.BusinessID = "  " }},
		{name: "missing name", mutate: func(r *CreateReportRequest) { r.Name = "" }},
		{name: "no keywords", mutate: func(r *CreateReportRequest) { r.Keywords = nil }},
		{name: "only blank keywords", mutate: func(r *CreateReportRequest) { r.Keywords = []string{" ", ""} }},
		{name: "too many keywords", mutate: func(r *CreateReportRequest) {
			r.Keywords = []string{"a", "b", "c", "d", "e", "f"}
		}},
		{name: "zero radius", mutate: func(r *CreateReportRequest) { r.RadiusKm = 0 }},
		{name: "negative radius", mutate: func(r *CreateReportRequest) { r.RadiusKm = -3 }},
		{name: "radius too large", mutate: func(r *CreateReportRequest) { r.RadiusKm = 51 }},
		{name: "even grid size", mutate: func(r *CreateReportRequest) { r.GridSize = 6 }},
		{name: "unsupported odd grid size", mutate: func(r *CreateReportRequest) { r.GridSize = 11 }},
		{name: "unknown frequency", mutate: func(r *CreateReportRequest) { r.Frequency = "daily" }},
		{name: "weekly day out of range", mutate: func(r *CreateReportRequest) {
			r.Frequency = FrequencyWeekly
			r.ScheduleDay = 7
		}},
		{name: "monthly day zero", mutate: func(r *CreateReportRequest) {
			r.Frequency = FrequencyMonthly
			r.ScheduleDay = 0
		}},
		{name: "monthly day past 28", mutate: func(r *CreateReportRequest) {
			r.Frequency = FrequencyMonthly
			r.ScheduleDay = 31
		}},
		{name: "hour out of range", mutate: func(r *CreateReportRequest) {
			r.Frequency = FrequencyWeekly
			r.ScheduleDay = 1
			r.ScheduleHour = 24
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			if err := req.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidateScheduleBounds(t *testing.T) {
	req := validRequest()
	req.Frequency = FrequencyWeekly
	req.ScheduleDay = 0 // Sunday
	req.ScheduleHour = 23
	if err := req.Validate(); err != nil {
		t.Errorf("Weekly Sunday 23:00 should validate, got %v", err)
	}

	req = validRequest()
	req.Frequency = FrequencyMonthly
	req.ScheduleDay = 28
	if err := req.Validate(); err != nil {
		t.Errorf("Monthly day 28 should validate, got %v", err)
	}
}

func TestRunTerminal(t *testing.T) {
	for status, want := range map[string]bool{
		RunStatusPending:   false,
		RunStatusRunning:   false,
		RunStatusCompleted: true,
		RunStatusFailed:    true,
	} {
		run := RankRun{Status: status}
		if run.Terminal() != want {
			t.Errorf("Terminal() for %s = %v, want %v", status, run.Terminal(), want)
		}
	}
}

func TestValidReportStatus(t *testing.T) {
	for _, s := range []string{ReportStatusActive, ReportStatusPaused, ReportStatusArchived} {
		if !ValidReportStatus(s) {
			t.Errorf("Expected %q to be a valid status", s)
		}
	}
	for _, s := range []string{"", "deleted", "Active"} {
		if ValidReportStatus(s) {
			t.Errorf("Expected %q to be rejected", s)
		}
	}
}
