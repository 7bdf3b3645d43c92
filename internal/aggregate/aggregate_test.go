// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/socialscope/scopeboard/internal/models"
)

type fakeSource struct {
	events   []*models.Event
	checkins []*models.CheckIn
	alerts   []*models.SafetyAlert

	eventsErr   error
	checkinsErr error
	alertsErr   error
}

func (f *fakeSource) EventsInRange(_ context.Context, _ string, _, _ time.Time) ([]*models.Event, error) {
	return f.events, f.eventsErr
}

func (f *fakeSource) CheckinsInRange(_ context.Context, _ string, _, _ time.Time) ([]*models.CheckIn, error) {
	return f.checkins, f.checkinsErr
}

func (f *fakeSource) AlertsInRange(_ context.Context, _ string, _, _ time.Time) ([]*models.SafetyAlert, error) {
	return f.alerts, f.alertsErr
}

func ft(day int, hour int) models.FlexTime {
	return models.NewFlexTime(time.Date(2025, 2, day, hour, 0, 0, 0, time.UTC))
}

func window() (time.Time, time.Time) {
	return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
}

func TestDailyStatusScreenshots(t *testing.T) {
	src := &fakeSource{
		events: []*models.Event{
			{Type: "screenshot", Timestamp: ft(3, 9), Platform: "reddit",
				OCR: &models.OCRInfo{WordCount: 40}},
			{Type: "screenshot", Timestamp: ft(3, 14), Platform: "X"},
			{Type: "screenshot", Timestamp: ft(4, 8), Platform: "instagram"},
			{Type: "checkin", Timestamp: ft(3, 20)},
			{Type: "screenshot"}, // no timestamp: skipped
		},
	}
	start, end := window()

	days := New(src).DailyStatus(context.Background(), "p001", start, end)

	d3 := days["2025-02-03"]
	if d3 == nil {
		t.Fatal("Expected aggregate for 2025-02-03")
	}
	if d3.Screenshots != 2 {
		t.Errorf("Screenshots = %d, want 2", d3.Screenshots)
	}
	if d3.OCRChars != 200 || d3.OCRWords != 40 {
		t.Errorf("OCR chars/words = %d/%d, want 200/40", d3.OCRChars, d3.OCRWords)
	}
	if d3.Reddit != 1 || d3.Twitter != 1 {
		t.Errorf("Platform buckets reddit=%d twitter=%d", d3.Reddit, d3.Twitter)
	}
	if d3.Checkins != 1 {
		t.Errorf("Event-stream checkins = %d, want 1", d3.Checkins)
	}

	d4 := days["2025-02-04"]
	if d4 == nil || d4.Other != 1 {
		t.Errorf("Expected one 'other' platform screenshot on 02-04, got %+v", d4)
	}

	if len(days) != 2 {
		t.Errorf("Expected 2 active days, got %d", len(days))
	}
}

func TestDailyStatusCrisisDetection(t *testing.T) {
	src := &fakeSource{
		checkins: []*models.CheckIn{
			{CompletedAt: ft(5, 10), Responses: models.FlexMap{"mood": "bad"}},
			{CompletedAt: ft(6, 10), Responses: models.FlexMap{"self_harm_thoughts": "Yes"}},
			{CompletedAt: ft(7, 10), Responses: models.FlexMap{"crisis_flag": "no"}},
		},
	}
	start, end := window()

	days := New(src).DailyStatus(context.Background(), "p001", start, end)

	if days["2025-02-05"].CrisisIndicated {
		t.Error("02-05 must not be crisis-flagged")
	}
	if !days["2025-02-06"].CrisisIndicated {
		t.Error("02-06 must be crisis-flagged")
	}
	if days["2025-02-07"].CrisisIndicated {
		t.Error("Negative answer must not flag crisis")
	}
}

func TestDailyStatusFallsBackToStartedAt(t *testing.T) {
	src := &fakeSource{
		checkins: []*models.CheckIn{{StartedAt: ft(8, 11)}},
	}
	start, end := window()

	days := New(src).DailyStatus(context.Background(), "p001", start, end)
	if days["2025-02-08"] == nil || days["2025-02-08"].Checkins != 1 {
		t.Errorf("Expected startedAt fallback to count, got %+v", days["2025-02-08"])
	}
}

func TestDailyStatusPartialSourceDegradation(t *testing.T) {
	src := &fakeSource{
		eventsErr: errors.New("events collection down"),
		alerts: []*models.SafetyAlert{
			{TriggeredAt: ft(9, 12)},
			{TriggeredAt: ft(9, 13)},
		},
	}
	start, end := window()

	days := New(src).DailyStatus(context.Background(), "p001", start, end)
	if days["2025-02-09"] == nil || days["2025-02-09"].SafetyAlerts != 2 {
		t.Errorf("Alert counts must survive an event-source failure, got %+v", days["2025-02-09"])
	}
}

func TestCrisisIndicated(t *testing.T) {
	cases := []struct {
		name string
		m    map[string]interface{}
		want bool
	}{
		{"empty", nil, false},
		{"affirmative_crisis", map[string]interface{}{"crisis": "yes"}, true},
		{"affirmative_true", map[string]interface{}{"want_to_hurt_self": "TRUE"}, true},
		{"affirmative_unrelated_key", map[string]interface{}{"enjoyed_day": "yes"}, false},
		{"negative_crisis_key", map[string]interface{}{"crisis": "no"}, false},
		{"non_string_value", map[string]interface{}{"crisis": true}, false},
	}
	for _, tc := range cases {
		if got := CrisisIndicated(tc.m); got != tc.want {
			t.Errorf("%s: CrisisIndicated = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCompliance(t *testing.T) {
	cases := []struct {
		checkins, days, prompts, want int
	}{
		{0, 14, 3, 0},
		{21, 14, 3, 50},
		{42, 14, 3, 100},
		{100, 14, 3, 100}, // clamped
		{3, 5, 3, 20},
		{1, 14, 3, 2},  // 2.38 rounds down
		{5, 0, 3, 100}, // zero active days treated as one
	}
	for _, tc := range cases {
		if got := Compliance(tc.checkins, tc.days, tc.prompts); got != tc.want {
			t.Errorf("Compliance(%d,%d,%d) = %d, want %d", tc.checkins, tc.days, tc.prompts, got, tc.want)
		}
	}
}
