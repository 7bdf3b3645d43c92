// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

// Package aggregate computes per-participant daily activity aggregates from
// the raw study collections. Aggregation is a pure fold over fetched records;
// it holds no state between passes and never mutates previous results.
package aggregate

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/models"
)

// OCRCharsPerWord converts OCR word counts to an estimated character volume.
// Collection apps only report word counts; five characters per word is the
// study's agreed approximation.
const OCRCharsPerWord = 5

// DataSource is the slice of the store the aggregator reads. All ranges are
// half-open [start, end).
type DataSource interface {
	EventsInRange(ctx context.Context, participantID string, start, end time.Time) ([]*models.Event, error)
	CheckinsInRange(ctx context.Context, participantID string, start, end time.Time) ([]*models.CheckIn, error)
	AlertsInRange(ctx context.Context, participantID string, start, end time.Time) ([]*models.SafetyAlert, error)
}

// Aggregator folds raw records into daily aggregates.
type Aggregator struct {
	src DataSource
}

// New returns an Aggregator reading from src.
func New(src DataSource) *Aggregator {
	return &Aggregator{src: src}
}

// DailyStatus computes one participant's per-day aggregates over [start, end).
// The result maps YYYY-MM-DD dates to aggregates; days with no activity are
// absent (the cache layer fills the continuous window).
//
// Each source collection is fetched independently. A failed source degrades
// to an empty contribution rather than aborting the pass, so one bad
// collection cannot blank the whole dashboard; failures are logged.
func (a *Aggregator) DailyStatus(ctx context.Context, participantID string, start, end time.Time) map[string]*models.DailyAggregate {
	days := make(map[string]*models.DailyAggregate)
	log := logging.WithComponent("aggregate")

	day := func(date string) *models.DailyAggregate {
		d, ok := days[date]
		if !ok {
			d = &models.DailyAggregate{Date: date}
			days[date] = d
		}
		return d
	}

	events, err := a.src.EventsInRange(ctx, participantID, start, end)
	if err != nil {
		log.Warn().Err(err).Str("participant_id", participantID).
			Msg("Event fetch failed, aggregating without events")
	}
	for _, e := range events {
		occurred := e.OccurredAt()
		if !occurred.Valid() {
			continue
		}
		d := day(occurred.Date())

		switch e.EventType() {
		case models.EventScreenshot:
			d.Screenshots++
			if e.OCR != nil {
				d.OCRWords += e.OCR.WordCount
				d.OCRChars += e.OCR.WordCount * OCRCharsPerWord
			}
			switch e.PlatformKey() {
			case "reddit":
				d.Reddit++
			case "twitter":
				d.Twitter++
			default:
				d.Other++
			}
		case models.EventCheckin:
			d.Checkins++
		}
	}

	checkins, err := a.src.CheckinsInRange(ctx, participantID, start, end)
	if err != nil {
		log.Warn().Err(err).Str("participant_id", participantID).
			Msg("Check-in fetch failed, aggregating without check-ins")
	}
	for _, c := range checkins {
		when := c.CompletedAt
		if !when.Valid() {
			when = c.StartedAt
		}
		if !when.Valid() {
			continue
		}
		d := day(when.Date())
		d.Checkins++
		if CrisisIndicated(c.Responses) {
			d.CrisisIndicated = true
		}
	}

	alerts, err := a.src.AlertsInRange(ctx, participantID, start, end)
	if err != nil {
		log.Warn().Err(err).Str("participant_id", participantID).
			Msg("Alert fetch failed, aggregating without alerts")
	}
	for _, al := range alerts {
		if !al.TriggeredAt.Valid() {
			continue
		}
		day(al.TriggeredAt.Date()).SafetyAlerts++
	}

	return days
}

// CrisisIndicated reports whether a response map contains an affirmative
// answer to a crisis-related question: any key containing "crisis", "harm",
// or "hurt" whose string value is "yes" or "true" (case-insensitive).
func CrisisIndicated(responses map[string]interface{}) bool {
	for key, value := range responses {
		s, ok := value.(string)
		if !ok {
			continue
		}
		v := strings.ToLower(s)
		if v != "yes" && v != "true" {
			continue
		}
		k := strings.ToLower(key)
		if strings.Contains(k, "crisis") || strings.Contains(k, "harm") || strings.Contains(k, "hurt") {
			return true
		}
	}
	return false
}

// Compliance returns the EMA compliance percentage: completed check-ins over
// expected prompts across active days, clamped to [0, 100]. daysActive below
// one counts as one so a fresh participant shows 0 instead of dividing by
// zero.
func Compliance(totalCheckins, daysActive, promptsPerDay int) int {
	if daysActive < 1 {
		daysActive = 1
	}
	if promptsPerDay < 1 {
		promptsPerDay = 1
	}
	pct := int(math.Round(float64(totalCheckins*100) / float64(daysActive*promptsPerDay)))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
