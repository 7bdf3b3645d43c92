// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package export

import (
	"context"
	"fmt"

	"github.com/socialscope/scopeboard/internal/models"
)

// Per-unit size heuristics for export estimates. These are deliberately
// rough: the estimate exists to let a caller pick a level, not to predict
// bytes.
const (
	estBaseBytes       = 10 * 1024
	estPerCheckinBytes = 500
	estPerAlertBytes   = 300
	estPerEventBytes   = 2000
	estPerScreenshot   = 200 * 1024

	// Count caps for the estimate queries.
	estCheckinCountCap = 500
	estAlertCountCap   = 100

	// Archives above this trip the async-recommended flag.
	backgroundThresholdBytes = 10 * 1024 * 1024
)

// Estimate computes approximate output size and duration per export level
// without creating a job.
func (e *Engine) Estimate(ctx context.Context, participantID, startDate, endDate string) (*models.ExportEstimate, error) {
	events, err := e.eventsForWindow(ctx, participantID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	var screenshotCount int
	for _, ev := range events {
		if ev.EventType() == models.EventScreenshot {
			screenshotCount++
		}
	}

	checkinCount, err := e.store.CountCheckins(ctx, participantID, estCheckinCountCap)
	if err != nil {
		return nil, fmt.Errorf("count checkins: %w", err)
	}
	alertCount, err := e.store.CountAlerts(ctx, participantID, estAlertCountCap)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	level1 := int64(estBaseBytes + checkinCount*estPerCheckinBytes + alertCount*estPerAlertBytes)
	level2 := level1 + int64(len(events)*estPerEventBytes)
	level3 := level2 + int64(screenshotCount)*estPerScreenshot

	// Rough throughput model: ~1MB/s for documents, ~500KB/s for screenshot
	// downloads, with per-level floors.
	t1 := maxInt(1, int(level1/(1024*1024)))
	t2 := maxInt(2, int(level2/(1024*1024)))
	t3 := maxInt(5, int(level3/(500*1024)))

	return &models.ExportEstimate{
		ParticipantID:   participantID,
		EventCount:      len(events),
		ScreenshotCount: screenshotCount,
		CheckinCount:    checkinCount,
		AlertCount:      alertCount,
		Estimates: map[string]models.LevelEstimate{
			"level1": {
				Name:        "Metadata + EMA + Alerts",
				SizeBytes:   level1,
				SizeDisplay: sizeDisplay(level1),
				TimeSeconds: t1,
				TimeDisplay: timeDisplay(t1),
			},
			"level2": {
				Name:        "Level 1 + Events + OCR",
				SizeBytes:   level2,
				SizeDisplay: sizeDisplay(level2),
				TimeSeconds: t2,
				TimeDisplay: timeDisplay(t2),
			},
			"level3": {
				Name:            "Level 2 + Screenshots",
				SizeBytes:       level3,
				SizeDisplay:     sizeDisplay(level3),
				TimeSeconds:     t3,
				TimeDisplay:     timeDisplay(t3),
				NeedsBackground: level3 > backgroundThresholdBytes,
			},
		},
	}, nil
}

func sizeDisplay(n int64) string {
	if n < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}

func timeDisplay(seconds int) string {
	if seconds > 60 {
		return fmt.Sprintf("~%d min %d sec", seconds/60, seconds%60)
	}
	return fmt.Sprintf("~%d sec", seconds)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
