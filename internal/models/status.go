// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package models

import "time"

// DailyAggregate holds one participant's per-day activity counters.
// Aggregates are computed fresh on every pass and never mutated
// incrementally.
type DailyAggregate struct {
	// Date is the UTC calendar date in YYYY-MM-DD form.
	Date string `json:"date" bson:"date"`

	Screenshots  int `json:"screenshots" bson:"screenshots"`
	OCRChars     int `json:"ocr_chars" bson:"ocr_chars"`
	OCRWords     int `json:"ocr_words,omitempty" bson:"ocr_words,omitempty"`
	Checkins     int `json:"checkins" bson:"checkins"`
	SafetyAlerts int `json:"safety_alerts" bson:"safety_alerts"`
	Reddit       int `json:"reddit" bson:"reddit"`
	Twitter      int `json:"twitter" bson:"twitter"`
	Other        int `json:"other,omitempty" bson:"other,omitempty"`

	// CrisisIndicated is a monotonic OR across all check-ins matched to this
	// date: once true within a pass it never reverts.
	CrisisIndicated bool `json:"crisis_indicated" bson:"crisis_indicated"`
}

// ParticipantCacheEntry is one participant's exported view in the
// overall-status cache: the daily window plus totals derived over it.
type ParticipantCacheEntry struct {
	ID             string           `json:"id" bson:"id"`
	StudyStartDate string           `json:"study_start_date,omitempty" bson:"study_start_date,omitempty"`
	DailyStatus    []DailyAggregate `json:"dailyStatus" bson:"dailyStatus"`

	TotalScreenshots int `json:"weeklyScreenshots" bson:"weeklyScreenshots"`
	TotalCheckins    int `json:"weeklyCheckins" bson:"weeklyCheckins"`
	TotalReddit      int `json:"weeklyReddit" bson:"weeklyReddit"`
	TotalTwitter     int `json:"weeklyTwitter" bson:"weeklyTwitter"`

	// OverallCompliance is clamped to [0, 100].
	OverallCompliance int `json:"overallCompliance" bson:"overallCompliance"`
}

// OverallStatusCache is the process-wide snapshot of all enrolled
// participants' daily aggregates over the rolling cache window. It is
// replaced atomically by each refresh cycle and never partially merged.
type OverallStatusCache struct {
	Participants     []ParticipantCacheEntry `json:"participants" bson:"participants"`
	StartDate        string                  `json:"startDate" bson:"startDate"`
	EndDate          string                  `json:"endDate" bson:"endDate"`
	RefreshedAt      time.Time               `json:"refreshedAt" bson:"refreshedAt"`
	ParticipantCount int                     `json:"participantCount" bson:"participantCount"`
}

// CacheStatus tags the lifecycle state of the safety-alert cache.
type CacheStatus string

const (
	// CacheNeverRun means no refresh tick has completed since startup.
	// Distinct from an empty result.
	CacheNeverRun CacheStatus = "never_run"

	// CacheOK means the latest tick completed successfully.
	CacheOK CacheStatus = "ok"

	// CacheError means the latest tick failed; the previous snapshot is
	// retained.
	CacheError CacheStatus = "error"
)

// SafetyAlertCacheEntry is one recent safety alert merged with the response
// map of its matching check-in session.
type SafetyAlertCacheEntry struct {
	ID            string   `json:"id"`
	ParticipantID string   `json:"participantId"`
	TriggeredAt   FlexTime `json:"triggeredAt"`
	SessionID     string   `json:"sessionId,omitempty"`

	// Responses is the alert's own partial response fields overlaid by the
	// fuller map from the matching check-in session; check-in values win on
	// key conflicts.
	Responses map[string]interface{} `json:"responses"`

	Handled         bool `json:"handled"`
	CrisisIndicated bool `json:"crisis_indicated"`
}
