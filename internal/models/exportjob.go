// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package models

import "time"

// ExportLevel selects how much data an export includes.
type ExportLevel int

const (
	// LevelMetadata exports participant metadata, check-ins, and safety alerts.
	LevelMetadata ExportLevel = 1

	// LevelEvents adds the raw event stream (with OCR data).
	LevelEvents ExportLevel = 2

	// LevelFull adds the binary screenshot attachments.
	LevelFull ExportLevel = 3
)

// Valid reports whether the level is one of the defined export levels.
func (l ExportLevel) Valid() bool {
	return l >= LevelMetadata && l <= LevelFull
}

// Tag returns the short level tag used in export filenames.
func (l ExportLevel) Tag() string {
	switch l {
	case LevelEvents:
		return "ocr"
	case LevelFull:
		return "full"
	default:
		return "meta"
	}
}

// JobStatus is the state of an export job.
//
// Transitions: pending → processing → {completed | failed}; cancelled is
// reachable only from pending or processing via an explicit cancel request.
// No transition goes backward.
type JobStatus string

const (
	// JobPending means the job record exists but execution has not started.
	JobPending JobStatus = "pending"

	// JobProcessing means the job's execution unit is running.
	JobProcessing JobStatus = "processing"

	// JobCompleted means the archive was built and durably uploaded.
	JobCompleted JobStatus = "completed"

	// JobFailed means execution hit a job-fatal error.
	JobFailed JobStatus = "failed"

	// JobCancelled means the job was cancelled before it finished.
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Cancellable reports whether a cancel request is valid in this state.
func (s JobStatus) Cancellable() bool {
	return s == JobPending || s == JobProcessing
}

// ExportJob is one export request's full lifecycle record. The job record is
// the sole source of truth for progress; clients poll it. Each job has a
// single writer (its own execution unit) and many readers.
type ExportJob struct {
	ID            string      `json:"jobId" bson:"_id"`
	ParticipantID string      `json:"participantId" bson:"participantId"`
	Level         ExportLevel `json:"exportLevel" bson:"exportLevel"`
	StartDate     string      `json:"startDate,omitempty" bson:"startDate,omitempty"`
	EndDate       string      `json:"endDate,omitempty" bson:"endDate,omitempty"`

	Status JobStatus `json:"status" bson:"status"`
	Error  string    `json:"error,omitempty" bson:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt" bson:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`

	CreatedBy   string `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	NotifyEmail string `json:"notifyEmail,omitempty" bson:"notifyEmail,omitempty"`

	// Screenshot progress counters, updated at coarse checkpoints while a
	// level-3 job downloads attachments.
	ScreenshotTotal    int `json:"screenshotTotal,omitempty" bson:"screenshotTotal,omitempty"`
	ScreenshotProgress int `json:"screenshotProgress,omitempty" bson:"screenshotProgress,omitempty"`

	// DownloadURL is the signed retrieval handle; set only on success.
	DownloadURL string `json:"downloadUrl,omitempty" bson:"downloadUrl,omitempty"`
	Filename    string `json:"filename,omitempty" bson:"filename,omitempty"`
}

// LevelEstimate is the size/time estimate for one export level.
type LevelEstimate struct {
	Name        string `json:"name"`
	SizeBytes   int64  `json:"size_bytes"`
	SizeDisplay string `json:"size_display"`
	TimeSeconds int    `json:"time_seconds"`
	TimeDisplay string `json:"time_display"`

	// NeedsBackground flags estimates large enough that the caller should
	// use the async job path. Only set on the full level.
	NeedsBackground bool `json:"needs_background,omitempty"`
}

// ExportEstimate is the read-only size/time estimate across all levels.
// No job is created by an estimate.
type ExportEstimate struct {
	ParticipantID   string                   `json:"participant_id"`
	EventCount      int                      `json:"event_count"`
	ScreenshotCount int                      `json:"screenshot_count"`
	CheckinCount    int                      `json:"ema_count"`
	AlertCount      int                      `json:"alert_count"`
	Estimates       map[string]LevelEstimate `json:"estimates"`
}
