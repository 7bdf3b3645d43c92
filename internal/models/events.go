// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package models

import "strings"

// EventType classifies raw activity events synced from client devices.
type EventType string

const (
	// EventScreenshot is a captured screenshot with optional OCR results.
	EventScreenshot EventType = "screenshot"

	// EventCheckin is an in-app check-in recorded in the event stream.
	EventCheckin EventType = "checkin"
)

// OCRInfo carries the OCR results attached to screenshot events.
type OCRInfo struct {
	WordCount     int    `json:"wordCount" bson:"wordCount"`
	ExtractedText string `json:"extractedText,omitempty" bson:"extractedText,omitempty"`
}

// Event is one raw activity record from a participant's event log.
// Events are immutable once read; the document store owns them.
type Event struct {
	ID            string   `json:"id" bson:"_id"`
	ParticipantID string   `json:"participantId" bson:"participant_id"`
	Type          string   `json:"eventType,omitempty" bson:"eventType,omitempty"`
	LegacyType    string   `json:"type,omitempty" bson:"type,omitempty"`
	Timestamp     FlexTime `json:"timestamp" bson:"timestamp"`
	CreatedAt     FlexTime `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
	SyncedAt      FlexTime `json:"syncedAt,omitempty" bson:"syncedAt,omitempty"`
	Platform      string   `json:"platform,omitempty" bson:"platform,omitempty"`
	URL           string   `json:"url,omitempty" bson:"url,omitempty"`
	OCR           *OCRInfo `json:"ocr,omitempty" bson:"ocr,omitempty"`
	ScreenshotURL string   `json:"screenshotUrl,omitempty" bson:"screenshotUrl,omitempty"`
	StoragePath   string   `json:"storagePath,omitempty" bson:"storagePath,omitempty"`

	// Raw captures the synced fields the struct does not declare.
	// ExportDoc merges them back into the full document.
	Raw map[string]interface{} `json:"-" bson:",inline"`
}

// EventType returns the event's type, falling back to the legacy field name
// used by early client builds.
func (e *Event) EventType() EventType {
	if e.Type != "" {
		return EventType(e.Type)
	}
	return EventType(e.LegacyType)
}

// OccurredAt returns the best available timestamp: the primary timestamp
// field, else createdAt. Invalid when the record carries neither.
func (e *Event) OccurredAt() FlexTime {
	if e.Timestamp.Valid() {
		return e.Timestamp
	}
	return e.CreatedAt
}

// PlatformKey returns the lower-cased platform bucket: "reddit", "twitter"
// (covering both twitter and x), or "other".
func (e *Event) PlatformKey() string {
	switch strings.ToLower(e.Platform) {
	case "reddit":
		return "reddit"
	case "twitter", "x":
		return "twitter"
	default:
		return "other"
	}
}

// CheckIn is one EMA (ecological momentary assessment) response.
type CheckIn struct {
	ID            string   `json:"id" bson:"_id"`
	ParticipantID string   `json:"participantId" bson:"participant_id"`
	SessionID     string   `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	CompletedAt   FlexTime `json:"completedAt" bson:"completedAt"`
	StartedAt     FlexTime `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	SyncedAt      FlexTime `json:"syncedAt,omitempty" bson:"syncedAt,omitempty"`
	Responses     FlexMap  `json:"responses" bson:"responses"`
	SelfInitiated bool     `json:"selfInitiated" bson:"selfInitiated"`

	Raw map[string]interface{} `json:"-" bson:",inline"`
}

// SafetyAlert is one safety-triggered alert record. Alerts carry a partial
// copy of the responses captured at trigger time; the matching check-in
// session (by SessionID) holds the full response set.
type SafetyAlert struct {
	ID            string   `json:"id" bson:"_id"`
	ParticipantID string   `json:"participantId" bson:"participant_id"`
	SessionID     string   `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	TriggeredAt   FlexTime `json:"triggeredAt" bson:"triggeredAt"`
	SyncedAt      FlexTime `json:"syncedAt,omitempty" bson:"syncedAt,omitempty"`
	Handled       bool     `json:"handled" bson:"handled"`
	Responses     FlexMap  `json:"responses,omitempty" bson:"responses,omitempty"`

	Raw map[string]interface{} `json:"-" bson:",inline"`
}
