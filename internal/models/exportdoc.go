// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Export documents reproduce the full synced record, not just the typed
// subset the dashboard reads. Each ExportDoc starts from the record's Raw
// map (the fields the struct does not declare) and overlays the declared
// fields in their normalized form: ISO-8601 timestamps, decoded response
// maps, invalid timestamps omitted entirely.

// ExportDoc returns the event as a full export document.
func (e *Event) ExportDoc() map[string]interface{} {
	doc := newExportDoc(e.Raw)
	doc["id"] = e.ID
	putString(doc, "participantId", e.ParticipantID)
	putString(doc, "eventType", e.Type)
	putString(doc, "type", e.LegacyType)
	putTime(doc, "timestamp", e.Timestamp)
	putTime(doc, "createdAt", e.CreatedAt)
	putTime(doc, "syncedAt", e.SyncedAt)
	putString(doc, "platform", e.Platform)
	putString(doc, "url", e.URL)
	if e.OCR != nil {
		doc["ocr"] = e.OCR
	}
	putString(doc, "screenshotUrl", e.ScreenshotURL)
	putString(doc, "storagePath", e.StoragePath)
	return doc
}

// ExportDoc returns the check-in as a full export document.
func (c *CheckIn) ExportDoc() map[string]interface{} {
	doc := newExportDoc(c.Raw)
	doc["id"] = c.ID
	putString(doc, "participantId", c.ParticipantID)
	putString(doc, "sessionId", c.SessionID)
	putTime(doc, "completedAt", c.CompletedAt)
	putTime(doc, "startedAt", c.StartedAt)
	putTime(doc, "syncedAt", c.SyncedAt)
	if c.Responses != nil {
		doc["responses"] = c.Responses
	}
	doc["selfInitiated"] = c.SelfInitiated
	return doc
}

// ExportDoc returns the alert as a full export document.
func (a *SafetyAlert) ExportDoc() map[string]interface{} {
	doc := newExportDoc(a.Raw)
	doc["id"] = a.ID
	putString(doc, "participantId", a.ParticipantID)
	putString(doc, "sessionId", a.SessionID)
	putTime(doc, "triggeredAt", a.TriggeredAt)
	putTime(doc, "syncedAt", a.SyncedAt)
	doc["handled"] = a.Handled
	if a.Responses != nil {
		doc["responses"] = a.Responses
	}
	return doc
}

// ExportDoc returns the registry record as a full export document.
func (p *Participant) ExportDoc() map[string]interface{} {
	doc := newExportDoc(p.Raw)
	doc["id"] = p.ID
	putString(doc, "participantId", p.ParticipantID)
	doc["inUse"] = p.InUse
	putTime(doc, "enrolledAt", p.EnrolledAt)
	putTime(doc, "lastEnrolledAt", p.LastEnrolledAt)
	putString(doc, "deviceModel", p.DeviceModel)
	putString(doc, "osVersion", p.OSVersion)
	doc["isTestUser"] = p.IsTestUser
	return doc
}

// newExportDoc copies raw with time-typed values normalized to ISO strings.
func newExportDoc(raw map[string]interface{}) map[string]interface{} {
	doc := make(map[string]interface{}, len(raw)+8)
	for k, v := range raw {
		doc[k] = normalizeExportValue(v)
	}
	return doc
}

// normalizeExportValue rewrites BSON-decoded time values as ISO-8601 strings,
// descending into nested documents and arrays. Everything else passes through.
func normalizeExportValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC().Format(time.RFC3339)
	case primitive.DateTime:
		return tv.Time().UTC().Format(time.RFC3339)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, nested := range tv {
			out[k] = normalizeExportValue(nested)
		}
		return out
	case primitive.A:
		out := make([]interface{}, len(tv))
		for i, nested := range tv {
			out[i] = normalizeExportValue(nested)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, nested := range tv {
			out[i] = normalizeExportValue(nested)
		}
		return out
	default:
		return v
	}
}

func putString(doc map[string]interface{}, key, value string) {
	if value != "" {
		doc[key] = value
	}
}

func putTime(doc map[string]interface{}, key string, t FlexTime) {
	if t.Valid() {
		doc[key] = t.ISO()
	}
}
