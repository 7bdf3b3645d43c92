// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/socialscope/scopeboard/internal/aggregate"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/statuscache"
	"github.com/socialscope/scopeboard/internal/store"
)

// Per-day detail response limits.
const (
	maxDayEvents         = 100
	maxSampleScreenshots = 10
	defaultStudyStartLag = 30 * 24 * time.Hour
)

// participantExists reports whether the participant is registered or has
// orphaned data, and returns the registry record when present.
func (h *Handler) participantExists(r *http.Request, id string) (*models.Participant, bool, error) {
	p, err := h.store.Participant(r.Context(), id)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}
	hasData, err := h.store.HasParticipantData(r.Context(), id)
	if err != nil {
		return nil, false, err
	}
	return nil, hasData, nil
}

// dailySummaryRow is one day of the all-time participant summary.
type dailySummaryRow struct {
	PID             string `json:"pid"`
	Date            string `json:"date"`
	Screenshots     int    `json:"screenshots"`
	OCRWords        int    `json:"ocr_words"`
	Reddit          int    `json:"reddit"`
	Twitter         int    `json:"twitter"`
	Checkins        int    `json:"checkins"`
	SafetyAlerts    int    `json:"safety_alerts"`
	CrisisIndicated bool   `json:"crisis_indicated"`
}

// ParticipantSummary returns the all-time daily summary for one participant.
func (h *Handler) ParticipantSummary(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	pid := chi.URLParam(r, "participantID")

	p, exists, err := h.participantExists(r, pid)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if !exists {
		rw.NotFound("Participant not found")
		return
	}

	days := map[string]*dailySummaryRow{}
	row := func(date string) *dailySummaryRow {
		if d, ok := days[date]; ok {
			return d
		}
		d := &dailySummaryRow{PID: pid, Date: date}
		days[date] = d
		return d
	}

	events, err := h.store.AllEvents(r.Context(), pid)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	for _, ev := range events {
		at := ev.OccurredAt()
		if !at.Valid() || ev.EventType() != models.EventScreenshot {
			continue
		}
		d := row(at.Date())
		d.Screenshots++
		switch ev.PlatformKey() {
		case "reddit":
			d.Reddit++
		case "twitter":
			d.Twitter++
		}
		if ev.OCR != nil {
			d.OCRWords += ev.OCR.WordCount
		}
	}

	// Check-in and alert streams degrade independently: a failed fetch
	// leaves the summary partial rather than failing the request.
	if checkins, err := h.store.AllCheckins(r.Context(), pid); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Check-in fetch failed for summary")
	} else {
		for _, c := range checkins {
			at := c.CompletedAt
			if !at.Valid() {
				at = c.StartedAt
			}
			if !at.Valid() {
				continue
			}
			d := row(at.Date())
			d.Checkins++
			if aggregate.CrisisIndicated(c.Responses) {
				d.CrisisIndicated = true
			}
		}
	}

	if alerts, err := h.store.AllAlerts(r.Context(), pid); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Alert fetch failed for summary")
	} else {
		for _, a := range alerts {
			if a.TriggeredAt.Valid() {
				row(a.TriggeredAt.Date()).SafetyAlerts++
			}
		}
	}

	summary := make([]dailySummaryRow, 0, len(days))
	for _, d := range days {
		summary = append(summary, *d)
	}
	sort.Slice(summary, func(i, j int) bool { return summary[i].Date < summary[j].Date })

	resp := map[string]interface{}{
		"participant_id":   pid,
		"study_start_date": studyStartDate(p),
		"daily_summary":    summary,
	}
	if p != nil {
		resp["device_model"] = p.DeviceModel
		resp["os_version"] = p.OSVersion
	}
	rw.Success(resp)
}

func studyStartDate(p *models.Participant) string {
	if p != nil {
		if t := p.EnrollmentTime(); t.Valid() {
			return t.Date()
		}
	}
	return time.Now().UTC().Add(-defaultStudyStartLag).Format(statuscache.DateLayout)
}

// Day detail payload shapes.
type hourlyActivity struct {
	Screenshots int `json:"screenshots"`
	OCRWords    int `json:"ocr_words"`
	Reddit      int `json:"reddit"`
	Twitter     int `json:"twitter"`
}

type dayEvent struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp,omitempty"`
	Type          string `json:"type"`
	Platform      string `json:"platform,omitempty"`
	URL           string `json:"url,omitempty"`
	OCRWordCount  int    `json:"ocr_word_count"`
	OCRText       string `json:"ocr_text,omitempty"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}

type dayCheckin struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionId,omitempty"`
	Timestamp       string         `json:"timestamp,omitempty"`
	Time            string         `json:"time,omitempty"`
	Responses       models.FlexMap `json:"responses"`
	CrisisIndicated bool           `json:"crisis_indicated"`
	SelfInitiated   bool           `json:"selfInitiated"`
}

type dayAlert struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Time      string                 `json:"time,omitempty"`
	Handled   bool                   `json:"handled"`
	Responses map[string]interface{} `json:"responses"`
	SessionID string                 `json:"sessionId,omitempty"`
}

type screenshotSample struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Platform  string `json:"platform,omitempty"`
	Time      string `json:"time"`
}

// ParticipantDay returns single-day detail: hourly screenshot activity,
// platform breakdown, check-ins, session-merged safety alerts, and sampled
// screenshot references.
func (h *Handler) ParticipantDay(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	pid := chi.URLParam(r, "participantID")
	date := chi.URLParam(r, "date")

	dayStart, err := time.Parse(statuscache.DateLayout, date)
	if err != nil {
		rw.BadRequest("date must be YYYY-MM-DD")
		return
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	_, exists, err := h.participantExists(r, pid)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if !exists {
		rw.NotFound("Participant not found")
		return
	}

	events, err := h.store.EventsInRange(r.Context(), pid, dayStart, dayEnd)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	hourly := map[int]*hourlyActivity{}
	for i := 0; i < 24; i++ {
		hourly[i] = &hourlyActivity{}
	}
	platformTotals := map[string]int{"reddit": 0, "twitter": 0, "other": 0}

	var dayEvents []dayEvent
	var screenshotsByHour [24][]screenshotSample
	var screenshotCount, ocrWordTotal int

	for _, ev := range events {
		at := ev.OccurredAt()
		e := dayEvent{
			ID:            ev.ID,
			Type:          string(ev.EventType()),
			Platform:      ev.Platform,
			URL:           ev.URL,
			ScreenshotURL: ev.ScreenshotURL,
		}
		if at.Valid() {
			e.Timestamp = at.ISO()
		}
		if ev.OCR != nil {
			e.OCRWordCount = ev.OCR.WordCount
			e.OCRText = ev.OCR.ExtractedText
		}
		dayEvents = append(dayEvents, e)

		if ev.EventType() != models.EventScreenshot || !at.Valid() {
			continue
		}

		hour := at.Time().Hour()
		hourly[hour].Screenshots++
		hourly[hour].OCRWords += e.OCRWordCount
		screenshotCount++
		ocrWordTotal += e.OCRWordCount

		switch ev.PlatformKey() {
		case "reddit":
			hourly[hour].Reddit++
			platformTotals["reddit"]++
		case "twitter":
			hourly[hour].Twitter++
			platformTotals["twitter"]++
		default:
			platformTotals["other"]++
		}

		if ev.ScreenshotURL != "" {
			screenshotsByHour[hour] = append(screenshotsByHour[hour], screenshotSample{
				URL:       ev.ScreenshotURL,
				Timestamp: at.ISO(),
				Platform:  ev.Platform,
				Time:      at.Time().Format("3:04 PM"),
			})
		}
	}

	checkins, crisisIndicated := h.dayCheckins(r, pid, dayStart, dayEnd)
	alerts := h.dayAlerts(r, pid, dayStart, dayEnd, checkins)

	sampleByHour := map[int][]screenshotSample{}
	var allShots []screenshotSample
	for hour := 0; hour < 24; hour++ {
		shots := screenshotsByHour[hour]
		if len(shots) == 0 {
			continue
		}
		sampleByHour[hour] = sampleEvenly(shots, maxSampleScreenshots)
		allShots = append(allShots, shots...)
	}

	if len(dayEvents) > maxDayEvents {
		dayEvents = dayEvents[:maxDayEvents]
	}

	rw.Success(map[string]interface{}{
		"participant_id":      pid,
		"date":                date,
		"total_screenshots":   screenshotCount,
		"total_ocr_words":     ocrWordTotal,
		"reddit_screenshots":  platformTotals["reddit"],
		"twitter_screenshots": platformTotals["twitter"],
		"crisis_indicated":    crisisIndicated,
		"hourly_activity":     hourly,
		"platform_breakdown": map[string]interface{}{
			"reddit":  map[string]int{"screenshots": platformTotals["reddit"]},
			"twitter": map[string]int{"screenshots": platformTotals["twitter"]},
			"other":   map[string]int{"screenshots": platformTotals["other"]},
		},
		"events":                     dayEvents,
		"checkins":                   checkins,
		"safety_alerts":              alerts,
		"sample_screenshots_by_hour": sampleByHour,
		"sample_screenshots":         sampleEvenly(allShots, maxSampleScreenshots),
	})
}

func (h *Handler) dayCheckins(r *http.Request, pid string, start, end time.Time) ([]dayCheckin, bool) {
	checkins, err := h.store.CheckinsInRange(r.Context(), pid, start, end)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Check-in fetch failed for day detail")
		return nil, false
	}

	var out []dayCheckin
	var crisis bool
	for _, c := range checkins {
		at := c.CompletedAt
		if !at.Valid() {
			at = c.StartedAt
		}
		dc := dayCheckin{
			ID:            c.ID,
			SessionID:     c.SessionID,
			Responses:     c.Responses,
			SelfInitiated: c.SelfInitiated,
		}
		if at.Valid() {
			dc.Timestamp = at.ISO()
			dc.Time = at.Time().Format("3:04 PM")
		}
		if aggregate.CrisisIndicated(c.Responses) {
			dc.CrisisIndicated = true
			crisis = true
		}
		out = append(out, dc)
	}
	return out, crisis
}

// dayAlerts returns the day's safety alerts with each alert's partial
// responses overlaid by the full response set from its check-in session.
func (h *Handler) dayAlerts(r *http.Request, pid string, start, end time.Time, checkins []dayCheckin) []dayAlert {
	alerts, err := h.store.AlertsInRange(r.Context(), pid, start, end)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Alert fetch failed for day detail")
		return nil
	}
	if len(alerts) == 0 {
		return nil
	}

	bySession := map[string]models.FlexMap{}
	for _, c := range checkins {
		if c.SessionID != "" {
			bySession[c.SessionID] = c.Responses
		}
	}
	// Sessions that closed outside the day window still hold the full
	// responses for alerts triggered inside it.
	if all, err := h.store.AllCheckins(r.Context(), pid); err == nil {
		for _, c := range all {
			if c.SessionID != "" {
				if _, ok := bySession[c.SessionID]; !ok {
					bySession[c.SessionID] = c.Responses
				}
			}
		}
	}

	var out []dayAlert
	for _, a := range alerts {
		merged := map[string]interface{}{}
		for k, v := range a.Responses {
			merged[k] = v
		}
		for k, v := range bySession[a.SessionID] {
			merged[k] = v
		}

		da := dayAlert{
			ID:        a.ID,
			Handled:   a.Handled,
			Responses: merged,
			SessionID: a.SessionID,
		}
		if a.TriggeredAt.Valid() {
			da.Timestamp = a.TriggeredAt.ISO()
			da.Time = a.TriggeredAt.Time().Format("3:04 PM")
		}
		out = append(out, da)
	}
	return out
}

// sampleEvenly picks at most n evenly spaced elements, preserving order.
func sampleEvenly(shots []screenshotSample, n int) []screenshotSample {
	if len(shots) <= n {
		return shots
	}
	step := float64(len(shots)) / float64(n)
	out := make([]screenshotSample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, shots[int(float64(i)*step)])
	}
	return out
}
