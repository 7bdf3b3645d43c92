// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package api

import (
	"crypto/subtle"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/statuscache"
)

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// participantInfo is one row of the enrolled-participant listing.
type participantInfo struct {
	ID            string           `json:"id"`
	ParticipantID string           `json:"participantId"`
	EnrolledAt    *models.FlexTime `json:"enrolledAt,omitempty"`
	DeviceModel   string           `json:"deviceModel"`
	OSVersion     string           `json:"osVersion"`
	IsTestUser    bool             `json:"isTestUser"`
}

// Participants lists enrolled participants, newest enrollment first.
func (h *Handler) Participants(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	participants, err := h.store.EnrolledParticipants(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	out := make([]participantInfo, 0, len(participants))
	for _, p := range participants {
		info := participantInfo{
			ID:            p.Key(),
			ParticipantID: p.Key(),
			DeviceModel:   orUnknown(p.DeviceModel),
			OSVersion:     orUnknown(p.OSVersion),
			IsTestUser:    p.IsTestUser,
		}
		if t := p.EnrollmentTime(); t.Valid() {
			info.EnrolledAt = &t
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		return enrollKey(out[i]) > enrollKey(out[j])
	})

	rw.Success(map[string]interface{}{"participants": out})
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func enrollKey(p participantInfo) string {
	if p.EnrolledAt == nil {
		return ""
	}
	return p.EnrolledAt.Time().Format(time.RFC3339)
}

// OverallStatus returns the paginated per-participant daily indicators for
// a date range, served from the hourly-refreshed cache when available.
func (h *Handler) OverallStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	startDate := r.URL.Query().Get("start_date")
	endDate := r.URL.Query().Get("end_date")
	if startDate == "" || endDate == "" {
		rw.BadRequest("start_date and end_date are required (YYYY-MM-DD)")
		return
	}
	if !validDate(startDate) || !validDate(endDate) {
		rw.BadRequest("dates must be YYYY-MM-DD")
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 25)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 25
	}

	result, err := h.statusCache.Read(r.Context(), startDate, endDate, page, pageSize)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	totalPages := (result.Total + pageSize - 1) / pageSize
	rw.SuccessWithPagination(result, &PaginationMeta{
		Total:      result.Total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	})
}

// CacheStatus reports whether the overall-status snapshot exists and when
// it was last refreshed.
func (h *Handler) CacheStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	refreshedAt, ok := h.statusCache.RefreshedAt(r.Context())
	if !ok {
		rw.Success(map[string]interface{}{
			"cached":  false,
			"message": "Cache not initialized. An admin needs to refresh the cache.",
		})
		return
	}

	rw.Success(map[string]interface{}{
		"cached":      true,
		"refreshedAt": refreshedAt.UTC().Format(time.RFC3339),
	})
}

// RefreshCache rebuilds the overall-status snapshot. Admin only.
func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	h.runCacheRefresh(w, r)
}

// SchedulerRefreshCache is the cron variant of RefreshCache, authenticated
// by a shared secret instead of a user token.
func (h *Handler) SchedulerRefreshCache(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	secret := r.URL.Query().Get("secret")
	want := h.cfg.Security.SchedulerSecret
	if want == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(want)) != 1 {
		logging.Ctx(r.Context()).Warn().Msg("Invalid scheduler secret attempted")
		rw.Forbidden("Invalid secret")
		return
	}

	h.runCacheRefresh(w, r)
}

func (h *Handler) runCacheRefresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	snapshot, err := h.statusCache.Refresh(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(map[string]interface{}{
		"message":          "Cache refreshed successfully",
		"participantCount": snapshot.ParticipantCount,
		"refreshedAt":      snapshot.RefreshedAt.UTC().Format(time.RFC3339),
	})
}

// SafetyAlerts serves the background-refreshed safety-alert snapshot.
func (h *Handler) SafetyAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	snap, err := h.alertCache.Get()
	if err != nil {
		// No tick has completed yet: distinct from "no alerts".
		rw.Success(map[string]interface{}{
			"alerts":                 []models.SafetyAlertCacheEntry{},
			"status":                 models.CacheNeverRun,
			"refreshIntervalSeconds": int(h.cfg.Cache.AlertRefreshInterval.Seconds()),
			"message":                "Alert cache has not completed a refresh yet",
		})
		return
	}

	resp := map[string]interface{}{
		"alerts":                 snap.Alerts,
		"status":                 snap.Status,
		"refreshIntervalSeconds": int(h.cfg.Cache.AlertRefreshInterval.Seconds()),
	}
	// UpdatedAt is zero when no tick has ever succeeded.
	if !snap.UpdatedAt.IsZero() {
		resp["updatedAt"] = snap.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if !snap.FailedAt.IsZero() {
		resp["failedAt"] = snap.FailedAt.UTC().Format(time.RFC3339)
	}
	if snap.Error != "" {
		resp["error"] = snap.Error
	}
	rw.Success(resp)
}

// RefreshSafetyAlerts triggers an immediate alert cache tick. Admin only.
func (h *Handler) RefreshSafetyAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	count, err := h.alertCache.RefreshNow(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Manual alert cache refresh failed")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError,
			"Alert refresh failed; previous snapshot retained")
		return
	}

	rw.Success(map[string]interface{}{
		"message":    "Alert cache refreshed",
		"alertCount": count,
	})
}

func validDate(s string) bool {
	_, err := time.Parse(statuscache.DateLayout, s)
	return err == nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
