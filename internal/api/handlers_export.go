// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/socialscope/scopeboard/internal/auth"
	"github.com/socialscope/scopeboard/internal/export"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/models"
)

// ExportEstimate computes approximate export size and duration per level.
// Read-only: no job is created.
func (h *Handler) ExportEstimate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	q := r.URL.Query()
	pid := q.Get("participant_id")
	if pid == "" {
		rw.BadRequest("participant_id is required")
		return
	}
	startDate, endDate := q.Get("start_date"), q.Get("end_date")
	if (startDate != "" && !validDate(startDate)) || (endDate != "" && !validDate(endDate)) {
		rw.BadRequest("dates must be YYYY-MM-DD")
		return
	}

	est, err := h.exports.Estimate(r.Context(), pid, startDate, endDate)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(est)
}

type asyncExportRequest struct {
	ParticipantID string `json:"participant_id"`
	ExportLevel   int    `json:"export_level"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	NotifyEmail   string `json:"notify_email,omitempty"`
}

// StartAsyncExport creates an export job and returns immediately with its
// ID; the caller polls the status endpoint or waits for the notification.
func (h *Handler) StartAsyncExport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req asyncExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("Invalid request body")
		return
	}
	if (req.StartDate != "" && !validDate(req.StartDate)) ||
		(req.EndDate != "" && !validDate(req.EndDate)) {
		rw.BadRequest("dates must be YYYY-MM-DD")
		return
	}

	id, _ := auth.FromContext(r.Context())
	notify := req.NotifyEmail
	if notify == "" {
		notify = id.Email
	}

	job, err := h.exports.Create(r.Context(), export.CreateRequest{
		ParticipantID: req.ParticipantID,
		Level:         models.ExportLevel(req.ExportLevel),
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		CreatedBy:     id.Email,
		NotifyEmail:   notify,
	})
	if err != nil {
		switch {
		case errors.Is(err, export.ErrInvalidLevel):
			rw.BadRequest("export_level must be 1, 2, or 3")
		case errors.Is(err, export.ErrParticipantNotFound):
			rw.NotFound("Participant not found")
		default:
			rw.DatabaseError(err)
		}
		return
	}

	rw.Accepted(map[string]interface{}{
		"jobId":     job.ID,
		"status":    job.Status,
		"statusUrl": "/api/export/jobs/" + job.ID,
	})
}

// ExportJobs lists the caller's recent export jobs, newest first, with a
// rough remaining-time estimate for jobs still downloading screenshots.
func (h *Handler) ExportJobs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, _ := auth.FromContext(r.Context())
	jobs, err := h.exports.Jobs(r.Context(), id.Email)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	type jobWithEstimate struct {
		*models.ExportJob
		TimeEstimate string `json:"timeEstimate,omitempty"`
	}
	out := make([]jobWithEstimate, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobWithEstimate{
			ExportJob:    j,
			TimeEstimate: remainingEstimate(j),
		})
	}
	rw.Success(map[string]interface{}{"jobs": out})
}

// remainingEstimate approximates time left for a processing job at ~2
// seconds per remaining screenshot.
func remainingEstimate(j *models.ExportJob) string {
	if j.Status != models.JobProcessing {
		return ""
	}
	if j.ScreenshotTotal == 0 || j.ScreenshotProgress == 0 {
		return "Calculating..."
	}
	seconds := (j.ScreenshotTotal - j.ScreenshotProgress) * 2
	if seconds > 60 {
		return fmt.Sprintf("~%d min remaining", seconds/60)
	}
	return fmt.Sprintf("~%d sec remaining", seconds)
}

// ExportJobStatus returns one job record.
func (h *Handler) ExportJobStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	job, err := h.exports.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, export.ErrJobNotFound) {
			rw.NotFound("Export job not found")
			return
		}
		rw.DatabaseError(err)
		return
	}
	rw.Success(job)
}

// CancelExportJob requests cancellation of a pending or processing job.
func (h *Handler) CancelExportJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	job, err := h.exports.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		switch {
		case errors.Is(err, export.ErrJobNotFound):
			rw.NotFound("Export job not found")
		case errors.Is(err, export.ErrNotCancellable):
			rw.Conflict("Job has already finished")
		default:
			rw.DatabaseError(err)
		}
		return
	}

	rw.Success(map[string]interface{}{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

// DownloadExport streams a completed archive. Access is granted by the
// signed token alone so notification links work without a dashboard
// session.
func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	blobPath, err := h.blobs.VerifyToken(token)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Export download token rejected")
		http.Error(w, "Invalid or expired token", http.StatusForbidden)
		return
	}

	blob, err := h.blobs.Open(r.Context(), blobPath)
	if err != nil {
		http.Error(w, "Export not found", http.StatusNotFound)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", h.downloadFilename(r, blobPath)))
	if _, err := io.Copy(w, blob); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Export download aborted mid-stream")
	}
}

// downloadFilename resolves the descriptive filename recorded on the job.
// Archives are stored under the job ID, so the blob's own basename is only
// a fallback when the job record is gone.
func (h *Handler) downloadFilename(r *http.Request, blobPath string) string {
	base := path.Base(blobPath)
	jobID := strings.TrimSuffix(base, ".zip")
	job, err := h.exports.Status(r.Context(), jobID)
	if err != nil || job.Filename == "" {
		return base
	}
	return job.Filename
}
