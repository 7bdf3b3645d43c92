// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package api

import (
	"context"
	"io"
	"time"

	"github.com/socialscope/scopeboard/internal/alertcache"
	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/export"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/statuscache"
)

// DataStore is the persistence slice the handlers read directly, bypassing
// the caches: participant registry reads, raw per-day queries, and the admin
// registries.
type DataStore interface {
	EnrolledParticipants(ctx context.Context) ([]*models.Participant, error)
	Participant(ctx context.Context, id string) (*models.Participant, error)
	HasParticipantData(ctx context.Context, id string) (bool, error)

	AllEvents(ctx context.Context, participantID string) ([]*models.Event, error)
	AllCheckins(ctx context.Context, participantID string) ([]*models.CheckIn, error)
	AllAlerts(ctx context.Context, participantID string) ([]*models.SafetyAlert, error)
	EventsInRange(ctx context.Context, participantID string, start, end time.Time) ([]*models.Event, error)
	CheckinsInRange(ctx context.Context, participantID string, start, end time.Time) ([]*models.CheckIn, error)
	AlertsInRange(ctx context.Context, participantID string, start, end time.Time) ([]*models.SafetyAlert, error)

	ListDashboardUsers(ctx context.Context) ([]*models.DashboardUser, error)
	DashboardUser(ctx context.Context, email string) (*models.DashboardUser, error)
	UpsertDashboardUser(ctx context.Context, u *models.DashboardUser) error
	DeleteDashboardUser(ctx context.Context, email string) error
	CountDashboardUsers(ctx context.Context) (int64, error)

	ListAlertRecipients(ctx context.Context) ([]*models.AlertRecipient, error)
	UpsertAlertRecipient(ctx context.Context, r *models.AlertRecipient) error
	DeleteAlertRecipient(ctx context.Context, phone string) error
}

// StatusCache serves the overall-status view and its refresh trigger.
type StatusCache interface {
	Read(ctx context.Context, startDate, endDate string, page, pageSize int) (*statuscache.ReadResult, error)
	Refresh(ctx context.Context) (*models.OverallStatusCache, error)
	RefreshedAt(ctx context.Context) (time.Time, bool)
}

// AlertCache serves the safety-alert snapshot.
type AlertCache interface {
	Get() (alertcache.Snapshot, error)
	RefreshNow(ctx context.Context) (int, error)
}

// ExportEngine drives the export job lifecycle.
type ExportEngine interface {
	Estimate(ctx context.Context, participantID, startDate, endDate string) (*models.ExportEstimate, error)
	Create(ctx context.Context, req export.CreateRequest) (*models.ExportJob, error)
	Status(ctx context.Context, jobID string) (*models.ExportJob, error)
	Jobs(ctx context.Context, email string) ([]*models.ExportJob, error)
	Cancel(ctx context.Context, jobID string) (*models.ExportJob, error)
}

// BlobStore is the download slice of the blob store: token verification and
// archive streaming.
type BlobStore interface {
	VerifyToken(token string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Handler carries the dependencies shared by all endpoint handlers.
type Handler struct {
	store       DataStore
	statusCache StatusCache
	alertCache  AlertCache
	exports     ExportEngine
	blobs       BlobStore
	cfg         *config.Config
	startedAt   time.Time
}

// NewHandler builds the handler set.
func NewHandler(store DataStore, sc StatusCache, ac AlertCache, eng ExportEngine, blobs BlobStore, cfg *config.Config) *Handler {
	return &Handler{
		store:       store,
		statusCache: sc,
		alertCache:  ac,
		exports:     eng,
		blobs:       blobs,
		cfg:         cfg,
		startedAt:   time.Now(),
	}
}
