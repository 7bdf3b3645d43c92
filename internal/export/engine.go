// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/socialscope/scopeboard/internal/blobstore"
	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/metrics"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/store"
)

// Errors surfaced to the API layer.
var (
	ErrParticipantNotFound = errors.New("export: participant not found")
	ErrInvalidLevel        = errors.New("export: invalid export level")
	ErrNotCancellable      = errors.New("export: job is not cancellable")
	ErrJobNotFound         = errors.New("export: job not found")
)

// jobListLimit bounds the per-user job listing.
const jobListLimit = 20

// Store is the persistence slice the export engine needs.
type Store interface {
	Participant(ctx context.Context, id string) (*models.Participant, error)
	HasParticipantData(ctx context.Context, id string) (bool, error)

	AllEvents(ctx context.Context, participantID string) ([]*models.Event, error)
	EventsInRange(ctx context.Context, participantID string, start, end time.Time) ([]*models.Event, error)
	AllCheckins(ctx context.Context, participantID string) ([]*models.CheckIn, error)
	AllAlerts(ctx context.Context, participantID string) ([]*models.SafetyAlert, error)
	CountCheckins(ctx context.Context, participantID string, limit int) (int, error)
	CountAlerts(ctx context.Context, participantID string, limit int) (int, error)

	CreateJob(ctx context.Context, job *models.ExportJob) error
	Job(ctx context.Context, id string) (*models.ExportJob, error)
	UpdateJob(ctx context.Context, id string, fields bson.M) error
	ClaimJob(ctx context.Context, id string, now time.Time) (bool, error)
	TryCancelJob(ctx context.Context, id string, now time.Time) (*models.ExportJob, error)
	JobsByRequester(ctx context.Context, email string, limit int) ([]*models.ExportJob, error)
}

// Notifier delivers out-of-band completion notices. May be nil.
type Notifier interface {
	ExportReady(ctx context.Context, email, participantID, downloadURL, filename string) error
}

// CreateRequest is an export job request.
type CreateRequest struct {
	ParticipantID string
	Level         models.ExportLevel
	StartDate     string // optional, YYYY-MM-DD
	EndDate       string // optional, YYYY-MM-DD
	CreatedBy     string
	NotifyEmail   string
}

// Engine owns export job execution. Each job runs in its own goroutine with
// the job record as its only shared state; a semaphore bounds concurrently
// processing jobs.
type Engine struct {
	store    Store
	blobs    blobstore.Store
	fetcher  *Fetcher
	notifier Notifier
	cfg      config.ExportConfig

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewEngine returns an export engine. notifier may be nil.
func NewEngine(s Store, blobs blobstore.Store, fetcher *Fetcher, notifier Notifier, cfg config.ExportConfig) *Engine {
	return &Engine{
		store:    s,
		blobs:    blobs,
		fetcher:  fetcher,
		notifier: notifier,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxActiveJobs),
		running:  make(map[string]context.CancelFunc),
	}
}

// Create validates the request, persists a pending job, and hands execution
// off to a new goroutine. Returns without waiting for the job.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.ExportJob, error) {
	if !req.Level.Valid() {
		return nil, ErrInvalidLevel
	}

	if _, err := e.store.Participant(ctx, req.ParticipantID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("look up participant: %w", err)
		}
		// Not registered, but orphaned data still counts.
		hasData, dataErr := e.store.HasParticipantData(ctx, req.ParticipantID)
		if dataErr != nil {
			return nil, fmt.Errorf("check participant data: %w", dataErr)
		}
		if !hasData {
			return nil, ErrParticipantNotFound
		}
	}

	job := &models.ExportJob{
		ID:            uuid.New().String(),
		ParticipantID: req.ParticipantID,
		Level:         req.Level,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Status:        models.JobPending,
		CreatedAt:     time.Now().UTC(),
		CreatedBy:     req.CreatedBy,
		NotifyEmail:   req.NotifyEmail,
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	e.wg.Add(1)
	go e.run(job)

	logging.WithComponent("export").Info().
		Str("job_id", job.ID).
		Str("participant_id", job.ParticipantID).
		Int("level", int(job.Level)).
		Msg("Export job created")

	return job, nil
}

// run executes one job to a terminal state.
func (e *Engine) run(job *models.ExportJob) {
	defer e.wg.Done()

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.running[job.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.running, job.ID)
		e.mu.Unlock()
	}()

	// A cancel that landed while the job waited in the semaphore queue wins.
	claimed, err := e.store.ClaimJob(ctx, job.ID, time.Now())
	if err != nil || !claimed {
		return
	}
	claimedAt := time.Now()
	metrics.ExportActiveJobs.Inc()
	defer metrics.ExportActiveJobs.Dec()

	log := logging.WithComponent("export").With().Str("job_id", job.ID).Logger()

	if err := e.execute(ctx, job); err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight; TryCancelJob already wrote the state.
			metrics.RecordExportJob(string(models.JobCancelled), job.Level.Tag(), time.Since(claimedAt))
			log.Info().Msg("Export job cancelled mid-flight")
			return
		}
		metrics.RecordExportJob(string(models.JobFailed), job.Level.Tag(), time.Since(claimedAt))
		log.Error().Err(err).Msg("Export job failed")
		_ = e.store.UpdateJob(context.Background(), job.ID, bson.M{
			"status":      models.JobFailed,
			"error":       err.Error(),
			"completedAt": time.Now().UTC(),
		})
		return
	}

	metrics.RecordExportJob(string(models.JobCompleted), job.Level.Tag(), time.Since(claimedAt))
	log.Info().Msg("Export job completed")
}

// execute builds, uploads, and records the archive. Any returned error is
// job-fatal; per-section failures degrade that section instead.
func (e *Engine) execute(ctx context.Context, job *models.ExportJob) error {
	stagingPath := filepath.Join(e.cfg.Dir, job.ID+".zip")
	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	f, err := os.Create(stagingPath)
	if err != nil {
		return fmt.Errorf("create staging archive: %w", err)
	}
	defer os.Remove(stagingPath)

	if err := e.buildArchive(ctx, job, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("flush staging archive: %w", err)
	}
	if info, err := os.Stat(stagingPath); err == nil {
		metrics.ExportArchiveBytes.Observe(float64(info.Size()))
	}

	// Durable upload is part of success: a local archive alone is not an
	// export, because local storage is ephemeral.
	blobPath := fmt.Sprintf("exports/%s/%s.zip", job.ParticipantID, job.ID)
	src, err := os.Open(stagingPath)
	if err != nil {
		return fmt.Errorf("reopen staging archive: %w", err)
	}
	uploadErr := e.blobs.Put(ctx, blobPath, src)
	src.Close()
	if uploadErr != nil {
		return fmt.Errorf("upload archive: %w", uploadErr)
	}

	downloadURL, err := e.blobs.SignedURL(blobPath, e.cfg.DownloadExpiry)
	if err != nil {
		return fmt.Errorf("sign download url: %w", err)
	}

	filename := exportFilename(job.ParticipantID, job.Level, job.StartDate, job.EndDate)
	if err := e.store.UpdateJob(ctx, job.ID, bson.M{
		"status":      models.JobCompleted,
		"downloadUrl": downloadURL,
		"filename":    filename,
		"completedAt": time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	if e.notifier != nil && job.NotifyEmail != "" {
		if err := e.notifier.ExportReady(ctx, job.NotifyEmail, job.ParticipantID, downloadURL, filename); err != nil {
			logging.WithComponent("export").Warn().Err(err).
				Str("job_id", job.ID).Msg("Completion notification failed")
		}
	}

	return nil
}

// buildArchive writes every level's entries into the zip.
func (e *Engine) buildArchive(ctx context.Context, job *models.ExportJob, f *os.File) error {
	log := logging.WithComponent("export").With().Str("job_id", job.ID).Logger()
	archive := NewArchive(f)

	// Level 1 sections. Each degrades to absent on failure. Entries are
	// written as full export documents so undeclared synced fields survive.
	if p, err := e.store.Participant(ctx, job.ParticipantID); err == nil {
		if err := archive.AddJSON(entryMetadata, p.ExportDoc()); err != nil {
			return err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn().Err(err).Msg("Metadata fetch failed, omitting from archive")
	}

	if checkins, err := e.store.AllCheckins(ctx, job.ParticipantID); err != nil {
		log.Warn().Err(err).Msg("Check-in export failed, omitting from archive")
	} else if len(checkins) > 0 {
		docs := make([]map[string]interface{}, len(checkins))
		for i, c := range checkins {
			docs[i] = c.ExportDoc()
		}
		if err := archive.AddJSON(entryCheckins, docs); err != nil {
			return err
		}
	}

	if alerts, err := e.store.AllAlerts(ctx, job.ParticipantID); err != nil {
		log.Warn().Err(err).Msg("Alert export failed, omitting from archive")
	} else if len(alerts) > 0 {
		docs := make([]map[string]interface{}, len(alerts))
		for i, a := range alerts {
			docs[i] = a.ExportDoc()
		}
		if err := archive.AddJSON(entryAlerts, docs); err != nil {
			return err
		}
	}

	if job.Level >= models.LevelEvents {
		events, err := e.eventsForWindow(ctx, job.ParticipantID, job.StartDate, job.EndDate)
		if err != nil {
			log.Warn().Err(err).Msg("Event export failed, omitting from archive")
			events = nil
		}
		if len(events) > 0 {
			docs := make([]map[string]interface{}, len(events))
			for i, ev := range events {
				docs[i] = ev.ExportDoc()
			}
			if err := archive.AddJSON(entryEvents, docs); err != nil {
				return err
			}
		}

		if job.Level >= models.LevelFull {
			if err := e.addScreenshots(ctx, job, archive, events); err != nil {
				return err
			}
		}
	}

	if err := archive.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// addScreenshots hands attachment references to the fetcher and stores each
// retrieved blob uncompressed. Progress is written at coarse checkpoints
// (~25% steps) to bound write amplification on the job record.
func (e *Engine) addScreenshots(ctx context.Context, job *models.ExportJob, archive *Archive, events []*models.Event) error {
	var refs []Attachment
	for _, ev := range events {
		if ev.ScreenshotURL == "" && ev.StoragePath == "" {
			continue
		}
		refs = append(refs, Attachment{
			EventID:     ev.ID,
			URL:         ev.ScreenshotURL,
			StoragePath: ev.StoragePath,
			Timestamp:   ev.OccurredAt(),
		})
	}
	if len(refs) == 0 {
		return nil
	}

	_ = e.store.UpdateJob(ctx, job.ID, bson.M{
		"screenshotTotal":    len(refs),
		"screenshotProgress": 0,
	})

	checkpoint := len(refs) / 4
	if checkpoint < 1 {
		checkpoint = 1
	}
	progress := func(done int) {
		if done%checkpoint == 0 || done == len(refs) {
			_ = e.store.UpdateJob(ctx, job.ID, bson.M{"screenshotProgress": done})
		}
	}

	results := e.fetcher.FetchAll(ctx, refs, progress)
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, res := range results {
		name := screenshotEntryName(res.Timestamp, res.EventID, res.Ext, i)
		if err := archive.AddStored(name, res.Data); err != nil {
			return err
		}
	}
	return nil
}

// eventsForWindow fetches a participant's events, window-filtered when both
// bounds are present. The window is closed: [start, end] calendar days.
func (e *Engine) eventsForWindow(ctx context.Context, participantID, startDate, endDate string) ([]*models.Event, error) {
	if startDate == "" || endDate == "" {
		return e.store.AllEvents(ctx, participantID)
	}

	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q", startDate)
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q", endDate)
	}
	return e.store.EventsInRange(ctx, participantID, start, end.AddDate(0, 0, 1))
}

// Cancel requests cancellation of a pending or processing job. The state
// flips atomically in the job record; a running execution unit observes it
// through its context.
func (e *Engine) Cancel(ctx context.Context, jobID string) (*models.ExportJob, error) {
	job, err := e.store.TryCancelJob(ctx, jobID, time.Now())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// Either the job is unknown or already terminal.
		if existing, jerr := e.store.Job(ctx, jobID); jerr == nil {
			if !existing.Status.Cancellable() {
				return nil, ErrNotCancellable
			}
		}
		return nil, ErrJobNotFound
	}

	e.mu.Lock()
	if cancel, ok := e.running[jobID]; ok {
		cancel()
	}
	e.mu.Unlock()

	return job, nil
}

// Status returns one job record.
func (e *Engine) Status(ctx context.Context, jobID string) (*models.ExportJob, error) {
	job, err := e.store.Job(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// Jobs returns the requester's recent jobs, newest first.
func (e *Engine) Jobs(ctx context.Context, email string) ([]*models.ExportJob, error) {
	return e.store.JobsByRequester(ctx, email, jobListLimit)
}

// Shutdown waits for in-flight jobs to finish, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
