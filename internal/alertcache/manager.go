// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

// Package alertcache maintains the in-memory safety-alert snapshot. A single
// background loop refreshes it on a fixed interval; readers never wait on a
// refresh. Each alert is merged with the response map of its matching
// check-in session, since alerts carry only the partial responses captured
// at trigger time.
package alertcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/socialscope/scopeboard/internal/aggregate"
	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/metrics"
	"github.com/socialscope/scopeboard/internal/models"
)

// ErrNotReady is returned by Get before the first refresh tick has completed.
// Distinct from an empty alert list.
var ErrNotReady = errors.New("alertcache: no refresh has completed yet")

// tickTimeout bounds a single refresh pass, including the one allowed to
// finish during shutdown.
const tickTimeout = 60 * time.Second

// Store is the persistence slice the alert cache reads.
type Store interface {
	EnrolledParticipants(ctx context.Context) ([]*models.Participant, error)
	RecentAlerts(ctx context.Context, participantID string, limit int) ([]*models.SafetyAlert, error)
	RecentCheckins(ctx context.Context, participantID string, limit int) ([]*models.CheckIn, error)
}

// Snapshot is the cache state handed to readers. Alerts are sorted by
// trigger timestamp descending. UpdatedAt always marks the last successful
// refresh; a failed tick records its time in FailedAt so readers can still
// tell how old the retained content is.
type Snapshot struct {
	Alerts    []models.SafetyAlertCacheEntry `json:"alerts"`
	Status    models.CacheStatus             `json:"status"`
	UpdatedAt time.Time                      `json:"updatedAt"`
	FailedAt  time.Time                      `json:"failedAt,omitempty"`
	Error     string                         `json:"error,omitempty"`
}

// Manager owns the safety-alert cache and its background refresh loop.
// The loop is the only writer; reads take a short lock to copy the header
// and share the immutable alert slice.
type Manager struct {
	store Store
	cfg   config.CacheConfig

	mu   sync.RWMutex
	snap Snapshot

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager returns an alert cache manager. The loop is not started;
// call Start.
func NewManager(s Store, cfg config.CacheConfig) *Manager {
	return &Manager{
		store: s,
		cfg:   cfg,
		snap:  Snapshot{Status: models.CacheNeverRun},
	}
}

// Start launches the background refresh loop. An immediate first refresh
// runs before the ticker so the dashboard is usable shortly after boot.
func (m *Manager) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return errors.New("alertcache: already started")
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.loop()

	logging.WithComponent("alertcache").Info().
		Dur("interval", m.cfg.AlertRefreshInterval).
		Msg("Safety-alert cache loop started")
	return nil
}

// Stop signals the loop and waits for it to exit. An in-flight tick is
// allowed to finish; the per-tick timeout bounds the wait.
func (m *Manager) Stop() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	close(m.stopChan)
	m.wg.Wait()
	m.running = false

	logging.WithComponent("alertcache").Info().Msg("Safety-alert cache loop stopped")
	return nil
}

func (m *Manager) loop() {
	defer m.wg.Done()

	m.tick()

	ticker := time.NewTicker(m.cfg.AlertRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if _, err := m.RefreshNow(ctx); err != nil {
		logging.WithComponent("alertcache").Error().Err(err).
			Msg("Safety-alert cache refresh failed")
	}
}

// RefreshNow runs one fetch-and-swap cycle synchronously and returns the
// resulting alert count. Also serves the privileged manual trigger.
//
// On failure the previous alert content is retained under an error status:
// stale-but-available beats empty.
func (m *Manager) RefreshNow(ctx context.Context) (int, error) {
	began := time.Now()
	alerts, err := m.fetch(ctx)
	now := time.Now().UTC()
	metrics.RecordCacheRefresh("alerts", now.Sub(began), len(alerts), err)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// UpdatedAt stays at the last successful tick so readers can tell
		// how old the retained alerts are.
		m.snap.Status = models.CacheError
		m.snap.Error = err.Error()
		m.snap.FailedAt = now
		return len(m.snap.Alerts), err
	}

	m.snap = Snapshot{
		Alerts:    alerts,
		Status:    models.CacheOK,
		UpdatedAt: now,
	}
	return len(alerts), nil
}

// fetch pulls every enrolled participant's recent alerts and check-ins and
// merges each alert with its session's full response map.
func (m *Manager) fetch(ctx context.Context) ([]models.SafetyAlertCacheEntry, error) {
	participants, err := m.store.EnrolledParticipants(ctx)
	if err != nil {
		return nil, err
	}

	log := logging.WithComponent("alertcache")
	entries := make([]models.SafetyAlertCacheEntry, 0)

	for _, p := range participants {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		pid := p.Key()
		alerts, err := m.store.RecentAlerts(ctx, pid, m.cfg.AlertFetchLimit)
		if err != nil {
			// One participant's bad collection must not blank the cohort.
			log.Warn().Err(err).Str("participant_id", pid).Msg("Alert fetch failed for participant")
			continue
		}
		if len(alerts) == 0 {
			continue
		}

		sessions := make(map[string]map[string]interface{})
		checkins, err := m.store.RecentCheckins(ctx, pid, m.cfg.CheckinFetchLimit)
		if err != nil {
			log.Warn().Err(err).Str("participant_id", pid).Msg("Check-in fetch failed for participant")
		}
		for _, c := range checkins {
			if c.SessionID != "" && len(c.Responses) > 0 {
				sessions[c.SessionID] = c.Responses
			}
		}

		for _, a := range alerts {
			entries = append(entries, mergeAlert(a, pid, sessions))
		}
	}

	// Newest first across the whole cohort.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TriggeredAt.Time().After(entries[j].TriggeredAt.Time())
	})

	return entries, nil
}

// mergeAlert overlays an alert's partial responses with the full response
// map of its matching check-in session; check-in values win on key conflicts.
func mergeAlert(a *models.SafetyAlert, pid string, sessions map[string]map[string]interface{}) models.SafetyAlertCacheEntry {
	merged := make(map[string]interface{}, len(a.Responses))
	for k, v := range a.Responses {
		merged[k] = v
	}
	if full, ok := sessions[a.SessionID]; ok {
		for k, v := range full {
			merged[k] = v
		}
	}

	return models.SafetyAlertCacheEntry{
		ID:              a.ID,
		ParticipantID:   pid,
		TriggeredAt:     a.TriggeredAt,
		SessionID:       a.SessionID,
		Responses:       merged,
		Handled:         a.Handled,
		CrisisIndicated: aggregate.CrisisIndicated(merged),
	}
}

// Get returns the current snapshot without blocking on a tick. Before the
// first completed refresh it returns ErrNotReady.
func (m *Manager) Get() (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap.Status == models.CacheNeverRun {
		return m.snap, ErrNotReady
	}
	return m.snap, nil
}
