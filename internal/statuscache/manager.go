// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

// Package statuscache maintains the overall-status snapshot: every enrolled
// participant's daily aggregates over a rolling trailing window, rebuilt by a
// scheduled refresh and persisted so multiple server instances share one
// snapshot. Reads filter, recompute, and paginate from the snapshot; when no
// snapshot exists yet they degrade to a live aggregation pass.
package statuscache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/socialscope/scopeboard/internal/aggregate"
	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/metrics"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/store"
)

// DateLayout is the calendar-date format used throughout the cache.
const DateLayout = "2006-01-02"

// Store is the persistence slice the cache manager needs.
type Store interface {
	aggregate.DataSource
	EnrolledParticipants(ctx context.Context) ([]*models.Participant, error)
	LoadStatusCache(ctx context.Context) (*models.OverallStatusCache, error)
	SaveStatusCache(ctx context.Context, doc *models.OverallStatusCache) error
}

// ReadResult is one page of the overall-status view.
type ReadResult struct {
	Participants []models.ParticipantCacheEntry `json:"participants"`
	Total        int                            `json:"total"`
	Page         int                            `json:"page"`
	PageSize     int                            `json:"pageSize"`
	StartDate    string                         `json:"startDate"`
	EndDate      string                         `json:"endDate"`
	FromCache    bool                           `json:"fromCache"`
	RefreshedAt  *time.Time                     `json:"refreshedAt,omitempty"`
}

// Manager owns the overall-status snapshot. An in-memory mirror of the
// persisted document serves reads without a round trip; the mirror and the
// persisted copy are replaced together, whole, on every refresh.
type Manager struct {
	store Store
	agg   *aggregate.Aggregator
	cfg   config.CacheConfig

	mu       sync.RWMutex
	snapshot *models.OverallStatusCache

	// refreshMu serializes refresh cycles so overlapping triggers (cron
	// retry plus manual) do not interleave writes.
	refreshMu sync.Mutex

	now func() time.Time
}

// NewManager returns a status cache manager reading through s.
func NewManager(s Store, cfg config.CacheConfig) *Manager {
	return &Manager{
		store: s,
		agg:   aggregate.New(s),
		cfg:   cfg,
		now:   time.Now,
	}
}

// window returns the trailing refresh window as UTC calendar dates,
// [start, end] inclusive, ending today.
func (m *Manager) window() (start, end time.Time) {
	end = m.now().UTC().Truncate(24 * time.Hour)
	start = end.AddDate(0, 0, -(m.cfg.WindowDays - 1))
	return start, end
}

// Refresh rebuilds the snapshot for all enrolled participants and replaces
// the persisted document atomically. Safe to call concurrently with reads;
// repeated runs over unchanged data reproduce the same snapshot.
func (m *Manager) Refresh(ctx context.Context) (*models.OverallStatusCache, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	log := logging.WithComponent("statuscache")
	began := m.now()

	participants, err := m.store.EnrolledParticipants(ctx)
	if err != nil {
		metrics.RecordCacheRefresh("status", m.now().Sub(began), 0, err)
		return nil, fmt.Errorf("enumerate participants: %w", err)
	}

	start, end := m.window()
	entries := make([]models.ParticipantCacheEntry, 0, len(participants))
	for _, p := range participants {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		entries = append(entries, m.buildEntry(ctx, p, start, end))
	}

	// Snapshot order is the read API's pagination order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	doc := &models.OverallStatusCache{
		Participants:     entries,
		StartDate:        start.Format(DateLayout),
		EndDate:          end.Format(DateLayout),
		RefreshedAt:      m.now().UTC(),
		ParticipantCount: len(entries),
	}

	if err := m.store.SaveStatusCache(ctx, doc); err != nil {
		metrics.RecordCacheRefresh("status", m.now().Sub(began), 0, err)
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	m.mu.Lock()
	m.snapshot = doc
	m.mu.Unlock()

	metrics.RecordCacheRefresh("status", m.now().Sub(began), len(entries), nil)

	log.Info().
		Int("participants", len(entries)).
		Str("start", doc.StartDate).
		Str("end", doc.EndDate).
		Dur("elapsed", m.now().Sub(began)).
		Msg("Status cache refreshed")

	return doc, nil
}

// buildEntry computes one participant's cache entry over [start, end].
func (m *Manager) buildEntry(ctx context.Context, p *models.Participant, start, end time.Time) models.ParticipantCacheEntry {
	// Aggregation scans [start, end+1d) so the final calendar day is included.
	days := m.agg.DailyStatus(ctx, p.Key(), start, end.AddDate(0, 0, 1))

	var daily []models.DailyAggregate
	totals := struct{ screenshots, checkins, reddit, twitter int }{}
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		date := cur.Format(DateLayout)
		if d, ok := days[date]; ok {
			daily = append(daily, *d)
			totals.screenshots += d.Screenshots
			totals.checkins += d.Checkins
			totals.reddit += d.Reddit
			totals.twitter += d.Twitter
		} else {
			daily = append(daily, models.DailyAggregate{Date: date})
		}
	}

	studyStart := start.Format(DateLayout)
	if t := p.EnrollmentTime(); t.Valid() {
		studyStart = t.Date()
	}

	return models.ParticipantCacheEntry{
		ID:               p.Key(),
		StudyStartDate:   studyStart,
		DailyStatus:      daily,
		TotalScreenshots: totals.screenshots,
		TotalCheckins:    totals.checkins,
		TotalReddit:      totals.reddit,
		TotalTwitter:     totals.twitter,
		// Live-pass denominator: days that actually recorded activity.
		OverallCompliance: aggregate.Compliance(totals.checkins, len(days), m.cfg.EMAPromptsPerDay),
	}
}

// Read serves one page of the overall-status view for [startDate, endDate]
// (empty bounds default to the snapshot window). When a snapshot exists the
// requested sub-range is cut from it and totals are recomputed for the
// sub-range; with no snapshot the cohort is aggregated live, which is slower
// but correct.
func (m *Manager) Read(ctx context.Context, startDate, endDate string, page, pageSize int) (*ReadResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 25
	}

	snap := m.currentSnapshot(ctx)
	if snap == nil {
		metrics.CacheReads.WithLabelValues("status", "live_fallback").Inc()
		return m.readLive(ctx, startDate, endDate, page, pageSize)
	}
	metrics.CacheReads.WithLabelValues("status", "hit").Inc()

	if startDate == "" {
		startDate = snap.StartDate
	}
	if endDate == "" {
		endDate = snap.EndDate
	}
	start, end, err := parseRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	entries := make([]models.ParticipantCacheEntry, 0, len(snap.Participants))
	for i := range snap.Participants {
		entries = append(entries, filterEntry(&snap.Participants[i], start, end, m.cfg.EMAPromptsPerDay))
	}

	pageEntries, total := paginate(entries, page, pageSize)
	refreshed := snap.RefreshedAt
	return &ReadResult{
		Participants: pageEntries,
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
		StartDate:    startDate,
		EndDate:      endDate,
		FromCache:    true,
		RefreshedAt:  &refreshed,
	}, nil
}

// currentSnapshot returns the in-memory snapshot, falling back to the
// persisted document (another instance may have refreshed it). Nil means no
// refresh has ever completed anywhere.
func (m *Manager) currentSnapshot(ctx context.Context) *models.OverallStatusCache {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()
	if snap != nil {
		return snap
	}

	doc, err := m.store.LoadStatusCache(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.WithComponent("statuscache").Warn().Err(err).
				Msg("Persisted snapshot load failed, treating as never built")
		}
		return nil
	}

	m.mu.Lock()
	m.snapshot = doc
	m.mu.Unlock()
	return doc
}

// readLive is the no-snapshot degradation path: aggregate the cohort
// directly, then slice the requested page.
func (m *Manager) readLive(ctx context.Context, startDate, endDate string, page, pageSize int) (*ReadResult, error) {
	defStart, defEnd := m.window()
	if startDate == "" {
		startDate = defStart.Format(DateLayout)
	}
	if endDate == "" {
		endDate = defEnd.Format(DateLayout)
	}
	start, end, err := parseRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	participants, err := m.store.EnrolledParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate participants: %w", err)
	}

	entries := make([]models.ParticipantCacheEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, m.buildEntry(ctx, p, start, end))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	pageEntries, total := paginate(entries, page, pageSize)
	return &ReadResult{
		Participants: pageEntries,
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
		StartDate:    startDate,
		EndDate:      endDate,
		FromCache:    false,
	}, nil
}

// RefreshedAt returns the current snapshot's refresh time, or zero when no
// snapshot exists. Used by the cache status endpoint.
func (m *Manager) RefreshedAt(ctx context.Context) (time.Time, bool) {
	snap := m.currentSnapshot(ctx)
	if snap == nil {
		return time.Time{}, false
	}
	return snap.RefreshedAt, true
}

// filterEntry cuts one participant's window down to [start, end] and
// recomputes the derived totals for the sub-range. The compliance
// denominator here is the filtered window length, not active days, because a
// cached cross-section always spans the full requested range.
func filterEntry(e *models.ParticipantCacheEntry, start, end time.Time, promptsPerDay int) models.ParticipantCacheEntry {
	out := models.ParticipantCacheEntry{
		ID:             e.ID,
		StudyStartDate: e.StudyStartDate,
	}

	for _, d := range e.DailyStatus {
		t, err := time.Parse(DateLayout, d.Date)
		if err != nil || t.Before(start) || t.After(end) {
			continue
		}
		out.DailyStatus = append(out.DailyStatus, d)
		out.TotalScreenshots += d.Screenshots
		out.TotalCheckins += d.Checkins
		out.TotalReddit += d.Reddit
		out.TotalTwitter += d.Twitter
	}

	windowDays := int(end.Sub(start).Hours()/24) + 1
	out.OverallCompliance = aggregate.Compliance(out.TotalCheckins, windowDays, promptsPerDay)
	return out
}

func parseRange(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", startDate)
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", endDate)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s precedes start date %s", endDate, startDate)
	}
	return start, end, nil
}

func paginate(entries []models.ParticipantCacheEntry, page, pageSize int) ([]models.ParticipantCacheEntry, int) {
	total := len(entries)
	lo := (page - 1) * pageSize
	if lo >= total {
		return []models.ParticipantCacheEntry{}, total
	}
	hi := lo + pageSize
	if hi > total {
		hi = total
	}
	return entries[lo:hi], total
}
