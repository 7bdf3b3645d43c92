// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/socialscope/scopeboard/internal/alertcache"
	"github.com/socialscope/scopeboard/internal/auth"
	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/export"
	"github.com/socialscope/scopeboard/internal/models"
	"github.com/socialscope/scopeboard/internal/statuscache"
	"github.com/socialscope/scopeboard/internal/store"
)

// fakeStore backs the handlers with in-memory data.
type fakeStore struct {
	mu           sync.Mutex
	participants map[string]*models.Participant
	hasData      map[string]bool
	events       map[string][]*models.Event
	checkins     map[string][]*models.CheckIn
	alerts       map[string][]*models.SafetyAlert
	users        map[string]*models.DashboardUser
	recipients   map[string]*models.AlertRecipient
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants: map[string]*models.Participant{},
		hasData:      map[string]bool{},
		events:       map[string][]*models.Event{},
		checkins:     map[string][]*models.CheckIn{},
		alerts:       map[string][]*models.SafetyAlert{},
		users:        map[string]*models.DashboardUser{},
		recipients:   map[string]*models.AlertRecipient{},
	}
}

func (s *fakeStore) EnrolledParticipants(_ context.Context) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Participant
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) Participant(_ context.Context, id string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[id]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) HasParticipantData(_ context.Context, id string) (bool, error) {
	return s.hasData[id], nil
}

func (s *fakeStore) AllEvents(_ context.Context, pid string) ([]*models.Event, error) {
	return s.events[pid], nil
}

func (s *fakeStore) AllCheckins(_ context.Context, pid string) ([]*models.CheckIn, error) {
	return s.checkins[pid], nil
}

func (s *fakeStore) AllAlerts(_ context.Context, pid string) ([]*models.SafetyAlert, error) {
	return s.alerts[pid], nil
}

func (s *fakeStore) EventsInRange(_ context.Context, pid string, start, end time.Time) ([]*models.Event, error) {
	var out []*models.Event
	for _, ev := range s.events[pid] {
		at := ev.OccurredAt()
		if at.Valid() && !at.Time().Before(start) && at.Time().Before(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) CheckinsInRange(_ context.Context, pid string, start, end time.Time) ([]*models.CheckIn, error) {
	var out []*models.CheckIn
	for _, c := range s.checkins[pid] {
		at := c.CompletedAt
		if !at.Valid() {
			at = c.StartedAt
		}
		if at.Valid() && !at.Time().Before(start) && at.Time().Before(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) AlertsInRange(_ context.Context, pid string, start, end time.Time) ([]*models.SafetyAlert, error) {
	var out []*models.SafetyAlert
	for _, a := range s.alerts[pid] {
		if a.TriggeredAt.Valid() && !a.TriggeredAt.Time().Before(start) && a.TriggeredAt.Time().Before(end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) ListDashboardUsers(_ context.Context) ([]*models.DashboardUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DashboardUser
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *fakeStore) DashboardUser(_ context.Context, email string) (*models.DashboardUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) UpsertDashboardUser(_ context.Context, u *models.DashboardUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Email] = u
	return nil
}

func (s *fakeStore) DeleteDashboardUser(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, email)
	return nil
}

func (s *fakeStore) CountDashboardUsers(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func (s *fakeStore) ListAlertRecipients(_ context.Context) ([]*models.AlertRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AlertRecipient
	for _, r := range s.recipients {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) UpsertAlertRecipient(_ context.Context, r *models.AlertRecipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[r.Phone] = r
	return nil
}

func (s *fakeStore) DeleteAlertRecipient(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recipients[phone]; !ok {
		return store.ErrNotFound
	}
	delete(s.recipients, phone)
	return nil
}

// fakeStatusCache records Read arguments and serves canned results.
type fakeStatusCache struct {
	result      *statuscache.ReadResult
	refreshed   *models.OverallStatusCache
	refreshedAt time.Time
	hasSnapshot bool

	lastPage, lastPageSize int
	refreshCalls           int
}

func (f *fakeStatusCache) Read(_ context.Context, startDate, endDate string, page, pageSize int) (*statuscache.ReadResult, error) {
	f.lastPage, f.lastPageSize = page, pageSize
	r := *f.result
	r.StartDate, r.EndDate = startDate, endDate
	r.Page, r.PageSize = page, pageSize
	return &r, nil
}

func (f *fakeStatusCache) Refresh(_ context.Context) (*models.OverallStatusCache, error) {
	f.refreshCalls++
	return f.refreshed, nil
}

func (f *fakeStatusCache) RefreshedAt(_ context.Context) (time.Time, bool) {
	return f.refreshedAt, f.hasSnapshot
}

type fakeAlertCache struct {
	snap         alertcache.Snapshot
	err          error
	refreshCount int
}

func (f *fakeAlertCache) Get() (alertcache.Snapshot, error) { return f.snap, f.err }

func (f *fakeAlertCache) RefreshNow(_ context.Context) (int, error) {
	f.refreshCount++
	return len(f.snap.Alerts), nil
}

type fakeExports struct {
	jobs      map[string]*models.ExportJob
	createErr error
	lastReq   export.CreateRequest
}

func (f *fakeExports) Estimate(_ context.Context, pid, _, _ string) (*models.ExportEstimate, error) {
	return &models.ExportEstimate{ParticipantID: pid}, nil
}

func (f *fakeExports) Create(_ context.Context, req export.CreateRequest) (*models.ExportJob, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.lastReq = req
	job := &models.ExportJob{ID: "job-1", ParticipantID: req.ParticipantID, Status: models.JobPending}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeExports) Status(_ context.Context, id string) (*models.ExportJob, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, export.ErrJobNotFound
}

func (f *fakeExports) Jobs(_ context.Context, _ string) ([]*models.ExportJob, error) {
	var out []*models.ExportJob
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeExports) Cancel(_ context.Context, id string) (*models.ExportJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, export.ErrJobNotFound
	}
	if j.Status.Terminal() {
		return nil, export.ErrNotCancellable
	}
	j.Status = models.JobCancelled
	return j, nil
}

type fakeBlobs struct {
	blobs map[string][]byte
}

func (f *fakeBlobs) VerifyToken(token string) (string, error) {
	if path, ok := strings.CutPrefix(token, "ok:"); ok {
		return path, nil
	}
	return "", io.ErrUnexpectedEOF
}

func (f *fakeBlobs) Open(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := f.blobs[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type testServer struct {
	router http.Handler
	store  *fakeStore
	status *fakeStatusCache
	alerts *fakeAlertCache
	jobs   *fakeExports
	blobs  *fakeBlobs
	jwt    *auth.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Security.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Security.SessionTimeout = time.Hour
	cfg.Security.SchedulerSecret = "cron-secret"
	cfg.Security.RateLimitDisabled = true
	cfg.Security.CORSOrigins = []string{"*"}
	cfg.Security.AdminEmail = "Root@Example.org"
	cfg.Cache.AlertRefreshInterval = 2 * time.Minute

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	st := newFakeStore()
	status := &fakeStatusCache{
		result:    &statuscache.ReadResult{Participants: []models.ParticipantCacheEntry{}, Total: 0},
		refreshed: &models.OverallStatusCache{ParticipantCount: 3, RefreshedAt: time.Now()},
	}
	alerts := &fakeAlertCache{snap: alertcache.Snapshot{Status: models.CacheOK, UpdatedAt: time.Now()}}
	jobs := &fakeExports{jobs: map[string]*models.ExportJob{}}
	blobs := &fakeBlobs{blobs: map[string][]byte{}}

	h := NewHandler(st, status, alerts, jobs, blobs, cfg)
	authn := auth.NewAuthenticator(jwtManager, st)
	router := NewRouter(h, authn, cfg).Setup()

	return &testServer{router: router, store: st, status: status, alerts: alerts, jobs: jobs, blobs: blobs, jwt: jwtManager}
}

// do runs one request through the full route tree. An empty email skips
// authentication headers.
func (ts *testServer) do(t *testing.T, method, target, email, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "203.0.113.5:41000"
	if email != "" {
		ts.store.users[email] = &models.DashboardUser{Email: email, Role: role}
		token, err := ts.jwt.GenerateToken(email, role)
		if err != nil {
			t.Fatalf("GenerateToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *APIError              `json:"error"`
	Meta    *APIMeta               `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if !env.Success || env.Data["status"] != "healthy" {
		t.Errorf("unexpected health payload: %+v", env)
	}
}

func TestParticipantsRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/participants", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestParticipantsSortedWithDefaults(t *testing.T) {
	ts := newTestServer(t)
	ts.store.participants["p_old"] = &models.Participant{
		ID:         "p_old",
		EnrolledAt: models.NewFlexTime(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)),
	}
	ts.store.participants["p_new"] = &models.Participant{
		ID:          "p_new",
		EnrolledAt:  models.NewFlexTime(time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)),
		DeviceModel: "Pixel 9",
	}

	rec := ts.do(t, http.MethodGet, "/api/participants", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	list, _ := env.Data["participants"].([]interface{})
	if len(list) != 2 {
		t.Fatalf("got %d participants, want 2", len(list))
	}
	first := list[0].(map[string]interface{})
	if first["participantId"] != "p_new" {
		t.Errorf("first participant = %v, want p_new (newest enrollment first)", first["participantId"])
	}
	second := list[1].(map[string]interface{})
	if second["deviceModel"] != "Unknown" || second["osVersion"] != "Unknown" {
		t.Errorf("missing device fields should default to Unknown, got %v / %v",
			second["deviceModel"], second["osVersion"])
	}
}

func TestOverallStatusValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/overall_status", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing dates: status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/overall_status?start_date=2025-13-40&end_date=2025-06-01",
		"viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d, want 400", rec.Code)
	}
}

func TestOverallStatusPageClamping(t *testing.T) {
	ts := newTestServer(t)
	ts.status.result.Total = 120

	rec := ts.do(t, http.MethodGet,
		"/api/overall_status?start_date=2025-06-01&end_date=2025-06-14&page=0&page_size=500",
		"viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ts.status.lastPage != 1 {
		t.Errorf("page = %d, want clamped to 1", ts.status.lastPage)
	}
	if ts.status.lastPageSize != 25 {
		t.Errorf("pageSize = %d, want default 25 for out-of-range value", ts.status.lastPageSize)
	}

	env := decodeEnvelope(t, rec)
	if env.Meta == nil || env.Meta.Pagination == nil {
		t.Fatal("expected pagination meta")
	}
	p := env.Meta.Pagination
	if p.Total != 120 || p.TotalPages != 5 || !p.HasMore {
		t.Errorf("pagination = %+v", p)
	}
}

func TestSchedulerRefreshCache(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scheduler/refresh-cache?secret=wrong", "", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong secret: status = %d, want 403", rec.Code)
	}
	if ts.status.refreshCalls != 0 {
		t.Errorf("refresh ran despite bad secret")
	}

	rec = ts.do(t, http.MethodPost, "/api/scheduler/refresh-cache?secret=cron-secret", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ts.status.refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want 1", ts.status.refreshCalls)
	}
}

func TestRefreshCacheRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/refresh-cache", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin: status = %d, want 403", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/refresh-cache", "admin@example.org", models.RoleAdmin, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestSafetyAlertsBeforeFirstRefresh(t *testing.T) {
	ts := newTestServer(t)
	ts.alerts.err = alertcache.ErrNotReady

	rec := ts.do(t, http.MethodGet, "/api/safety-alerts", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Data["status"] != string(models.CacheNeverRun) {
		t.Errorf("status = %v, want %s", env.Data["status"], models.CacheNeverRun)
	}
	if alerts, ok := env.Data["alerts"].([]interface{}); !ok || len(alerts) != 0 {
		t.Errorf("alerts = %v, want empty list (not null)", env.Data["alerts"])
	}
}

func TestSafetyAlertsServesSnapshot(t *testing.T) {
	ts := newTestServer(t)
	ts.alerts.snap.Alerts = []models.SafetyAlertCacheEntry{
		{ParticipantID: "p1"},
	}

	rec := ts.do(t, http.MethodGet, "/api/safety-alerts", "viewer@example.org", models.RoleUser, nil)
	env := decodeEnvelope(t, rec)
	if env.Data["status"] != string(models.CacheOK) {
		t.Errorf("status = %v, want %s", env.Data["status"], models.CacheOK)
	}
	if alerts, _ := env.Data["alerts"].([]interface{}); len(alerts) != 1 {
		t.Errorf("got %v alerts, want 1", env.Data["alerts"])
	}
	if env.Data["refreshIntervalSeconds"] != float64(120) {
		t.Errorf("refreshIntervalSeconds = %v, want 120", env.Data["refreshIntervalSeconds"])
	}
}

func TestParticipantSummary(t *testing.T) {
	ts := newTestServer(t)
	day1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)
	ts.store.participants["p1"] = &models.Participant{
		ID:         "p1",
		EnrolledAt: models.NewFlexTime(day1.Add(-48 * time.Hour)),
	}
	ts.store.events["p1"] = []*models.Event{
		{ID: "e1", Type: "screenshot", Timestamp: models.NewFlexTime(day2), Platform: "reddit",
			OCR: &models.OCRInfo{WordCount: 12}},
		{ID: "e2", Type: "screenshot", Timestamp: models.NewFlexTime(day1), Platform: "twitter"},
		{ID: "e3", Type: "app_usage", Timestamp: models.NewFlexTime(day1)},
	}
	ts.store.checkins["p1"] = []*models.CheckIn{
		{ID: "c1", CompletedAt: models.NewFlexTime(day1), Responses: models.FlexMap{"crisis_indicated": "yes"}},
	}
	ts.store.alerts["p1"] = []*models.SafetyAlert{
		{ID: "a1", TriggeredAt: models.NewFlexTime(day2)},
	}

	rec := ts.do(t, http.MethodGet, "/api/participant/p1/summary", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)

	rows, _ := env.Data["daily_summary"].([]interface{})
	if len(rows) != 2 {
		t.Fatalf("got %d daily rows, want 2", len(rows))
	}
	first := rows[0].(map[string]interface{})
	if first["date"] != "2025-06-01" {
		t.Errorf("rows not sorted ascending: first = %v", first["date"])
	}
	if first["screenshots"] != float64(1) || first["twitter"] != float64(1) {
		t.Errorf("day1 counts = %v", first)
	}
	if first["crisis_indicated"] != true || first["checkins"] != float64(1) {
		t.Errorf("day1 checkin fields = %v", first)
	}
	second := rows[1].(map[string]interface{})
	if second["ocr_words"] != float64(12) || second["reddit"] != float64(1) || second["safety_alerts"] != float64(1) {
		t.Errorf("day2 counts = %v", second)
	}
	if env.Data["study_start_date"] != "2025-05-30" {
		t.Errorf("study_start_date = %v", env.Data["study_start_date"])
	}
}

func TestParticipantSummaryUnknown(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/participant/ghost/summary", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestParticipantDay(t *testing.T) {
	ts := newTestServer(t)
	at := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	ts.store.hasData["p1"] = true
	ts.store.events["p1"] = []*models.Event{
		{ID: "e1", Type: "screenshot", Timestamp: models.NewFlexTime(at), Platform: "reddit",
			ScreenshotURL: "https://shots/e1.png", OCR: &models.OCRInfo{WordCount: 5}},
	}
	ts.store.checkins["p1"] = []*models.CheckIn{
		{ID: "c1", SessionID: "s1", CompletedAt: models.NewFlexTime(at.Add(10 * time.Minute)),
			Responses: models.FlexMap{"mood": "low", "safe": "yes"}},
	}
	ts.store.alerts["p1"] = []*models.SafetyAlert{
		{ID: "a1", SessionID: "s1", TriggeredAt: models.NewFlexTime(at.Add(5 * time.Minute)),
			Responses: models.FlexMap{"mood": "unknown"}},
	}

	rec := ts.do(t, http.MethodGet, "/api/participant/p1/day/2025-06-01", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)

	hourly, _ := env.Data["hourly_activity"].(map[string]interface{})
	if len(hourly) != 24 {
		t.Errorf("hourly_activity has %d buckets, want 24", len(hourly))
	}
	h14 := hourly["14"].(map[string]interface{})
	if h14["screenshots"] != float64(1) || h14["reddit"] != float64(1) || h14["ocr_words"] != float64(5) {
		t.Errorf("hour 14 = %v", h14)
	}

	checkins, _ := env.Data["checkins"].([]interface{})
	if len(checkins) != 1 {
		t.Fatalf("got %d checkins, want 1", len(checkins))
	}
	if tm := checkins[0].(map[string]interface{})["time"]; tm != "2:40 PM" {
		t.Errorf("checkin time = %v, want 2:40 PM", tm)
	}

	alerts, _ := env.Data["safety_alerts"].([]interface{})
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	responses := alerts[0].(map[string]interface{})["responses"].(map[string]interface{})
	// Session responses overlay the alert's own partial snapshot.
	if responses["mood"] != "low" || responses["safe"] != "yes" {
		t.Errorf("merged responses = %v", responses)
	}

	samples, _ := env.Data["sample_screenshots"].([]interface{})
	if len(samples) != 1 {
		t.Errorf("got %d sample screenshots, want 1", len(samples))
	}
}

func TestParticipantDayBadDate(t *testing.T) {
	ts := newTestServer(t)
	ts.store.hasData["p1"] = true
	rec := ts.do(t, http.MethodGet, "/api/participant/p1/day/June-1st", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartAsyncExport(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/export/async", "viewer@example.org", models.RoleUser,
		map[string]interface{}{"participant_id": "p1", "export_level": 3})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Data["jobId"] != "job-1" || env.Data["statusUrl"] != "/api/export/jobs/job-1" {
		t.Errorf("payload = %v", env.Data)
	}
	if ts.jobs.lastReq.CreatedBy != "viewer@example.org" {
		t.Errorf("CreatedBy = %q", ts.jobs.lastReq.CreatedBy)
	}
	if ts.jobs.lastReq.NotifyEmail != "viewer@example.org" {
		t.Errorf("NotifyEmail should default to caller, got %q", ts.jobs.lastReq.NotifyEmail)
	}
}

func TestStartAsyncExportInvalidLevel(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.createErr = export.ErrInvalidLevel

	rec := ts.do(t, http.MethodPost, "/api/export/async", "viewer@example.org", models.RoleUser,
		map[string]interface{}{"participant_id": "p1", "export_level": 7})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExportJobsTimeEstimate(t *testing.T) {
	for _, tc := range []struct {
		name string
		job  models.ExportJob
		want string
	}{
		{"completed job has no estimate",
			models.ExportJob{Status: models.JobCompleted, ScreenshotTotal: 100, ScreenshotProgress: 100}, ""},
		{"no totals yet",
			models.ExportJob{Status: models.JobProcessing}, "Calculating..."},
		{"minutes remaining",
			models.ExportJob{Status: models.JobProcessing, ScreenshotTotal: 100, ScreenshotProgress: 10}, "~3 min remaining"},
		{"seconds remaining",
			models.ExportJob{Status: models.JobProcessing, ScreenshotTotal: 20, ScreenshotProgress: 10}, "~20 sec remaining"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := remainingEstimate(&tc.job); got != tc.want {
				t.Errorf("remainingEstimate = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCancelExportJob(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.jobs["running"] = &models.ExportJob{ID: "running", Status: models.JobProcessing}
	ts.jobs.jobs["done"] = &models.ExportJob{ID: "done", Status: models.JobCompleted}

	rec := ts.do(t, http.MethodDelete, "/api/export/jobs/running", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("cancel running: status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodDelete, "/api/export/jobs/done", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel finished: status = %d, want 409", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/export/jobs/ghost", "viewer@example.org", models.RoleUser, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel unknown: status = %d, want 404", rec.Code)
	}
}

func TestDownloadExport(t *testing.T) {
	ts := newTestServer(t)
	ts.blobs.blobs["exports/p1/job-1.zip"] = []byte("zipbytes")
	ts.jobs.jobs["job-1"] = &models.ExportJob{
		ID:       "job-1",
		Status:   models.JobCompleted,
		Filename: "socialscope_export_p1_L1_meta.zip",
	}

	rec := ts.do(t, http.MethodGet, "/api/export/download", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/export/download?token=bogus", "", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad token: status = %d, want 403", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/export/download?token=ok:exports/p1/gone.zip", "", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing blob: status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/export/download?token=ok:exports/p1/job-1.zip", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	// The descriptive filename from the job record, not the blob's basename.
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "socialscope_export_p1_L1_meta.zip") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rec.Body.String() != "zipbytes" {
		t.Errorf("body = %q", rec.Body.String())
	}

	// A blob that outlived its job record still downloads under its ID.
	ts.blobs.blobs["exports/p2/job-9.zip"] = []byte("orphan")
	rec = ts.do(t, http.MethodGet, "/api/export/download?token=ok:exports/p2/job-9.zip", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("orphan blob: status = %d, want 200", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "job-9.zip") {
		t.Errorf("orphan Content-Disposition = %q", cd)
	}
}

func TestAddUser(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/users/", "admin@example.org", models.RoleAdmin,
		map[string]string{"email": "  New.User@Example.ORG ", "role": "user"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	u, ok := ts.store.users["new.user@example.org"]
	if !ok {
		t.Fatal("user not stored under lowercased email")
	}
	if u.AddedBy != "admin@example.org" {
		t.Errorf("AddedBy = %q", u.AddedBy)
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/users/", "admin@example.org", models.RoleAdmin,
		map[string]string{"email": "new.user@example.org", "role": "admin"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/users/", "admin@example.org", models.RoleAdmin,
		map[string]string{"email": "x@example.org", "role": "superuser"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad role: status = %d, want 400", rec.Code)
	}
}

func TestSelfDemotionAndRemovalGuards(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/admin/users/admin@example.org", "admin@example.org", models.RoleAdmin,
		map[string]string{"role": "user"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self-demotion: status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/admin/users/admin@example.org", "admin@example.org", models.RoleAdmin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self-removal: status = %d, want 400", rec.Code)
	}
}

func TestUpdateAndRemoveUser(t *testing.T) {
	ts := newTestServer(t)
	ts.store.users["other@example.org"] = &models.DashboardUser{Email: "other@example.org", Role: models.RoleUser}

	rec := ts.do(t, http.MethodPut, "/api/admin/users/other@example.org", "admin@example.org", models.RoleAdmin,
		map[string]string{"role": "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d: %s", rec.Code, rec.Body.String())
	}
	if ts.store.users["other@example.org"].Role != models.RoleAdmin {
		t.Error("role not updated")
	}

	rec = ts.do(t, http.MethodDelete, "/api/admin/users/other@example.org", "admin@example.org", models.RoleAdmin, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("remove: status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/admin/users/ghost@example.org", "admin@example.org", models.RoleAdmin, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("remove unknown: status = %d, want 404", rec.Code)
	}
}

func TestAddAlertRecipient(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/alert-recipients/", "admin@example.org", models.RoleAdmin,
		map[string]string{"phone": "(555) 123-4567", "name": "On-call"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := ts.store.recipients["5551234567"]; !ok {
		t.Error("phone not normalized to digits")
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/alert-recipients/", "admin@example.org", models.RoleAdmin,
		map[string]string{"phone": "555-123-4567"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/alert-recipients/", "admin@example.org", models.RoleAdmin,
		map[string]string{"phone": "12345"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short phone: status = %d, want 400", rec.Code)
	}
}

func TestInitAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/init", "", "", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	u, ok := ts.store.users["root@example.org"]
	if !ok || u.Role != models.RoleAdmin || u.AddedBy != "system_init" {
		t.Errorf("initial admin = %+v", u)
	}

	rec = ts.do(t, http.MethodPost, "/api/admin/init", "", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second init: status = %d, want 400", rec.Code)
	}
}
