// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/socialscope/scopeboard/internal/config"
	"github.com/socialscope/scopeboard/internal/logging"
	"github.com/socialscope/scopeboard/internal/metrics"
	"github.com/socialscope/scopeboard/internal/models"
)

// breakerStateValue maps a breaker state onto the exported gauge scale.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// maxAttachmentBytes caps a single downloaded attachment.
const maxAttachmentBytes = 32 << 20

// Attachment is one screenshot reference collected from the event stream.
type Attachment struct {
	EventID     string
	URL         string
	StoragePath string
	Timestamp   models.FlexTime
}

// FetchResult is one successfully retrieved attachment with enough metadata
// to name its archive entry deterministically.
type FetchResult struct {
	Attachment
	Data []byte
	Ext  string
}

// BlobReader reads attachment blobs by direct storage path, skipping the
// HTTP hop when the path is known.
type BlobReader interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Fetcher retrieves attachment binaries with a bounded worker pool. One
// Fetcher is shared across all jobs so the HTTP connection pool, rate
// limiter, and circuit breaker state are process-wide.
type Fetcher struct {
	blobs   BlobReader
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	workers int
}

// NewFetcher builds a fetcher from the export configuration. blobs may be
// nil, in which case every attachment goes over HTTP.
func NewFetcher(blobs BlobReader, cfg config.ExportConfig) *Fetcher {
	limit := rate.Inf
	burst := 1
	if cfg.FetchRatePerSecond > 0 {
		limit = rate.Limit(cfg.FetchRatePerSecond)
		burst = cfg.Workers
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "screenshot-fetch",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &Fetcher{
		blobs: blobs,
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.Workers * 2,
				MaxIdleConnsPerHost: cfg.Workers,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: breaker,
		limiter: rate.NewLimiter(limit, burst),
		workers: cfg.Workers,
	}
}

// FetchAll retrieves every attachment it can, in input order. Failed
// attachments are logged and omitted; a failure never aborts sibling fetches.
// progress is invoked with the number of finished attachments (success or
// failure) as the pool advances; it may be nil.
func (f *Fetcher) FetchAll(ctx context.Context, refs []Attachment, progress func(done int)) []FetchResult {
	if len(refs) == 0 {
		return nil
	}

	log := logging.WithComponent("export.fetcher")

	type indexed struct {
		idx int
		ref Attachment
	}
	jobs := make(chan indexed)
	slots := make([]*FetchResult, len(refs))

	var mu sync.Mutex
	var done int
	var wg sync.WaitGroup

	workers := f.workers
	if workers > len(refs) {
		workers = len(refs)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res, err := f.fetchOne(ctx, job.ref)

				mu.Lock()
				if err != nil {
					metrics.ScreenshotFetchesTotal.WithLabelValues("failure").Inc()
					log.Warn().Err(err).
						Str("event_id", job.ref.EventID).
						Msg("Attachment fetch failed, omitting from archive")
				} else {
					metrics.ScreenshotFetchesTotal.WithLabelValues("success").Inc()
					slots[job.idx] = res
				}
				done++
				n := done
				mu.Unlock()

				if progress != nil {
					progress(n)
				}
			}
		}()
	}

feed:
	for i, ref := range refs {
		select {
		case <-ctx.Done():
			// Stop feeding; in-flight fetches drain.
			break feed
		case jobs <- indexed{idx: i, ref: ref}:
		}
	}
	close(jobs)
	wg.Wait()

	out := make([]FetchResult, 0, len(refs))
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// fetchOne retrieves a single attachment, preferring a direct storage read
// when a path is known and falling back to HTTP.
func (f *Fetcher) fetchOne(ctx context.Context, ref Attachment) (*FetchResult, error) {
	if f.blobs != nil && ref.StoragePath != "" {
		data, err := f.readBlob(ctx, ref.StoragePath)
		if err == nil {
			return &FetchResult{Attachment: ref, Data: data, Ext: inferExt("", ref.StoragePath)}, nil
		}
		if ref.URL == "" {
			return nil, fmt.Errorf("storage read %s: %w", ref.StoragePath, err)
		}
		// Path read failed but a URL exists: fall through.
	}

	if !strings.HasPrefix(ref.URL, "http") {
		return nil, fmt.Errorf("no usable source for event %s", ref.EventID)
	}

	data, ext, err := f.httpGet(ctx, ref.URL)
	if err != nil {
		return nil, err
	}
	return &FetchResult{Attachment: ref, Data: data, Ext: ext}, nil
}

func (f *Fetcher) readBlob(ctx context.Context, path string) ([]byte, error) {
	r, err := f.blobs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxAttachmentBytes))
}

func (f *Fetcher) httpGet(ctx context.Context, url string) ([]byte, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	var contentType string
	data, err := f.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		contentType = resp.Header.Get("Content-Type")
		return io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	})
	if err != nil {
		return nil, "", err
	}
	return data, inferExt(contentType, url), nil
}

// inferExt picks a file extension from the content type, then the URL or
// path suffix, defaulting to .jpg.
func inferExt(contentType, ref string) string {
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.Contains(lower, ".png"):
		return ".png"
	case strings.Contains(lower, ".webp"):
		return ".webp"
	default:
		return ".jpg"
	}
}
