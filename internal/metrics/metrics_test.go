// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDBQuery(t *testing.T) {
	before := testutil.CollectAndCount(DBQueryDuration)
	RecordDBQuery("find", "events", 12*time.Millisecond, nil)
	if after := testutil.CollectAndCount(DBQueryDuration); after <= before {
		t.Error("query duration was not observed")
	}

	errBefore := testutil.ToFloat64(DBQueryErrors.WithLabelValues("find", "events"))
	RecordDBQuery("find", "events", time.Millisecond, errors.New("server selection timeout"))
	errAfter := testutil.ToFloat64(DBQueryErrors.WithLabelValues("find", "events"))
	if errAfter != errBefore+1 {
		t.Errorf("error counter = %v, want %v", errAfter, errBefore+1)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/status", "200"))
	RecordAPIRequest("GET", "/api/v1/status", "200", 30*time.Millisecond)
	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/status", "200"))
	if after != before+1 {
		t.Errorf("request counter = %v, want %v", after, before+1)
	}
}

func TestRecordCacheRefresh(t *testing.T) {
	RecordCacheRefresh("status", 2*time.Second, 40, nil)
	if got := testutil.ToFloat64(CacheEntries.WithLabelValues("status")); got != 40 {
		t.Errorf("cache entries gauge = %v, want 40", got)
	}
	if got := testutil.ToFloat64(CacheLastSuccess.WithLabelValues("status")); got == 0 {
		t.Error("last success timestamp not set")
	}

	errBefore := testutil.ToFloat64(CacheRefreshErrors.WithLabelValues("alerts"))
	RecordCacheRefresh("alerts", time.Second, 0, errors.New("mongo down"))
	errAfter := testutil.ToFloat64(CacheRefreshErrors.WithLabelValues("alerts"))
	if errAfter != errBefore+1 {
		t.Errorf("refresh error counter = %v, want %v", errAfter, errBefore+1)
	}
	// A failed refresh must not touch the success timestamp.
	if got := testutil.ToFloat64(CacheLastSuccess.WithLabelValues("alerts")); got != 0 {
		t.Errorf("failed refresh set last success timestamp to %v", got)
	}
}

func TestRecordExportJob(t *testing.T) {
	before := testutil.ToFloat64(ExportJobsTotal.WithLabelValues("completed", "3"))
	RecordExportJob("completed", "3", 45*time.Second)
	after := testutil.ToFloat64(ExportJobsTotal.WithLabelValues("completed", "3"))
	if after != before+1 {
		t.Errorf("export jobs counter = %v, want %v", after, before+1)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	base := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != base+1 {
		t.Errorf("active requests = %v, want %v", got, base+1)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != base {
		t.Errorf("active requests = %v, want %v", got, base)
	}
}
