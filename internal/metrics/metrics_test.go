package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/grabbit/grabbit/internal/events"
)

func TestCollectorCountsEvents(t *testing.T) {
	c, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector() error: %v", err)
	}

	c.Handle(events.New("s1", events.DownloadCompleted{PostID: "a", Success: true, FileSize: 2048}))
	c.Handle(events.New("s1", events.DownloadCompleted{PostID: "b", Success: false}))
	c.Handle(events.New("s1", events.Error{ErrorKind: "transient", Strategy: "retry"}))
	c.Handle(events.New("s1", events.Error{ErrorKind: "permanent", Strategy: "skip"}))
	c.Handle(events.New("s1", events.StageLifecycle{Stage: "download", Status: events.StageCompleted, Duration: 2 * time.Second}))

	if got := testutil.ToFloat64(c.downloadsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("successful downloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.downloadsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed downloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.bytesDownloaded); got != 2048 {
		t.Errorf("bytes downloaded = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(c.retriesTotal); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.eventsTotal.WithLabelValues("download_completed")); got != 2 {
		t.Errorf("download_completed events = %v, want 2", got)
	}
}

func TestCollectorServesMetricsEndpoint(t *testing.T) {
	c, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector() error: %v", err)
	}
	c.Handle(events.New("s1", events.DownloadCompleted{PostID: "a", Success: true, FileSize: 100}))

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "grabbit_downloads_completed_total") {
		t.Errorf("metrics output missing download counter:\n%s", body)
	}
	if !strings.Contains(body, "grabbit_downloads_bytes_total") {
		t.Errorf("metrics output missing bytes counter:\n%s", body)
	}
}
