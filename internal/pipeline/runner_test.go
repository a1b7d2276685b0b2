package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grabbit/grabbit/internal/events"
	"github.com/grabbit/grabbit/internal/fetch"
	"github.com/grabbit/grabbit/internal/filter"
	"github.com/grabbit/grabbit/internal/metadata"
	"github.com/grabbit/grabbit/internal/models"
	"github.com/grabbit/grabbit/internal/recovery"
	"github.com/grabbit/grabbit/internal/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() recovery.Policy {
	p := recovery.DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.Jitter = false
	return p
}

type fakeSource struct {
	posts []models.Post
	err   error
}

func (f *fakeSource) Listing(_ models.Target, limit int) source.Iterator {
	if f.err != nil {
		return &errIterator{err: f.err}
	}
	posts := f.posts
	if limit > 0 && limit < len(posts) {
		posts = posts[:limit]
	}
	return source.FromPosts(posts)
}

type errIterator struct{ err error }

func (it *errIterator) Next(context.Context) bool { return false }
func (it *errIterator) Post() models.Post         { return models.Post{} }
func (it *errIterator) Err() error                { return it.err }

// mediaTransport serves every URL with the same body, optionally failing
// specific post URLs.
type mediaTransport struct {
	mu      sync.Mutex
	body    string
	failURL map[string]int
}

func (m *mediaTransport) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	status, failing := m.failURL[req.URL.String()]
	m.mu.Unlock()
	if failing {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{},
			Body:       io.NopCloser(bytes.NewBufferString("")),
		}, nil
	}
	return &http.Response{
		StatusCode:    200,
		Header:        http.Header{"Content-Type": []string{"image/jpeg"}},
		ContentLength: int64(len(m.body)),
		Body:          io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func testPosts(n int) []models.Post {
	posts := make([]models.Post, n)
	for i := range posts {
		id := string(rune('a' + i))
		score := (i + 1) * 10
		posts[i] = models.Post{
			ID:        id,
			Title:     "post " + id,
			URL:       "https://img.example.com/" + id + ".jpg",
			Author:    "alice",
			Source:    "pics",
			CreatedAt: time.Now().Add(-time.Hour),
			Score:     &score,
		}
	}
	return posts
}

type fixture struct {
	bus      *events.Bus
	recorder *events.Recorder
	stats    *events.StatsCollector
	pc       *Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()
	bus := events.NewBus(logger)
	recorder := events.NewRecorder()
	stats := events.NewStatsCollector()
	bus.Subscribe(recorder.Handle)
	bus.Subscribe(stats.Handle)

	pc := &Context{
		SessionID: "test-session",
		Target:    models.Target{Kind: models.TargetForum, Name: "pics"},
		OutputDir: t.TempDir(),
		Bus:       bus,
		Logger:    logger,
		Recovery:  recovery.NewManager(fastPolicy(), bus, logger, "test-session"),
	}
	return &fixture{bus: bus, recorder: recorder, stats: stats, pc: pc}
}

func countEvents(evts []events.Event, kind events.Kind) int {
	n := 0
	for _, ev := range evts {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestRunnerFullSession(t *testing.T) {
	fx := newFixture(t)
	minScore := 15
	fx.pc.Chain = filter.NewChain(filter.And, &filter.ScoreFilter{Min: &minScore})

	posts := testPosts(5) // scores 10..50; score filter removes post "a"
	transport := &mediaTransport{body: strings.Repeat("x", 1000)}

	runner := NewRunner(fx.stats, false,
		&DiscoverStage{Source: &fakeSource{posts: posts}},
		&FilterStage{},
		&DownloadStage{Fetcher: fetch.New(transport, nil), Workers: 2},
		&ProcessStage{Writer: metadata.NewWriter(nil), Workers: 2},
		&ExportStage{Recorder: fx.recorder},
	)

	summary, err := runner.Run(context.Background(), fx.pc)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if summary.Statistics.Status != "completed" {
		t.Errorf("status = %q", summary.Statistics.Status)
	}
	if summary.Statistics.TotalPosts != 5 {
		t.Errorf("total posts = %d, want 5", summary.Statistics.TotalPosts)
	}
	if summary.Statistics.DownloadsCompleted != 4 {
		t.Errorf("downloads completed = %d, want 4", summary.Statistics.DownloadsCompleted)
	}
	if len(fx.pc.Excluded) != 1 || fx.pc.Excluded[0].Post.ID != "a" {
		t.Errorf("excluded = %+v", fx.pc.Excluded)
	}

	evts := fx.recorder.Events()
	for _, ev := range evts {
		if p, ok := ev.Payload.(events.FilterApplied); ok {
			if len(p.Excluded) != 1 || p.Excluded[0].PostID != "a" {
				t.Errorf("filter exclusions = %+v", p.Excluded)
			} else if !strings.Contains(p.Excluded[0].Reason, "score") {
				t.Errorf("exclusion reason = %q", p.Excluded[0].Reason)
			}
		}
	}
	if got := countEvents(evts, events.KindDownloadStarted); got != 4 {
		t.Errorf("download_started events = %d, want 4", got)
	}
	if got := countEvents(evts, events.KindDownloadCompleted); got != 4 {
		t.Errorf("download_completed events = %d, want 4", got)
	}
	if got := countEvents(evts, events.KindPostProcessed); got != 4 {
		t.Errorf("post_processed events = %d, want 4", got)
	}
	if got := countEvents(evts, events.KindStatistics); got != 1 {
		t.Errorf("statistics events = %d, want 1", got)
	}

	// Metadata embedding is unsupported (nil embedder), so every processed
	// post degrades to sidecar-only and still succeeds.
	for _, ev := range evts {
		if p, ok := ev.Payload.(events.PostProcessed); ok {
			if !p.Success || !p.Degraded || p.MetadataEmbedded || !p.SidecarWritten {
				t.Errorf("processed event = %+v", p)
			}
		}
	}

	for _, dl := range fx.pc.SuccessfulDownloads() {
		if _, err := os.Stat(dl.LocalPath); err != nil {
			t.Errorf("missing media file %s: %v", dl.LocalPath, err)
		}
		if _, err := os.Stat(dl.LocalPath + ".json"); err != nil {
			t.Errorf("missing sidecar for %s: %v", dl.LocalPath, err)
		}
	}

	report, err := os.ReadFile(filepath.Join(fx.pc.OutputDir, "report.json"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), `"discovered": 5`) {
		t.Errorf("report missing discovery count:\n%s", report)
	}
	// Post "a" was filtered, so its only appearance is the exclusion entry.
	if !strings.Contains(string(report), `"post_id": "a"`) {
		t.Errorf("report missing filtered post:\n%s", report)
	}
}

func stageLifecycle(evts []events.Event, stage string, status events.StageStatus) (events.StageLifecycle, bool) {
	for _, ev := range evts {
		if p, ok := ev.Payload.(events.StageLifecycle); ok && p.Stage == stage && p.Status == status {
			return p, true
		}
	}
	return events.StageLifecycle{}, false
}

func TestStageLifecycleReportsOutcomeCounts(t *testing.T) {
	fx := newFixture(t)
	minScore := 15
	fx.pc.Chain = filter.NewChain(filter.And, &filter.ScoreFilter{Min: &minScore})

	posts := testPosts(4) // scores 10..40; score filter removes post "a"
	transport := &mediaTransport{
		body:    "data",
		failURL: map[string]int{"https://img.example.com/c.jpg": 404},
	}

	runner := NewRunner(fx.stats, false,
		&DiscoverStage{Source: &fakeSource{posts: posts}},
		&FilterStage{},
		&DownloadStage{Fetcher: fetch.New(transport, nil), Workers: 2},
		&ProcessStage{Writer: metadata.NewWriter(nil), Workers: 2},
	)
	if _, err := runner.Run(context.Background(), fx.pc); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	evts := fx.recorder.Events()

	fl, ok := stageLifecycle(evts, "filter", events.StageCompleted)
	if !ok {
		t.Fatal("no completed lifecycle event for filter stage")
	}
	if fl.PostsProcessed != 4 || fl.PostsSuccessful != 3 || fl.PostsFailed != 1 {
		t.Errorf("filter counts = processed %d successful %d failed %d, want 4/3/1",
			fl.PostsProcessed, fl.PostsSuccessful, fl.PostsFailed)
	}

	// Three posts survive filtering; the 404 on "c" is skipped, not retried.
	dl, ok := stageLifecycle(evts, "download", events.StageCompleted)
	if !ok {
		t.Fatal("no completed lifecycle event for download stage")
	}
	if dl.PostsProcessed != 3 || dl.PostsSuccessful != 2 || dl.PostsFailed != 1 {
		t.Errorf("download counts = processed %d successful %d failed %d, want 3/2/1",
			dl.PostsProcessed, dl.PostsSuccessful, dl.PostsFailed)
	}

	// Only successful downloads reach processing; all degrade but succeed.
	pr, ok := stageLifecycle(evts, "process", events.StageCompleted)
	if !ok {
		t.Fatal("no completed lifecycle event for process stage")
	}
	if pr.PostsProcessed != 2 || pr.PostsSuccessful != 2 || pr.PostsFailed != 0 {
		t.Errorf("process counts = processed %d successful %d failed %d, want 2/2/0",
			pr.PostsProcessed, pr.PostsSuccessful, pr.PostsFailed)
	}
}

func TestRunnerWorkerPoolEventCounts(t *testing.T) {
	fx := newFixture(t)
	posts := testPosts(9)
	transport := &mediaTransport{body: "data"}

	runner := NewRunner(fx.stats, false,
		&DiscoverStage{Source: &fakeSource{posts: posts}},
		&DownloadStage{Fetcher: fetch.New(transport, nil), Workers: 3},
	)
	if _, err := runner.Run(context.Background(), fx.pc); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Fewer workers than posts: every post still gets exactly one started
	// and one completed event.
	evts := fx.recorder.Events()
	if got := countEvents(evts, events.KindDownloadStarted); got != 9 {
		t.Errorf("download_started events = %d, want 9", got)
	}
	if got := countEvents(evts, events.KindDownloadCompleted); got != 9 {
		t.Errorf("download_completed events = %d, want 9", got)
	}
	if got := len(fx.pc.Downloads()); got != 9 {
		t.Errorf("download results = %d, want 9", got)
	}
}

func TestRunnerAbsorbsPermanentFailures(t *testing.T) {
	fx := newFixture(t)
	posts := testPosts(3)
	transport := &mediaTransport{
		body:    "data",
		failURL: map[string]int{"https://img.example.com/b.jpg": 404},
	}

	runner := NewRunner(fx.stats, false,
		&DiscoverStage{Source: &fakeSource{posts: posts}},
		&DownloadStage{Fetcher: fetch.New(transport, nil), Workers: 2},
	)
	if _, err := runner.Run(context.Background(), fx.pc); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := fx.stats.Snapshot("x").DownloadsCompleted; got != 2 {
		t.Errorf("downloads completed = %d, want 2", got)
	}
	if got := fx.stats.Snapshot("x").DownloadsFailed; got != 1 {
		t.Errorf("downloads failed = %d, want 1", got)
	}
	if got := fx.stats.Snapshot("x").PostsSkipped; got != 1 {
		t.Errorf("posts skipped = %d, want 1", got)
	}
}

func TestRunnerAuthenticationAbortsStage(t *testing.T) {
	fx := newFixture(t)
	posts := testPosts(1)
	transport := &mediaTransport{
		body:    "data",
		failURL: map[string]int{"https://img.example.com/a.jpg": 401},
	}

	runner := NewRunner(fx.stats, false,
		&DiscoverStage{Source: &fakeSource{posts: posts}},
		&DownloadStage{Fetcher: fetch.New(transport, nil), Workers: 1},
	)
	_, err := runner.Run(context.Background(), fx.pc)
	if err == nil {
		t.Fatal("expected stage-fatal error")
	}
	if got := recovery.KindOf(err); got != recovery.KindAuthentication {
		t.Errorf("kind = %q, want authentication", got)
	}
	if got := fx.stats.Snapshot("x").DownloadsCompleted; got != 0 {
		t.Errorf("downloads completed = %d, want 0", got)
	}
}

func TestRunnerPartialExecutionContinues(t *testing.T) {
	fx := newFixture(t)

	failing := &stubStage{name: "broken", err: errors.New("boom")}
	after := &stubStage{name: "after"}

	runner := NewRunner(fx.stats, true, failing, after)
	_, err := runner.Run(context.Background(), fx.pc)
	if err == nil {
		t.Fatal("expected error from failed stage")
	}
	if !after.ran {
		t.Error("downstream stage did not run under partial execution")
	}

	fx2 := newFixture(t)
	after2 := &stubStage{name: "after"}
	runner2 := NewRunner(fx2.stats, false, &stubStage{name: "broken", err: errors.New("boom")}, after2)
	if _, err := runner2.Run(context.Background(), fx2.pc); err == nil {
		t.Fatal("expected error")
	}
	if after2.ran {
		t.Error("downstream stage ran despite strict execution")
	}
}

func TestRunnerCancellationFlushesStatistics(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	cancelStage := &stubStage{name: "first", onRun: cancel}
	never := &stubStage{name: "second"}

	runner := NewRunner(fx.stats, false, cancelStage, never)
	summary, err := runner.Run(ctx, fx.pc)
	if err == nil {
		t.Fatal("expected context error")
	}
	if !summary.Cancelled {
		t.Error("summary not marked cancelled")
	}
	if summary.Statistics.Status != "cancelled" {
		t.Errorf("statistics status = %q", summary.Statistics.Status)
	}
	if never.ran {
		t.Error("stage ran after cancellation")
	}
	if got := countEvents(fx.recorder.Events(), events.KindStatistics); got != 1 {
		t.Errorf("statistics events = %d, want 1", got)
	}
}

type stubStage struct {
	name  string
	err   error
	ran   bool
	onRun func()
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Run(ctx context.Context, pc *Context) error {
	s.ran = true
	if s.onRun != nil {
		s.onRun()
	}
	return s.err
}
