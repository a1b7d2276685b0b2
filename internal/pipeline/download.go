package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/grabbit/grabbit/internal/events"
	"github.com/grabbit/grabbit/internal/fetch"
	"github.com/grabbit/grabbit/internal/models"
	"github.com/grabbit/grabbit/internal/recovery"
)

// progressStep is how many new bytes accumulate between progress events.
const progressStep = 256 * 1024

// DownloadStage fetches media for every post in the working set with a
// bounded worker pool. Per-post failures are absorbed; the stage itself only
// fails on authentication aborts or cancellation.
type DownloadStage struct {
	Fetcher        *fetch.Fetcher
	Workers        int
	AttemptTimeout time.Duration
}

func (s *DownloadStage) Name() string { return "download" }

func (s *DownloadStage) Run(ctx context.Context, pc *Context) error {
	if err := os.MkdirAll(pc.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	stageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var fatalErr error

	err := forEach(stageCtx, s.Workers, len(pc.Posts), func(unitCtx context.Context, i int) {
		post := pc.Posts[i]
		res, fatal := s.downloadOne(unitCtx, pc, post)
		pc.AddDownload(res)
		pc.RecordOutcome(s.Name(), res.Succeeded())

		if fatal != nil {
			mu.Lock()
			if fatalErr == nil {
				fatalErr = fatal
			}
			mu.Unlock()
			cancel()
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if fatalErr != nil {
		return fatalErr
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (s *DownloadStage) downloadOne(ctx context.Context, pc *Context, post models.Post) (models.DownloadResult, error) {
	filename := filenameFor(post)
	dest := filepath.Join(pc.OutputDir, filename)

	pc.Publish(events.DownloadStarted{
		PostID:   post.ID,
		URL:      post.URL,
		Filename: filename,
	})

	var info *fetch.Info
	res := pc.Recovery.Execute(ctx, recovery.Operation{
		Name:           "download",
		Stage:          s.Name(),
		PostID:         post.ID,
		URL:            post.URL,
		AttemptTimeout: s.AttemptTimeout,
		Run: func(ctx context.Context) error {
			f, err := os.Create(dest)
			if err != nil {
				return recovery.Resource(fmt.Errorf("create %s: %w", dest, err))
			}
			var ferr error
			info, ferr = s.Fetcher.Fetch(ctx, post.URL, f, s.progressFunc(pc, post))
			if cerr := f.Close(); ferr == nil && cerr != nil {
				ferr = recovery.Resource(fmt.Errorf("close %s: %w", dest, cerr))
			}
			if ferr != nil {
				_ = os.Remove(dest)
			}
			return ferr
		},
	})

	out := models.DownloadResult{
		PostID:      post.ID,
		OperationID: res.State.OperationID,
		URL:         post.URL,
		Skipped:     res.Skipped,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if res.Succeeded() {
		out.LocalPath = dest
		out.Bytes = info.Bytes
		out.ContentType = info.ContentType
		out.Duration = info.Duration
	}

	completed := events.DownloadCompleted{
		PostID:   post.ID,
		URL:      post.URL,
		Filename: filename,
		Success:  res.Succeeded(),
	}
	if res.Succeeded() {
		completed.FileSize = info.Bytes
		completed.Duration = info.Duration
		completed.LocalPath = dest
	} else if res.Err != nil {
		completed.Error = res.Err.Error()
	}
	pc.Publish(completed)
	if res.Fatal {
		return out, res.Err
	}
	return out, nil
}

// progressFunc throttles byte progress to one event per progressStep of new
// data, plus the final byte count.
func (s *DownloadStage) progressFunc(pc *Context, post models.Post) fetch.ProgressFunc {
	var last int64
	return func(done, total int64) {
		if done-last < progressStep && done != total {
			return
		}
		last = done
		pc.Publish(events.DownloadProgress{
			PostID:          post.ID,
			URL:             post.URL,
			BytesDownloaded: done,
			TotalBytes:      max(total, 0),
		})
	}
}

// filenameFor derives a collision-free local filename for a post's media.
func filenameFor(post models.Post) string {
	base := path.Base(post.URL)
	if u, err := url.Parse(post.URL); err == nil && u.Path != "" && u.Path != "/" {
		base = path.Base(u.Path)
	}
	ext := path.Ext(base)
	if base == "" || base == "." || base == "/" {
		return post.ID
	}
	return post.ID + "_" + base[:len(base)-len(ext)] + ext
}
