package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogObserver writes a structured log line for every event it receives.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates an observer that logs events through logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

// Handle logs the event at a level matching its severity.
func (o *LogObserver) Handle(ev Event) {
	switch p := ev.Payload.(type) {
	case Error:
		level := slog.LevelWarn
		if !p.Recoverable {
			level = slog.LevelError
		}
		o.logger.Log(context.Background(), level, "pipeline error",
			"error_kind", p.ErrorKind,
			"context", p.ErrorContext,
			"stage", p.Stage,
			"post_id", p.PostID,
			"message", p.Message,
		)
	case StageLifecycle:
		o.logger.Info("stage "+string(p.Status),
			"stage", p.Stage,
			"processed", p.PostsProcessed,
			"successful", p.PostsSuccessful,
			"failed", p.PostsFailed,
			"duration", p.Duration,
		)
	case DownloadProgress:
		// Progress events are high volume; keep them out of info logs.
		o.logger.Debug("download progress",
			"post_id", p.PostID,
			"bytes", p.BytesDownloaded,
			"total", p.TotalBytes,
		)
	default:
		o.logger.Info(string(ev.Kind), "event_id", ev.EventID)
	}
}

// StatsCollector aggregates the running totals reported by Statistics events.
// It is the single writer of the aggregate counters; concurrent workers only
// reach it through bus delivery, which is already serialized.
type StatsCollector struct {
	mu      sync.Mutex
	started time.Time

	totalPosts         int
	postsProcessed     int
	postsSuccessful    int
	postsFailed        int
	postsSkipped       int
	downloadsCompleted int
	downloadsFailed    int
	bytesDownloaded    int64
}

// NewStatsCollector creates a collector with its clock started now.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{started: time.Now()}
}

// Handle updates aggregate counters from one event.
func (c *StatsCollector) Handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p := ev.Payload.(type) {
	case PostDiscovered:
		c.totalPosts += p.PostCount
	case DownloadCompleted:
		if p.Success {
			c.downloadsCompleted++
			c.bytesDownloaded += p.FileSize
		} else {
			c.downloadsFailed++
		}
	case PostProcessed:
		c.postsProcessed++
		if p.Success {
			c.postsSuccessful++
		} else {
			c.postsFailed++
		}
	case Error:
		if p.Strategy == "skip" {
			c.postsSkipped++
		}
	}
}

// Snapshot returns the current aggregate as a Statistics payload.
func (c *StatsCollector) Snapshot(status string) Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Statistics{
		Status:             status,
		TotalPosts:         c.totalPosts,
		PostsProcessed:     c.postsProcessed,
		PostsSuccessful:    c.postsSuccessful,
		PostsFailed:        c.postsFailed,
		PostsSkipped:       c.postsSkipped,
		DownloadsCompleted: c.downloadsCompleted,
		DownloadsFailed:    c.downloadsFailed,
		BytesDownloaded:    c.bytesDownloaded,
		Elapsed:            time.Since(c.started),
	}
}
