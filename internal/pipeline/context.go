// Package pipeline runs the download session as a sequence of stages over a
// shared context: discover, filter, download, process, export. Stages are
// separated by a barrier; a stage only ever sees the finished output of the
// one before it.
package pipeline

import (
	"log/slog"
	"sync"

	"github.com/grabbit/grabbit/internal/events"
	"github.com/grabbit/grabbit/internal/filter"
	"github.com/grabbit/grabbit/internal/models"
	"github.com/grabbit/grabbit/internal/recovery"
)

// ExcludedPost is a post removed by filtering, retained for accounting.
type ExcludedPost struct {
	Post   models.Post
	Reason string
}

// Context is the shared state stages read and mutate. Slices are owned by
// one stage at a time; concurrent workers inside a stage append through the
// locked Add helpers.
type Context struct {
	SessionID string
	Target    models.Target
	Limit     int
	OutputDir string

	Posts    []models.Post
	Excluded []ExcludedPost

	Bus      *events.Bus
	Logger   *slog.Logger
	Recovery *recovery.Manager
	Chain    *filter.Chain

	mu        sync.Mutex
	downloads []models.DownloadResult
	outcomes  map[string]*stageOutcome
}

// stageOutcome counts per-unit terminal results within one stage.
type stageOutcome struct {
	successful int
	failed     int
}

// Publish sends an event for this session through the bus.
func (c *Context) Publish(payload events.Payload) {
	c.Bus.Publish(events.New(c.SessionID, payload))
}

// AddDownload records one download outcome. Safe for concurrent workers.
func (c *Context) AddDownload(res models.DownloadResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads = append(c.downloads, res)
}

// Downloads returns a copy of the recorded download outcomes.
func (c *Context) Downloads() []models.DownloadResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.DownloadResult, len(c.downloads))
	copy(out, c.downloads)
	return out
}

// SuccessfulDownloads returns downloads that produced a local file.
func (c *Context) SuccessfulDownloads() []models.DownloadResult {
	var out []models.DownloadResult
	for _, d := range c.Downloads() {
		if d.Succeeded() {
			out = append(out, d)
		}
	}
	return out
}

// RecordOutcome counts one unit's terminal result for the named stage. Safe
// for concurrent workers; the runner folds the totals into the stage's
// completion event.
func (c *Context) RecordOutcome(stage string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]*stageOutcome)
	}
	o := c.outcomes[stage]
	if o == nil {
		o = &stageOutcome{}
		c.outcomes[stage] = o
	}
	if success {
		o.successful++
	} else {
		o.failed++
	}
}

// Outcomes returns the recorded per-unit totals for a stage. Both counts are
// zero for stages that track no per-unit outcomes.
func (c *Context) Outcomes(stage string) (successful, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o := c.outcomes[stage]; o != nil {
		return o.successful, o.failed
	}
	return 0, 0
}

// PostByID finds a post in the current working set.
func (c *Context) PostByID(id string) (models.Post, bool) {
	for _, p := range c.Posts {
		if p.ID == id {
			return p, true
		}
	}
	return models.Post{}, false
}
