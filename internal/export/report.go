// Package export renders a session's event sequence into a JSON report.
// Rendering is a pure function of the events: the same sequence always
// produces the same bytes, so reports regenerated from the journal match the
// ones written during the live run.
package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/grabbit/grabbit/internal/events"
)

// Report is the rendered summary of one session.
type Report struct {
	SessionID string        `json:"session_id"`
	Target    string        `json:"target"`
	Status    string        `json:"status"`
	Elapsed   string        `json:"elapsed"`
	Counts    Counts        `json:"counts"`
	Stages    []StageEntry  `json:"stages,omitempty"`
	Downloads []Download    `json:"downloads,omitempty"`
	Errors    []ErrorEntry  `json:"errors,omitempty"`
	Filters   *FilterCounts `json:"filters,omitempty"`
}

// Counts aggregates per-post outcomes.
type Counts struct {
	Discovered          int   `json:"discovered"`
	Filtered            int   `json:"filtered"`
	DownloadsSucceeded  int   `json:"downloads_succeeded"`
	DownloadsFailed     int   `json:"downloads_failed"`
	ProcessedSucceeded  int   `json:"processed_succeeded"`
	ProcessedFailed     int   `json:"processed_failed"`
	ProcessedDegraded   int   `json:"processed_degraded"`
	BytesDownloaded     int64 `json:"bytes_downloaded"`
	RecoverableFailures int   `json:"recoverable_failures"`
}

// StageEntry records one stage lifecycle transition to a terminal status.
type StageEntry struct {
	Stage    string `json:"stage"`
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
}

// Download is one post's download outcome.
type Download struct {
	PostID   string `json:"post_id"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Success  bool   `json:"success"`
	Bytes    int64  `json:"bytes,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorEntry is one absorbed or fatal failure, in publication order.
type ErrorEntry struct {
	Kind     string `json:"kind"`
	Context  string `json:"context"`
	Strategy string `json:"strategy,omitempty"`
	PostID   string `json:"post_id,omitempty"`
	Message  string `json:"message"`
}

// FilterCounts summarizes the filtering pass, including which posts were
// removed and why.
type FilterCounts struct {
	Composition string      `json:"composition"`
	Before      int         `json:"before"`
	After       int         `json:"after"`
	Removed     int         `json:"removed"`
	Excluded    []Exclusion `json:"excluded,omitempty"`
}

// Exclusion is one filtered-out post with the chain's reason.
type Exclusion struct {
	PostID string `json:"post_id"`
	Reason string `json:"reason"`
}

// Render builds the report from a session's events and returns deterministic
// JSON. Downloads are ordered by post ID, errors and stages keep publication
// order, and elapsed time is the span between the first and last event.
func Render(evts []events.Event) ([]byte, error) {
	if len(evts) == 0 {
		return nil, fmt.Errorf("no events to render")
	}

	rep := Report{
		SessionID: evts[0].SessionID,
		Status:    "completed",
		Elapsed:   evts[len(evts)-1].Timestamp.Sub(evts[0].Timestamp).Round(time.Millisecond).String(),
	}

	for _, ev := range evts {
		switch p := ev.Payload.(type) {
		case events.PostDiscovered:
			rep.Target = p.Target
			rep.Counts.Discovered += p.PostCount

		case events.FilterApplied:
			rep.Counts.Filtered += p.PostsFiltered
			fc := &FilterCounts{
				Composition: p.Composition,
				Before:      p.PostsBefore,
				After:       p.PostsAfter,
				Removed:     p.PostsFiltered,
			}
			for _, ex := range p.Excluded {
				fc.Excluded = append(fc.Excluded, Exclusion{PostID: ex.PostID, Reason: ex.Reason})
			}
			rep.Filters = fc

		case events.DownloadCompleted:
			d := Download{
				PostID:   p.PostID,
				URL:      p.URL,
				Filename: p.Filename,
				Success:  p.Success,
				Bytes:    p.FileSize,
				Error:    p.Error,
			}
			rep.Downloads = append(rep.Downloads, d)
			if p.Success {
				rep.Counts.DownloadsSucceeded++
				rep.Counts.BytesDownloaded += p.FileSize
			} else {
				rep.Counts.DownloadsFailed++
			}

		case events.PostProcessed:
			if p.Success {
				rep.Counts.ProcessedSucceeded++
			} else {
				rep.Counts.ProcessedFailed++
			}
			if p.Degraded {
				rep.Counts.ProcessedDegraded++
			}

		case events.Error:
			rep.Errors = append(rep.Errors, ErrorEntry{
				Kind:     p.ErrorKind,
				Context:  p.ErrorContext,
				Strategy: p.Strategy,
				PostID:   p.PostID,
				Message:  p.Message,
			})
			if p.Recoverable {
				rep.Counts.RecoverableFailures++
			}

		case events.StageLifecycle:
			if p.Status == events.StageStarted {
				continue
			}
			entry := StageEntry{Stage: p.Stage, Status: string(p.Status)}
			if p.Duration > 0 {
				entry.Duration = p.Duration.Round(time.Millisecond).String()
			}
			rep.Stages = append(rep.Stages, entry)

		case events.Statistics:
			rep.Status = p.Status
		}
	}

	sort.SliceStable(rep.Downloads, func(i, j int) bool {
		return rep.Downloads[i].PostID < rep.Downloads[j].PostID
	})

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}
