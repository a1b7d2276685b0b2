package models

import (
	"time"
)

// Post is a single content item discovered from a remote source. Posts are
// immutable after discovery: stages never mutate them in place and instead
// produce result records that reference the originating post ID.
type Post struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	URL          string         `json:"url"`
	Author       string         `json:"author"`
	Source       string         `json:"source"`
	CreatedAt    time.Time      `json:"created_at"`
	Score        *int           `json:"score,omitempty"`
	IsRestricted bool           `json:"is_restricted"`
	Body         string         `json:"body,omitempty"`
	Attrs        map[string]any `json:"attrs,omitempty"`
}

// ScoreValue returns the post score and whether one was present. A missing
// score is distinct from a score of zero; filters decide how to treat it.
func (p Post) ScoreValue() (int, bool) {
	if p.Score == nil {
		return 0, false
	}
	return *p.Score, true
}

// Age returns how old the post is relative to now.
func (p Post) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// TargetKind identifies what a discovery target refers to.
type TargetKind string

const (
	TargetUser   TargetKind = "user"
	TargetForum  TargetKind = "forum"
	TargetSaved  TargetKind = "saved"
	TargetSearch TargetKind = "search"
)

// Target describes where posts should be discovered from.
type Target struct {
	Kind TargetKind `json:"kind"`
	Name string     `json:"name"`
}

// String returns a stable kind/name form used in events and logs.
func (t Target) String() string {
	return string(t.Kind) + "/" + t.Name
}

// DownloadResult records the outcome of fetching media for one post.
type DownloadResult struct {
	PostID      string        `json:"post_id"`
	OperationID string        `json:"operation_id"`
	URL         string        `json:"url"`
	LocalPath   string        `json:"local_path,omitempty"`
	Bytes       int64         `json:"bytes"`
	ContentType string        `json:"content_type,omitempty"`
	Duration    time.Duration `json:"duration"`
	Skipped     bool          `json:"skipped,omitempty"`
	Degraded    bool          `json:"degraded,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Succeeded reports whether the download produced usable output.
func (r DownloadResult) Succeeded() bool {
	return r.Error == "" && !r.Skipped
}
