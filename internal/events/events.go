// Package events defines the typed event stream emitted by the pipeline and
// the bus that fans events out to observers. Every event is self-contained:
// it can be serialized and later reconstructed without reference to any other
// event in the run.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the event payload variants.
type Kind string

const (
	KindPostDiscovered    Kind = "post_discovered"
	KindDownloadStarted   Kind = "download_started"
	KindDownloadProgress  Kind = "download_progress"
	KindDownloadCompleted Kind = "download_completed"
	KindPostProcessed     Kind = "post_processed"
	KindFilterApplied     Kind = "filter_applied"
	KindStageLifecycle    Kind = "stage_lifecycle"
	KindError             Kind = "error"
	KindStatistics        Kind = "statistics"
)

// Payload is implemented by every concrete event variant.
type Payload interface {
	EventKind() Kind
}

// Event is the envelope shared by all variants. Timestamp, SessionID and
// EventID are assigned once at creation and never change.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	EventID   string    `json:"event_id"`
	Payload   Payload   `json:"payload"`
}

// New wraps a payload in an envelope stamped with the current time and a
// fresh event ID.
func New(sessionID string, payload Payload) Event {
	return Event{
		Kind:      payload.EventKind(),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		EventID:   uuid.NewString(),
		Payload:   payload,
	}
}

// PostDiscovered is emitted when the discovery stage yields posts.
type PostDiscovered struct {
	Target    string   `json:"target"`
	PostCount int      `json:"post_count"`
	PostIDs   []string `json:"post_ids,omitempty"`
}

func (PostDiscovered) EventKind() Kind { return KindPostDiscovered }

// DownloadStarted is emitted when a media download begins.
type DownloadStarted struct {
	PostID       string `json:"post_id"`
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	ExpectedSize int64  `json:"expected_size,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

func (DownloadStarted) EventKind() Kind { return KindDownloadStarted }

// DownloadProgress reports byte-level progress for an in-flight download.
type DownloadProgress struct {
	PostID          string `json:"post_id"`
	URL             string `json:"url"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	TotalBytes      int64  `json:"total_bytes,omitempty"`
}

func (DownloadProgress) EventKind() Kind { return KindDownloadProgress }

// Percentage returns download completion as a percentage. The second return
// is false when the total size is unknown.
func (p DownloadProgress) Percentage() (float64, bool) {
	if p.TotalBytes <= 0 {
		return 0, false
	}
	return float64(p.BytesDownloaded) / float64(p.TotalBytes) * 100, true
}

// DownloadCompleted is emitted when a download finishes, successfully or not.
type DownloadCompleted struct {
	PostID    string        `json:"post_id"`
	URL       string        `json:"url"`
	Filename  string        `json:"filename"`
	Success   bool          `json:"success"`
	FileSize  int64         `json:"file_size"`
	Duration  time.Duration `json:"duration"`
	LocalPath string        `json:"local_path,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (DownloadCompleted) EventKind() Kind { return KindDownloadCompleted }

// PostProcessed is emitted when post-processing for one post completes.
type PostProcessed struct {
	PostID           string        `json:"post_id"`
	Stage            string        `json:"stage"`
	Success          bool          `json:"success"`
	Operations       []string      `json:"operations,omitempty"`
	MetadataEmbedded bool          `json:"metadata_embedded"`
	SidecarWritten   bool          `json:"sidecar_written"`
	Degraded         bool          `json:"degraded,omitempty"`
	Duration         time.Duration `json:"duration"`
	Error            string        `json:"error,omitempty"`
}

func (PostProcessed) EventKind() Kind { return KindPostProcessed }

// FilterExclusion names one post removed by a filtering pass and why.
type FilterExclusion struct {
	PostID string `json:"post_id"`
	Reason string `json:"reason"`
}

// FilterApplied summarizes one filtering pass over a working set.
type FilterApplied struct {
	Stage         string            `json:"stage"`
	Composition   string            `json:"composition"`
	PostsBefore   int               `json:"posts_before"`
	PostsAfter    int               `json:"posts_after"`
	PostsFiltered int               `json:"posts_filtered"`
	Excluded      []FilterExclusion `json:"excluded,omitempty"`
	Duration      time.Duration     `json:"duration"`
}

func (FilterApplied) EventKind() Kind { return KindFilterApplied }

// FilteredPercentage returns the share of posts removed by the pass.
func (f FilterApplied) FilteredPercentage() float64 {
	if f.PostsBefore == 0 {
		return 0
	}
	return float64(f.PostsFiltered) / float64(f.PostsBefore) * 100
}

// StageStatus is the lifecycle state reported by StageLifecycle events.
type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageLifecycle is emitted at stage boundaries.
type StageLifecycle struct {
	Stage           string        `json:"stage"`
	Status          StageStatus   `json:"status"`
	Duration        time.Duration `json:"duration,omitempty"`
	PostsProcessed  int           `json:"posts_processed,omitempty"`
	PostsSuccessful int           `json:"posts_successful,omitempty"`
	PostsFailed     int           `json:"posts_failed,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func (StageLifecycle) EventKind() Kind { return KindStageLifecycle }

// Error is emitted for every absorbed or fatal failure. ErrorKind carries the
// recovery taxonomy name so reports never have to parse message text.
type Error struct {
	ErrorKind    string `json:"error_kind"`
	Message      string `json:"message"`
	ErrorContext string `json:"error_context"`
	Strategy     string `json:"strategy,omitempty"`
	Stage        string `json:"stage,omitempty"`
	PostID       string `json:"post_id,omitempty"`
	URL          string `json:"url,omitempty"`
	OperationID  string `json:"operation_id,omitempty"`
	Recoverable  bool   `json:"recoverable"`
	RetryCount   int    `json:"retry_count,omitempty"`
}

func (Error) EventKind() Kind { return KindError }

// Statistics is the aggregate snapshot emitted periodically and once at the
// end of a run.
type Statistics struct {
	Status             string        `json:"status"`
	TotalPosts         int           `json:"total_posts"`
	PostsProcessed     int           `json:"posts_processed"`
	PostsSuccessful    int           `json:"posts_successful"`
	PostsFailed        int           `json:"posts_failed"`
	PostsSkipped       int           `json:"posts_skipped"`
	DownloadsCompleted int           `json:"downloads_completed"`
	DownloadsFailed    int           `json:"downloads_failed"`
	BytesDownloaded    int64         `json:"bytes_downloaded"`
	Elapsed            time.Duration `json:"elapsed"`
}

func (Statistics) EventKind() Kind { return KindStatistics }

// SuccessRate returns the percentage of processed posts that succeeded.
func (s Statistics) SuccessRate() float64 {
	if s.PostsProcessed == 0 {
		return 0
	}
	return float64(s.PostsSuccessful) / float64(s.PostsProcessed) * 100
}

// CompletionPercentage returns processed posts as a share of the total.
func (s Statistics) CompletionPercentage() float64 {
	if s.TotalPosts == 0 {
		return 0
	}
	return float64(s.PostsProcessed) / float64(s.TotalPosts) * 100
}

// envelope mirrors Event with a raw payload for two-phase decoding.
type envelope struct {
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id"`
	EventID   string          `json:"event_id"`
	Payload   json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes the envelope and dispatches the payload on Kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}

	payload, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return err
	}

	e.Kind = env.Kind
	e.Timestamp = env.Timestamp
	e.SessionID = env.SessionID
	e.EventID = env.EventID
	e.Payload = payload
	return nil
}

func decodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	var payload Payload
	switch kind {
	case KindPostDiscovered:
		payload = &PostDiscovered{}
	case KindDownloadStarted:
		payload = &DownloadStarted{}
	case KindDownloadProgress:
		payload = &DownloadProgress{}
	case KindDownloadCompleted:
		payload = &DownloadCompleted{}
	case KindPostProcessed:
		payload = &PostProcessed{}
	case KindFilterApplied:
		payload = &FilterApplied{}
	case KindStageLifecycle:
		payload = &StageLifecycle{}
	case KindError:
		payload = &Error{}
	case KindStatistics:
		payload = &Statistics{}
	default:
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return deref(payload), nil
}

// deref returns the value form so decoded events compare equal to originals.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *PostDiscovered:
		return *v
	case *DownloadStarted:
		return *v
	case *DownloadProgress:
		return *v
	case *DownloadCompleted:
		return *v
	case *PostProcessed:
		return *v
	case *FilterApplied:
		return *v
	case *StageLifecycle:
		return *v
	case *Error:
		return *v
	case *Statistics:
		return *v
	}
	return p
}
