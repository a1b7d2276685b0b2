package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEventRoundTrip(t *testing.T) {
	payloads := []Payload{
		PostDiscovered{Target: "forum/pics", PostCount: 2, PostIDs: []string{"a", "b"}},
		DownloadStarted{PostID: "a", URL: "https://img.example.com/a.jpg", Filename: "a.jpg", ExpectedSize: 100},
		DownloadProgress{PostID: "a", URL: "https://img.example.com/a.jpg", BytesDownloaded: 50, TotalBytes: 100},
		DownloadCompleted{PostID: "a", URL: "https://img.example.com/a.jpg", Filename: "a.jpg", Success: true, FileSize: 100, Duration: time.Second, LocalPath: "/tmp/a.jpg"},
		PostProcessed{PostID: "a", Stage: "process", Success: true, Operations: []string{"write-metadata"}, MetadataEmbedded: true, SidecarWritten: true, Duration: time.Millisecond},
		FilterApplied{Stage: "filter", Composition: "and", PostsBefore: 10, PostsAfter: 7, PostsFiltered: 3, Excluded: []FilterExclusion{{PostID: "b", Reason: "score 5 < minimum 10"}}, Duration: time.Millisecond},
		StageLifecycle{Stage: "download", Status: StageCompleted, Duration: time.Minute, PostsProcessed: 10, PostsSuccessful: 9, PostsFailed: 1},
		Error{ErrorKind: "transient", Message: "reset", ErrorContext: "download", Strategy: "retry", Stage: "download", PostID: "a", Recoverable: true, RetryCount: 2},
		Statistics{Status: "completed", TotalPosts: 10, PostsProcessed: 7, PostsSuccessful: 6, PostsFailed: 1, DownloadsCompleted: 6, BytesDownloaded: 1024, Elapsed: time.Minute},
	}

	for _, payload := range payloads {
		t.Run(string(payload.EventKind()), func(t *testing.T) {
			ev := New("session-1", payload)

			data, err := json.Marshal(ev)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got Event
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := cmp.Diff(ev, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEventEnvelopeFields(t *testing.T) {
	before := time.Now().UTC()
	ev := New("session-1", PostDiscovered{Target: "user/alice", PostCount: 1})

	if ev.Kind != KindPostDiscovered {
		t.Errorf("kind = %q", ev.Kind)
	}
	if ev.SessionID != "session-1" {
		t.Errorf("session id = %q", ev.SessionID)
	}
	if ev.EventID == "" {
		t.Error("empty event id")
	}
	if ev.Timestamp.Before(before) || ev.Timestamp.After(time.Now().UTC()) {
		t.Errorf("timestamp %s outside creation window", ev.Timestamp)
	}

	other := New("session-1", PostDiscovered{Target: "user/alice", PostCount: 1})
	if other.EventID == ev.EventID {
		t.Error("event ids not unique")
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	raw := `{"kind":"mystery","timestamp":"2025-06-01T12:00:00Z","session_id":"s1","event_id":"e1","payload":{}}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDownloadProgressPercentage(t *testing.T) {
	cases := []struct {
		name   string
		p      DownloadProgress
		want   float64
		wantOK bool
	}{
		{"half", DownloadProgress{BytesDownloaded: 50, TotalBytes: 100}, 50, true},
		{"unknown total", DownloadProgress{BytesDownloaded: 50}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.p.Percentage()
			if got != tc.want || ok != tc.wantOK {
				t.Errorf("Percentage() = %v, %v; want %v, %v", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestStatisticsRates(t *testing.T) {
	s := Statistics{TotalPosts: 10, PostsProcessed: 5, PostsSuccessful: 4}
	if got := s.SuccessRate(); got != 80 {
		t.Errorf("SuccessRate() = %v, want 80", got)
	}
	if got := s.CompletionPercentage(); got != 50 {
		t.Errorf("CompletionPercentage() = %v, want 50", got)
	}

	var zero Statistics
	if zero.SuccessRate() != 0 || zero.CompletionPercentage() != 0 {
		t.Error("zero statistics must not divide by zero")
	}
}
