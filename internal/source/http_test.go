package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/grabbit/grabbit/internal/models"
	"github.com/grabbit/grabbit/internal/recovery"
)

type mockResponse struct {
	status int
	body   string
	header http.Header
}

// mockTransport serves a scripted sequence of responses and records the
// request URLs it saw.
type mockTransport struct {
	responses []mockResponse
	err       error
	urls      []string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.urls = append(m.urls, req.URL.String())
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	header := r.header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
	}, nil
}

func collect(t *testing.T, it Iterator) []models.Post {
	t.Helper()
	var posts []models.Post
	for it.Next(context.Background()) {
		posts = append(posts, it.Post())
	}
	return posts
}

func TestListingPaginates(t *testing.T) {
	transport := &mockTransport{responses: []mockResponse{
		{status: 200, body: `{"posts":[{"id":"a","title":"first","url":"https://img.example.com/a.jpg","score":10},{"id":"b","title":"second","url":"https://img.example.com/b.jpg"}],"next_cursor":"c2"}`},
		{status: 200, body: `{"posts":[{"id":"c","title":"third","url":"https://img.example.com/c.jpg","score":3}],"next_cursor":""}`},
	}}
	src := NewHTTPSource("https://api.example.com", transport, nil)

	it := src.Listing(models.Target{Kind: models.TargetForum, Name: "pics"}, 0)
	posts := collect(t, it)
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}

	var ids []string
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if posts[0].Score == nil || *posts[0].Score != 10 {
		t.Errorf("expected score 10 on first post, got %v", posts[0].Score)
	}
	if posts[1].Score != nil {
		t.Errorf("expected absent score on second post, got %d", *posts[1].Score)
	}

	if len(transport.urls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(transport.urls))
	}
	if want := "https://api.example.com/forum/pics/posts?limit=100"; transport.urls[0] != want {
		t.Errorf("first URL: expected %q, got %q", want, transport.urls[0])
	}
	if want := "https://api.example.com/forum/pics/posts?cursor=c2&limit=100"; transport.urls[1] != want {
		t.Errorf("second URL: expected %q, got %q", want, transport.urls[1])
	}
}

func TestListingStopsAtLimit(t *testing.T) {
	transport := &mockTransport{responses: []mockResponse{
		{status: 200, body: `{"posts":[{"id":"a"},{"id":"b"},{"id":"c"}],"next_cursor":"more"}`},
	}}
	src := NewHTTPSource("https://api.example.com", transport, nil)

	posts := collect(t, src.Listing(models.Target{Kind: models.TargetUser, Name: "alice"}, 2))

	if len(posts) != 2 {
		t.Errorf("expected 2 posts, got %d", len(posts))
	}
	if len(transport.urls) != 1 {
		t.Errorf("expected a single request for a satisfied limit, got %d", len(transport.urls))
	}
}

func TestListingNotRestartable(t *testing.T) {
	src := NewHTTPSource("https://api.example.com", &mockTransport{responses: []mockResponse{
		{status: 200, body: `{"posts":[{"id":"a"}],"next_cursor":""}`},
	}}, nil)

	it := src.Listing(models.Target{Kind: models.TargetUser, Name: "alice"}, 0)
	collect(t, it)
	if it.Next(context.Background()) {
		t.Error("exhausted iterator yielded another post")
	}
}

func TestListingStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header http.Header
		want   recovery.ErrKind
	}{
		{"unauthorized", 401, nil, recovery.KindAuthentication},
		{"forbidden", 403, nil, recovery.KindAuthentication},
		{"not found", 404, nil, recovery.KindPermanent},
		{"gone", 410, nil, recovery.KindPermanent},
		{"rate limited", 429, http.Header{"Retry-After": []string{"5"}}, recovery.KindTransient},
		{"server error", 503, nil, recovery.KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := NewHTTPSource("https://api.example.com", &mockTransport{responses: []mockResponse{
				{status: tc.status, header: tc.header},
			}}, nil)
			it := src.Listing(models.Target{Kind: models.TargetForum, Name: "pics"}, 0)
			if it.Next(context.Background()) {
				t.Fatal("expected no posts")
			}
			err := it.Err()
			if err == nil {
				t.Fatal("expected error")
			}
			if got := recovery.KindOf(err); got != tc.want {
				t.Errorf("kind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestListingRateLimitCarriesRetryAfter(t *testing.T) {
	src := NewHTTPSource("https://api.example.com", &mockTransport{responses: []mockResponse{
		{status: 429, header: http.Header{"Retry-After": []string{"7"}}},
	}}, nil)
	it := src.Listing(models.Target{Kind: models.TargetForum, Name: "pics"}, 0)
	it.Next(context.Background())

	var rl *RateLimitError
	if !errors.As(it.Err(), &rl) {
		t.Fatalf("expected RateLimitError, got %v", it.Err())
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("expected 7s retry-after, got %s", rl.RetryAfter)
	}
}

func TestListingNetworkErrorIsTransient(t *testing.T) {
	src := NewHTTPSource("https://api.example.com", &mockTransport{err: io.ErrUnexpectedEOF}, nil)
	it := src.Listing(models.Target{Kind: models.TargetUser, Name: "alice"}, 0)
	it.Next(context.Background())

	if got := recovery.KindOf(it.Err()); got != recovery.KindTransient {
		t.Errorf("kind = %q, want transient", got)
	}
}

func TestListingSearchAndSavedURLs(t *testing.T) {
	cases := []struct {
		target models.Target
		want   string
	}{
		{models.Target{Kind: models.TargetSearch, Name: "sunset"}, "https://api.example.com/search/posts?limit=100&q=sunset"},
		{models.Target{Kind: models.TargetSaved, Name: "me"}, "https://api.example.com/me/saved?limit=100"},
	}
	for _, tc := range cases {
		transport := &mockTransport{responses: []mockResponse{
			{status: 200, body: `{"posts":[],"next_cursor":""}`},
		}}
		src := NewHTTPSource("https://api.example.com", transport, nil)
		collect(t, src.Listing(tc.target, 0))
		if transport.urls[0] != tc.want {
			t.Errorf("target %s: expected %q, got %q", tc.target, tc.want, transport.urls[0])
		}
	}
}

func TestFromPosts(t *testing.T) {
	posts := []models.Post{{ID: "a"}, {ID: "b"}}
	got := collect(t, FromPosts(posts))
	if diff := cmp.Diff(posts, got); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}
}
