package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/grabbit/grabbit/internal/models"
	"github.com/grabbit/grabbit/internal/ratelimit"
	"github.com/grabbit/grabbit/internal/recovery"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	defaultPageSize = 100
	maxListingBody  = 10 * 1024 * 1024
)

// HTTPSource lists posts over a JSON listing API. Every request passes
// through the shared pacing gate before it is sent.
type HTTPSource struct {
	baseURL   string
	client    HTTPClient
	gate      *ratelimit.Gate
	userAgent string
	token     string
	pageSize  int
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *HTTPSource) { s.userAgent = ua }
}

// WithToken sets a bearer token for authenticated listings.
func WithToken(token string) Option {
	return func(s *HTTPSource) { s.token = token }
}

// WithPageSize overrides how many posts each listing page requests.
func WithPageSize(n int) Option {
	return func(s *HTTPSource) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewHTTPSource creates a listing client for baseURL.
func NewHTTPSource(baseURL string, client HTTPClient, gate *ratelimit.Gate, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		baseURL:   baseURL,
		client:    client,
		gate:      gate,
		userAgent: "grabbit/1.0",
		pageSize:  defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listing implements Client. The iterator fetches pages lazily and stops
// after limit posts; limit <= 0 means the whole target.
func (s *HTTPSource) Listing(target models.Target, limit int) Iterator {
	return &pageIterator{src: s, target: target, limit: limit}
}

type listingPage struct {
	Posts      []wirePost `json:"posts"`
	NextCursor string     `json:"next_cursor"`
}

type wirePost struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	URL        string         `json:"url"`
	Author     string         `json:"author"`
	Source     string         `json:"source"`
	CreatedAt  time.Time      `json:"created_at"`
	Score      *int           `json:"score"`
	Restricted bool           `json:"restricted"`
	Body       string         `json:"body"`
	Attrs      map[string]any `json:"attrs"`
}

func (w wirePost) toModel() models.Post {
	return models.Post{
		ID:           w.ID,
		Title:        w.Title,
		URL:          w.URL,
		Author:       w.Author,
		Source:       w.Source,
		CreatedAt:    w.CreatedAt,
		Score:        w.Score,
		IsRestricted: w.Restricted,
		Body:         w.Body,
		Attrs:        w.Attrs,
	}
}

// pageIterator walks a listing page by page. It is single-use; exhausting it
// and calling Next again keeps returning false.
type pageIterator struct {
	src    *HTTPSource
	target models.Target
	limit  int

	buf      []models.Post
	cur      models.Post
	cursor   string
	served   int
	done     bool
	firstReq bool
	err      error
}

func (it *pageIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if it.limit > 0 && it.served >= it.limit {
		it.done = true
		return false
	}

	for len(it.buf) == 0 {
		if it.firstReq && it.cursor == "" {
			it.done = true
			return false
		}
		page, err := it.src.fetchPage(ctx, it.target, it.cursor)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.firstReq = true
		it.cursor = page.NextCursor
		for _, wp := range page.Posts {
			it.buf = append(it.buf, wp.toModel())
		}
		if len(page.Posts) == 0 && page.NextCursor == "" {
			it.done = true
			return false
		}
	}

	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	it.served++
	return true
}

func (it *pageIterator) Post() models.Post { return it.cur }

func (it *pageIterator) Err() error { return it.err }

func (s *HTTPSource) fetchPage(ctx context.Context, target models.Target, cursor string) (*listingPage, error) {
	if s.gate != nil {
		if err := s.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.listingURL(target, cursor), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, recovery.Transient(fmt.Errorf("list %s: %w", target, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp, target); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBody))
	if err != nil {
		return nil, recovery.Transient(fmt.Errorf("read listing: %w", err))
	}
	var page listingPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, recovery.Permanent(fmt.Errorf("decode listing for %s: %w", target, err))
	}
	return &page, nil
}

func (s *HTTPSource) listingURL(target models.Target, cursor string) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(s.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var path string
	switch target.Kind {
	case models.TargetSearch:
		q.Set("q", target.Name)
		path = "/search/posts"
	case models.TargetSaved:
		path = "/me/saved"
	default:
		path = fmt.Sprintf("/%s/%s/posts", url.PathEscape(string(target.Kind)), url.PathEscape(target.Name))
	}
	return s.baseURL + path + "?" + q.Encode()
}

// statusError maps HTTP status codes onto the recovery taxonomy.
func statusError(resp *http.Response, target models.Target) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &NotFoundError{Target: target.String(), Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfterHeader(resp)}
	case resp.StatusCode >= 500:
		return &ServerError{Status: resp.StatusCode}
	default:
		return recovery.Permanent(fmt.Errorf("unexpected status %d listing %s", resp.StatusCode, target))
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
