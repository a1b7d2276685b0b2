// Package fetch downloads media files with streaming progress reporting.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/grabbit/grabbit/internal/ratelimit"
	"github.com/grabbit/grabbit/internal/recovery"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProgressFunc receives streaming progress. Total is -1 when the server did
// not declare a content length.
type ProgressFunc func(done, total int64)

// Info describes one completed download.
type Info struct {
	Bytes       int64
	ContentType string
	Duration    time.Duration
}

// Fetcher streams media bodies to a destination writer. Requests pass
// through the shared pacing gate, the same one the listing client uses.
type Fetcher struct {
	client    HTTPClient
	gate      *ratelimit.Gate
	userAgent string
	chunkSize int
}

// New creates a Fetcher.
func New(client HTTPClient, gate *ratelimit.Gate) *Fetcher {
	return &Fetcher{
		client:    client,
		gate:      gate,
		userAgent: "grabbit/1.0",
		chunkSize: 32 * 1024,
	}
}

// Fetch downloads url into dest, invoking onProgress (if non-nil) after
// each chunk. Failures carry recovery classifications: throttling and 5xx
// are transient, missing media is permanent, destination write failures are
// resource errors.
func (f *Fetcher) Fetch(ctx context.Context, url string, dest io.Writer, onProgress ProgressFunc) (*Info, error) {
	if f.gate != nil {
		if err := f.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, recovery.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, recovery.Transient(fmt.Errorf("get %s: %w", url, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp, url); err != nil {
		return nil, err
	}

	total := resp.ContentLength
	written, err := f.copyBody(ctx, dest, resp.Body, total, onProgress)
	if err != nil {
		return nil, err
	}

	return &Info{
		Bytes:       written,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    time.Since(start),
	}, nil
}

func (f *Fetcher) copyBody(ctx context.Context, dest io.Writer, body io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, f.chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := dest.Write(buf[:n]); werr != nil {
				return written, recovery.Resource(fmt.Errorf("write media: %w", werr))
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, recovery.Transient(fmt.Errorf("read media: %w", rerr))
		}
	}
}

func statusError(resp *http.Response, url string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return recovery.Authentication(fmt.Errorf("status %d fetching %s", resp.StatusCode, url))
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return recovery.Permanent(fmt.Errorf("media gone (status %d): %s", resp.StatusCode, url))
	case resp.StatusCode == http.StatusTooManyRequests:
		return recovery.TransientAfter(fmt.Errorf("rate limited fetching %s", url), retryAfterHeader(resp))
	case resp.StatusCode >= 500:
		return recovery.Transient(fmt.Errorf("status %d fetching %s", resp.StatusCode, url))
	default:
		return recovery.Permanent(fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url))
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
